package oidcclient_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/internal/idptest"
	"github.com/jrsteele09/go-auth-session/provider"
	"github.com/jrsteele09/go-auth-session/provider/oidcclient"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	testClientID = "desktop-client"
	apiScope     = "api://orders/access_as_user"
)

var alice = idptest.User{Subject: "u1", Name: "Alice", Username: "alice@example.com", Email: "alice@example.com"}

// browser plays the user: it follows the URL it is given like a browser would.
type browser struct {
	mu     sync.Mutex
	urls   []string
	follow bool
}

func (b *browser) open(u string) error {
	b.mu.Lock()
	b.urls = append(b.urls, u)
	follow := b.follow
	b.mu.Unlock()

	if !follow {
		return nil
	}
	resp, err := http.Get(u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (b *browser) opened() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.urls...)
}

type testFixture struct {
	idp     *idptest.Server
	cache   *token.InMemoryCache
	browser *browser
	client  *oidcclient.Client
}

func setupTest(t *testing.T) *testFixture {
	t.Helper()

	idp := idptest.NewServer(t, testClientID, alice)
	cache := token.NewInMemoryCache()
	b := &browser{follow: true}

	client, err := oidcclient.New(oidcclient.Config{
		Authority:   idp.Issuer(),
		ClientID:    testClientID,
		RedirectURL: "http://127.0.0.1:0/callback",
	},
		oidcclient.WithCache(cache),
		oidcclient.WithBrowserOpener(b.open),
		oidcclient.WithLogger(zerolog.Nop()),
	)
	require.NoError(t, err)
	require.NoError(t, client.Initialize(context.Background()))

	return &testFixture{idp: idp, cache: cache, browser: b, client: client}
}

func (f *testFixture) login(t *testing.T) *provider.Result {
	t.Helper()
	res, err := f.client.LoginInteractively(context.Background(), provider.LoginRequest{
		Scopes: []string{apiScope},
		Prompt: "select_account",
	})
	require.NoError(t, err)
	return res
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := oidcclient.New(oidcclient.Config{ClientID: "x", RedirectURL: "http://127.0.0.1:0/"})
	require.Error(t, err)
	_, err = oidcclient.New(oidcclient.Config{Authority: "https://issuer", RedirectURL: "http://127.0.0.1:0/"})
	require.Error(t, err)
	_, err = oidcclient.New(oidcclient.Config{Authority: "https://issuer", ClientID: "x"})
	require.Error(t, err)
}

func TestNotInitialized(t *testing.T) {
	client, err := oidcclient.New(oidcclient.Config{
		Authority:   "https://issuer.invalid",
		ClientID:    testClientID,
		RedirectURL: "http://127.0.0.1:0/callback",
	}, oidcclient.WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	_, err = client.AcquireTokenSilently(context.Background(), provider.SilentRequest{Account: sessions.Account{ID: "u1"}})
	require.Equal(t, provider.CodeNotInitialized, provider.CodeOf(err))

	_, err = client.LoginInteractively(context.Background(), provider.LoginRequest{})
	require.Equal(t, provider.CodeNotInitialized, provider.CodeOf(err))
}

func TestInitialize_Unreachable(t *testing.T) {
	client, err := oidcclient.New(oidcclient.Config{
		Authority:   "http://127.0.0.1:1",
		ClientID:    testClientID,
		RedirectURL: "http://127.0.0.1:0/callback",
	}, oidcclient.WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	err = client.Initialize(context.Background())
	require.Equal(t, provider.CodeNetworkError, provider.CodeOf(err))
	require.Equal(t, provider.InteractionNone, client.InProgress())
}

func TestLoginInteractively(t *testing.T) {
	f := setupTest(t)

	res := f.login(t)
	require.NotNil(t, res.Account)
	require.Equal(t, sessions.Account{ID: "u1", Username: "alice@example.com", Name: "Alice"}, *res.Account)
	require.NotEmpty(t, res.AccessToken)
	require.NotEmpty(t, res.IDToken)
	require.NotNil(t, res.ExpiresOn)
	require.True(t, res.ExpiresOn.After(time.Now()))
	require.Contains(t, res.Scopes, apiScope)
	require.Equal(t, provider.InteractionNone, f.client.InProgress())

	// The authorize request carried PKCE and the prompt
	urls := f.browser.opened()
	require.Len(t, urls, 1)
	require.Contains(t, urls[0], "code_challenge_method=S256")
	require.Contains(t, urls[0], "prompt=select_account")
	require.Contains(t, urls[0], "nonce=")

	require.Equal(t, []sessions.Account{*res.Account}, f.client.GetCachedAccounts())
	entry, err := f.cache.Get("u1")
	require.NoError(t, err)
	require.NotEmpty(t, entry.RefreshToken)
}

func TestLoginInteractively_FreshParametersPerAttempt(t *testing.T) {
	f := setupTest(t)
	f.login(t)
	f.login(t)

	urls := f.browser.opened()
	require.Len(t, urls, 2)
	first, err := url.Parse(urls[0])
	require.NoError(t, err)
	second, err := url.Parse(urls[1])
	require.NoError(t, err)

	for _, param := range []string{"state", "nonce", "code_challenge"} {
		require.NotEmpty(t, first.Query().Get(param), param)
		require.NotEqual(t, first.Query().Get(param), second.Query().Get(param), param)
	}
	require.Equal(t, "S256", second.Query().Get("code_challenge_method"))
}

func TestLoginInteractively_AuthorizeErrors(t *testing.T) {
	tests := []struct {
		name     string
		idpError string
		wantCode string
	}{
		{"user declined", "access_denied", provider.CodeUserCancelled},
		{"bad client", "unauthorized_client", provider.CodeInvalidClient},
		{"needs interaction", "login_required", provider.CodeInteractionRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupTest(t)
			f.idp.FailAuthorize(tt.idpError)

			_, err := f.client.LoginInteractively(context.Background(), provider.LoginRequest{Scopes: []string{apiScope}})
			require.Equal(t, tt.wantCode, provider.CodeOf(err))
			require.Empty(t, f.client.GetCachedAccounts())
		})
	}
}

func TestLoginInteractively_CodeExchangeRejected(t *testing.T) {
	f := setupTest(t)
	f.idp.FailCodeExchange("invalid_client")

	_, err := f.client.LoginInteractively(context.Background(), provider.LoginRequest{Scopes: []string{apiScope}})
	require.Equal(t, provider.CodeInvalidClient, provider.CodeOf(err))
}

func TestLoginInteractively_ConfidentialClient(t *testing.T) {
	tests := []struct {
		name     string
		secret   string
		wantCode string
	}{
		{"matching secret", "s3cret", ""},
		{"wrong secret", "guess", provider.CodeInvalidClient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idp := idptest.NewServer(t, testClientID, alice)
			require.NoError(t, idp.RequireClientSecret("s3cret"))
			b := &browser{follow: true}

			client, err := oidcclient.New(oidcclient.Config{
				Authority:    idp.Issuer(),
				ClientID:     testClientID,
				ClientSecret: tt.secret,
				RedirectURL:  "http://127.0.0.1:0/callback",
			},
				oidcclient.WithBrowserOpener(b.open),
				oidcclient.WithLogger(zerolog.Nop()),
			)
			require.NoError(t, err)
			require.NoError(t, client.Initialize(context.Background()))

			res, err := client.LoginInteractively(context.Background(), provider.LoginRequest{Scopes: []string{apiScope}})
			if tt.wantCode != "" {
				require.Equal(t, tt.wantCode, provider.CodeOf(err))
				return
			}
			require.NoError(t, err)
			require.NotEmpty(t, res.AccessToken)
		})
	}
}

func TestLoginInteractively_NoIDToken(t *testing.T) {
	f := setupTest(t)
	f.idp.OmitIDToken(true)

	res, err := f.client.LoginInteractively(context.Background(), provider.LoginRequest{Scopes: []string{apiScope}})
	require.NoError(t, err)
	require.Nil(t, res.Account)
	require.NotEmpty(t, res.AccessToken)
	require.Empty(t, f.client.GetCachedAccounts())
}

func TestLoginInteractively_ContextEnds(t *testing.T) {
	f := setupTest(t)
	f.browser.follow = false // The user never finishes signing in

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := f.client.LoginInteractively(ctx, provider.LoginRequest{Scopes: []string{apiScope}})
	require.Equal(t, provider.CodeTimedOut, provider.CodeOf(err))
	require.Equal(t, provider.InteractionNone, f.client.InProgress())

	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	_, err = f.client.LoginInteractively(ctx, provider.LoginRequest{Scopes: []string{apiScope}})
	require.Equal(t, provider.CodeUserCancelled, provider.CodeOf(err))
}

func TestAcquireTokenSilently(t *testing.T) {
	t.Run("serves cached token", func(t *testing.T) {
		f := setupTest(t)
		login := f.login(t)

		res, err := f.client.AcquireTokenSilently(context.Background(), provider.SilentRequest{
			Scopes:  []string{apiScope},
			Account: *login.Account,
		})
		require.NoError(t, err)
		require.Equal(t, login.AccessToken, res.AccessToken)
		require.Equal(t, 0, f.idp.RefreshRequests())
	})

	t.Run("force refresh", func(t *testing.T) {
		f := setupTest(t)
		login := f.login(t)

		res, err := f.client.AcquireTokenSilently(context.Background(), provider.SilentRequest{
			Scopes:       []string{apiScope},
			Account:      *login.Account,
			ForceRefresh: true,
		})
		require.NoError(t, err)
		require.NotEqual(t, login.AccessToken, res.AccessToken)
		require.Equal(t, 1, f.idp.RefreshRequests())
		require.Equal(t, login.Account, res.Account)
	})

	t.Run("refreshes near expiry", func(t *testing.T) {
		f := setupTest(t)
		f.idp.SetAccessTokenTTL(time.Minute) // Inside the default skew
		login := f.login(t)

		res, err := f.client.AcquireTokenSilently(context.Background(), provider.SilentRequest{
			Scopes:  []string{apiScope},
			Account: *login.Account,
		})
		require.NoError(t, err)
		require.NotEqual(t, login.AccessToken, res.AccessToken)
		require.Equal(t, 1, f.idp.RefreshRequests())

		// The rotated refresh token replaced the old one
		entry, err := f.cache.Get("u1")
		require.NoError(t, err)
		require.Equal(t, res.AccessToken, entry.AccessToken)
	})

	t.Run("rejected refresh needs interaction", func(t *testing.T) {
		f := setupTest(t)
		login := f.login(t)
		f.idp.FailRefresh("invalid_grant")

		_, err := f.client.AcquireTokenSilently(context.Background(), provider.SilentRequest{
			Scopes:       []string{apiScope},
			Account:      *login.Account,
			ForceRefresh: true,
		})
		require.Equal(t, provider.CodeInteractionRequired, provider.CodeOf(err))
		require.Equal(t, []sessions.Account{*login.Account}, f.client.GetCachedAccounts())
	})

	t.Run("unknown account", func(t *testing.T) {
		f := setupTest(t)
		_, err := f.client.AcquireTokenSilently(context.Background(), provider.SilentRequest{
			Account: sessions.Account{ID: "nobody"},
		})
		require.Equal(t, provider.CodeInteractionRequired, provider.CodeOf(err))
	})

	t.Run("refreshed token lacks the requested scope", func(t *testing.T) {
		f := setupTest(t)
		rt := f.idp.IssueRefreshToken(alice, "openid", "offline_access")
		acc := sessions.Account{ID: "u1", Username: "alice@example.com", Name: "Alice"}
		require.NoError(t, f.cache.Put(token.Entry{Account: acc, RefreshToken: rt, CachedAt: time.Now()}))

		_, err := f.client.AcquireTokenSilently(context.Background(), provider.SilentRequest{
			Scopes:  []string{apiScope},
			Account: acc,
		})
		require.Equal(t, provider.CodeInteractionRequired, provider.CodeOf(err))
		require.Equal(t, 1, f.idp.RefreshRequests())
	})

	t.Run("seeded refresh token", func(t *testing.T) {
		f := setupTest(t)
		rt := f.idp.IssueRefreshToken(alice, "openid", "offline_access", apiScope)
		acc := sessions.Account{ID: "u1", Username: "alice@example.com", Name: "Alice"}
		require.NoError(t, f.cache.Put(token.Entry{Account: acc, RefreshToken: rt, CachedAt: time.Now()}))

		res, err := f.client.AcquireTokenSilently(context.Background(), provider.SilentRequest{
			Scopes:  []string{apiScope},
			Account: acc,
		})
		require.NoError(t, err)
		require.NotEmpty(t, res.AccessToken)
		require.Contains(t, res.Scopes, apiScope)
	})
}

func TestAcquireTokenSilently_ConcurrentRefresh(t *testing.T) {
	f := setupTest(t)
	f.idp.SetAccessTokenTTL(time.Second) // Stale as soon as it is issued
	login := f.login(t)

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.client.AcquireTokenSilently(context.Background(), provider.SilentRequest{
				Scopes:  []string{apiScope},
				Account: *login.Account,
			})
			if err == nil && res.AccessToken == "" {
				err = errors.New("empty access token")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.GreaterOrEqual(t, f.idp.RefreshRequests(), 1)
	require.LessOrEqual(t, f.idp.RefreshRequests(), callers)

	// The cache holds the latest rotated refresh token
	_, err := f.client.AcquireTokenSilently(context.Background(), provider.SilentRequest{
		Scopes:       []string{apiScope},
		Account:      *login.Account,
		ForceRefresh: true,
	})
	require.NoError(t, err)
}

func TestAcquireTokenSilently_CallerGivesUp(t *testing.T) {
	f := setupTest(t)
	f.idp.SetAccessTokenTTL(time.Second)
	login := f.login(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.client.AcquireTokenSilently(ctx, provider.SilentRequest{
		Scopes:  []string{apiScope},
		Account: *login.Account,
	})
	require.Equal(t, provider.CodeUserCancelled, provider.CodeOf(err))
}

func TestLogoutInteractively(t *testing.T) {
	f := setupTest(t)
	login := f.login(t)
	entry, err := f.cache.Get("u1")
	require.NoError(t, err)

	err = f.client.LogoutInteractively(context.Background(), provider.LogoutRequest{
		Account:               login.Account,
		PostLogoutRedirectURI: "http://localhost:3030/",
	})
	require.NoError(t, err)

	require.Equal(t, []string{entry.RefreshToken, entry.AccessToken}, f.idp.Revoked())
	require.Empty(t, f.client.GetCachedAccounts())
	require.Equal(t, 1, f.idp.EndSessions())

	urls := f.browser.opened()
	endSession := urls[len(urls)-1]
	require.True(t, strings.HasPrefix(endSession, f.idp.Issuer()+idptest.RouteEndSession))
	require.Contains(t, endSession, "id_token_hint=")
	require.Contains(t, endSession, "post_logout_redirect_uri=")
}

func TestLogoutInteractively_NoAccount(t *testing.T) {
	f := setupTest(t)
	require.NoError(t, f.client.LogoutInteractively(context.Background(), provider.LogoutRequest{}))
	require.Empty(t, f.idp.Revoked())
	require.Equal(t, 0, f.idp.EndSessions())
}

func TestLogoutInteractively_BeforeDiscovery(t *testing.T) {
	cache := token.NewInMemoryCache()
	acc := sessions.Account{ID: "u1", Username: "alice@example.com", Name: "Alice"}
	require.NoError(t, cache.Put(token.Entry{Account: acc, RefreshToken: "rt-1", CachedAt: time.Now()}))

	client, err := oidcclient.New(oidcclient.Config{
		Authority:   "http://127.0.0.1:1",
		ClientID:    testClientID,
		RedirectURL: "http://127.0.0.1:0/callback",
	},
		oidcclient.WithCache(cache),
		oidcclient.WithLogger(zerolog.Nop()),
	)
	require.NoError(t, err)
	require.Error(t, client.Initialize(context.Background()))

	err = client.LogoutInteractively(context.Background(), provider.LogoutRequest{Account: &acc})
	require.Equal(t, provider.CodeNotInitialized, provider.CodeOf(err))
	require.Empty(t, client.GetCachedAccounts())
}

func TestClearCache(t *testing.T) {
	f := setupTest(t)
	f.login(t)
	require.Len(t, f.client.GetCachedAccounts(), 1)

	require.NoError(t, f.client.ClearCache(context.Background()))
	require.Empty(t, f.client.GetCachedAccounts())
	require.Empty(t, f.idp.Revoked(), "clearing the cache is local only")
}

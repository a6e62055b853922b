// Package oidcclient is a provider.Provider for any OpenID Connect issuer. It runs the
// authorization code flow with PKCE through the system browser and a loopback redirect,
// keeps tokens in a token.Cache and refreshes them with the refresh_token grant.
package oidcclient

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	apperrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/internal/utils"
	"github.com/jrsteele09/go-auth-session/provider"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// DefaultExpirySkew is how long before expiry a cached access token stops being served.
const DefaultExpirySkew = 5 * time.Minute

// baseScopes are requested on every interactive login.
var baseScopes = []string{oidc.ScopeOpenID, "profile", "email", oidc.ScopeOfflineAccess}

// Config describes the application registration at the issuer.
type Config struct {
	Authority    string // Issuer URL, used for discovery
	ClientID     string
	ClientSecret string // Empty for public clients
	RedirectURL  string // Loopback URL; port 0 picks a free port per login
}

// BrowserOpener shows url to the user, normally by launching the system browser.
type BrowserOpener func(url string) error

// Option configures a Client.
type Option func(*Client)

// WithCache sets the token cache. The default keeps tokens in memory only.
func WithCache(c token.Cache) Option {
	return func(cl *Client) {
		cl.cache = c
	}
}

// WithHTTPClient sets the HTTP client used for discovery, token and revocation calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = hc
	}
}

// WithBrowserOpener replaces the system browser launcher.
func WithBrowserOpener(open BrowserOpener) Option {
	return func(cl *Client) {
		cl.openBrowser = open
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

// WithNowTime overrides the clock, for tests.
func WithNowTime(now func() time.Time) Option {
	return func(cl *Client) {
		cl.nowTime = now
	}
}

func WithExpirySkew(d time.Duration) Option {
	return func(cl *Client) {
		cl.expirySkew = d
	}
}

// endpoints are the discovery entries go-oidc does not expose directly.
type endpoints struct {
	Revocation string `json:"revocation_endpoint"`
	EndSession string `json:"end_session_endpoint"`
}

// Client talks to one OIDC issuer on behalf of one application registration.
type Client struct {
	cfg         Config
	cache       token.Cache
	httpClient  *http.Client
	openBrowser BrowserOpener
	logger      zerolog.Logger
	nowTime     func() time.Time
	expirySkew  time.Duration

	status    atomic.Int32       // provider.InteractionStatus
	refreshes singleflight.Group // Keyed by account ID

	mu           sync.RWMutex
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
	endpoints    endpoints
}

var (
	_ provider.Provider     = (*Client)(nil)
	_ provider.CacheClearer = (*Client)(nil)
)

// New creates a Client. Nothing touches the network until Initialize.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Authority == "" {
		return nil, apperrors.Wrapf(apperrors.ErrMissingConfig, "authority")
	}
	if cfg.ClientID == "" {
		return nil, apperrors.Wrapf(apperrors.ErrMissingConfig, "client ID")
	}
	if cfg.RedirectURL == "" {
		return nil, apperrors.Wrapf(apperrors.ErrMissingConfig, "redirect URL")
	}

	c := &Client{
		cfg:         cfg,
		cache:       token.NewInMemoryCache(),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		openBrowser: OpenSystemBrowser,
		logger:      log.Logger,
		nowTime:     time.Now,
		expirySkew:  DefaultExpirySkew,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "oidcclient").Logger()
	return c, nil
}

// Initialize runs discovery. Calling it again after success is a no-op.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.RLock()
	ready := c.oauth2Config != nil
	c.mu.RUnlock()
	if ready {
		return nil
	}

	if !c.status.CompareAndSwap(int32(provider.InteractionNone), int32(provider.InteractionStartup)) {
		return provider.NewError(provider.CodeInteractionInProgress, "cannot initialize during "+c.InProgress().String(), nil)
	}
	defer c.status.Store(int32(provider.InteractionNone))

	oidcProvider, err := oidc.NewProvider(c.clientContext(ctx), c.cfg.Authority)
	if err != nil {
		return mapTransportError(ctx, fmt.Errorf("[Client Initialize] discovery for %s: %w", c.cfg.Authority, err))
	}

	var eps endpoints
	if err := oidcProvider.Claims(&eps); err != nil {
		return provider.NewError(provider.CodeServerError, "malformed discovery document", err)
	}

	endpoint := oidcProvider.Endpoint()
	if c.cfg.ClientSecret == "" {
		// Public client: client_id goes in the form body
		endpoint.AuthStyle = oauth2.AuthStyleInParams
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.oauth2Config = &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		Endpoint:     endpoint,
		RedirectURL:  c.cfg.RedirectURL,
		Scopes:       baseScopes,
	}
	c.verifier = oidcProvider.Verifier(&oidc.Config{ClientID: c.cfg.ClientID, Now: c.nowTime})
	c.endpoints = eps

	c.logger.Debug().
		Str("issuer", c.cfg.Authority).
		Bool("revocation", eps.Revocation != "").
		Bool("end_session", eps.EndSession != "").
		Msg("OIDC discovery complete")
	return nil
}

// InProgress reports the interaction currently running.
func (c *Client) InProgress() provider.InteractionStatus {
	return provider.InteractionStatus(c.status.Load())
}

// GetCachedAccounts lists cached accounts, most recent first. Cache failures yield none.
func (c *Client) GetCachedAccounts() []sessions.Account {
	accounts, err := c.cache.Accounts()
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to read cached accounts")
		return nil
	}
	return accounts
}

// ClearCache drops every cached token without contacting the issuer.
func (c *Client) ClearCache(ctx context.Context) error {
	if err := c.cache.Clear(); err != nil {
		return fmt.Errorf("[Client ClearCache] %w", err)
	}
	return nil
}

// configs returns the discovery results, failing if Initialize has not succeeded.
func (c *Client) configs() (*oauth2.Config, *oidc.IDTokenVerifier, endpoints, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.oauth2Config == nil {
		return nil, nil, endpoints{}, provider.NewError(provider.CodeNotInitialized, "Initialize has not completed", apperrors.ErrNotInitialized)
	}
	conf := *c.oauth2Config
	return &conf, c.verifier, c.endpoints, nil
}

// clientContext routes oauth2 and go-oidc HTTP traffic through our HTTP client.
func (c *Client) clientContext(ctx context.Context) context.Context {
	return oidc.ClientContext(ctx, c.httpClient)
}

// newEntry builds the cache entry for a token response. previous supplies values the
// issuer may omit on refresh.
func (c *Client) newEntry(account sessions.Account, tok *oauth2.Token, requested []string, previous *token.Entry) token.Entry {
	entry := token.Entry{
		Account:      account,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		CachedAt:     c.nowTime(),
	}
	if raw, ok := tok.Extra("id_token").(string); ok {
		entry.IDToken = raw
	}
	if previous != nil {
		if entry.RefreshToken == "" {
			entry.RefreshToken = previous.RefreshToken
		}
		if entry.IDToken == "" {
			entry.IDToken = previous.IDToken
		}
	}

	claims, isJWT := token.InspectAccessToken(tok.AccessToken)
	if entry.Expiry.IsZero() && isJWT && claims.Expiry != nil {
		entry.Expiry = *claims.Expiry
	}

	switch scope, _ := tok.Extra("scope").(string); {
	case scope != "":
		entry.Scopes = splitScopes(scope)
	case isJWT && len(claims.Scopes) > 0:
		entry.Scopes = claims.Scopes
	default:
		entry.Scopes = slices.Clone(requested)
	}
	return entry
}

func resultFromEntry(e token.Entry) *provider.Result {
	account := e.Account
	res := &provider.Result{
		AccessToken: e.AccessToken,
		Scopes:      slices.Clone(e.Scopes),
		IDToken:     e.IDToken,
		Account:     &account,
	}
	if !e.Expiry.IsZero() {
		res.ExpiresOn = utils.Ptr(e.Expiry)
	}
	return res
}

package token_test

import (
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/stretchr/testify/require"
)

var (
	alice = sessions.Account{ID: "u1", Username: "alice@example.com", Name: "Alice"}
	bob   = sessions.Account{ID: "u2", Username: "bob@example.com", Name: "Bob"}
)

func TestEntry_Valid(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	require.False(t, token.Entry{}.Valid(now, 0))
	require.True(t, token.Entry{AccessToken: "t"}.Valid(now, time.Minute), "unknown expiry counts as valid")
	require.True(t, token.Entry{AccessToken: "t", Expiry: now.Add(10 * time.Minute)}.Valid(now, time.Minute))
	require.False(t, token.Entry{AccessToken: "t", Expiry: now.Add(30 * time.Second)}.Valid(now, time.Minute))
	require.False(t, token.Entry{AccessToken: "t", Expiry: now.Add(-time.Second)}.Valid(now, 0))
}

func TestEntry_Covers(t *testing.T) {
	e := token.Entry{Scopes: []string{"openid", "api://x/access_as_user"}}
	require.True(t, e.Covers([]string{"api://x/access_as_user"}))
	require.True(t, e.Covers(nil))
	require.False(t, e.Covers([]string{"User.Read"}))
}

// cacheContract runs the behaviour every Cache implementation must share.
func cacheContract(t *testing.T, newCache func(t *testing.T) token.Cache) {
	t.Run("get missing", func(t *testing.T) {
		c := newCache(t)
		_, err := c.Get("nobody")
		require.True(t, errors.Is(err, errors.ErrNotFound))
	})

	t.Run("put and get", func(t *testing.T) {
		c := newCache(t)
		expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
		require.NoError(t, c.Put(token.Entry{
			Account:      alice,
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			Expiry:       expiry,
			Scopes:       []string{"User.Read"},
			CachedAt:     time.Now(),
		}))

		got, err := c.Get(alice.ID)
		require.NoError(t, err)
		require.Equal(t, alice, got.Account)
		require.Equal(t, "access-1", got.AccessToken)
		require.Equal(t, "refresh-1", got.RefreshToken)
		require.True(t, expiry.Equal(got.Expiry))
		require.Equal(t, []string{"User.Read"}, got.Scopes)
	})

	t.Run("put requires account", func(t *testing.T) {
		c := newCache(t)
		require.Error(t, c.Put(token.Entry{AccessToken: "x"}))
	})

	t.Run("accounts most recent first", func(t *testing.T) {
		c := newCache(t)
		now := time.Now()
		require.NoError(t, c.Put(token.Entry{Account: alice, CachedAt: now.Add(-time.Hour)}))
		require.NoError(t, c.Put(token.Entry{Account: bob, CachedAt: now}))

		accounts, err := c.Accounts()
		require.NoError(t, err)
		require.Equal(t, []sessions.Account{bob, alice}, accounts)
	})

	t.Run("delete and clear", func(t *testing.T) {
		c := newCache(t)
		require.NoError(t, c.Put(token.Entry{Account: alice, CachedAt: time.Now()}))
		require.NoError(t, c.Put(token.Entry{Account: bob, CachedAt: time.Now()}))

		require.NoError(t, c.Delete(alice.ID))
		require.NoError(t, c.Delete(alice.ID), "deleting twice is fine")
		accounts, err := c.Accounts()
		require.NoError(t, err)
		require.Equal(t, []sessions.Account{bob}, accounts)

		require.NoError(t, c.Clear())
		accounts, err = c.Accounts()
		require.NoError(t, err)
		require.Empty(t, accounts)
	})
}

func TestInMemoryCache(t *testing.T) {
	cacheContract(t, func(t *testing.T) token.Cache {
		return token.NewInMemoryCache()
	})
}

func TestKeyringCache(t *testing.T) {
	cacheContract(t, func(t *testing.T) token.Cache {
		return token.NewKeyringCache(keyring.NewArrayKeyring(nil))
	})

	t.Run("ignores foreign keys", func(t *testing.T) {
		ring := keyring.NewArrayKeyring([]keyring.Item{{Key: "something-else", Data: []byte("x")}})
		c := token.NewKeyringCache(ring)
		require.NoError(t, c.Put(token.Entry{Account: alice, CachedAt: time.Now()}))

		accounts, err := c.Accounts()
		require.NoError(t, err)
		require.Equal(t, []sessions.Account{alice}, accounts)

		require.NoError(t, c.Clear())
		_, err = ring.Get("something-else")
		require.NoError(t, err)
	})
}

func TestInspectAccessToken(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	t.Run("jwt with scp string", func(t *testing.T) {
		raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "u1",
			"exp": exp.Unix(),
			"scp": "access_as_user User.Read",
		}).SignedString([]byte("test-secret"))
		require.NoError(t, err)

		claims, ok := token.InspectAccessToken(raw)
		require.True(t, ok)
		require.NotNil(t, claims.Expiry)
		require.True(t, exp.Equal(*claims.Expiry))
		require.Equal(t, []string{"access_as_user", "User.Read"}, claims.Scopes)
	})

	t.Run("jwt with scope array", func(t *testing.T) {
		raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"scope": []string{"a", "b"},
		}).SignedString([]byte("test-secret"))
		require.NoError(t, err)

		claims, ok := token.InspectAccessToken(raw)
		require.True(t, ok)
		require.Nil(t, claims.Expiry)
		require.Equal(t, []string{"a", "b"}, claims.Scopes)
	})

	t.Run("opaque token", func(t *testing.T) {
		_, ok := token.InspectAccessToken("tGzv3JOkF0XG5Qx2TlKWIA")
		require.False(t, ok)
	})
}

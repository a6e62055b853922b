package oidcclient

import (
	"context"
	"strings"

	apperrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/provider"
	"github.com/jrsteele09/go-auth-session/token"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// AcquireTokenSilently serves the cached access token while it is valid for the requested
// scopes, and otherwise redeems the cached refresh token. It never prompts the user.
// Concurrent refreshes for one account share a single refresh_token grant.
func (c *Client) AcquireTokenSilently(ctx context.Context, req provider.SilentRequest) (*provider.Result, error) {
	oauthConf, _, _, err := c.configs()
	if err != nil {
		return nil, err
	}
	if req.Account.ID == "" {
		return nil, provider.NewError(provider.CodeNoTokensFound, "no account given", nil)
	}

	entry, err := c.cachedEntry(req.Account.ID)
	if err != nil {
		return nil, err
	}

	if !req.ForceRefresh && entry.Valid(c.nowTime(), c.expirySkew) && entry.Covers(req.Scopes) {
		return resultFromEntry(entry), nil
	}

	if entry.RefreshToken == "" {
		return nil, provider.NewError(provider.CodeInteractionRequired, "cached token expired and no refresh token is held", nil)
	}

	if err := ctx.Err(); err != nil {
		return nil, contextError(err)
	}

	// The grant outlives any one caller; each caller stops waiting on its own ctx
	flightCtx := context.WithoutCancel(ctx)
	results := c.refreshes.DoChan(req.Account.ID, func() (any, error) {
		return c.refresh(flightCtx, oauthConf, req.Account.ID, entry.RefreshToken)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, contextError(ctx.Err())
	case res = <-results:
	}
	if res.Err != nil {
		return nil, res.Err
	}

	next := res.Val.(token.Entry)
	if !next.Covers(req.Scopes) {
		return nil, provider.NewError(provider.CodeInteractionRequired, "refreshed token was not granted "+strings.Join(req.Scopes, " "), nil)
	}
	return resultFromEntry(next), nil
}

// refresh redeems the account's refresh token. The cache is read again first: a refresh
// that completed while the caller waited has already rotated the token, and its entry is
// served as long as it is still valid.
func (c *Client) refresh(ctx context.Context, oauthConf *oauth2.Config, accountID, seenRefreshToken string) (token.Entry, error) {
	entry, err := c.cachedEntry(accountID)
	if err != nil {
		return token.Entry{}, err
	}
	if entry.RefreshToken != seenRefreshToken && entry.Valid(c.nowTime(), c.expirySkew) {
		return entry, nil
	}
	if entry.RefreshToken == "" {
		return token.Entry{}, provider.NewError(provider.CodeInteractionRequired, "no refresh token is held", nil)
	}

	// Refresh-only source: an expired token forces the refresh_token grant
	ts := oauthConf.TokenSource(c.clientContext(ctx), &oauth2.Token{RefreshToken: entry.RefreshToken})
	refreshed, err := ts.Token()
	if err != nil {
		// The entry stays cached so the account is still offered after a restart
		return token.Entry{}, mapTokenError(ctx, err)
	}

	next := c.newEntry(entry.Account, refreshed, entry.Scopes, &entry)
	if err := c.cache.Put(next); err != nil {
		c.logger.Warn().Err(err).Str("account", next.Account.ID).Msg("Failed to cache refreshed tokens")
	}

	c.logger.Debug().Str("account", next.Account.ID).Time("expiry", next.Expiry).Msg("Access token refreshed")
	return next, nil
}

// cachedEntry reads the account's entry, mapping cache failures to provider codes.
func (c *Client) cachedEntry(accountID string) (token.Entry, error) {
	entry, err := c.cache.Get(accountID)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return token.Entry{}, provider.NewError(provider.CodeInteractionRequired, "no cached tokens for account", err)
	}
	if err != nil {
		return token.Entry{}, provider.NewError(provider.CodeServerError, "token cache unavailable", err)
	}
	return entry, nil
}

func splitScopes(scope string) []string {
	return strings.Fields(scope)
}

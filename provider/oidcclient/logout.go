package oidcclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	apperrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/provider"
	"github.com/jrsteele09/go-auth-session/token"
)

// LogoutInteractively drops the account's tokens from the cache, revokes them and sends the
// browser to the issuer's end session endpoint. The cache entry is removed before anything
// that needs the issuer, so a logout while offline or before discovery still signs the
// account out locally. Remote failures are reported together afterwards.
func (c *Client) LogoutInteractively(ctx context.Context, req provider.LogoutRequest) error {
	if req.Account == nil {
		return nil
	}

	var errs []error
	entry, err := c.cache.Get(req.Account.ID)
	switch {
	case apperrors.Is(err, apperrors.ErrNotFound):
		entry = token.Entry{}
	case err != nil:
		errs = append(errs, err)
	}
	if err := c.cache.Delete(req.Account.ID); err != nil {
		errs = append(errs, err)
	}

	_, _, eps, err := c.configs()
	if err != nil {
		c.logger.Warn().Str("account", req.Account.ID).Msg("Issuer not discovered, tokens dropped locally only")
		return provider.NewError(provider.CodeNotInitialized, "issuer logout skipped", errors.Join(append(errs, err)...))
	}

	if !c.status.CompareAndSwap(int32(provider.InteractionNone), int32(provider.InteractionLogout)) {
		return provider.NewError(provider.CodeInteractionInProgress, "issuer logout skipped, an interaction is already running: "+c.InProgress().String(), errors.Join(errs...))
	}
	defer c.status.Store(int32(provider.InteractionNone))

	if eps.Revocation != "" {
		// Revoke refresh token if present
		if entry.RefreshToken != "" {
			if err := c.revokeToken(ctx, eps.Revocation, entry.RefreshToken, "refresh_token"); err != nil {
				c.logger.Warn().Err(err).Str("token_type", "refresh_token").Msg("Failed to revoke token")
				errs = append(errs, err)
			}
		}
		// Revoke access token if present
		if entry.AccessToken != "" {
			if err := c.revokeToken(ctx, eps.Revocation, entry.AccessToken, "access_token"); err != nil {
				c.logger.Warn().Err(err).Str("token_type", "access_token").Msg("Failed to revoke token")
				errs = append(errs, err)
			}
		}
	}

	if eps.EndSession != "" {
		endSessionURL, err := buildEndSessionURL(eps.EndSession, entry.IDToken, req.PostLogoutRedirectURI, c.cfg.ClientID)
		if err == nil {
			err = c.openBrowser(endSessionURL)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("end session: %w", err))
		}
	}

	if len(errs) > 0 {
		return provider.NewError(provider.CodeNetworkError, "remote logout incomplete", errors.Join(errs...))
	}
	c.logger.Info().Str("account", req.Account.ID).Msg("Logged out")
	return nil
}

// revokeToken posts an RFC 7009 revocation request.
func (c *Client) revokeToken(ctx context.Context, revokeURL, tok, tokenTypeHint string) error {
	form := url.Values{}
	form.Set("token", tok)
	form.Set("token_type_hint", tokenTypeHint)
	form.Set("client_id", c.cfg.ClientID)
	if c.cfg.ClientSecret != "" {
		form.Set("client_secret", c.cfg.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("[Client revokeToken] %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("[Client revokeToken] %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("[Client revokeToken] revocation endpoint returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func buildEndSessionURL(endpoint, idTokenHint, postLogoutRedirect, clientID string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("client_id", clientID)
	if idTokenHint != "" {
		q.Set("id_token_hint", idTokenHint)
	}
	if postLogoutRedirect != "" {
		q.Set("post_logout_redirect_uri", postLogoutRedirect)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

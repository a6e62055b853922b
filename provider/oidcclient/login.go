package oidcclient

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-auth-session/internal/utils"
	"github.com/jrsteele09/go-auth-session/provider"
	"github.com/jrsteele09/go-auth-session/sessions"
	"golang.org/x/oauth2"
)

type callbackResult struct {
	code string
	err  error
}

// idTokenClaims are the ID token claims we turn into an account.
type idTokenClaims struct {
	Nonce             string `json:"nonce"`
	Sub               string `json:"sub"`
	Email             string `json:"email"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
}

func (c idTokenClaims) account() sessions.Account {
	username := c.PreferredUsername
	if username == "" {
		username = c.Email
	}
	return sessions.Account{ID: c.Sub, Username: username, Name: c.Name}
}

// LoginInteractively signs the user in through the browser. It returns once the redirect
// has come back and the code has been exchanged, or when ctx ends.
func (c *Client) LoginInteractively(ctx context.Context, req provider.LoginRequest) (*provider.Result, error) {
	oauthConf, verifier, _, err := c.configs()
	if err != nil {
		return nil, err
	}

	if !c.status.CompareAndSwap(int32(provider.InteractionNone), int32(provider.InteractionLogin)) {
		return nil, provider.NewError(provider.CodeInteractionInProgress, "an interaction is already running: "+c.InProgress().String(), nil)
	}
	defer c.status.Store(int32(provider.InteractionNone))

	listener, redirectURL, callbackPath, err := listenLoopback(c.cfg.RedirectURL)
	if err != nil {
		return nil, provider.NewError(provider.CodeInvalidClient, "cannot listen on redirect URI", err)
	}

	conf := *oauthConf
	conf.RedirectURL = redirectURL
	conf.Scopes = utils.AppendUnique(oauthConf.Scopes, req.Scopes...)

	state := rand.Text()
	nonce := rand.Text()
	codeVerifier := oauth2.GenerateVerifier()

	authOpts := []oauth2.AuthCodeOption{
		oidc.Nonce(nonce),
		oauth2.S256ChallengeOption(codeVerifier),
	}
	if req.Prompt != "" {
		authOpts = append(authOpts, oauth2.SetAuthURLParam("prompt", req.Prompt))
	}
	if req.LoginHint != "" {
		authOpts = append(authOpts, oauth2.SetAuthURLParam("login_hint", req.LoginHint))
	}

	callbacks := make(chan callbackResult, 1)
	srv := &http.Server{
		Handler:           callbackHandler(callbackPath, state, callbacks),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Warn().Err(err).Msg("Loopback redirect listener stopped")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	authURL := conf.AuthCodeURL(state, authOpts...)
	c.logger.Debug().
		Str("redirect_uri", redirectURL).
		Strs("scopes", conf.Scopes).
		Int("window_width", req.PopupSize.Width).
		Int("window_height", req.PopupSize.Height).
		Msg("Starting interactive login")

	if err := c.openBrowser(authURL); err != nil {
		// The user can still complete the flow by opening the URL by hand
		c.logger.Warn().Err(err).Str("url", authURL).Msg("Could not open the browser; open this URL to sign in")
	}

	var cb callbackResult
	select {
	case <-ctx.Done():
		return nil, contextError(ctx.Err())
	case cb = <-callbacks:
	}
	if cb.err != nil {
		return nil, cb.err
	}

	oauth2Token, err := conf.Exchange(
		c.clientContext(ctx),
		cb.code,
		oauth2.VerifierOption(codeVerifier),
	)
	if err != nil {
		return nil, mapTokenError(ctx, err)
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		c.logger.Warn().Msg("Token response carried no ID token")
		entry := c.newEntry(sessions.Account{}, oauth2Token, conf.Scopes, nil)
		res := resultFromEntry(entry)
		res.Account = nil
		return res, nil
	}

	idToken, err := verifier.Verify(c.clientContext(ctx), rawIDToken)
	if err != nil {
		return nil, provider.NewError(provider.CodeInvalidIDToken, "ID token verification failed", err)
	}

	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, provider.NewError(provider.CodeInvalidIDToken, "failed to extract claims", err)
	}
	if claims.Nonce != nonce {
		return nil, provider.NewError(provider.CodeInvalidIDToken, "nonce mismatch", nil)
	}

	entry := c.newEntry(claims.account(), oauth2Token, conf.Scopes, nil)
	if err := c.cache.Put(entry); err != nil {
		// The credential is still good for this process
		c.logger.Warn().Err(err).Str("account", entry.Account.ID).Msg("Failed to cache tokens")
	}

	c.logger.Info().Str("account", entry.Account.ID).Msg("Interactive login complete")
	return resultFromEntry(entry), nil
}

// listenLoopback binds the redirect URL's host. A missing or zero port picks a free one,
// and the returned redirect URL names the port actually bound.
func listenLoopback(rawRedirect string) (net.Listener, string, string, error) {
	u, err := url.Parse(rawRedirect)
	if err != nil {
		return nil, "", "", fmt.Errorf("parse redirect URI: %w", err)
	}
	if u.Scheme != "http" {
		return nil, "", "", fmt.Errorf("redirect URI must be an http loopback URL, got %q", rawRedirect)
	}

	port := u.Port()
	if port == "" {
		port = "0"
	}
	listener, err := net.Listen("tcp", net.JoinHostPort(u.Hostname(), port))
	if err != nil {
		return nil, "", "", fmt.Errorf("listen on %s: %w", u.Host, err)
	}

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return nil, "", "", fmt.Errorf("unexpected listener address %s", listener.Addr())
	}
	bound := *u
	bound.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(tcpAddr.Port))

	path := u.Path
	if path == "" {
		path = "/"
	}
	return listener, bound.String(), path, nil
}

// callbackHandler receives the authorization response. Only the first meaningful
// response is delivered; stray requests with the wrong state are rejected.
func callbackHandler(path, expectedState string, results chan<- callbackResult) http.Handler {
	deliver := func(res callbackResult) {
		select {
		case results <- res:
		default:
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		state := r.FormValue("state")
		code := r.FormValue("code")
		errorParam := r.FormValue("error")
		errorDesc := r.FormValue("error_description")

		if state != expectedState {
			http.Error(w, "Invalid state parameter", http.StatusBadRequest)
			return
		}

		// Check for authorization errors
		if errorParam != "" {
			deliver(callbackResult{err: provider.NewError(authorizeErrorCode(errorParam), errorDesc, nil)})
			writeCallbackPage(w, http.StatusOK, "Sign-in failed", fmt.Sprintf("%s %s", errorParam, errorDesc))
			return
		}

		if code == "" {
			deliver(callbackResult{err: provider.NewError(provider.CodeServerError, "authorization response carried no code", nil)})
			writeCallbackPage(w, http.StatusBadRequest, "Sign-in failed", "Missing code parameter")
			return
		}

		deliver(callbackResult{code: code})
		writeCallbackPage(w, http.StatusOK, "Sign-in complete", "You can close this window and return to the application.")
	})
	return mux
}

func writeCallbackPage(w http.ResponseWriter, status int, title, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, "<!DOCTYPE html><html><head><title>%s</title></head><body><h1>%s</h1><p>%s</p></body></html>",
		html.EscapeString(title), html.EscapeString(title), html.EscapeString(message))
}

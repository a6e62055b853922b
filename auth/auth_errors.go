package auth

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"

	"github.com/jrsteele09/go-auth-session/provider"
	"github.com/jrsteele09/go-auth-session/sessions"
)

// User-facing messages recorded as the session's last error.
const (
	MsgTimeout             = "Login timed out. Please check your connection and try again."
	MsgUserCancelled       = "Login was cancelled."
	MsgInvalidClientConfig = "Invalid client configuration. Please contact support."
	MsgNetworkError        = "Network error. Please check your connection."
	MsgMalformedResponse   = "Login failed: no account information received."
	MsgUnknown             = "Login failed. Please try again."
	MsgSessionExpired      = "Session expired. Please sign in again."
	MsgAuthCheckFailed     = "Authentication check failed"
)

// ReasonSessionExpired is the Expired reason used when a credential request finds the
// session needs the user again.
const ReasonSessionExpired = "session expired"

var (
	// ErrNoAccount is the cause recorded when a login succeeds without an identity.
	ErrNoAccount = errors.New("no account information received")
	// ErrEmptyToken is the cause recorded when a silent request yields no access token.
	ErrEmptyToken error = provider.NewError(provider.CodeNoTokensFound, "empty access token", nil)
)

// Classify maps any failure to an error kind. Typed provider codes win, then context
// errors, then transport errors, then well-known substrings of the message.
func Classify(err error) sessions.ErrorKind {
	if err == nil {
		return sessions.ErrorUnknown
	}
	if errors.Is(err, ErrNoAccount) {
		return sessions.ErrorMalformedResponse
	}

	switch provider.CodeOf(err) {
	case provider.CodeTimedOut:
		return sessions.ErrorTimeout
	case provider.CodeUserCancelled, provider.CodeAccessDenied:
		return sessions.ErrorUserCancelled
	case provider.CodeInvalidClient, provider.CodeUnauthorizedClient:
		return sessions.ErrorInvalidClientConfig
	case provider.CodeNetworkError:
		return sessions.ErrorNetwork
	case provider.CodeInteractionRequired, provider.CodeLoginRequired, provider.CodeConsentRequired,
		provider.CodeInvalidGrant, provider.CodeTokenExpired, provider.CodeNoTokensFound:
		return sessions.ErrorInteractionRequired
	case provider.CodeInvalidIDToken:
		return sessions.ErrorMalformedResponse
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return sessions.ErrorTimeout
	case errors.Is(err, context.Canceled):
		return sessions.ErrorUserCancelled
	}

	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return sessions.ErrorNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return sessions.ErrorTimeout
	case strings.Contains(msg, "user_cancelled"), strings.Contains(msg, "cancelled"):
		return sessions.ErrorUserCancelled
	case strings.Contains(msg, "invalid_client"):
		return sessions.ErrorInvalidClientConfig
	case strings.Contains(msg, "network"):
		return sessions.ErrorNetwork
	case strings.Contains(msg, "interaction_required"):
		return sessions.ErrorInteractionRequired
	}
	return sessions.ErrorUnknown
}

// Message returns the user-facing message for a login failure of kind.
func Message(kind sessions.ErrorKind) string {
	switch kind {
	case sessions.ErrorTimeout:
		return MsgTimeout
	case sessions.ErrorUserCancelled:
		return MsgUserCancelled
	case sessions.ErrorInvalidClientConfig:
		return MsgInvalidClientConfig
	case sessions.ErrorNetwork:
		return MsgNetworkError
	case sessions.ErrorMalformedResponse:
		return MsgMalformedResponse
	default:
		return MsgUnknown
	}
}

// loginError builds the session error recorded for a failed login.
func loginError(err error) *sessions.Error {
	kind := Classify(err)
	return &sessions.Error{Kind: kind, Message: Message(kind), Err: err}
}

// expiredError builds the session error recorded when a session expires.
func expiredError(account sessions.Account, err error) *sessions.Error {
	return &sessions.Error{
		Kind:    sessions.ErrorInteractionRequired,
		Message: MsgSessionExpired,
		Account: &account,
		Err:     err,
	}
}

// expiryReason is the Expired state's reason: the provider's code when there is one,
// otherwise the classified kind.
func expiryReason(err error) string {
	if code := provider.CodeOf(err); code != "" {
		return code
	}
	return string(Classify(err))
}

package provider

import (
	"errors"
	"fmt"
)

// Error codes returned by provider clients. They follow the OAuth2/OIDC error vocabulary
// where one exists.
const (
	CodeInteractionRequired   = "interaction_required"
	CodeLoginRequired         = "login_required"
	CodeConsentRequired       = "consent_required"
	CodeTokenExpired          = "token_expired"
	CodeNoTokensFound         = "no_tokens_found"
	CodeInvalidGrant          = "invalid_grant"
	CodeUserCancelled         = "user_cancelled"
	CodeAccessDenied          = "access_denied"
	CodeInvalidClient         = "invalid_client"
	CodeUnauthorizedClient    = "unauthorized_client"
	CodeNetworkError          = "network_error"
	CodeTimedOut              = "timed_out"
	CodeInteractionInProgress = "interaction_in_progress"
	CodeNotInitialized        = "not_initialized"
	CodeInvalidIDToken        = "invalid_id_token"
	CodeStateMismatch         = "state_mismatch"
	CodeServerError           = "server_error"
)

// Error is a failure reported by a provider client.
type Error struct {
	Code        string
	Description string
	Err         error
}

// NewError builds an Error, keeping err as the cause.
func NewError(code, description string, err error) *Error {
	return &Error{Code: code, Description: description, Err: err}
}

func (e *Error) Error() string {
	msg := e.Code
	if e.Description != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Description)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the provider error code carried by err, or "" when there is none.
func CodeOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

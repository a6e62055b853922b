package auth_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"testing"

	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/provider"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want sessions.ErrorKind
	}{
		{"provider timeout", provider.NewError(provider.CodeTimedOut, "", nil), sessions.ErrorTimeout},
		{"provider cancelled", provider.NewError(provider.CodeUserCancelled, "", nil), sessions.ErrorUserCancelled},
		{"access denied", provider.NewError(provider.CodeAccessDenied, "", nil), sessions.ErrorUserCancelled},
		{"invalid client", provider.NewError(provider.CodeInvalidClient, "", nil), sessions.ErrorInvalidClientConfig},
		{"provider network", provider.NewError(provider.CodeNetworkError, "", nil), sessions.ErrorNetwork},
		{"interaction required", provider.NewError(provider.CodeInteractionRequired, "", nil), sessions.ErrorInteractionRequired},
		{"invalid grant", provider.NewError(provider.CodeInvalidGrant, "", nil), sessions.ErrorInteractionRequired},
		{"bad id token", provider.NewError(provider.CodeInvalidIDToken, "", nil), sessions.ErrorMalformedResponse},
		{"no account", auth.ErrNoAccount, sessions.ErrorMalformedResponse},
		{"wrapped provider code", fmt.Errorf("login: %w", provider.NewError(provider.CodeTimedOut, "", nil)), sessions.ErrorTimeout},
		{"deadline", context.DeadlineExceeded, sessions.ErrorTimeout},
		{"cancel", fmt.Errorf("waiting: %w", context.Canceled), sessions.ErrorUserCancelled},
		{"unrecognised code falls through to cause", provider.NewError(provider.CodeServerError, "", context.DeadlineExceeded), sessions.ErrorTimeout},
		{"dial failure", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, sessions.ErrorNetwork},
		{"url error", &url.Error{Op: "Get", URL: "https://login", Err: errors.New("EOF")}, sessions.ErrorNetwork},
		{"timeout text", errors.New("request Timeout"), sessions.ErrorTimeout},
		{"cancel text", errors.New("user_cancelled: popup closed"), sessions.ErrorUserCancelled},
		{"client text", errors.New("AADSTS700016 invalid_client"), sessions.ErrorInvalidClientConfig},
		{"network text", errors.New("network request failed"), sessions.ErrorNetwork},
		{"interaction text", errors.New("interaction_required: AADSTS50076"), sessions.ErrorInteractionRequired},
		{"anything else", errors.New("boom"), sessions.ErrorUnknown},
		{"nil", nil, sessions.ErrorUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, auth.Classify(tt.err))
		})
	}
}

func TestMessage(t *testing.T) {
	require.Equal(t, "Login timed out. Please check your connection and try again.", auth.Message(sessions.ErrorTimeout))
	require.Equal(t, "Login was cancelled.", auth.Message(sessions.ErrorUserCancelled))
	require.Equal(t, "Invalid client configuration. Please contact support.", auth.Message(sessions.ErrorInvalidClientConfig))
	require.Equal(t, "Network error. Please check your connection.", auth.Message(sessions.ErrorNetwork))
	require.Equal(t, "Login failed: no account information received.", auth.Message(sessions.ErrorMalformedResponse))
	require.Equal(t, "Login failed. Please try again.", auth.Message(sessions.ErrorUnknown))
}

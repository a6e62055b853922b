package oidcclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"

	"github.com/jrsteele09/go-auth-session/provider"
	"golang.org/x/oauth2"
)

// mapTokenError turns a token endpoint failure into a provider.Error.
func mapTokenError(ctx context.Context, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		switch re.ErrorCode {
		case "invalid_grant", "interaction_required", "login_required", "consent_required":
			return provider.NewError(provider.CodeInteractionRequired, re.ErrorDescription, err)
		case "invalid_client", "unauthorized_client":
			return provider.NewError(provider.CodeInvalidClient, re.ErrorDescription, err)
		case "":
			status := 0
			if re.Response != nil {
				status = re.Response.StatusCode
			}
			return provider.NewError(provider.CodeServerError, fmt.Sprintf("token endpoint returned HTTP %d", status), err)
		default:
			return provider.NewError(re.ErrorCode, re.ErrorDescription, err)
		}
	}
	return mapTransportError(ctx, err)
}

// mapTransportError classifies failures that never got an OAuth2 error body.
func mapTransportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return contextError(ctxErr)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return contextError(err)
	}
	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return provider.NewError(provider.CodeNetworkError, "", err)
	}
	return provider.NewError(provider.CodeServerError, "", err)
}

func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return provider.NewError(provider.CodeTimedOut, "", err)
	}
	return provider.NewError(provider.CodeUserCancelled, "", err)
}

// authorizeErrorCode maps an error returned on the redirect to our vocabulary.
func authorizeErrorCode(code string) string {
	switch code {
	case "access_denied":
		return provider.CodeUserCancelled
	case "login_required", "consent_required", "interaction_required":
		return provider.CodeInteractionRequired
	case "unauthorized_client", "invalid_client", "invalid_request", "invalid_scope":
		return provider.CodeInvalidClient
	default:
		return code
	}
}

// Package provider defines the contract between the session coordinator and an identity
// provider client. Implementations own the protocol handshake and their token cache;
// the coordinator only sees accounts, credentials and typed failures.
package provider

import (
	"context"
	"time"

	"github.com/jrsteele09/go-auth-session/sessions"
)

// InteractionStatus tells whether the provider client is in the middle of a user interaction.
type InteractionStatus int32

const (
	InteractionNone InteractionStatus = iota
	InteractionStartup
	InteractionLogin
	InteractionLogout
)

func (s InteractionStatus) String() string {
	switch s {
	case InteractionNone:
		return "none"
	case InteractionStartup:
		return "startup"
	case InteractionLogin:
		return "login"
	case InteractionLogout:
		return "logout"
	default:
		return "unknown"
	}
}

// PopupSize is the requested size of the interactive login window, where the client has one.
type PopupSize struct {
	Width  int
	Height int
}

// SilentRequest asks for a token without any user interaction.
type SilentRequest struct {
	Scopes       []string
	Account      sessions.Account
	ForceRefresh bool // Skip the cached access token and go to the token endpoint
}

// LoginRequest configures an interactive login.
type LoginRequest struct {
	Scopes    []string
	Prompt    string // e.g. "select_account"
	LoginHint string
	PopupSize PopupSize
}

// LogoutRequest configures a logout. Account may be nil when nobody is signed in.
type LogoutRequest struct {
	Account               *sessions.Account
	PostLogoutRedirectURI string
}

// Result is a credential issued by the provider.
type Result struct {
	AccessToken string
	ExpiresOn   *time.Time // Nil when the provider did not say
	Scopes      []string
	IDToken     string
	Account     *sessions.Account // Nil when the provider returned no identity
}

// Provider is the identity provider client the coordinator drives.
type Provider interface {
	// Initialize completes the client's own start-up work, such as discovery and loading its cache.
	Initialize(ctx context.Context) error
	// InProgress reports the interaction currently running, if any.
	InProgress() InteractionStatus
	// GetCachedAccounts lists the accounts the client has tokens for, most recent first.
	GetCachedAccounts() []sessions.Account
	AcquireTokenSilently(ctx context.Context, req SilentRequest) (*Result, error)
	LoginInteractively(ctx context.Context, req LoginRequest) (*Result, error)
	LogoutInteractively(ctx context.Context, req LogoutRequest) error
}

// CacheClearer is implemented by providers whose token cache can be wiped in one go.
type CacheClearer interface {
	ClearCache(ctx context.Context) error
}

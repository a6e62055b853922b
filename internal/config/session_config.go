package config

import (
	"fmt"
	"time"
)

const (
	apiClientIDVar  = "API_CLIENT_ID"
	loginPromptVar  = "LOGIN_PROMPT"
	popupWidthVar   = "LOGIN_POPUP_WIDTH"
	popupHeightVar  = "LOGIN_POPUP_HEIGHT"
	loginTimeoutVar = "LOGIN_TIMEOUT"

	// DefaultScope is requested when no downstream API is registered.
	DefaultScope = "User.Read"
)

type Session struct{}

// GetAPIScopes returns the scope tokens are requested for. With an API registration the
// application-specific scope is used, so downstream calls are authorized for that API.
func (Session) GetAPIScopes() []string {
	return []string{APIScope(GetEnv(apiClientIDVar, ""))}
}

func (Session) GetLoginPrompt() string {
	return GetEnv(loginPromptVar, "select_account")
}

func (Session) GetPopupWidth() int {
	return GetEnvInt(popupWidthVar, 600)
}

func (Session) GetPopupHeight() int {
	return GetEnvInt(popupHeightVar, 700)
}

func (Session) GetLoginTimeout() time.Duration {
	return GetEnvDuration(loginTimeoutVar, 30*time.Second)
}

func (Session) GetPostLogoutRedirectURI() string {
	return Identity{}.GetPostLogoutRedirectURI()
}

// APIScope derives the access scope for an API client registration.
func APIScope(apiClientID string) string {
	if apiClientID == "" {
		return DefaultScope
	}
	return fmt.Sprintf("api://%s/access_as_user", apiClientID)
}

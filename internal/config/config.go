package config

import "time"

type Config interface {
	EnvConfig
	IdentityConfig
	SessionConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	GetAPIBaseURL() string
	GetKeyringBackend() string
	GetKeyringDir() string
	GetKeyringPassword() string
}

// IdentityConfig describes the identity provider registration.
type IdentityConfig interface {
	GetAuthority() string
	GetClientID() string
	GetClientSecret() string
	GetRedirectURI() string
	GetPostLogoutRedirectURI() string
}

// SessionConfig holds the settings the token lifecycle coordinator consumes.
type SessionConfig interface {
	GetAPIScopes() []string
	GetLoginPrompt() string
	GetPopupWidth() int
	GetPopupHeight() int
	GetLoginTimeout() time.Duration
	GetPostLogoutRedirectURI() string
}

type mainConfig struct {
	EnvVars
	Identity
	Session
}

func New() Config {
	return mainConfig{}
}

// GetPostLogoutRedirectURI is provided by both Identity and Session; Session defers to Identity.
func (c mainConfig) GetPostLogoutRedirectURI() string {
	return c.Identity.GetPostLogoutRedirectURI()
}

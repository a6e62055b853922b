package config

const (
	authorityVar             = "AUTH_AUTHORITY"
	clientIDVar              = "AUTH_CLIENT_ID"
	clientSecretVar          = "AUTH_CLIENT_SECRET"
	redirectURIVar           = "AUTH_REDIRECT_URI"
	postLogoutRedirectURIVar = "AUTH_POST_LOGOUT_REDIRECT_URI"

	defaultRedirectURI = "http://localhost:3030/callback"
)

type Identity struct{}

var _ IdentityConfig = Identity{}

// GetAuthority returns the issuer URL of the identity provider (e.g. "https://login.example.com/tenant/v2.0")
func (Identity) GetAuthority() string {
	return GetEnv(authorityVar, "")
}

func (Identity) GetClientID() string {
	return GetEnv(clientIDVar, "")
}

// GetClientSecret is optional; public clients rely on PKCE alone.
func (Identity) GetClientSecret() string {
	return GetEnv(clientSecretVar, "")
}

// GetRedirectURI is where the identity provider sends the browser back to. It must be a
// loopback URL; port 0 picks a free port per login.
func (Identity) GetRedirectURI() string {
	return GetEnv(redirectURIVar, defaultRedirectURI)
}

func (Identity) GetPostLogoutRedirectURI() string {
	return GetEnv(postLogoutRedirectURIVar, "http://localhost:3030")
}

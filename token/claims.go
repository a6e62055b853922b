package token

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-session/internal/utils"
)

// AccessTokenClaims is what the client can learn from a JWT access token without verifying it.
// The signature is the resource server's business; the client only needs expiry and scopes.
type AccessTokenClaims struct {
	Expiry *time.Time
	Scopes []string
}

// InspectAccessToken reads exp and scp/scope from a JWT access token. Opaque (non-JWT)
// tokens yield ok == false.
func InspectAccessToken(raw string) (AccessTokenClaims, bool) {
	if strings.Count(raw, ".") != 2 {
		return AccessTokenClaims{}, false
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return AccessTokenClaims{}, false
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return AccessTokenClaims{}, false
	}

	var out AccessTokenClaims
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.Expiry = utils.Ptr(exp.Time)
	}
	out.Scopes = scopesFromClaims(claims)
	return out, true
}

// scopesFromClaims accepts both the space separated "scp"/"scope" string form and the array form.
func scopesFromClaims(claims jwt.MapClaims) []string {
	for _, name := range []string{"scp", "scope"} {
		switch v := claims[name].(type) {
		case string:
			return strings.Fields(v)
		case []any:
			return utils.ToStringSlice(v)
		}
	}
	return nil
}

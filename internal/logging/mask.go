package logging

import (
	"regexp"
	"strings"
)

var (
	reBearer   = regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9._~+/-]+=*)`)
	reTokenKV  = regexp.MustCompile(`(?i)((?:access_token|refresh_token|id_token|token|code|client_secret)=)([^\s&;]+)`)
	reTokenKey = regexp.MustCompile(`(?i)("(?:access_token|refresh_token|id_token|client_secret)"\s*:\s*")([^"]+)(")`)
)

// Mask replaces credential values in s with "***". It handles bearer headers,
// form/query pairs and JSON token fields.
func Mask(s string) string {
	out := reBearer.ReplaceAllString(s, "$1***")
	out = reTokenKV.ReplaceAllString(out, "$1***")
	out = reTokenKey.ReplaceAllString(out, "$1***$3")
	return out
}

// MaskToken shortens a raw token to a recognisable but unusable form, e.g. "eyJhbG…x9Qk".
func MaskToken(token string) string {
	token = strings.TrimSpace(token)
	switch {
	case token == "":
		return ""
	case len(token) <= 12:
		return strings.Repeat("*", len(token))
	default:
		return token[:6] + "…" + token[len(token)-4:]
	}
}

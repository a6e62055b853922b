package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/jrsteele09/go-auth-session/internal/errors"
)

// Validate checks that the settings the session client depends on are present and parseable.
// It does not contact the identity provider.
func Validate(c Config) error {
	var errs []error

	required := map[string]string{
		authorityVar:   c.GetAuthority(),
		clientIDVar:    c.GetClientID(),
		redirectURIVar: c.GetRedirectURI(),
	}
	for name, value := range required {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Errorf("%s: %w", name, errors.ErrMissingConfig))
		}
	}

	scopes := c.GetAPIScopes()
	if len(scopes) == 0 || strings.TrimSpace(scopes[0]) == "" {
		errs = append(errs, fmt.Errorf("api scope: %w", errors.ErrMissingConfig))
	}

	for name, value := range map[string]string{
		authorityVar:             c.GetAuthority(),
		redirectURIVar:           c.GetRedirectURI(),
		postLogoutRedirectURIVar: c.GetPostLogoutRedirectURI(),
	} {
		if value == "" {
			continue
		}
		if err := validateURL(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if c.GetLoginTimeout() <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive: %w", loginTimeoutVar, errors.ErrInvalidConfig))
	}
	if c.GetPopupWidth() <= 0 || c.GetPopupHeight() <= 0 {
		errs = append(errs, fmt.Errorf("login popup size must be positive: %w", errors.ErrInvalidConfig))
	}

	return errors.Join(errs...)
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errors.Wrapf(errors.ErrInvalidConfig, "parse %q: %v", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Wrapf(errors.ErrInvalidConfig, "unsupported scheme in %q", raw)
	}
	if u.Host == "" {
		return errors.Wrapf(errors.ErrInvalidConfig, "missing host in %q", raw)
	}
	return nil
}

// Package token caches the credentials an identity provider client has obtained, per account.
package token

import (
	"slices"
	"time"

	"github.com/jrsteele09/go-auth-session/sessions"
)

// Entry is everything cached for one signed-in account.
type Entry struct {
	Account      sessions.Account `json:"account"`
	AccessToken  string           `json:"access_token"`
	RefreshToken string           `json:"refresh_token,omitempty"`
	IDToken      string           `json:"id_token,omitempty"`
	Expiry       time.Time        `json:"expiry,omitempty"` // Zero when unknown
	Scopes       []string         `json:"scopes,omitempty"`
	CachedAt     time.Time        `json:"cached_at"`
}

// Valid reports whether the access token can still be used at now, allowing for skew.
// A token with an unknown expiry is treated as valid.
func (e Entry) Valid(now time.Time, skew time.Duration) bool {
	if e.AccessToken == "" {
		return false
	}
	if e.Expiry.IsZero() {
		return true
	}
	return now.Add(skew).Before(e.Expiry)
}

// Covers reports whether the cached access token was granted all of scopes.
func (e Entry) Covers(scopes []string) bool {
	for _, s := range scopes {
		if !slices.Contains(e.Scopes, s) {
			return false
		}
	}
	return true
}

// Cache stores entries keyed by account ID.
type Cache interface {
	Put(entry Entry) error
	Get(accountID string) (Entry, error) // errors.ErrNotFound when absent
	Delete(accountID string) error
	Accounts() ([]sessions.Account, error) // Most recently cached first
	Clear() error
}

func sortByRecency(entries []Entry) []sessions.Account {
	slices.SortStableFunc(entries, func(a, b Entry) int {
		return b.CachedAt.Compare(a.CachedAt)
	})
	accounts := make([]sessions.Account, 0, len(entries))
	for _, e := range entries {
		accounts = append(accounts, e.Account)
	}
	return accounts
}

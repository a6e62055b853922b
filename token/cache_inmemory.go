package token

import (
	"fmt"
	"slices"
	"sync"

	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/sessions"
)

// InMemoryCache is a thread-safe in-memory implementation of Cache
type InMemoryCache struct {
	mu      sync.RWMutex
	entries map[string]Entry // accountID -> entry
}

var _ Cache = (*InMemoryCache)(nil)

// NewInMemoryCache creates a new empty in-memory token cache
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		entries: make(map[string]Entry),
	}
}

// Put creates or replaces the entry for the entry's account
func (c *InMemoryCache) Put(entry Entry) error {
	if entry.Account.ID == "" {
		return fmt.Errorf("account ID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Store a copy to avoid external modifications
	entry.Scopes = slices.Clone(entry.Scopes)
	c.entries[entry.Account.ID] = entry
	return nil
}

// Get retrieves the entry for an account
func (c *InMemoryCache) Get(accountID string) (Entry, error) {
	if accountID == "" {
		return Entry{}, fmt.Errorf("account ID is required")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[accountID]
	if !ok {
		return Entry{}, errors.ErrNotFound
	}
	entry.Scopes = slices.Clone(entry.Scopes)
	return entry, nil
}

// Delete removes an account's entry
func (c *InMemoryCache) Delete(accountID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, accountID) // Already doesn't exist, no error
	return nil
}

// Accounts lists cached accounts, most recently cached first
func (c *InMemoryCache) Accounts() ([]sessions.Account, error) {
	c.mu.RLock()
	entries := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.RUnlock()

	return sortByRecency(entries), nil
}

// Clear removes every entry
func (c *InMemoryCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]Entry)
	return nil
}

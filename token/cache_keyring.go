package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/99designs/keyring"
	apperrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/sessions"
)

// KeyringServiceName identifies our namespace in the OS credential store.
const KeyringServiceName = "go-auth-session"

const accountKeyPrefix = "account:"

// KeyringOptions selects and configures the OS credential store.
type KeyringOptions struct {
	Backend  string // Empty lets the keyring library choose
	FileDir  string // Used by the encrypted file backend
	Password string // Password for the encrypted file backend
}

// KeyringCache persists entries in the OS keychain/credential store so a session
// survives process restarts. Each account is one JSON item.
type KeyringCache struct {
	ring keyring.Keyring
}

var _ Cache = (*KeyringCache)(nil)

// NewKeyringCache wraps an already opened keyring.
func NewKeyringCache(ring keyring.Keyring) *KeyringCache {
	return &KeyringCache{ring: ring}
}

// OpenKeyringCache opens the OS keyring described by opts.
func OpenKeyringCache(opts KeyringOptions) (*KeyringCache, error) {
	cfg := keyring.Config{
		ServiceName:              KeyringServiceName,
		KeychainTrustApplication: true,
		FileDir:                  opts.FileDir,
	}
	if opts.Backend != "" {
		cfg.AllowedBackends = []keyring.BackendType{keyring.BackendType(opts.Backend)}
	}
	if opts.Password != "" {
		cfg.FilePasswordFunc = keyring.FixedStringPrompt(opts.Password)
	}

	ring, err := keyring.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("[KeyringCache Open] failed to open keyring: %w", err)
	}
	return NewKeyringCache(ring), nil
}

func (c *KeyringCache) Put(entry Entry) error {
	if entry.Account.ID == "" {
		return fmt.Errorf("account ID is required")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("[KeyringCache Put] marshal entry: %w", err)
	}
	err = c.ring.Set(keyring.Item{
		Key:         accountPrefixKey(entry.Account.ID),
		Data:        data,
		Label:       "Session tokens for " + entry.Account.DisplayName(),
		Description: "OAuth2 tokens cached by the session client",
	})
	if err != nil {
		return fmt.Errorf("[KeyringCache Put] store entry: %w", err)
	}
	return nil
}

func (c *KeyringCache) Get(accountID string) (Entry, error) {
	if accountID == "" {
		return Entry{}, fmt.Errorf("account ID is required")
	}
	return c.get(accountPrefixKey(accountID))
}

func (c *KeyringCache) get(key string) (Entry, error) {
	item, err := c.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return Entry{}, apperrors.ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("[KeyringCache Get] load %s: %w", key, err)
	}
	var entry Entry
	if err := json.Unmarshal(item.Data, &entry); err != nil {
		return Entry{}, fmt.Errorf("[KeyringCache Get] decode %s: %w", key, err)
	}
	return entry, nil
}

func (c *KeyringCache) Delete(accountID string) error {
	err := c.ring.Remove(accountPrefixKey(accountID))
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("[KeyringCache Delete] %w", err)
	}
	return nil
}

func (c *KeyringCache) Accounts() ([]sessions.Account, error) {
	keys, err := c.accountKeys()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		entry, err := c.get(key)
		if err != nil {
			// A corrupt or vanished item must not hide the other accounts
			continue
		}
		entries = append(entries, entry)
	}
	return sortByRecency(entries), nil
}

func (c *KeyringCache) Clear() error {
	keys, err := c.accountKeys()
	if err != nil {
		return err
	}
	var errs []error
	for _, key := range keys {
		if err := c.ring.Remove(key); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("[KeyringCache Clear] %w", errors.Join(errs...))
	}
	return nil
}

func (c *KeyringCache) accountKeys() ([]string, error) {
	keys, err := c.ring.Keys()
	if err != nil {
		return nil, fmt.Errorf("[KeyringCache Keys] %w", err)
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if strings.HasPrefix(k, accountKeyPrefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func accountPrefixKey(accountID string) string {
	return accountKeyPrefix + accountID
}

package identity

import (
	"encoding/json"
	"fmt"
	"sync"
)

type cacheEntry struct {
	Account *Account `json:"account,omitempty"`
	Token   *Token   `json:"token,omitempty"`
}

// TokenCache holds the token state of one signed-in user. It tracks whether its
// state changed since the last Serialize/Deserialize so callers can write on change.
type TokenCache struct {
	mu      sync.Mutex
	entry   cacheEntry
	changed bool
	sealer  *Sealer
}

// NewTokenCache creates an empty cache. A non-nil sealer encrypts serialised state.
func NewTokenCache(sealer *Sealer) *TokenCache {
	return &TokenCache{sealer: sealer}
}

// HasStateChanged is the dirty flag.
func (c *TokenCache) HasStateChanged() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}

// Serialize returns the cache blob and clears the dirty flag.
func (c *TokenCache) Serialize() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := json.Marshal(c.entry)
	if err != nil {
		return "", fmt.Errorf("marshal token cache: %w", err)
	}
	blob := string(data)
	if c.sealer != nil {
		if blob, err = c.sealer.Seal(data); err != nil {
			return "", err
		}
	}
	c.changed = false
	return blob, nil
}

// Deserialize replaces the cache content with blob and clears the dirty flag.
func (c *TokenCache) Deserialize(blob string) error {
	data := []byte(blob)
	if c.sealer != nil {
		var err error
		if data, err = c.sealer.Open(blob); err != nil {
			return err
		}
	}
	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return fmt.Errorf("unmarshal token cache: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = entry
	c.changed = false
	return nil
}

// Store records the account and its token.
func (c *TokenCache) Store(account Account, token Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = cacheEntry{Account: &account, Token: &token}
	c.changed = true
}

// Account returns the cached account.
func (c *TokenCache) Account() (Account, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entry.Account == nil {
		return Account{}, false
	}
	return *c.entry.Account, true
}

// Token returns the cached token.
func (c *TokenCache) Token() (Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entry.Token == nil {
		return Token{}, false
	}
	return *c.entry.Token, true
}

// Clear empties the cache.
func (c *TokenCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entry.Account != nil || c.entry.Token != nil {
		c.entry = cacheEntry{}
		c.changed = true
	}
}

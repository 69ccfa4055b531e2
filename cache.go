package stillsuit

import (
	"sync"
	"time"

	"github.com/pthm/stillsuit/querytree"
)

// TokenCache stores resolved tokenizations. Lookups are exact-match on
// (expression, language). A cache lets repeated searches skip the backend
// tokenization round trip entirely; partial hits still cost at most one
// round trip for the misses.
//
// Implementations must be safe for concurrent use from multiple goroutines.
type TokenCache interface {
	// Get returns the cached tokenization, or ok=false on a miss.
	Get(req querytree.TokenizeRequest) (tokens []string, ok bool)

	// Set stores one resolved tokenization.
	Set(req querytree.TokenizeRequest, tokens []string)
}

// tokenEntry stores one cached tokenization with its expiry.
type tokenEntry struct {
	tokens    []string
	expiresAt time.Time // zero means no expiry
}

// TokenCacheImpl is the default in-memory TokenCache with optional TTL.
// The cache grows unbounded within its TTL window; processes with highly
// variable search expressions should set a TTL.
type TokenCacheImpl struct {
	mu    sync.RWMutex
	items map[querytree.TokenizeRequest]tokenEntry
	ttl   time.Duration // 0 means no expiry
}

// TokenCacheOption configures a TokenCacheImpl.
type TokenCacheOption func(*TokenCacheImpl)

// WithTTL sets the time-to-live for cache entries. Entries older than the
// TTL are re-tokenized on next use. Zero (the default) never expires.
// Tokenization for a fixed engine configuration is deterministic, so the
// TTL only matters when the backend's tokenizer configuration can change
// underneath a running process.
func WithTTL(ttl time.Duration) TokenCacheOption {
	return func(c *TokenCacheImpl) {
		c.ttl = ttl
	}
}

// NewTokenCache creates an in-memory token cache.
func NewTokenCache(opts ...TokenCacheOption) *TokenCacheImpl {
	c := &TokenCacheImpl{items: make(map[querytree.TokenizeRequest]tokenEntry)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached tokens for req, or ok=false.
func (c *TokenCacheImpl) Get(req querytree.TokenizeRequest) ([]string, bool) {
	c.mu.RLock()
	entry, ok := c.items[req]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.items, req)
		c.mu.Unlock()
		return nil, false
	}
	return entry.tokens, true
}

// Set stores the tokens for req.
func (c *TokenCacheImpl) Set(req querytree.TokenizeRequest, tokens []string) {
	entry := tokenEntry{tokens: tokens}
	if c.ttl > 0 {
		entry.expiresAt = time.Now().Add(c.ttl)
	}
	c.mu.Lock()
	c.items[req] = entry
	c.mu.Unlock()
}

// Size returns the number of cached tokenizations.
func (c *TokenCacheImpl) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Clear removes every entry.
func (c *TokenCacheImpl) Clear() {
	c.mu.Lock()
	c.items = make(map[querytree.TokenizeRequest]tokenEntry)
	c.mu.Unlock()
}

var _ TokenCache = (*TokenCacheImpl)(nil)

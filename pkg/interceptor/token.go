package interceptor

import (
	"context"
	"sync"
	"time"
)

// TokenProvider fetches bearer tokens.
type TokenProvider interface {
	// FetchToken returns the token and its expiry. Providers without an explicit expiry
	// should return a reasonable TTL.
	FetchToken(ctx context.Context) (token string, expiresAt time.Time, err error)
}

// DefaultRefreshBuffer is how long before expiry a cached token is refreshed.
const DefaultRefreshBuffer = 30 * time.Second

// TokenCache holds the current token of a provider and refreshes it ahead of expiry.
type TokenCache struct {
	mu            sync.RWMutex
	token         string
	expiresAt     time.Time
	provider      TokenProvider
	refreshBuffer time.Duration
	now           func() time.Time
}

// NewTokenCache creates a cache over provider. refreshBuffer <= 0 uses DefaultRefreshBuffer.
func NewTokenCache(provider TokenProvider, refreshBuffer time.Duration) *TokenCache {
	if refreshBuffer <= 0 {
		refreshBuffer = DefaultRefreshBuffer
	}
	return &TokenCache{
		provider:      provider,
		refreshBuffer: refreshBuffer,
		now:           time.Now,
	}
}

// Token returns a valid token, fetching one when the cache is empty or about to expire.
// Concurrent callers share a single fetch.
func (tc *TokenCache) Token(ctx context.Context) (string, error) {
	tc.mu.RLock()
	if tc.freshLocked() {
		token := tc.token
		tc.mu.RUnlock()
		return token, nil
	}
	tc.mu.RUnlock()

	tc.mu.Lock()
	defer tc.mu.Unlock()
	// another goroutine may have refreshed while we waited
	if tc.freshLocked() {
		return tc.token, nil
	}
	token, expiresAt, err := tc.provider.FetchToken(ctx)
	if err != nil {
		return "", err
	}
	tc.token, tc.expiresAt = token, expiresAt
	return token, nil
}

// Invalidate clears the cached token, forcing a fetch on the next Token call.
func (tc *TokenCache) Invalidate() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.token = ""
	tc.expiresAt = time.Time{}
}

// Valid reports whether a cached token is usable without a refresh.
func (tc *TokenCache) Valid() bool {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.freshLocked()
}

func (tc *TokenCache) freshLocked() bool {
	return tc.token != "" && tc.now().Before(tc.expiresAt.Add(-tc.refreshBuffer))
}

package marzban

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
)

// ErrNoToken means the panel did not issue an access token. Callers must abort.
var ErrNoToken = errors.New("marzban: no access token")

const DefaultTokenTTL = time.Hour

type AuthFunc func(ctx context.Context) (string, error)

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// TokenCache holds a single bearer token. Reads are lock-free; concurrent refreshes
// may both hit the panel and the last one stored wins.
type TokenCache struct {
	current atomic.Pointer[cachedToken]
	auth    AuthFunc
	ttl     time.Duration
	now     func() time.Time
}

func NewTokenCache(auth AuthFunc, ttl time.Duration, now func() time.Time) *TokenCache {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if now == nil {
		now = time.Now
	}
	return &TokenCache{auth: auth, ttl: ttl, now: now}
}

func (c *TokenCache) Get(ctx context.Context) (string, error) {
	if t := c.current.Load(); t != nil && c.now().Before(t.expiresAt) {
		return t.value, nil
	}

	value, err := c.auth(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoToken, err)
	}
	if value == "" {
		return "", ErrNoToken
	}

	c.current.Store(&cachedToken{value: value, expiresAt: c.now().Add(c.ttl)})
	return value, nil
}

// Invalidate drops the cached token if it is still the rejected one.
func (c *TokenCache) Invalidate(rejected string) {
	t := c.current.Load()
	if t != nil && t.value == rejected {
		c.current.CompareAndSwap(t, nil)
	}
}

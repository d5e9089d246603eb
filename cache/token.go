package cache

import (
	"context"
	"sync"
	"time"

	"github.com/malwarebo/partnersync/utils"
	"go.uber.org/zap"
)

// DefaultSafetyMargin treats a token as expired this long before the partner
// says it expires.
const DefaultSafetyMargin = 10 * time.Minute

type CachedToken struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenMirror persists the cached token outside the process so a restart can
// reuse it instead of logging in again.
type TokenMirror interface {
	Load(ctx context.Context) (*CachedToken, error)
	Save(ctx context.Context, token CachedToken) error
	Clear(ctx context.Context) error
}

// TokenCache is a single expiring cell shared by every component that calls
// the partner API. It does not know how to authenticate.
type TokenCache struct {
	mu     sync.RWMutex
	token  *CachedToken
	margin time.Duration
	now    func() time.Time
	mirror TokenMirror
	logger *utils.Logger
}

type TokenCacheOption func(*TokenCache)

func WithSafetyMargin(margin time.Duration) TokenCacheOption {
	return func(c *TokenCache) { c.margin = margin }
}

func WithClock(now func() time.Time) TokenCacheOption {
	return func(c *TokenCache) { c.now = now }
}

func WithMirror(mirror TokenMirror) TokenCacheOption {
	return func(c *TokenCache) { c.mirror = mirror }
}

func CreateTokenCache(opts ...TokenCacheOption) *TokenCache {
	c := &TokenCache{
		margin: DefaultSafetyMargin,
		now:    time.Now,
		logger: utils.NewLogger("token_cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *TokenCache) validLocked() bool {
	return c.token != nil && c.now().Before(c.token.ExpiresAt.Add(-c.margin))
}

// GetToken returns the cached token while it is still valid after the
// safety margin is applied.
func (c *TokenCache) GetToken() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.validLocked() {
		return "", false
	}
	return c.token.Value, true
}

func (c *TokenCache) SetToken(value string, expiresAt time.Time) {
	token := CachedToken{Value: value, ExpiresAt: expiresAt}

	c.mu.Lock()
	c.token = &token
	c.mu.Unlock()

	if c.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.mirror.Save(ctx, token); err != nil {
			c.logger.Warn(ctx, "failed to mirror partner token", zap.Error(err))
		}
	}
}

func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = nil
	c.mu.Unlock()

	if c.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.mirror.Clear(ctx); err != nil {
			c.logger.Warn(ctx, "failed to clear mirrored partner token", zap.Error(err))
		}
	}
}

// ExpiresAt reports the partner-issued expiry of the cached token.
func (c *TokenCache) ExpiresAt() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == nil {
		return time.Time{}, false
	}
	return c.token.ExpiresAt, true
}

// Restore loads a token from the mirror. A missing or stale token is not an
// error; the cache simply stays empty.
func (c *TokenCache) Restore(ctx context.Context) (bool, error) {
	if c.mirror == nil {
		return false, nil
	}
	token, err := c.mirror.Load(ctx)
	if err != nil {
		return false, err
	}
	if token == nil {
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	if !c.validLocked() {
		c.token = nil
		return false, nil
	}
	return true, nil
}

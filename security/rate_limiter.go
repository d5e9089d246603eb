package security

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per key (the remote address on the
// webhook route) and forgets keys idle for longer than idleTTL.
type RateLimiter struct {
	config   RateLimitConfig
	idleTTL  time.Duration
	limiters map[string]*limiterEntry
	mu       sync.Mutex
	cleanup  *time.Timer
	closed   bool
}

func CreateRateLimiter(config RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		config:   config,
		idleTTL:  10 * time.Minute,
		limiters: make(map[string]*limiterEntry),
	}
	rl.startCleanup()
	return rl
}

func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, exists := rl.limiters[key]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.Burst)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = time.Now()

	return entry.limiter.Allow()
}

func (rl *RateLimiter) evictIdle(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	evicted := 0
	for key, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > rl.idleTTL {
			delete(rl.limiters, key)
			evicted++
		}
	}
	return evicted
}

func (rl *RateLimiter) startCleanup() {
	rl.cleanup = time.AfterFunc(5*time.Minute, func() {
		rl.evictIdle(time.Now())

		rl.mu.Lock()
		defer rl.mu.Unlock()
		if !rl.closed {
			rl.cleanup.Reset(5 * time.Minute)
		}
	})
}

func (rl *RateLimiter) Close() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.closed = true
	if rl.cleanup != nil {
		rl.cleanup.Stop()
	}
}

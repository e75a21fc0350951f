package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate
	BurstSize int
	// MaxBuckets bounds the number of keys tracked in memory
	MaxBuckets int
}

// DefaultRateLimitConfig returns default rate limit settings
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 600,
		WindowDuration:    time.Minute,
		BurstSize:         50,
		MaxBuckets:        10000,
	}
}

// Limiter decides whether one more request for key fits in the window.
// Remaining and TTL feed the response headers; their errors are ignored.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Remaining(ctx context.Context, key string) (int, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Limit() int
	Window() time.Duration
}

// RateLimiter implements rate limiting using token bucket algorithm.
// Buckets live in an LRU so memory stays bounded under many identities.
type RateLimiter struct {
	config  *RateLimitConfig
	buckets *lru.Cache[string, *bucket]
	mu      sync.Mutex
	now     func() time.Time
}

type bucket struct {
	tokens     int
	lastUpdate time.Time
	mu         sync.Mutex
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config *RateLimitConfig) (*RateLimiter, error) {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	size := config.MaxBuckets
	if size <= 0 {
		size = DefaultRateLimitConfig().MaxBuckets
	}

	buckets, err := lru.New[string, *bucket](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket cache: %w", err)
	}

	return &RateLimiter{
		config:  config,
		buckets: buckets,
		now:     time.Now,
	}, nil
}

// Allow checks if a request is allowed for the given key. It never errors.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	maxTokens := rl.config.RequestsPerWindow + rl.config.BurstSize

	rl.mu.Lock()
	b, exists := rl.buckets.Get(key)
	if !exists {
		b = &bucket{
			tokens:     maxTokens,
			lastUpdate: rl.now(),
		}
		rl.buckets.Add(key, b)
	}
	rl.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	now := rl.now()
	elapsed := now.Sub(b.lastUpdate)

	// Refill tokens based on elapsed time
	tokensToAdd := int(elapsed.Seconds() * float64(rl.config.RequestsPerWindow) / rl.config.WindowDuration.Seconds())
	if tokensToAdd > 0 {
		b.tokens += tokensToAdd
		if b.tokens > maxTokens {
			b.tokens = maxTokens
		}
		b.lastUpdate = now
	}

	if b.tokens > 0 {
		b.tokens--
		return true, nil
	}
	return false, nil
}

// Remaining returns the number of tokens left for key
func (rl *RateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	b, exists := rl.buckets.Peek(key)
	if !exists {
		return rl.config.RequestsPerWindow + rl.config.BurstSize, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens, nil
}

// TTL returns how long until key earns its next token, zero when it has one
func (rl *RateLimiter) TTL(ctx context.Context, key string) (time.Duration, error) {
	b, exists := rl.buckets.Peek(key)
	if !exists {
		return 0, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tokens > 0 || rl.config.RequestsPerWindow <= 0 {
		return 0, nil
	}
	perToken := rl.config.WindowDuration / time.Duration(rl.config.RequestsPerWindow)
	wait := perToken - rl.now().Sub(b.lastUpdate)
	if wait < 0 {
		wait = 0
	}
	return wait, nil
}

// Limit returns the configured requests per window
func (rl *RateLimiter) Limit() int {
	return rl.config.RequestsPerWindow
}

// Window returns the configured window
func (rl *RateLimiter) Window() time.Duration {
	return rl.config.WindowDuration
}

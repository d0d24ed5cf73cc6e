package domain

import (
	"context"
	"time"
)

// Cache scope prefixes. Keys are namespaced by concern so OTPs, session
// activity and rate counters never collide.
const (
	ScopeOTP     = "otp"
	ScopeSession = "session"
	ScopeRate    = "rate"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, scope string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, scope string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, scope string, key string) error

	// IncrementCounter atomically increments a sliding-window counter
	// and returns the new value. Used for login-attempt throttling and
	// telemetry rate limiting.
	IncrementCounter(ctx context.Context, scope string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `json:"type" env:"KESTREL_CACHE_TYPE"`

	// Local LRU cache settings (Community tier)
	LocalMaxSize int           `json:"localMaxSize"`
	LocalTTL     time.Duration `json:"localTTL"`

	// Redis settings (Pro tier)
	RedisAddr     string `json:"redisAddr" env:"KESTREL_REDIS_ADDR"`
	RedisPassword string `json:"-" env:"KESTREL_REDIS_PASSWORD"`
	RedisDB       int    `json:"redisDb" env:"KESTREL_REDIS_DB"`

	// Two-phase settings
	EnableTwoPhase bool `json:"enableTwoPhase"` // If true, check local first, then Redis
}

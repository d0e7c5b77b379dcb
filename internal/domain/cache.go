package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// Cache failures must degrade to direct store reads, never fail a
// resolution.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetCandidates retrieves the cached candidate rule set for a pair.
	GetCandidates(ctx context.Context, serviceType string, role ActorRole) ([]*CommissionRule, error)

	// SetCandidates caches the candidate rule set for a pair.
	SetCandidates(ctx context.Context, serviceType string, role ActorRole, rules []*CommissionRule, ttl time.Duration) error

	// InvalidateCandidates drops the cached set for a pair after a rule
	// write.
	InvalidateCandidates(ctx context.Context, serviceType string, role ActorRole) error

	// IncrementCounter atomically increments a counter and returns the new
	// value. Used for per-rule usage counts.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// CandidateTTL bounds how long a cached candidate set may be served.
	CandidateTTL time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}

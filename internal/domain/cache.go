package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// Take atomically retrieves and removes a value.
	// Returns nil, nil if key not found. At most one caller observes the value.
	Take(ctx context.Context, tenantID string, key string) ([]byte, error)

	// GetProfile retrieves a cached behavior profile.
	// Returns nil, nil if not cached.
	GetProfile(ctx context.Context, tenantID string, userID string) (*BehaviorProfile, error)

	// SetProfile caches a behavior profile.
	SetProfile(ctx context.Context, tenantID string, p *BehaviorProfile, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for challenge attempt limits.
	IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Challenge is a pending step-up verification issued for a CHALLENGED login.
type Challenge struct {
	Token      string    `json:"token"`
	DecisionID string    `json:"decisionId"`
	UserID     string    `json:"userId"`
	Score      int       `json:"score"`
	Threshold  float64   `json:"threshold"`
	Sentence   string    `json:"sentence"`
	IssuedAt   time.Time `json:"issuedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}

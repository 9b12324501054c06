// Package domain defines the core interfaces and types for Heron.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All per-user methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Profile operations
	SaveProfile(ctx context.Context, tenantID string, p *BehaviorProfile) error
	GetProfile(ctx context.Context, tenantID string, userID string) (*BehaviorProfile, error)

	// UpdateProfile applies fn to the stored profile and saves the result
	// atomically. A nil result saves nothing.
	UpdateProfile(ctx context.Context, tenantID string, userID string, fn func(*BehaviorProfile) (*BehaviorProfile, error)) (*BehaviorProfile, error)

	// Behavior logs
	SaveBehaviorLog(ctx context.Context, tenantID string, log *BehaviorLog) error
	RecentTrustedScores(ctx context.Context, tenantID string, userID string, limit int) ([]int, error)

	// Decision audit records
	SaveDecision(ctx context.Context, tenantID string, rec *DecisionRecord) error
	GetDecision(ctx context.Context, tenantID string, decisionID string) (*DecisionRecord, error)
	ListDecisions(ctx context.Context, tenantID string, userID string, limit int) ([]*DecisionRecord, error)

	// Federated model state, shared across tenants
	LoadFederatedState(ctx context.Context) (*FederatedState, error)
	UpdateFederatedState(ctx context.Context, fn func(*FederatedState) (*FederatedState, error)) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// FederatedState is the persisted registry together with the pending pool.
type FederatedState struct {
	Registry ModelRegistry  `json:"registry"`
	Pending  []WeightUpdate `json:"pending"`
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific; PostgresDSN overrides the individual fields
	PostgresDSN      string
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

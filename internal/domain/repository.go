package domain

import (
	"context"
	"time"
)

// GlobalTenant is the reserved tenant that holds shared state, such as
// model parameters that apply to every tenant.
const GlobalTenant = "global"

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Transaction operations (kept for velocity/frequency derivation)
	SaveTransaction(ctx context.Context, tenantID string, rec *TransactionRecord) error
	CountTransactionsByActor(ctx context.Context, tenantID string, actorID string, since time.Time) (int64, error)

	// Risk result operations
	SaveRiskResult(ctx context.Context, tenantID string, result *RiskResult) error
	GetRiskResult(ctx context.Context, tenantID string, resultID string) (*RiskResult, error)
	ListRiskResultsByActor(ctx context.Context, tenantID string, actorID string, since time.Time) ([]*RiskResult, error)
	ListFlaggedActors(ctx context.Context, tenantID string, since time.Time) ([]string, error)

	// Model store: opaque persisted blobs keyed by channel name
	SaveModelParams(ctx context.Context, tenantID string, params *ModelParams) error
	GetModelParams(ctx context.Context, tenantID string, channel Channel) (*ModelParams, error)
	ListModelParams(ctx context.Context, tenantID string) ([]*ModelParams, error)

	// Policy rule operations
	SavePolicyRule(ctx context.Context, tenantID string, rule *PolicyRule) error
	ListPolicyRules(ctx context.Context, tenantID string) ([]*PolicyRule, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
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

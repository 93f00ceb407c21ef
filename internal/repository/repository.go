// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a transaction with tenant isolation.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tenantID string, rec *domain.TransactionRecord) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO transactions (
			id, tenant_id, actor_id, amount, frequency,
			location_variance, timestamp, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rec.ID, tenantID, rec.ActorID,
		rec.Amount, rec.Frequency, rec.LocationVariance,
		rec.Timestamp, time.Now().UTC(),
	)
	return err
}

// CountTransactionsByActor counts an actor's transactions since a point
// in time, with tenant isolation.
func (r *SQLRepository) CountTransactionsByActor(ctx context.Context, tenantID string, actorID string, since time.Time) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*) FROM transactions
		WHERE tenant_id = ? AND actor_id = ? AND timestamp >= ?
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, actorID, since).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// SaveRiskResult stores a risk result with tenant isolation.
func (r *SQLRepository) SaveRiskResult(ctx context.Context, tenantID string, result *domain.RiskResult) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	attributions, _ := json.Marshal(result.Attributions)
	reasons, _ := json.Marshal(result.Reasons)

	flagged := 0
	if result.IsFlagged {
		flagged = 1
	}

	query := `
		INSERT INTO risk_results (
			id, tenant_id, channel, actor_id, risk_score,
			is_flagged, threat_level, attributions, reasons, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		result.ID, tenantID, string(result.Channel), result.ActorID,
		result.RiskScore, flagged, result.ThreatLevel,
		string(attributions), string(reasons), result.Timestamp,
	)
	return err
}

// GetRiskResult retrieves a risk result by ID with tenant isolation.
func (r *SQLRepository) GetRiskResult(ctx context.Context, tenantID string, resultID string) (*domain.RiskResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, channel, actor_id, risk_score,
			   is_flagged, threat_level, attributions, reasons, timestamp
		FROM risk_results
		WHERE tenant_id = ? AND id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, resultID)
	result, err := scanRiskResult(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return result, err
}

// ListRiskResultsByActor retrieves an actor's risk results since a point
// in time, newest first, with tenant isolation.
func (r *SQLRepository) ListRiskResultsByActor(ctx context.Context, tenantID string, actorID string, since time.Time) ([]*domain.RiskResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, channel, actor_id, risk_score,
			   is_flagged, threat_level, attributions, reasons, timestamp
		FROM risk_results
		WHERE tenant_id = ? AND actor_id = ? AND timestamp >= ?
		ORDER BY timestamp DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, actorID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.RiskResult
	for rows.Next() {
		result, err := scanRiskResult(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}

	return results, rows.Err()
}

// ListFlaggedActors returns the distinct actors with at least one flagged
// result since a point in time, for the correlation sweep.
func (r *SQLRepository) ListFlaggedActors(ctx context.Context, tenantID string, since time.Time) ([]string, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT DISTINCT actor_id
		FROM risk_results
		WHERE tenant_id = ? AND is_flagged = ? AND actor_id != '' AND timestamp >= ?
		ORDER BY actor_id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, true, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actors []string
	for rows.Next() {
		var actorID string
		if err := rows.Scan(&actorID); err != nil {
			return nil, err
		}
		actors = append(actors, actorID)
	}

	return actors, rows.Err()
}

// scanRiskResult decodes one risk result row.
func scanRiskResult(scan func(dest ...any) error) (*domain.RiskResult, error) {
	var result domain.RiskResult
	var channel string
	var flagged int
	var attributions, reasons string

	err := scan(
		&result.ID, &result.TenantID, &channel, &result.ActorID,
		&result.RiskScore, &flagged, &result.ThreatLevel,
		&attributions, &reasons, &result.Timestamp,
	)
	if err != nil {
		return nil, err
	}

	result.Channel = domain.Channel(channel)
	result.IsFlagged = flagged == 1
	json.Unmarshal([]byte(attributions), &result.Attributions)
	if reasons != "" {
		json.Unmarshal([]byte(reasons), &result.Reasons)
	}

	return &result, nil
}

// SaveModelParams upserts a channel's model parameters with tenant
// isolation.
func (r *SQLRepository) SaveModelParams(ctx context.Context, tenantID string, params *domain.ModelParams) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO model_params (
			tenant_id, channel, version, params, updated_at
		) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, channel) DO UPDATE SET
			version = excluded.version,
			params = excluded.params,
			updated_at = excluded.updated_at
	`

	updatedAt := params.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tenantID, string(params.Channel), params.Version,
		string(params.Params), updatedAt,
	)
	return err
}

// GetModelParams retrieves a channel's model parameters with tenant
// isolation.
func (r *SQLRepository) GetModelParams(ctx context.Context, tenantID string, channel domain.Channel) (*domain.ModelParams, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT channel, version, params, updated_at
		FROM model_params
		WHERE tenant_id = ? AND channel = ?
	`

	var p domain.ModelParams
	var ch, params string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, string(channel)).Scan(
		&ch, &p.Version, &params, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p.Channel = domain.Channel(ch)
	p.Params = []byte(params)
	return &p, nil
}

// ListModelParams retrieves every stored channel's model parameters for
// a tenant.
func (r *SQLRepository) ListModelParams(ctx context.Context, tenantID string) ([]*domain.ModelParams, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT channel, version, params, updated_at
		FROM model_params
		WHERE tenant_id = ?
		ORDER BY channel
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var all []*domain.ModelParams
	for rows.Next() {
		var p domain.ModelParams
		var ch, params string

		if err := rows.Scan(&ch, &p.Version, &params, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Channel = domain.Channel(ch)
		p.Params = []byte(params)
		all = append(all, &p)
	}

	return all, rows.Err()
}

// SavePolicyRule upserts a policy rule with tenant isolation.
func (r *SQLRepository) SavePolicyRule(ctx context.Context, tenantID string, rule *domain.PolicyRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO policy_rules (
			id, tenant_id, name, description, expression, reason, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			reason = excluded.reason,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Expression, rule.Reason, enabled,
		now, now,
	)
	return err
}

// ListPolicyRules retrieves all enabled policy rules for a tenant.
func (r *SQLRepository) ListPolicyRules(ctx context.Context, tenantID string) ([]*domain.PolicyRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, expression, reason, enabled
		FROM policy_rules
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.PolicyRule
	for rows.Next() {
		var rule domain.PolicyRule
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
			&rule.Expression, &rule.Reason, &enabled,
		); err != nil {
			return nil, err
		}

		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// federatedStateID keys the single shared registry row.
const federatedStateID = "global"

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
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

// DB exposes the underlying pool for health and stats collection.
func (r *SQLRepository) DB() *sql.DB {
	return r.db
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx runs fn in a read-write transaction, committing only if fn
// succeeds. SQLite begins it IMMEDIATE, taking the write lock up front.
func (r *SQLRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// forUpdate adds a row lock on PostgreSQL. SQLite already holds the
// database write lock for the whole transaction.
func (r *SQLRepository) forUpdate(query string) string {
	if r.driver == "postgres" {
		return query + " FOR UPDATE"
	}
	return query
}

// SaveProfile inserts or replaces a user's behavior profile.
func (r *SQLRepository) SaveProfile(ctx context.Context, tenantID string, p *domain.BehaviorProfile) error {
	return r.saveProfile(ctx, r.db, tenantID, p)
}

// UpdateProfile runs fn on the stored profile and saves its result in the
// same transaction, so concurrent updates from any number of instances
// apply one after another. A nil result from fn saves nothing and returns
// the stored profile. Returns ErrNotFound if the user has no profile.
func (r *SQLRepository) UpdateProfile(ctx context.Context, tenantID string, userID string, fn func(*domain.BehaviorProfile) (*domain.BehaviorProfile, error)) (*domain.BehaviorProfile, error) {
	if tenantID == "" || userID == "" {
		return nil, fmt.Errorf("%w: tenantID and userID are required", ErrInvalidInput)
	}

	var result *domain.BehaviorProfile
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		p, err := r.getProfile(ctx, tx, r.forUpdate(profileSelect), tenantID, userID)
		if err != nil {
			return err
		}
		next, err := fn(p)
		if err != nil {
			return err
		}
		if next == nil {
			result = p
			return nil
		}
		if err := r.saveProfile(ctx, tx, tenantID, next); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLRepository) saveProfile(ctx context.Context, q querier, tenantID string, p *domain.BehaviorProfile) error {
	if tenantID == "" || p == nil || p.UserID == "" {
		return fmt.Errorf("%w: tenantID and userID are required", ErrInvalidInput)
	}

	baselines, err := json.Marshal(p.Baselines)
	if err != nil {
		return fmt.Errorf("failed to encode baselines: %w", err)
	}
	hours, _ := json.Marshal(p.TypicalHours)

	now := time.Now().UTC()
	created := p.CreatedAt
	if created.IsZero() {
		created = now
	}

	query := `
		INSERT INTO behavior_profiles (
			tenant_id, user_id, baselines, identity_confidence, dynamic_threshold,
			login_count, trusted_login_count, consecutive_trusted, consecutive_deviations,
			typical_hours, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, user_id) DO UPDATE SET
			baselines = excluded.baselines,
			identity_confidence = excluded.identity_confidence,
			dynamic_threshold = excluded.dynamic_threshold,
			login_count = excluded.login_count,
			trusted_login_count = excluded.trusted_login_count,
			consecutive_trusted = excluded.consecutive_trusted,
			consecutive_deviations = excluded.consecutive_deviations,
			typical_hours = excluded.typical_hours,
			updated_at = excluded.updated_at
	`

	_, err = q.ExecContext(ctx, r.rebind(query),
		tenantID, p.UserID, string(baselines),
		p.IdentityConfidence, p.DynamicThreshold,
		p.LoginCount, p.TrustedLoginCount,
		p.ConsecutiveTrusted, p.ConsecutiveDeviations,
		string(hours), created, now,
	)
	return err
}

const profileSelect = `
		SELECT tenant_id, user_id, baselines, identity_confidence, dynamic_threshold,
			   login_count, trusted_login_count, consecutive_trusted, consecutive_deviations,
			   typical_hours, created_at, updated_at
		FROM behavior_profiles
		WHERE tenant_id = ? AND user_id = ?`

// GetProfile retrieves a user's behavior profile with tenant isolation.
func (r *SQLRepository) GetProfile(ctx context.Context, tenantID string, userID string) (*domain.BehaviorProfile, error) {
	if tenantID == "" || userID == "" {
		return nil, fmt.Errorf("%w: tenantID and userID are required", ErrInvalidInput)
	}
	return r.getProfile(ctx, r.db, profileSelect, tenantID, userID)
}

func (r *SQLRepository) getProfile(ctx context.Context, q querier, query, tenantID, userID string) (*domain.BehaviorProfile, error) {
	var p domain.BehaviorProfile
	var baselines, hours string

	err := q.QueryRowContext(ctx, r.rebind(query), tenantID, userID).Scan(
		&p.TenantID, &p.UserID, &baselines,
		&p.IdentityConfidence, &p.DynamicThreshold,
		&p.LoginCount, &p.TrustedLoginCount,
		&p.ConsecutiveTrusted, &p.ConsecutiveDeviations,
		&hours, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(baselines), &p.Baselines); err != nil {
		return nil, fmt.Errorf("failed to decode baselines: %w", err)
	}
	if err := json.Unmarshal([]byte(hours), &p.TypicalHours); err != nil {
		return nil, fmt.Errorf("failed to decode typical hours: %w", err)
	}
	if p.TypicalHours == nil {
		p.TypicalHours = []int{}
	}

	return &p, nil
}

// SaveBehaviorLog stores one scored login attempt.
func (r *SQLRepository) SaveBehaviorLog(ctx context.Context, tenantID string, log *domain.BehaviorLog) error {
	if tenantID == "" || log == nil || log.UserID == "" {
		return fmt.Errorf("%w: tenantID and userID are required", ErrInvalidInput)
	}

	features, _ := json.Marshal(log.Features)

	query := `
		INSERT INTO behavior_logs (id, tenant_id, user_id, features, trust_score, was_trusted, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		log.ID, tenantID, log.UserID, string(features),
		log.TrustScore, boolToInt(log.WasTrusted), log.Timestamp,
	)
	return err
}

// RecentTrustedScores returns up to limit trust scores of trusted logins,
// most recent first.
func (r *SQLRepository) RecentTrustedScores(ctx context.Context, tenantID string, userID string, limit int) ([]int, error) {
	if tenantID == "" || userID == "" {
		return nil, fmt.Errorf("%w: tenantID and userID are required", ErrInvalidInput)
	}
	if limit <= 0 {
		return nil, nil
	}

	query := `
		SELECT trust_score FROM behavior_logs
		WHERE tenant_id = ? AND user_id = ? AND was_trusted = 1
		ORDER BY timestamp DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scores := make([]int, 0, limit)
	for rows.Next() {
		var s int
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		scores = append(scores, s)
	}
	return scores, rows.Err()
}

// SaveDecision appends an audit record. Records are never updated.
func (r *SQLRepository) SaveDecision(ctx context.Context, tenantID string, rec *domain.DecisionRecord) error {
	if tenantID == "" || rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: tenantID and record ID are required", ErrInvalidInput)
	}

	breakdown, _ := json.Marshal(rec.Breakdown)
	reasons, _ := json.Marshal(rec.Reasons)

	query := `
		INSERT INTO decision_records (
			id, tenant_id, user_id, trust_score, risk_level, action, threshold, confidence,
			breakdown, reasons, device_matched, location_matched, time_anomaly, challenge,
			trace_id, model_version, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rec.ID, tenantID, rec.UserID, rec.TrustScore,
		string(rec.RiskLevel), string(rec.Action),
		rec.Threshold, rec.Confidence,
		string(breakdown), string(reasons),
		boolToInt(rec.DeviceMatched), boolToInt(rec.LocationMatched),
		boolToInt(rec.TimeAnomaly), boolToInt(rec.Challenge),
		rec.TraceID, rec.ModelVersion, rec.Timestamp,
	)
	return err
}

const decisionColumns = `
	id, tenant_id, user_id, trust_score, risk_level, action, threshold, confidence,
	breakdown, reasons, device_matched, location_matched, time_anomaly, challenge,
	trace_id, model_version, timestamp
`

// GetDecision retrieves an audit record by ID with tenant isolation.
func (r *SQLRepository) GetDecision(ctx context.Context, tenantID string, decisionID string) (*domain.DecisionRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + decisionColumns + ` FROM decision_records WHERE tenant_id = ? AND id = ?`

	rec, err := scanDecision(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, decisionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// ListDecisions returns a user's most recent audit records, newest first.
func (r *SQLRepository) ListDecisions(ctx context.Context, tenantID string, userID string, limit int) ([]*domain.DecisionRecord, error) {
	if tenantID == "" || userID == "" {
		return nil, fmt.Errorf("%w: tenantID and userID are required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 10
	}

	query := `SELECT ` + decisionColumns + ` FROM decision_records
		WHERE tenant_id = ? AND user_id = ?
		ORDER BY timestamp DESC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.DecisionRecord
	for rows.Next() {
		rec, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDecision(s scanner) (*domain.DecisionRecord, error) {
	var rec domain.DecisionRecord
	var risk, action, breakdown string
	var reasons, traceID, modelVersion sql.NullString
	var device, location, anomaly, challenge int

	err := s.Scan(
		&rec.ID, &rec.TenantID, &rec.UserID, &rec.TrustScore,
		&risk, &action, &rec.Threshold, &rec.Confidence,
		&breakdown, &reasons, &device, &location, &anomaly, &challenge,
		&traceID, &modelVersion, &rec.Timestamp,
	)
	if err != nil {
		return nil, err
	}

	rec.RiskLevel = domain.RiskLevel(risk)
	rec.Action = domain.Action(action)
	rec.DeviceMatched = device == 1
	rec.LocationMatched = location == 1
	rec.TimeAnomaly = anomaly == 1
	rec.Challenge = challenge == 1
	rec.TraceID = traceID.String
	rec.ModelVersion = modelVersion.String

	if err := json.Unmarshal([]byte(breakdown), &rec.Breakdown); err != nil {
		return nil, fmt.Errorf("failed to decode breakdown: %w", err)
	}
	if reasons.Valid && reasons.String != "" && reasons.String != "null" {
		json.Unmarshal([]byte(reasons.String), &rec.Reasons)
	}
	return &rec, nil
}

const federatedSelect = `SELECT registry, pending FROM federated_state WHERE id = ?`

// LoadFederatedState returns the shared registry and pending pool, or nil
// when nothing has been stored yet.
func (r *SQLRepository) LoadFederatedState(ctx context.Context) (*domain.FederatedState, error) {
	return r.loadFederatedState(ctx, r.db, federatedSelect)
}

// UpdateFederatedState runs fn on the shared state and stores its result in
// one transaction that holds the registry row lock throughout. A nil result
// from fn leaves the row unchanged.
func (r *SQLRepository) UpdateFederatedState(ctx context.Context, fn func(*domain.FederatedState) (*domain.FederatedState, error)) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if r.driver == "postgres" {
			// FOR UPDATE needs a row to lock on first use.
			seed := `
				INSERT INTO federated_state (id, registry, pending, updated_at)
				VALUES (?, 'null', '[]', ?)
				ON CONFLICT(id) DO NOTHING
			`
			if _, err := tx.ExecContext(ctx, r.rebind(seed), federatedStateID, time.Now().UTC()); err != nil {
				return err
			}
		}

		state, err := r.loadFederatedState(ctx, tx, r.forUpdate(federatedSelect))
		if err != nil {
			return err
		}
		next, err := fn(state)
		if err != nil || next == nil {
			return err
		}
		return r.saveFederatedState(ctx, tx, next)
	})
}

func (r *SQLRepository) loadFederatedState(ctx context.Context, q querier, query string) (*domain.FederatedState, error) {
	var registry, pending string
	err := q.QueryRowContext(ctx, r.rebind(query), federatedStateID).Scan(&registry, &pending)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if registry == "null" {
		return nil, nil
	}

	var state domain.FederatedState
	if err := json.Unmarshal([]byte(registry), &state.Registry); err != nil {
		return nil, fmt.Errorf("failed to decode registry: %w", err)
	}
	if err := json.Unmarshal([]byte(pending), &state.Pending); err != nil {
		return nil, fmt.Errorf("failed to decode pending updates: %w", err)
	}
	return &state, nil
}

func (r *SQLRepository) saveFederatedState(ctx context.Context, q querier, state *domain.FederatedState) error {
	registry, err := json.Marshal(state.Registry)
	if err != nil {
		return fmt.Errorf("failed to encode registry: %w", err)
	}
	pending := state.Pending
	if pending == nil {
		pending = []domain.WeightUpdate{}
	}
	pendingJSON, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("failed to encode pending updates: %w", err)
	}

	query := `
		INSERT INTO federated_state (id, registry, pending, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			registry = excluded.registry,
			pending = excluded.pending,
			updated_at = excluded.updated_at
	`

	_, err = q.ExecContext(ctx, r.rebind(query),
		federatedStateID, string(registry), string(pendingJSON), time.Now().UTC(),
	)
	return err
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

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

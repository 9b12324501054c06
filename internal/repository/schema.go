package repository

// Schema definitions for Heron database.
// Compatible with both SQLite and PostgreSQL.

const schemaBehaviorProfiles = `
CREATE TABLE IF NOT EXISTS behavior_profiles (
    tenant_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    baselines TEXT NOT NULL,
    identity_confidence REAL NOT NULL,
    dynamic_threshold REAL NOT NULL,
    login_count INTEGER NOT NULL DEFAULT 0,
    trusted_login_count INTEGER NOT NULL DEFAULT 0,
    consecutive_trusted INTEGER NOT NULL DEFAULT 0,
    consecutive_deviations INTEGER NOT NULL DEFAULT 0,
    typical_hours TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, user_id)
);
`

const schemaBehaviorLogs = `
CREATE TABLE IF NOT EXISTS behavior_logs (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    features TEXT NOT NULL,
    trust_score INTEGER NOT NULL,
    was_trusted INTEGER NOT NULL DEFAULT 0,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_behavior_logs_user ON behavior_logs(tenant_id, user_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_behavior_logs_trusted ON behavior_logs(tenant_id, user_id, was_trusted);
`

// schemaDecisionRecords defines the append-only decision audit table.
const schemaDecisionRecords = `
CREATE TABLE IF NOT EXISTS decision_records (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    trust_score INTEGER NOT NULL,
    risk_level TEXT NOT NULL,
    action TEXT NOT NULL,
    threshold REAL NOT NULL,
    confidence REAL NOT NULL,
    breakdown TEXT NOT NULL,
    reasons TEXT,
    device_matched INTEGER NOT NULL DEFAULT 0,
    location_matched INTEGER NOT NULL DEFAULT 0,
    time_anomaly INTEGER NOT NULL DEFAULT 0,
    challenge INTEGER NOT NULL DEFAULT 0,
    trace_id TEXT,
    model_version TEXT,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decision_records_user ON decision_records(tenant_id, user_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_decision_records_action ON decision_records(tenant_id, action);
`

// schemaFederatedState holds the single shared registry row.
const schemaFederatedState = `
CREATE TABLE IF NOT EXISTS federated_state (
    id TEXT PRIMARY KEY,
    registry TEXT NOT NULL,
    pending TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaBehaviorProfiles,
		schemaBehaviorLogs,
		schemaDecisionRecords,
		schemaFederatedState,
	}
}

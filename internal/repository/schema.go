package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    actor_id TEXT NOT NULL,
    amount REAL NOT NULL,
    frequency REAL NOT NULL DEFAULT 0,
    location_variance REAL NOT NULL DEFAULT 0,
    timestamp TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_tenant ON transactions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_transactions_actor ON transactions(tenant_id, actor_id);
CREATE INDEX IF NOT EXISTS idx_transactions_timestamp ON transactions(tenant_id, timestamp);
`

const schemaRiskResults = `
CREATE TABLE IF NOT EXISTS risk_results (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    channel TEXT NOT NULL,
    actor_id TEXT,
    risk_score REAL NOT NULL,
    is_flagged INTEGER NOT NULL DEFAULT 0,
    threat_level TEXT NOT NULL,
    attributions TEXT NOT NULL,
    reasons TEXT,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_risk_results_tenant ON risk_results(tenant_id);
CREATE INDEX IF NOT EXISTS idx_risk_results_actor ON risk_results(tenant_id, actor_id);
CREATE INDEX IF NOT EXISTS idx_risk_results_flagged ON risk_results(tenant_id, is_flagged);
CREATE INDEX IF NOT EXISTS idx_risk_results_timestamp ON risk_results(tenant_id, timestamp);
`

const schemaModelParams = `
CREATE TABLE IF NOT EXISTS model_params (
    tenant_id TEXT NOT NULL,
    channel TEXT NOT NULL,
    version TEXT NOT NULL,
    params TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, channel)
);
`

const schemaPolicyRules = `
CREATE TABLE IF NOT EXISTS policy_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    reason TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_policy_rules_tenant ON policy_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_policy_rules_enabled ON policy_rules(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaRiskResults,
		schemaModelParams,
		schemaPolicyRules,
	}
}

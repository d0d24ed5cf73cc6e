package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaUsers = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    verified INTEGER NOT NULL DEFAULT 0,
    trust_score REAL NOT NULL DEFAULT 100,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
`

const schemaSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    token TEXT NOT NULL,
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    last_activity TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_sessions_token ON sessions(token);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status, last_activity);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    reason TEXT NOT NULL,
    location TEXT,
    behavior TEXT,
    trust_score REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_user ON alerts(user_id, timestamp);
`

const schemaBehaviorLogs = `
CREATE TABLE IF NOT EXISTS behavior_logs (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    trust_score REAL NOT NULL,
    raw_score REAL NOT NULL,
    is_anomalous INTEGER NOT NULL DEFAULT 0,
    payload TEXT
);

CREATE INDEX IF NOT EXISTS idx_behavior_logs_user ON behavior_logs(user_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_behavior_logs_session ON behavior_logs(session_id);
`

// schemaModelSnapshots persists trained baselines so the in-memory
// registry can be rehydrated at startup.
const schemaModelSnapshots = `
CREATE TABLE IF NOT EXISTS model_snapshots (
    user_id TEXT PRIMARY KEY,
    params TEXT NOT NULL,
    trained_at TIMESTAMP NOT NULL,
    sample_count INTEGER NOT NULL
);
`

const schemaPolicyRules = `
CREATE TABLE IF NOT EXISTS policy_rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_policy_rules_enabled ON policy_rules(enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaUsers,
		schemaSessions,
		schemaAlerts,
		schemaBehaviorLogs,
		schemaModelSnapshots,
		schemaPolicyRules,
	}
}

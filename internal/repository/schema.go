package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaUsers = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT,
    created_at TIMESTAMP NOT NULL
);
`

const schemaCards = `
CREATE TABLE IF NOT EXISTS cards (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    issuer TEXT,
    card_type TEXT NOT NULL,
    annual_fee REAL NOT NULL DEFAULT 0,
    base_rate_pct REAL NOT NULL DEFAULT 0,
    bonus_categories TEXT,
    reward_type TEXT,
    point_value_cent REAL NOT NULL DEFAULT 1,
    signup_bonus_value REAL NOT NULL DEFAULT 0,
    min_credit_score INTEGER NOT NULL DEFAULT 0,
    active INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_cards_active ON cards(active);
CREATE INDEX IF NOT EXISTS idx_cards_type ON cards(card_type);
`

const schemaUserCards = `
CREATE TABLE IF NOT EXISTS user_cards (
    user_id TEXT NOT NULL,
    card_id TEXT NOT NULL,
    added_at TIMESTAMP NOT NULL,
    PRIMARY KEY (user_id, card_id)
);

CREATE INDEX IF NOT EXISTS idx_user_cards_user ON user_cards(user_id);
`

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    card_id TEXT,
    amount REAL NOT NULL,
    category TEXT NOT NULL,
    merchant TEXT,
    posted_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id);
CREATE INDEX IF NOT EXISTS idx_transactions_posted ON transactions(user_id, posted_at);
`

const schemaPreferenceProfiles = `
CREATE TABLE IF NOT EXISTS preference_profiles (
    user_id TEXT PRIMARY KEY,
    profile TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaRecommendationResults = `
CREATE TABLE IF NOT EXISTS recommendation_results (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    rec_type TEXT NOT NULL,
    recommendations TEXT NOT NULL,
    metadata TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    expires_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_user ON recommendation_results(user_id);
CREATE INDEX IF NOT EXISTS idx_results_created ON recommendation_results(user_id, created_at);
`

const schemaFeedback = `
CREATE TABLE IF NOT EXISTS feedback (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    recommendation_id TEXT NOT NULL,
    action TEXT NOT NULL,
    card_id TEXT,
    comment TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_feedback_user ON feedback(user_id);
CREATE INDEX IF NOT EXISTS idx_feedback_recommendation ON feedback(recommendation_id);
`

const schemaEligibilityRules = `
CREATE TABLE IF NOT EXISTS eligibility_rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1
);
`

const schemaAuditLog = `
CREATE TABLE IF NOT EXISTS audit_log (
    id TEXT PRIMARY KEY,
    user_id TEXT,
    event TEXT NOT NULL,
    detail TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_user ON audit_log(user_id);
CREATE INDEX IF NOT EXISTS idx_audit_event ON audit_log(event);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaUsers,
		schemaCards,
		schemaUserCards,
		schemaTransactions,
		schemaPreferenceProfiles,
		schemaRecommendationResults,
		schemaFeedback,
		schemaEligibilityRules,
		schemaAuditLog,
	}
}

package db

// Schema is the full schema for the application database. Timestamps are Unix seconds.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    expires_at INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);

-- One row per user; term is a terms.Term tag (TERM_MONTHLY, ...).
CREATE TABLE IF NOT EXISTS subscriptions (
    user_id TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
    term TEXT NOT NULL,
    status TEXT NOT NULL,
    stripe_customer_id TEXT,
    stripe_subscription_id TEXT,
    period_start INTEGER NOT NULL,
    period_end INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_subscriptions_stripe_sub ON subscriptions(stripe_subscription_id);

CREATE TABLE IF NOT EXISTS stripe_customer_map (
    stripe_customer_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL
);

-- Purchases completed before the buyer had an account; claimed on registration.
CREATE TABLE IF NOT EXISTS pending_subscriptions (
    email TEXT PRIMARY KEY,
    term TEXT NOT NULL,
    stripe_customer_id TEXT NOT NULL,
    subscription_id TEXT,
    subscription_status TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS processed_webhook_events (
    event_id TEXT PRIMARY KEY,
    processed_at INTEGER NOT NULL
);
`

// ResetTables lists the tables cleared between shared-fixture tests, children first.
var ResetTables = []string{
	"sessions",
	"subscriptions",
	"stripe_customer_map",
	"pending_subscriptions",
	"processed_webhook_events",
	"users",
}

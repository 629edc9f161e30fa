package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Timestamps are stored as UTC unix milliseconds so ordering and
// comparisons behave the same on Postgres and SQLite. JSON documents are
// stored as text.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS actions (
		id TEXT PRIMARY KEY,
		service TEXT NOT NULL,
		action_type TEXT NOT NULL,
		venue_id TEXT NOT NULL,
		parameters TEXT NOT NULL,
		priority TEXT NOT NULL,
		status TEXT NOT NULL,
		created_by TEXT NOT NULL,
		reason TEXT,
		confidence DOUBLE PRECISION,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_actions_venue_status ON actions (venue_id, status)`,

	`CREATE TABLE IF NOT EXISTS action_confirmations (
		id TEXT PRIMARY KEY,
		action_id TEXT NOT NULL,
		venue_id TEXT NOT NULL,
		action_snapshot TEXT NOT NULL,
		requires_approval BOOLEAN NOT NULL,
		approval_reasons TEXT,
		status TEXT NOT NULL,
		expires_at BIGINT,
		estimated_impact TEXT NOT NULL,
		alternatives TEXT,
		confirmed_by TEXT,
		confirmed_at BIGINT,
		notes TEXT,
		rejected_by TEXT,
		rejected_at BIGINT,
		rejection_reason TEXT,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_confirmations_venue_status ON action_confirmations (venue_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_confirmations_action ON action_confirmations (action_id)`,

	`CREATE TABLE IF NOT EXISTS action_executions (
		action_id TEXT PRIMARY KEY,
		confirmation_id TEXT,
		state TEXT NOT NULL,
		success BOOLEAN NOT NULL,
		result TEXT,
		error_code TEXT,
		error_message TEXT,
		executed_at BIGINT NOT NULL,
		duration_ms BIGINT NOT NULL,
		completed_at BIGINT
	)`,

	`CREATE TABLE IF NOT EXISTS action_history (
		action_id TEXT PRIMARY KEY,
		venue_id TEXT NOT NULL,
		action_snapshot TEXT NOT NULL,
		execution_result TEXT NOT NULL,
		rollback_data TEXT,
		executed_at BIGINT NOT NULL,
		confirmed_by TEXT,
		rolled_back_at BIGINT,
		rollback_reason TEXT,
		rolled_back_by TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_history_venue ON action_history (venue_id, executed_at)`,

	`CREATE TABLE IF NOT EXISTS action_rollbacks (
		id TEXT PRIMARY KEY,
		action_id TEXT NOT NULL,
		reason TEXT NOT NULL,
		rolled_back_by TEXT NOT NULL,
		rollback_result TEXT,
		rolled_back_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rollbacks_action ON action_rollbacks (action_id)`,
}

// Tables lists the tables Migrate creates.
var Tables = []string{"actions", "action_confirmations", "action_executions", "action_history", "action_rollbacks"}

// Migrate creates the lifecycle tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

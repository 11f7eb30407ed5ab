package repository

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// InitDB opens (or creates) a SQLite database at the given path and ensures
// all required tables exist. Pass ":memory:" for an in-memory database.
func InitDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS boards (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			goal_cents INTEGER NOT NULL,
			funded INTEGER NOT NULL DEFAULT 0,
			funded_at DATETIME,
			created_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS contributions (
			id TEXT PRIMARY KEY,
			board_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			payment_reference TEXT NOT NULL,
			amount_cents INTEGER NOT NULL,
			fee_cents INTEGER NOT NULL,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			UNIQUE (provider, payment_reference),
			FOREIGN KEY (board_id) REFERENCES boards(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contributions_status ON contributions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_contributions_board ON contributions(board_id)`,
		`CREATE INDEX IF NOT EXISTS idx_contributions_created_at ON contributions(created_at)`,

		`CREATE TABLE IF NOT EXISTS payouts (
			id TEXT PRIMARY KEY,
			board_id TEXT NOT NULL,
			type TEXT NOT NULL,
			gross_cents INTEGER NOT NULL,
			fee_cents INTEGER NOT NULL,
			net_cents INTEGER NOT NULL,
			status TEXT NOT NULL,
			external_reference TEXT,
			error_message TEXT,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (board_id) REFERENCES boards(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payouts_status ON payouts(status)`,

		`CREATE TABLE IF NOT EXISTS credit_queue (
			id TEXT PRIMARY KEY,
			board_id TEXT NOT NULL,
			encrypted_card_number TEXT NOT NULL,
			amount_cents INTEGER NOT NULL,
			reference TEXT UNIQUE NOT NULL,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_attempt_at DATETIME,
			error_message TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_credit_queue_status ON credit_queue(status)`,

		`CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			detail TEXT NOT NULL,
			recorded_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_kind ON audit_events(kind)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:60], err)
		}
	}

	return nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS alert_states (
		api_key TEXT PRIMARY KEY,
		api_name TEXT NOT NULL,
		is_alerting INTEGER NOT NULL DEFAULT 0,
		last_alert_at INTEGER,
		last_usage_percent REAL NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS usage_samples (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		api_key TEXT NOT NULL,
		api_name TEXT NOT NULL,
		remaining INTEGER NOT NULL,
		rate_limit INTEGER NOT NULL,
		sampled_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_usage_samples_api ON usage_samples(api_key, seq);`,
	`DROP TABLE IF EXISTS poll_backoff;`,
	`CREATE TABLE IF NOT EXISTS api_backoff (
		api_key TEXT PRIMARY KEY,
		consecutive INTEGER NOT NULL DEFAULT 0,
		backoff_until INTEGER,
		last_429_at INTEGER
	);`,
}

// Migrate ensures the required database tables exist.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}

	if err := s.ensureColumn(ctx, "usage_samples", "source", "TEXT NOT NULL DEFAULT 'header'"); err != nil {
		return err
	}

	return nil
}

func (s *Store) ensureColumn(ctx context.Context, table, column, columnDef string) error {
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("inspect %s schema: %w", table, err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	for rows.Next() {
		var (
			cid     int
			name    string
			colType string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return fmt.Errorf("inspect %s columns: %w", table, err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("inspect %s columns: %w", table, err)
	}

	if _, err := s.DB.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, columnDef)); err != nil {
		return fmt.Errorf("add %s.%s column: %w", table, column, err)
	}

	return nil
}

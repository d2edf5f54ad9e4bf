// Package store persists calendar accounts and the internal CRM calendar.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrInvalidAccount = errors.New("invalid account")
	ErrDatabaseInit   = errors.New("database initialization failed")
)

// Store wraps the database connection.
type Store struct {
	conn *sql.DB
}

// New opens the database at dbPath and initializes the schema.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("%w: failed to create directory: %w", ErrDatabaseInit, err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", ErrDatabaseInit, err)
	}

	// Keep the pool bounded; SQLite serializes writes anyway.
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(0)
	conn.SetConnMaxIdleTime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: failed to set pragma: %w", ErrDatabaseInit, err)
		}
	}

	s := &Store{conn: conn}

	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping() error {
	return s.conn.Ping()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	migrations := []string{
		// Calendar accounts: one CRM user paired with one external calendar.
		`CREATE TABLE IF NOT EXISTS calendar_accounts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			provider_kind TEXT NOT NULL DEFAULT 'caldav',
			external_url TEXT NOT NULL DEFAULT '',
			external_username TEXT NOT NULL DEFAULT '',
			external_password TEXT NOT NULL DEFAULT '',
			external_calendar_id TEXT NOT NULL DEFAULT '',
			file_path TEXT NOT NULL DEFAULT '',
			sync_removal INTEGER NOT NULL DEFAULT 0,
			enabled INTEGER NOT NULL DEFAULT 1,
			last_sync_date DATETIME,
			last_sync_attempt_date DATETIME,
			last_sync_attempt_status TEXT NOT NULL DEFAULT '',
			last_sync_attempt_message TEXT NOT NULL DEFAULT '',
			last_connection_status TEXT NOT NULL DEFAULT '',
			last_connection_test DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_calendar_accounts_user_id ON calendar_accounts(user_id)`,

		// Internal CRM calendar items (meetings, calls, tasks).
		`CREATE TABLE IF NOT EXISTS calendar_events (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT '',
			date_start DATETIME NOT NULL,
			date_end DATETIME,
			type TEXT NOT NULL DEFAULT 'meeting',
			linked_event_id TEXT NOT NULL DEFAULT '',
			last_sync DATETIME,
			date_modified DATETIME NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_calendar_events_user_start ON calendar_events(user_id, date_start)`,
		`CREATE INDEX IF NOT EXISTS idx_calendar_events_linked ON calendar_events(linked_event_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.conn.Exec(migration); err != nil {
			if !isDuplicateColumnError(err) {
				return fmt.Errorf("%w: migration failed: %w", ErrDatabaseInit, err)
			}
		}
	}

	return nil
}

// isDuplicateColumnError checks if the error is due to a duplicate column in ALTER TABLE.
func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "duplicate column") || strings.Contains(errStr, "already exists")
}

package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProviderKind identifies the external calendar backend of an account.
type ProviderKind string

const (
	ProviderCalDAV   ProviderKind = "caldav"
	ProviderJSONFile ProviderKind = "jsonfile"
)

// ValidProviderKinds contains all valid provider kind values.
var ValidProviderKinds = map[ProviderKind]bool{
	ProviderCalDAV:   true,
	ProviderJSONFile: true,
}

// IsValid returns true if the provider kind is a known valid value.
func (pk ProviderKind) IsValid() bool {
	return ValidProviderKinds[pk]
}

// Account pairs one CRM user with one external calendar connection, plus the
// sync-status metadata the orchestrator maintains.
type Account struct {
	ID                     string       `json:"id"`
	UserID                 string       `json:"user_id"`
	Name                   string       `json:"name"`
	ProviderKind           ProviderKind `json:"provider_kind"`
	ExternalURL            string       `json:"external_url"`
	ExternalUsername       string       `json:"external_username"`
	ExternalPassword       string       `json:"-"` // Never include in JSON
	ExternalCalendarID     string       `json:"external_calendar_id"`
	FilePath               string       `json:"file_path"`
	SyncRemoval            bool         `json:"sync_removal"`
	Enabled                bool         `json:"enabled"`
	LastSyncDate           *time.Time   `json:"last_sync_date"`
	LastSyncAttemptDate    *time.Time   `json:"last_sync_attempt_date"`
	LastSyncAttemptStatus  string       `json:"last_sync_attempt_status"`
	LastSyncAttemptMessage string       `json:"last_sync_attempt_message"`
	LastConnectionStatus   string       `json:"last_connection_status"`
	LastConnectionTest     *time.Time   `json:"last_connection_test"`
	CreatedAt              time.Time    `json:"created_at"`
	UpdatedAt              time.Time    `json:"updated_at"`
}

// SyncMetadata holds a partial update of an account's sync-status fields.
// Nil fields are left untouched.
type SyncMetadata struct {
	LastSyncDate           *time.Time
	LastSyncAttemptDate    *time.Time
	LastSyncAttemptStatus  *string
	LastSyncAttemptMessage *string
	LastConnectionStatus   *string
	LastConnectionTest     *time.Time
	ExternalCalendarID     *string
}

// CreateAccount inserts a new calendar account.
func (s *Store) CreateAccount(account *Account) error {
	if account.UserID == "" {
		return fmt.Errorf("%w: user ID is required", ErrInvalidAccount)
	}
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	if account.ProviderKind == "" {
		account.ProviderKind = ProviderCalDAV
	}
	account.CreatedAt = time.Now().UTC()
	account.UpdatedAt = account.CreatedAt

	query := `INSERT INTO calendar_accounts (
		id, user_id, name, provider_kind, external_url, external_username,
		external_password, external_calendar_id, file_path, sync_removal,
		enabled, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.conn.Exec(query,
		account.ID, account.UserID, account.Name, account.ProviderKind,
		account.ExternalURL, account.ExternalUsername, account.ExternalPassword,
		account.ExternalCalendarID, account.FilePath, account.SyncRemoval,
		account.Enabled, account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	return nil
}

const accountColumns = `id, user_id, name, provider_kind, external_url, external_username,
	external_password, external_calendar_id, file_path, sync_removal, enabled,
	last_sync_date, last_sync_attempt_date, last_sync_attempt_status,
	last_sync_attempt_message, last_connection_status, last_connection_test,
	created_at, updated_at`

// GetAccount returns an account by its ID.
func (s *Store) GetAccount(id string) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM calendar_accounts WHERE id = ?`
	return scanAccount(s.conn.QueryRow(query, id))
}

// GetValidatedAccountsBatch returns enabled accounts whose configuration is
// complete enough to sync, up to limit. A limit of zero means no cap.
func (s *Store) GetValidatedAccountsBatch(limit int) ([]*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM calendar_accounts
		WHERE enabled = 1 AND user_id != '' AND provider_kind != ''
		ORDER BY created_at`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return accounts, nil
}

// UpdateSyncMetadata applies a partial update of the account's sync-status
// fields. Nil fields in meta are not written.
func (s *Store) UpdateSyncMetadata(accountID string, meta SyncMetadata) error {
	var sets []string
	var args []any

	if meta.LastSyncDate != nil {
		sets = append(sets, "last_sync_date = ?")
		args = append(args, *meta.LastSyncDate)
	}
	if meta.LastSyncAttemptDate != nil {
		sets = append(sets, "last_sync_attempt_date = ?")
		args = append(args, *meta.LastSyncAttemptDate)
	}
	if meta.LastSyncAttemptStatus != nil {
		sets = append(sets, "last_sync_attempt_status = ?")
		args = append(args, *meta.LastSyncAttemptStatus)
	}
	if meta.LastSyncAttemptMessage != nil {
		sets = append(sets, "last_sync_attempt_message = ?")
		args = append(args, *meta.LastSyncAttemptMessage)
	}
	if meta.LastConnectionStatus != nil {
		sets = append(sets, "last_connection_status = ?")
		args = append(args, *meta.LastConnectionStatus)
	}
	if meta.LastConnectionTest != nil {
		sets = append(sets, "last_connection_test = ?")
		args = append(args, *meta.LastConnectionTest)
	}
	if meta.ExternalCalendarID != nil {
		sets = append(sets, "external_calendar_id = ?")
		args = append(args, *meta.ExternalCalendarID)
	}

	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), accountID)

	query := `UPDATE calendar_accounts SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	result, err := s.conn.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update sync metadata: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*Account, error) {
	account := &Account{}
	var lastSyncDate, lastAttemptDate, lastConnTest sql.NullTime

	err := row.Scan(
		&account.ID, &account.UserID, &account.Name, &account.ProviderKind,
		&account.ExternalURL, &account.ExternalUsername, &account.ExternalPassword,
		&account.ExternalCalendarID, &account.FilePath, &account.SyncRemoval,
		&account.Enabled, &lastSyncDate, &lastAttemptDate,
		&account.LastSyncAttemptStatus, &account.LastSyncAttemptMessage,
		&account.LastConnectionStatus, &lastConnTest,
		&account.CreatedAt, &account.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	if lastSyncDate.Valid {
		account.LastSyncDate = &lastSyncDate.Time
	}
	if lastAttemptDate.Valid {
		account.LastSyncAttemptDate = &lastAttemptDate.Time
	}
	if lastConnTest.Valid {
		account.LastConnectionTest = &lastConnTest.Time
	}

	return account, nil
}

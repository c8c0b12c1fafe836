package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ledgerback/internal/engine"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Settings keys. The gdrive_* pair is the pre-1.0 credential format, kept
// readable so previously-issued tokens keep working after upgrade.
const (
	credentialKey        = "credential"
	legacyTokenKey       = "gdrive_access_token"
	legacyExpiryKey      = "gdrive_token_expiry"
	autoBackupEnabledKey = "auto_backup_enabled"
	lastBackupDayKey     = "last_auto_backup_day"
)

// childRef describes the foreign-key column of a child collection. The value
// is lifted out of the record document into a real column so SQLite enforces
// referential integrity during restore.
type childRef struct {
	column string
	field  string
}

var childRefs = map[engine.Collection]childRef{
	engine.Transactions:     {column: "customer_id", field: "customer_id"},
	engine.Expenses:         {column: "preset_id", field: "preset_id"},
	engine.PaymentReminders: {column: "customer_id", field: "customer_id"},
	engine.AccountsPayable:  {column: "supplier_id", field: "supplier_id"},
}

// SQLiteDatabase backs the ledger dataset, the credential store, the
// scheduler settings and the operation log with a single SQLite file.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

var (
	_ engine.Dataset         = (*SQLiteDatabase)(nil)
	_ engine.CredentialStore = (*SQLiteDatabase)(nil)
	_ engine.SettingsStore   = (*SQLiteDatabase)(nil)
	_ engine.OperationLog    = (*SQLiteDatabase)(nil)
)

// NewSQLiteDatabase creates a new SQLite database connection.
// path can be a file path or ":memory:" for an in-memory database.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteDatabase{db: db, path: path}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLiteDatabase {
	return &SQLiteDatabase{db: db}
}

// OpenConnection opens and configures a SQLite connection with appropriate
// PRAGMAs. Exported for tools and tests that need a properly configured
// connection.
func OpenConnection(path string) (*sql.DB, error) {
	// SQLite defaults foreign keys to OFF for backward compatibility; the
	// restore ordering guarantees are only checkable with them ON. The DSN
	// parameter applies to every pooled connection, unlike a one-off PRAGMA.
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// An in-memory database exists per connection; cap the pool so every
	// caller sees the same one. SQLite is single-writer anyway.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	return db, nil
}

// DB exposes the underlying connection for migrations.
func (s *SQLiteDatabase) DB() *sql.DB { return s.db }

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error { return s.db.Close() }

// tableFor validates the collection and returns its table name. Collection
// values double as table names, but only after membership in the known set.
func tableFor(c engine.Collection) (string, error) {
	if !engine.ValidCollection(c) {
		return "", fmt.Errorf("unknown collection: %s", c)
	}
	return string(c), nil
}

// Dataset

func (s *SQLiteDatabase) SelectAll(ctx context.Context, c engine.Collection) ([]engine.Record, error) {
	table, err := tableFor(c)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT data FROM %s WHERE deleted = 0 ORDER BY id", table))
	if err != nil {
		return nil, fmt.Errorf("selecting %s: %w", c, err)
	}
	defer rows.Close()

	var records []engine.Record
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", c, err)
		}
		var rec engine.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decoding %s record: %w", c, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading %s rows: %w", c, err)
	}
	return records, nil
}

func (s *SQLiteDatabase) Upsert(ctx context.Context, c engine.Collection, records []engine.Record) error {
	table, err := tableFor(c)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	ref, hasRef := childRefs[c]
	var stmt *sql.Stmt
	if hasRef {
		stmt, err = tx.PrepareContext(ctx, fmt.Sprintf(
			`INSERT INTO %s (id, %s, data, deleted) VALUES (?, ?, ?, 0)
			 ON CONFLICT(id) DO UPDATE SET %s = excluded.%s, data = excluded.data, deleted = 0`,
			table, ref.column, ref.column, ref.column))
	} else {
		stmt, err = tx.PrepareContext(ctx, fmt.Sprintf(
			`INSERT INTO %s (id, data, deleted) VALUES (?, ?, 0)
			 ON CONFLICT(id) DO UPDATE SET data = excluded.data, deleted = 0`,
			table))
	}
	if err != nil {
		return fmt.Errorf("preparing upsert for %s: %w", c, err)
	}
	defer stmt.Close()

	for _, rec := range records {
		id := rec.ID()
		if id == "" {
			return fmt.Errorf("record in %s has no id", c)
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encoding %s record %s: %w", c, id, err)
		}

		if hasRef {
			parent := refValue(rec, ref.field)
			_, err = stmt.ExecContext(ctx, id, parent, string(raw))
		} else {
			_, err = stmt.ExecContext(ctx, id, string(raw))
		}
		if err != nil {
			return fmt.Errorf("upserting %s record %s: %w", c, id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing %s upsert: %w", c, err)
	}
	return nil
}

// refValue extracts a foreign-key value from a record document. An absent or
// empty value maps to NULL so parentless children remain representable.
func refValue(rec engine.Record, field string) any {
	v, _ := rec[field].(string)
	if v == "" {
		return nil
	}
	return v
}

func (s *SQLiteDatabase) SelectAllIDs(ctx context.Context, c engine.Collection) ([]string, error) {
	table, err := tableFor(c)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT id FROM %s WHERE deleted = 0 ORDER BY id", table))
	if err != nil {
		return nil, fmt.Errorf("selecting %s ids: %w", c, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning %s id: %w", c, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading %s ids: %w", c, err)
	}
	return ids, nil
}

func (s *SQLiteDatabase) DeleteByIDs(ctx context.Context, c engine.Collection, ids []string) error {
	table, err := tableFor(c)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	_, err = s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id IN (%s)", table, placeholders), args...)
	if err != nil {
		return fmt.Errorf("deleting from %s: %w", c, err)
	}
	return nil
}

// CredentialStore

func (s *SQLiteDatabase) Get() (*engine.Credential, error) {
	raw, err := s.getSetting(credentialKey)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}

	var cred engine.Credential
	if err := json.Unmarshal([]byte(raw), &cred); err != nil {
		return nil, fmt.Errorf("decoding stored credential: %w", err)
	}
	return &cred, nil
}

func (s *SQLiteDatabase) Put(cred *engine.Credential) error {
	raw, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encoding credential: %w", err)
	}
	return s.putSetting(credentialKey, string(raw))
}

func (s *SQLiteDatabase) Clear() error {
	return s.deleteSetting(credentialKey)
}

func (s *SQLiteDatabase) GetLegacy() (*engine.Credential, error) {
	token, err := s.getSetting(legacyTokenKey)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, nil
	}

	expiryRaw, err := s.getSetting(legacyExpiryKey)
	if err != nil {
		return nil, err
	}
	expiry, err := time.Parse(time.RFC3339, expiryRaw)
	if err != nil {
		// A legacy token with an unreadable expiry is unusable.
		return nil, nil
	}

	return &engine.Credential{
		AccessToken:  token,
		AccessExpiry: expiry,
		AcquiredVia:  engine.GrantLegacy,
	}, nil
}

func (s *SQLiteDatabase) ClearLegacy() error {
	if err := s.deleteSetting(legacyTokenKey); err != nil {
		return err
	}
	return s.deleteSetting(legacyExpiryKey)
}

// SettingsStore

func (s *SQLiteDatabase) AutoBackupEnabled() (bool, error) {
	v, err := s.getSetting(autoBackupEnabledKey)
	if err != nil {
		return false, err
	}
	return v == "true", nil
}

func (s *SQLiteDatabase) SetAutoBackupEnabled(enabled bool) error {
	v := "false"
	if enabled {
		v = "true"
	}
	return s.putSetting(autoBackupEnabledKey, v)
}

func (s *SQLiteDatabase) LastAutoBackupDay() (string, error) {
	return s.getSetting(lastBackupDayKey)
}

func (s *SQLiteDatabase) SetLastAutoBackupDay(day string) error {
	return s.putSetting(lastBackupDayKey, day)
}

// OperationLog

func (s *SQLiteDatabase) CreateOperation(operation string) (int64, error) {
	res, err := s.db.Exec(
		"INSERT INTO operations (operation, status, started_at) VALUES (?, 'running', ?)",
		operation, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("creating operation record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading operation id: %w", err)
	}
	return id, nil
}

func (s *SQLiteDatabase) FinishOperation(id int64, status string) error {
	_, err := s.db.Exec(
		"UPDATE operations SET status = ?, finished_at = ? WHERE id = ?",
		status, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("finishing operation record: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListOperations(limit int) ([]*engine.Operation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		"SELECT id, operation, status, started_at, finished_at FROM operations ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var ops []*engine.Operation
	for rows.Next() {
		var (
			op          engine.Operation
			startedRaw  string
			finishedRaw sql.NullString
		)
		if err := rows.Scan(&op.ID, &op.Operation, &op.Status, &startedRaw, &finishedRaw); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		op.StartedAt, err = time.Parse(time.RFC3339, startedRaw)
		if err != nil {
			return nil, fmt.Errorf("parsing started_at: %w", err)
		}
		if finishedRaw.Valid {
			t, err := time.Parse(time.RFC3339, finishedRaw.String)
			if err != nil {
				return nil, fmt.Errorf("parsing finished_at: %w", err)
			}
			op.FinishedAt = &t
		}
		ops = append(ops, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading operations: %w", err)
	}
	return ops, nil
}

// settings helpers

func (s *SQLiteDatabase) getSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading setting %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteDatabase) putSetting(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("writing setting %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteDatabase) deleteSetting(key string) error {
	if _, err := s.db.Exec("DELETE FROM settings WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting setting %s: %w", key, err)
	}
	return nil
}

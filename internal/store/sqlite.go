// Package store provides storage backends for MessCheck.
//
// This file implements the SQLite-backed store, the default local
// persistence substrate for offline operation.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/messcheck/messcheck/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is the file-backed store used for local offline state.
type SQLiteStore struct {
	db       *sql.DB
	cacheTTL time.Duration
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given options.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "", "cacheTTL", cfg.CacheTTL)

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, storageErr("create database directory", err)
	}

	slog.Debug("Opening SQLite database connection")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, storageErr("open sqlite", err)
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, storageErr("ping sqlite", err)
	}

	// Run migrations to ensure tables exist
	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, storageErr("run migrations", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db, cacheTTL: cfg.CacheTTL}, nil
}

// StoreRecord upserts one cached reference record (last write wins).
func (s *SQLiteStore) StoreRecord(rec models.CachedRecord) error {
	cachedAt := rec.CachedAt
	if cachedAt.IsZero() {
		cachedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO cached_records (record_type, record_id, data_json, cached_at)
		 VALUES (?, ?, ?, ?)`,
		rec.RecordType, rec.RecordID, rec.DataJSON, cachedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore.StoreRecord failed", "error", err, "recordType", rec.RecordType, "recordID", rec.RecordID)
		return storageErr("store record", err)
	}
	slog.Debug("SQLiteStore.StoreRecord succeeded", "recordType", rec.RecordType, "recordID", rec.RecordID)
	return nil
}

// GetRecord retrieves one cached record, or nil if absent or expired.
func (s *SQLiteStore) GetRecord(recordType, recordID string) (*models.CachedRecord, error) {
	var rec models.CachedRecord
	err := s.db.QueryRow(
		`SELECT record_type, record_id, data_json, cached_at FROM cached_records
		 WHERE record_type = ? AND record_id = ?`,
		recordType, recordID,
	).Scan(&rec.RecordType, &rec.RecordID, &rec.DataJSON, &rec.CachedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.GetRecord failed", "error", err, "recordType", recordType, "recordID", recordID)
		return nil, storageErr("get record", err)
	}
	if s.recordExpired(rec) {
		s.purgeExpired(recordType)
		return nil, nil
	}
	return &rec, nil
}

// GetAllRecords returns all unexpired records of a type. Order is undefined.
func (s *SQLiteStore) GetAllRecords(recordType string) ([]models.CachedRecord, error) {
	s.purgeExpired(recordType)

	rows, err := s.db.Query(
		`SELECT record_type, record_id, data_json, cached_at FROM cached_records WHERE record_type = ?`,
		recordType,
	)
	if err != nil {
		slog.Error("SQLiteStore.GetAllRecords query failed", "error", err, "recordType", recordType)
		return nil, storageErr("get all records", err)
	}
	defer rows.Close()

	records := []models.CachedRecord{}
	for rows.Next() {
		var rec models.CachedRecord
		if err := rows.Scan(&rec.RecordType, &rec.RecordID, &rec.DataJSON, &rec.CachedAt); err != nil {
			slog.Error("SQLiteStore.GetAllRecords scan failed", "error", err)
			return nil, storageErr("scan record", err)
		}
		// Filter expired rows even if the purge DELETE failed; a stale row
		// left on disk must not reach the caller.
		if s.recordExpired(rec) {
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore.GetAllRecords iteration failed", "error", err)
		return nil, storageErr("iterate records", err)
	}
	slog.Debug("SQLiteStore.GetAllRecords succeeded", "recordType", recordType, "count", len(records))
	return records, nil
}

// DeleteRecord removes one cached record.
func (s *SQLiteStore) DeleteRecord(recordType, recordID string) error {
	_, err := s.db.Exec(
		`DELETE FROM cached_records WHERE record_type = ? AND record_id = ?`,
		recordType, recordID,
	)
	if err != nil {
		slog.Error("SQLiteStore.DeleteRecord failed", "error", err, "recordType", recordType, "recordID", recordID)
		return storageErr("delete record", err)
	}
	return nil
}

// recordExpired reports whether rec is older than the configured cache TTL.
func (s *SQLiteStore) recordExpired(rec models.CachedRecord) bool {
	if s.cacheTTL <= 0 {
		return false
	}
	return time.Since(rec.CachedAt) > s.cacheTTL
}

// purgeExpired deletes expired records of a type. Failures are logged and
// absorbed: a stale row left behind does not affect correctness, it is
// filtered again on the next read.
func (s *SQLiteStore) purgeExpired(recordType string) {
	if s.cacheTTL <= 0 {
		return
	}
	cutoff := time.Now().Add(-s.cacheTTL)
	if _, err := s.db.Exec(
		`DELETE FROM cached_records WHERE record_type = ? AND cached_at < ?`,
		recordType, cutoff,
	); err != nil {
		slog.Warn("SQLiteStore.purgeExpired failed", "error", err, "recordType", recordType)
	}
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}

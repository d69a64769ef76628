// Package store provides storage backends for MessCheck.
//
// This file implements the PostgreSQL-backed store for deployments that
// prefer a shared database over a local file.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/messcheck/messcheck/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is the PostgreSQL-backed store.
type PostgresStore struct {
	db       *sql.DB
	cacheTTL time.Duration
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "", "cacheTTL", cfg.CacheTTL)

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	slog.Debug("Opening Postgres database connection")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, storageErr("open postgres", err)
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, storageErr("ping postgres", err)
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, storageErr("run migrations", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db, cacheTTL: cfg.CacheTTL}, nil
}

// StoreRecord upserts one cached reference record (last write wins).
func (s *PostgresStore) StoreRecord(rec models.CachedRecord) error {
	cachedAt := rec.CachedAt
	if cachedAt.IsZero() {
		cachedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO cached_records (record_type, record_id, data_json, cached_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (record_type, record_id)
		 DO UPDATE SET data_json = EXCLUDED.data_json, cached_at = EXCLUDED.cached_at`,
		rec.RecordType, rec.RecordID, rec.DataJSON, cachedAt,
	)
	if err != nil {
		slog.Error("PostgresStore.StoreRecord failed", "error", err, "recordType", rec.RecordType, "recordID", rec.RecordID)
		return storageErr("store record", err)
	}
	slog.Debug("PostgresStore.StoreRecord succeeded", "recordType", rec.RecordType, "recordID", rec.RecordID)
	return nil
}

// GetRecord retrieves one cached record, or nil if absent or expired.
func (s *PostgresStore) GetRecord(recordType, recordID string) (*models.CachedRecord, error) {
	var rec models.CachedRecord
	err := s.db.QueryRow(
		`SELECT record_type, record_id, data_json, cached_at FROM cached_records
		 WHERE record_type = $1 AND record_id = $2`,
		recordType, recordID,
	).Scan(&rec.RecordType, &rec.RecordID, &rec.DataJSON, &rec.CachedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.GetRecord failed", "error", err, "recordType", recordType, "recordID", recordID)
		return nil, storageErr("get record", err)
	}
	if s.cacheTTL > 0 && time.Since(rec.CachedAt) > s.cacheTTL {
		s.purgeExpired(recordType)
		return nil, nil
	}
	return &rec, nil
}

// GetAllRecords returns all unexpired records of a type. Order is undefined.
func (s *PostgresStore) GetAllRecords(recordType string) ([]models.CachedRecord, error) {
	s.purgeExpired(recordType)

	rows, err := s.db.Query(
		`SELECT record_type, record_id, data_json, cached_at FROM cached_records WHERE record_type = $1`,
		recordType,
	)
	if err != nil {
		slog.Error("PostgresStore.GetAllRecords query failed", "error", err, "recordType", recordType)
		return nil, storageErr("get all records", err)
	}
	defer rows.Close()

	records := []models.CachedRecord{}
	for rows.Next() {
		var rec models.CachedRecord
		if err := rows.Scan(&rec.RecordType, &rec.RecordID, &rec.DataJSON, &rec.CachedAt); err != nil {
			slog.Error("PostgresStore.GetAllRecords scan failed", "error", err)
			return nil, storageErr("scan record", err)
		}
		// Filter expired rows even if the purge DELETE failed; a stale row
		// left in the table must not reach the caller.
		if s.cacheTTL > 0 && time.Since(rec.CachedAt) > s.cacheTTL {
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate records", err)
	}
	slog.Debug("PostgresStore.GetAllRecords succeeded", "recordType", recordType, "count", len(records))
	return records, nil
}

// DeleteRecord removes one cached record.
func (s *PostgresStore) DeleteRecord(recordType, recordID string) error {
	_, err := s.db.Exec(
		`DELETE FROM cached_records WHERE record_type = $1 AND record_id = $2`,
		recordType, recordID,
	)
	if err != nil {
		slog.Error("PostgresStore.DeleteRecord failed", "error", err, "recordType", recordType, "recordID", recordID)
		return storageErr("delete record", err)
	}
	return nil
}

// purgeExpired deletes expired records of a type. Failures are logged and absorbed.
func (s *PostgresStore) purgeExpired(recordType string) {
	if s.cacheTTL <= 0 {
		return
	}
	cutoff := time.Now().Add(-s.cacheTTL)
	if _, err := s.db.Exec(
		`DELETE FROM cached_records WHERE record_type = $1 AND cached_at < $2`,
		recordType, cutoff,
	); err != nil {
		slog.Warn("PostgresStore.purgeExpired failed", "error", err, "recordType", recordType)
	}
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}

// Package store provides storage backends for the MessCheck offline action store.
//
// The store is the durability boundary of the offline check-in pipeline: it
// owns the cached reference records readable while offline and the FIFO queue
// of pending check-in actions awaiting replay. SQLite is the default local
// substrate; Postgres is available where a shared database is preferred, and
// an in-memory store backs tests and explicitly ephemeral deployments.
package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/messcheck/messcheck/internal/models"
)

// Error variables for better error handling and testability
var (
	// ErrActionNotFound is returned when an action ID does not exist.
	ErrActionNotFound = errors.New("action not found")
)

// StorageUnavailableError wraps failures of the local persistence substrate
// (locked file, exhausted disk, unreachable database). Callers treat it as
// transient: the specific attempt failed, the app did not.
type StorageUnavailableError struct {
	Op  string
	Err error
}

func (e *StorageUnavailableError) Error() string {
	return fmt.Sprintf("storage unavailable during %s: %v", e.Op, e.Err)
}

func (e *StorageUnavailableError) Unwrap() error {
	return e.Err
}

// IsStorageUnavailable reports whether err is a storage availability failure.
func IsStorageUnavailable(err error) bool {
	var e *StorageUnavailableError
	return errors.As(err, &e)
}

// storageErr wraps a substrate failure in a StorageUnavailableError.
func storageErr(op string, err error) error {
	return &StorageUnavailableError{Op: op, Err: err}
}

// Opts holds configuration for store constructors.
type Opts struct {
	// DSN is the backend connection string: a file path for SQLite, a
	// connection URL for Postgres.
	DSN string
	// CacheTTL bounds the age of cached reference records. Zero disables
	// expiry: records then live until overwritten or deleted.
	CacheTTL time.Duration
}

// Option configures a store constructor.
type Option func(*Opts)

// WithDSN sets the backend connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithCacheTTL sets the maximum age for cached reference records.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.CacheTTL = ttl }
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite". Postgres DSNs
// use URL schemes or key=value connection strings; anything else is treated
// as a SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// RecordCache is the reference-data cache half of the store. Records are
// keyed by (recordType, recordID); re-caching is last-write-wins.
type RecordCache interface {
	// StoreRecord upserts one cached record.
	StoreRecord(rec models.CachedRecord) error

	// GetRecord returns one cached record, or nil if absent or expired.
	GetRecord(recordType, recordID string) (*models.CachedRecord, error)

	// GetAllRecords returns all unexpired records of a type. Order is
	// undefined. Returns an empty slice if none are cached.
	GetAllRecords(recordType string) ([]models.CachedRecord, error)

	// DeleteRecord removes one cached record. Missing records are a no-op.
	DeleteRecord(recordType, recordID string) error
}

// Store is the full offline action store: reference cache plus action queue.
type Store interface {
	RecordCache
	ActionQueue
	Close() error
}

package store

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/messcheck/messcheck/internal/models"
)

// InMemoryStore is a non-durable store for tests and explicitly ephemeral
// deployments. It serializes all mutations behind a mutex so a drain and a
// concurrent enqueue cannot corrupt the queue.
type InMemoryStore struct {
	mu       sync.Mutex
	actions  []*models.PendingAction // enqueue order
	records  map[string]models.CachedRecord
	cacheTTL time.Duration
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore(opts ...Option) *InMemoryStore {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	return &InMemoryStore{
		records:  make(map[string]models.CachedRecord),
		cacheTTL: cfg.CacheTTL,
	}
}

func recordKey(recordType, recordID string) string {
	return recordType + "\x00" + recordID
}

func (s *InMemoryStore) StoreRecord(rec models.CachedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.CachedAt.IsZero() {
		rec.CachedAt = time.Now()
	}
	s.records[recordKey(rec.RecordType, rec.RecordID)] = rec
	return nil
}

func (s *InMemoryStore) GetRecord(recordType, recordID string) (*models.CachedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[recordKey(recordType, recordID)]
	if !ok || s.expiredLocked(rec) {
		return nil, nil
	}
	return &rec, nil
}

func (s *InMemoryStore) GetAllRecords(recordType string) ([]models.CachedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := []models.CachedRecord{}
	for _, rec := range s.records {
		if rec.RecordType != recordType {
			continue
		}
		if s.expiredLocked(rec) {
			delete(s.records, recordKey(rec.RecordType, rec.RecordID))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *InMemoryStore) DeleteRecord(recordType, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, recordKey(recordType, recordID))
	return nil
}

func (s *InMemoryStore) expiredLocked(rec models.CachedRecord) bool {
	return s.cacheTTL > 0 && time.Since(rec.CachedAt) > s.cacheTTL
}

func (s *InMemoryStore) EnqueueAction(req models.CheckinRequest) (string, bool, error) {
	id := models.DeriveActionID(req)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.actions {
		if a.ID == id {
			slog.Debug("InMemoryStore.EnqueueAction: dedupe hit", "id", id)
			return id, false, nil
		}
	}

	// Round-trip the payload so stored state matches what durable backends
	// would reconstruct from JSON.
	var payload models.CheckinRequest
	data, err := json.Marshal(req)
	if err != nil {
		return "", false, storageErr("marshal action payload", err)
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", false, storageErr("unmarshal action payload", err)
	}

	now := time.Now()
	s.actions = append(s.actions, &models.PendingAction{
		ID:         id,
		Type:       models.ActionTypeCheckIn,
		Payload:    payload,
		Status:     models.ActionStatusPending,
		EnqueuedAt: now,
		UpdatedAt:  now,
	})
	return id, true, nil
}

func (s *InMemoryStore) GetAction(id string) (*models.PendingAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.actions {
		if a.ID == id {
			copied := *a
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) ListPendingActions() ([]models.PendingAction, error) {
	return s.listByStatus(models.ActionStatusPending), nil
}

func (s *InMemoryStore) ListFailedActions() ([]models.PendingAction, error) {
	return s.listByStatus(models.ActionStatusFailed), nil
}

func (s *InMemoryStore) listByStatus(status models.ActionStatus) []models.PendingAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	actions := []models.PendingAction{}
	for _, a := range s.actions {
		if a.Status == status {
			actions = append(actions, *a)
		}
	}
	return actions
}

func (s *InMemoryStore) RemoveAction(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, a := range s.actions {
		if a.ID == id {
			s.actions = append(s.actions[:i], s.actions[i+1:]...)
			return nil
		}
	}
	return ErrActionNotFound
}

func (s *InMemoryStore) IncrementRetry(id string, lastError string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.actions {
		if a.ID == id {
			a.RetryCount++
			a.LastError = lastError
			a.UpdatedAt = time.Now()
			return a.RetryCount, nil
		}
	}
	return 0, ErrActionNotFound
}

func (s *InMemoryStore) MarkActionFailed(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.actions {
		if a.ID == id {
			a.Status = models.ActionStatusFailed
			a.UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrActionNotFound
}

func (s *InMemoryStore) RequeueAction(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.actions {
		if a.ID == id && a.Status == models.ActionStatusFailed {
			a.Status = models.ActionStatusPending
			a.RetryCount = 0
			a.LastError = ""
			a.UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrActionNotFound
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

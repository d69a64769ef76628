package store

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/messcheck/messcheck/internal/models"
)

// Compile-time check that SQLiteStore implements ActionQueue.
var _ ActionQueue = (*SQLiteStore)(nil)

func (s *SQLiteStore) EnqueueAction(req models.CheckinRequest) (string, bool, error) {
	id := models.DeriveActionID(req)
	now := time.Now()

	payloadJSON, err := json.Marshal(req)
	if err != nil {
		return "", false, storageErr("marshal action payload", err)
	}

	// INSERT OR IGNORE makes the dedupe atomic: when two enqueues of the
	// same logical check-in race, the loser inserts nothing instead of
	// tripping the UNIQUE constraint.
	result, err := s.db.Exec(
		`INSERT OR IGNORE INTO pending_actions (id, action_type, payload_json, status, retry_count, enqueued_at, updated_at)
		 VALUES (?, ?, ?, 'pending', 0, ?, ?)`,
		id, models.ActionTypeCheckIn, string(payloadJSON), now, now,
	)
	if err != nil {
		return "", false, storageErr("enqueue action", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return "", false, storageErr("enqueue action", err)
	}
	if n == 0 {
		slog.Debug("SQLiteStore.EnqueueAction: dedupe hit", "id", id)
		return id, false, nil
	}
	slog.Debug("SQLiteStore.EnqueueAction", "id", id, "userID", req.UserID, "messID", req.MessID, "mealType", req.MealType)
	return id, true, nil
}

func (s *SQLiteStore) GetAction(id string) (*models.PendingAction, error) {
	row := s.db.QueryRow(
		`SELECT id, action_type, payload_json, status, retry_count, last_error, enqueued_at, updated_at
		 FROM pending_actions WHERE id = ?`,
		id,
	)
	a, err := scanActionRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get action", err)
	}
	return &a, nil
}

func (s *SQLiteStore) ListPendingActions() ([]models.PendingAction, error) {
	return s.listActionsByStatus(models.ActionStatusPending)
}

func (s *SQLiteStore) ListFailedActions() ([]models.PendingAction, error) {
	return s.listActionsByStatus(models.ActionStatusFailed)
}

// listActionsByStatus returns actions of one status in enqueue order.
func (s *SQLiteStore) listActionsByStatus(status models.ActionStatus) ([]models.PendingAction, error) {
	rows, err := s.db.Query(
		`SELECT id, action_type, payload_json, status, retry_count, last_error, enqueued_at, updated_at
		 FROM pending_actions WHERE status = ? ORDER BY seq ASC`,
		status,
	)
	if err != nil {
		slog.Error("SQLiteStore.listActionsByStatus query failed", "error", err, "status", status)
		return nil, storageErr("list actions", err)
	}
	defer rows.Close()

	actions := []models.PendingAction{}
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, storageErr("scan action", err)
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate actions", err)
	}
	slog.Debug("SQLiteStore.listActionsByStatus succeeded", "status", status, "count", len(actions))
	return actions, nil
}

func (s *SQLiteStore) RemoveAction(id string) error {
	result, err := s.db.Exec(`DELETE FROM pending_actions WHERE id = ?`, id)
	if err != nil {
		return storageErr("remove action", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrActionNotFound
	}
	slog.Debug("SQLiteStore.RemoveAction succeeded", "id", id)
	return nil
}

func (s *SQLiteStore) IncrementRetry(id string, lastError string) (int, error) {
	now := time.Now()
	result, err := s.db.Exec(
		`UPDATE pending_actions SET retry_count = retry_count + 1, last_error = ?, updated_at = ? WHERE id = ?`,
		lastError, now, id,
	)
	if err != nil {
		return 0, storageErr("increment retry", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return 0, ErrActionNotFound
	}

	var count int
	if err := s.db.QueryRow(`SELECT retry_count FROM pending_actions WHERE id = ?`, id).Scan(&count); err != nil {
		return 0, storageErr("read retry count", err)
	}
	slog.Debug("SQLiteStore.IncrementRetry succeeded", "id", id, "retryCount", count)
	return count, nil
}

func (s *SQLiteStore) MarkActionFailed(id string) error {
	now := time.Now()
	result, err := s.db.Exec(
		`UPDATE pending_actions SET status = 'failed', updated_at = ? WHERE id = ?`,
		now, id,
	)
	if err != nil {
		return storageErr("mark action failed", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrActionNotFound
	}
	slog.Info("SQLiteStore.MarkActionFailed: action abandoned", "id", id)
	return nil
}

func (s *SQLiteStore) RequeueAction(id string) error {
	now := time.Now()
	result, err := s.db.Exec(
		`UPDATE pending_actions SET status = 'pending', retry_count = 0, last_error = NULL, updated_at = ?
		 WHERE id = ? AND status = 'failed'`,
		now, id,
	)
	if err != nil {
		return storageErr("requeue action", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrActionNotFound
	}
	slog.Info("SQLiteStore.RequeueAction: failed action requeued", "id", id)
	return nil
}

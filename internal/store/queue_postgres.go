package store

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/messcheck/messcheck/internal/models"
)

// Compile-time check that PostgresStore implements ActionQueue.
var _ ActionQueue = (*PostgresStore)(nil)

func (s *PostgresStore) EnqueueAction(req models.CheckinRequest) (string, bool, error) {
	id := models.DeriveActionID(req)
	now := time.Now()

	payloadJSON, err := json.Marshal(req)
	if err != nil {
		return "", false, storageErr("marshal action payload", err)
	}

	// ON CONFLICT DO NOTHING makes the dedupe atomic: when two enqueues of
	// the same logical check-in race, the loser inserts nothing instead of
	// tripping the UNIQUE constraint.
	result, err := s.db.Exec(
		`INSERT INTO pending_actions (id, action_type, payload_json, status, retry_count, enqueued_at, updated_at)
		 VALUES ($1, $2, $3, 'pending', 0, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
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
		slog.Debug("PostgresStore.EnqueueAction: dedupe hit", "id", id)
		return id, false, nil
	}
	slog.Debug("PostgresStore.EnqueueAction", "id", id, "userID", req.UserID, "messID", req.MessID, "mealType", req.MealType)
	return id, true, nil
}

func (s *PostgresStore) GetAction(id string) (*models.PendingAction, error) {
	row := s.db.QueryRow(
		`SELECT id, action_type, payload_json, status, retry_count, last_error, enqueued_at, updated_at
		 FROM pending_actions WHERE id = $1`,
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

func (s *PostgresStore) ListPendingActions() ([]models.PendingAction, error) {
	return s.listActionsByStatus(models.ActionStatusPending)
}

func (s *PostgresStore) ListFailedActions() ([]models.PendingAction, error) {
	return s.listActionsByStatus(models.ActionStatusFailed)
}

func (s *PostgresStore) listActionsByStatus(status models.ActionStatus) ([]models.PendingAction, error) {
	rows, err := s.db.Query(
		`SELECT id, action_type, payload_json, status, retry_count, last_error, enqueued_at, updated_at
		 FROM pending_actions WHERE status = $1 ORDER BY seq ASC`,
		status,
	)
	if err != nil {
		slog.Error("PostgresStore.listActionsByStatus query failed", "error", err, "status", status)
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
	slog.Debug("PostgresStore.listActionsByStatus succeeded", "status", status, "count", len(actions))
	return actions, nil
}

func (s *PostgresStore) RemoveAction(id string) error {
	result, err := s.db.Exec(`DELETE FROM pending_actions WHERE id = $1`, id)
	if err != nil {
		return storageErr("remove action", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrActionNotFound
	}
	slog.Debug("PostgresStore.RemoveAction succeeded", "id", id)
	return nil
}

func (s *PostgresStore) IncrementRetry(id string, lastError string) (int, error) {
	now := time.Now()
	var count int
	err := s.db.QueryRow(
		`UPDATE pending_actions SET retry_count = retry_count + 1, last_error = $1, updated_at = $2
		 WHERE id = $3 RETURNING retry_count`,
		lastError, now, id,
	).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, ErrActionNotFound
	}
	if err != nil {
		return 0, storageErr("increment retry", err)
	}
	slog.Debug("PostgresStore.IncrementRetry succeeded", "id", id, "retryCount", count)
	return count, nil
}

func (s *PostgresStore) MarkActionFailed(id string) error {
	now := time.Now()
	result, err := s.db.Exec(
		`UPDATE pending_actions SET status = 'failed', updated_at = $1 WHERE id = $2`,
		now, id,
	)
	if err != nil {
		return storageErr("mark action failed", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrActionNotFound
	}
	slog.Info("PostgresStore.MarkActionFailed: action abandoned", "id", id)
	return nil
}

func (s *PostgresStore) RequeueAction(id string) error {
	now := time.Now()
	result, err := s.db.Exec(
		`UPDATE pending_actions SET status = 'pending', retry_count = 0, last_error = NULL, updated_at = $1
		 WHERE id = $2 AND status = 'failed'`,
		now, id,
	)
	if err != nil {
		return storageErr("requeue action", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrActionNotFound
	}
	slog.Info("PostgresStore.RequeueAction: failed action requeued", "id", id)
	return nil
}

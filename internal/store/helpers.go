package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/messcheck/messcheck/internal/models"
)

// scanAction scans a PendingAction from sql.Rows.
func scanAction(rows *sql.Rows) (models.PendingAction, error) {
	var a models.PendingAction
	var payloadJSON string
	var lastError sql.NullString
	err := rows.Scan(
		&a.ID, &a.Type, &payloadJSON, &a.Status, &a.RetryCount,
		&lastError, &a.EnqueuedAt, &a.UpdatedAt,
	)
	if err != nil {
		return a, fmt.Errorf("scan action failed: %w", err)
	}
	a.LastError = lastError.String
	decodeActionPayload(&a, payloadJSON)
	return a, nil
}

// scanActionRow scans a PendingAction from a single sql.Row.
func scanActionRow(row *sql.Row) (models.PendingAction, error) {
	var a models.PendingAction
	var payloadJSON string
	var lastError sql.NullString
	err := row.Scan(
		&a.ID, &a.Type, &payloadJSON, &a.Status, &a.RetryCount,
		&lastError, &a.EnqueuedAt, &a.UpdatedAt,
	)
	if err != nil {
		return a, err
	}
	a.LastError = lastError.String
	decodeActionPayload(&a, payloadJSON)
	return a, nil
}

// decodeActionPayload unmarshals the stored payload. Malformed payload JSON is
// logged and absorbed: the action row survives with a zero payload rather than
// poisoning every list call.
func decodeActionPayload(a *models.PendingAction, payloadJSON string) {
	if payloadJSON == "" {
		return
	}
	if err := json.Unmarshal([]byte(payloadJSON), &a.Payload); err != nil {
		slog.Error("decodeActionPayload: malformed payload JSON", "error", err, "id", a.ID)
	}
}

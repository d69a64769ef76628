// Package store provides the ActionQueue interface for durable offline check-ins.
package store

import (
	"github.com/messcheck/messcheck/internal/models"
)

// ActionQueue defines the interface for the durable, FIFO, at-least-once
// queue of pending check-in actions. The queue is the sole owner of
// PendingAction state; the replay coordinator mutates actions only through
// these operations.
type ActionQueue interface {
	// EnqueueAction appends a check-in action derived from req with
	// retryCount 0. The action ID is derived from the payload
	// (user+mess+meal+day), so accidentally double-submitting the same
	// logical check-in is a no-op: the existing ID is returned with
	// created=false.
	EnqueueAction(req models.CheckinRequest) (id string, created bool, err error)

	// GetAction returns one action by ID regardless of status, or nil if absent.
	GetAction(id string) (*models.PendingAction, error)

	// ListPendingActions returns all pending actions in enqueue order.
	// Check-ins replay in the sequence the user performed them.
	ListPendingActions() ([]models.PendingAction, error)

	// ListFailedActions returns abandoned actions, oldest first. Abandonment
	// must be observable, never silent.
	ListFailedActions() ([]models.PendingAction, error)

	// RemoveAction deletes an action by ID: confirmed remote success, a
	// permanent rejection, or the user discarding a failed action.
	RemoveAction(id string) error

	// IncrementRetry increments the action's retry counter after a failed
	// replay attempt, recording the failure reason. Returns the new count.
	IncrementRetry(id string, lastError string) (int, error)

	// MarkActionFailed moves a pending action to the terminal failed state
	// once it exhausts its retries.
	MarkActionFailed(id string) error

	// RequeueAction moves a failed action back to pending with its retry
	// counter reset, for the user's manual retry.
	RequeueAction(id string) error
}

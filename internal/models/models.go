// Package models defines the core data structures for MessCheck.
//
// It includes connectivity state, attendance tokens, queued offline check-in
// actions, and cached reference records, which are shared across modules.
package models

import (
	"errors"
	"fmt"
	"time"
)

// ConnectivityState represents the current network reachability of the client.
type ConnectivityState string

const (
	// ConnectivityOnline indicates the remote service is reachable.
	ConnectivityOnline ConnectivityState = "online"
	// ConnectivityOffline indicates the remote service is not reachable.
	ConnectivityOffline ConnectivityState = "offline"
)

// MealType identifies which meal slot a check-in targets.
type MealType string

const (
	MealTypeLunch  MealType = "lunch"
	MealTypeDinner MealType = "dinner"
)

// IsValidMealType checks if the given meal type is supported.
func IsValidMealType(mt MealType) bool {
	switch mt {
	case MealTypeLunch, MealTypeDinner:
		return true
	default:
		return false
	}
}

// ActionType defines the kind of queued offline mutation.
type ActionType string

const (
	// ActionTypeCheckIn is a deferred meal check-in awaiting replay.
	ActionTypeCheckIn ActionType = "check_in"
)

// IsValidActionType checks if the given action type is supported.
func IsValidActionType(at ActionType) bool {
	return at == ActionTypeCheckIn
}

// ActionStatus represents the lifecycle state of a queued action.
type ActionStatus string

const (
	// ActionStatusPending means the action is queued and will be replayed.
	ActionStatusPending ActionStatus = "pending"
	// ActionStatusFailed means the action exhausted its retries and was
	// abandoned; it stays visible until the user retries or discards it.
	ActionStatusFailed ActionStatus = "failed"
)

// Error variables for better error handling and testability
var (
	ErrEmptyUserID         = errors.New("user ID cannot be empty")
	ErrEmptyMessID         = errors.New("mess ID cannot be empty")
	ErrEmptySubscriptionID = errors.New("subscription ID cannot be empty")
	ErrInvalidMealType     = errors.New("invalid meal type")
	ErrInvalidActionType   = errors.New("invalid action type")
	ErrZeroTimestamp       = errors.New("client timestamp cannot be zero")
)

// CheckinRequest is the payload submitted to the remote check-in service,
// both on the direct online path and during queue replay.
type CheckinRequest struct {
	UserID          string    `json:"user_id"`
	MessID          string    `json:"mess_id"`
	SubscriptionID  string    `json:"subscription_id"`
	MealType        MealType  `json:"meal_type"`
	ClientTimestamp time.Time `json:"client_timestamp"`
}

// Validate performs comprehensive validation on a CheckinRequest structure.
func (r *CheckinRequest) Validate() error {
	if r.UserID == "" {
		return ErrEmptyUserID
	}
	if r.MessID == "" {
		return ErrEmptyMessID
	}
	if r.SubscriptionID == "" {
		return ErrEmptySubscriptionID
	}
	if !IsValidMealType(r.MealType) {
		return ErrInvalidMealType
	}
	if r.ClientTimestamp.IsZero() {
		return ErrZeroTimestamp
	}
	return nil
}

// AttendanceToken is a time-boxed proof of check-in intent, serialized to JSON
// and rendered as a QR code for staff scanning. Tokens are regenerated, never
// persisted; the verifying server re-checks ExpiresAt independently.
type AttendanceToken struct {
	Nonce          string    `json:"nonce"`
	UserID         string    `json:"user_id"`
	MessID         string    `json:"mess_id"`
	SubscriptionID string    `json:"subscription_id"`
	MealType       MealType  `json:"meal_type"`
	IssuedAt       time.Time `json:"issued_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Valid reports whether the token is still within its verification window.
func (t *AttendanceToken) Valid(now time.Time) bool {
	return now.Before(t.ExpiresAt)
}

// PendingAction represents one queued offline mutation awaiting network
// availability. Owned exclusively by the store; the replay coordinator mutates
// it only through the store's operations.
type PendingAction struct {
	ID         string        `json:"id"`
	Type       ActionType    `json:"type"`
	Payload    CheckinRequest `json:"payload"`
	Status     ActionStatus  `json:"status"`
	RetryCount int           `json:"retry_count"`
	LastError  string        `json:"last_error,omitempty"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// DeriveActionID builds the deduplication key for a check-in action. One
// logical check-in exists per user, mess, and meal slot per day: submitting
// the same combination twice in a session collapses to a single queue entry.
func DeriveActionID(req CheckinRequest) string {
	return fmt.Sprintf("chk_%s_%s_%s_%s",
		req.UserID, req.MessID, req.MealType,
		req.ClientTimestamp.UTC().Format("20060102"))
}

// CachedRecord is a generic (type, id) -> JSON blob cache entry for reference
// data (e.g. mess listings) readable while offline. Last write wins.
type CachedRecord struct {
	RecordType string    `json:"record_type"`
	RecordID   string    `json:"record_id"`
	DataJSON   string    `json:"data_json"`
	CachedAt   time.Time `json:"cached_at"`
}

// DrainSummary reports the outcome of one replay pass over the pending queue.
type DrainSummary struct {
	Succeeded int `json:"succeeded"`
	Rejected  int `json:"rejected"`
	Retried   int `json:"retried"`
	Abandoned int `json:"abandoned"`
	// Skipped is true when the invocation was a no-op because another drain
	// was already in flight.
	Skipped bool `json:"skipped"`
}

// Total returns the number of actions the drain attempted.
func (s DrainSummary) Total() int {
	return s.Succeeded + s.Rejected + s.Retried + s.Abandoned
}

// Package replay drains the offline action queue once connectivity returns.
//
// The Coordinator subscribes to the connectivity monitor and replays queued
// check-ins against the remote service on the offline-to-online edge. It
// never silently drops an action: a submission either succeeds, is rejected
// permanently (removed and reported), or retries until the ceiling moves it
// to the observable failed state.
package replay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/messcheck/messcheck/internal/connectivity"
	"github.com/messcheck/messcheck/internal/models"
	"github.com/messcheck/messcheck/internal/store"
)

// DefaultMaxRetries is the retry ceiling before an action is abandoned.
const DefaultMaxRetries = 5

// Submitter performs the actual remote check-in submission.
type Submitter interface {
	Submit(ctx context.Context, req models.CheckinRequest) error
}

// permanenter is implemented by submission errors that must not be retried
// (duplicate already recorded, expired subscription, unknown mess).
type permanenter interface {
	Permanent() bool
}

// IsPermanent reports whether a submission error is a permanent rejection.
func IsPermanent(err error) bool {
	var p permanenter
	return errors.As(err, &p) && p.Permanent()
}

// Coordinator replays pending actions in enqueue order when connectivity
// transitions from offline to online.
type Coordinator struct {
	queue      store.ActionQueue
	submitter  Submitter
	maxRetries int
	draining   atomic.Bool

	mu        sync.Mutex
	lastState models.ConnectivityState
	seen      bool
}

// NewCoordinator creates a Coordinator. A non-positive maxRetries falls back
// to DefaultMaxRetries.
func NewCoordinator(queue store.ActionQueue, submitter Submitter, maxRetries int) *Coordinator {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Coordinator{
		queue:      queue,
		submitter:  submitter,
		maxRetries: maxRetries,
	}
}

// Attach subscribes the Coordinator to the monitor and returns the
// unsubscribe function. The drain fires only on an offline-to-online edge:
// the subscription's immediate initial callback just establishes the
// baseline, and the monitor already swallows redundant same-state signals.
func (c *Coordinator) Attach(ctx context.Context, monitor *connectivity.Monitor) func() {
	return monitor.Subscribe(func(state models.ConnectivityState) {
		c.mu.Lock()
		wasOffline := c.seen && c.lastState == models.ConnectivityOffline
		c.lastState = state
		c.seen = true
		c.mu.Unlock()

		if state == models.ConnectivityOnline && wasOffline {
			slog.Info("Coordinator.Attach: connectivity restored, draining queue")
			go c.Drain(ctx)
		}
	})
}

// Drain replays one snapshot of the pending queue, in enqueue order,
// sequentially. Safe to invoke concurrently with itself: a drain already in
// flight makes the duplicate invocation a no-op (Skipped summary). Actions
// enqueued while a drain runs wait for the next invocation.
func (c *Coordinator) Drain(ctx context.Context) models.DrainSummary {
	if !c.draining.CompareAndSwap(false, true) {
		slog.Debug("Coordinator.Drain: drain already in flight, skipping")
		return models.DrainSummary{Skipped: true}
	}
	defer c.draining.Store(false)

	actions, err := c.queue.ListPendingActions()
	if err != nil {
		// Storage unavailability is transient; the queue is untouched and a
		// later drain will see it.
		slog.Error("Coordinator.Drain: listing pending actions failed", "error", err)
		return models.DrainSummary{}
	}
	if len(actions) == 0 {
		slog.Debug("Coordinator.Drain: queue empty")
		return models.DrainSummary{}
	}

	slog.Info("Coordinator.Drain: starting drain", "pending", len(actions))
	var summary models.DrainSummary
	for _, action := range actions {
		c.replayOne(ctx, action, &summary)
	}

	slog.Info("Coordinator.Drain: drain complete",
		"succeeded", summary.Succeeded, "rejected", summary.Rejected,
		"retried", summary.Retried, "abandoned", summary.Abandoned)
	return summary
}

// replayOne submits a single action and settles its queue state. Submission
// failures never abort the drain; one mess's stale subscription must not
// block another mess's check-in.
func (c *Coordinator) replayOne(ctx context.Context, action models.PendingAction, summary *models.DrainSummary) {
	err := c.submitter.Submit(ctx, action.Payload)
	if err == nil {
		if rmErr := c.queue.RemoveAction(action.ID); rmErr != nil {
			slog.Error("Coordinator.replayOne: removing confirmed action failed", "error", rmErr, "id", action.ID)
		}
		summary.Succeeded++
		slog.Debug("Coordinator.replayOne: action replayed", "id", action.ID)
		return
	}

	if IsPermanent(err) {
		// The remote service rejected the action outright; retrying cannot
		// help. Removed and surfaced as informational, not counted against
		// the retry budget.
		if rmErr := c.queue.RemoveAction(action.ID); rmErr != nil {
			slog.Error("Coordinator.replayOne: removing rejected action failed", "error", rmErr, "id", action.ID)
		}
		summary.Rejected++
		slog.Info("Coordinator.replayOne: action permanently rejected", "id", action.ID, "reason", err)
		return
	}

	count, retryErr := c.queue.IncrementRetry(action.ID, err.Error())
	if retryErr != nil {
		slog.Error("Coordinator.replayOne: incrementing retry failed", "error", retryErr, "id", action.ID)
		summary.Retried++
		return
	}
	if count >= c.maxRetries {
		if failErr := c.queue.MarkActionFailed(action.ID); failErr != nil {
			slog.Error("Coordinator.replayOne: marking action failed errored", "error", failErr, "id", action.ID)
			summary.Retried++
			return
		}
		summary.Abandoned++
		slog.Warn("Coordinator.replayOne: retry ceiling reached, action abandoned",
			"id", action.ID, "retries", count, "maxRetries", c.maxRetries)
		return
	}

	summary.Retried++
	slog.Debug("Coordinator.replayOne: transient failure, will retry",
		"id", action.ID, "error", err, "retries", count)
}

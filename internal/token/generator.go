// Package token produces time-boxed attendance tokens for meal check-in.
//
// A token proves "this user intends to check in for this meal at this mess,
// within this time window". Tokens are regenerated rather than stored;
// staleness is the point, since a screenshotted QR code must go dead quickly.
// The verifying server independently re-checks expires_at and must not trust
// client-side freshness claims alone.
package token

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/messcheck/messcheck/internal/models"
)

// DefaultWindow is the default token validity window.
const DefaultWindow = 300 * time.Second

// Error variables for better error handling and testability
var (
	// ErrNothingToRotate is returned when Rotate or StartRotation is called
	// before any Generate.
	ErrNothingToRotate = errors.New("no token generated yet")
)

// tokenInputs holds the last Generate arguments so Rotate can reuse them.
type tokenInputs struct {
	userID         string
	messID         string
	subscriptionID string
	mealType       models.MealType
}

// Generator assembles and timestamps attendance tokens, rotating the current
// one on a fixed interval while a check-in screen displays it.
type Generator struct {
	mu       sync.Mutex
	window   time.Duration
	now      func() time.Time
	inputs   *tokenInputs
	current  *models.AttendanceToken
	rotTimer *time.Timer
	onRotate func(models.AttendanceToken)
}

// NewGenerator creates a Generator with the given validity window.
// A non-positive window falls back to DefaultWindow.
func NewGenerator(window time.Duration) *Generator {
	if window <= 0 {
		window = DefaultWindow
	}
	slog.Debug("Generator.NewGenerator: creating token generator", "window", window)
	return &Generator{
		window: window,
		now:    time.Now,
	}
}

// Generate assembles a fresh token for the given user/mess/subscription/meal
// combination. Inputs are not validated for existence; that is the verifying
// server's job. The meal type is still checked for shape.
func (g *Generator) Generate(userID, messID, subscriptionID string, mealType models.MealType) (models.AttendanceToken, error) {
	if !models.IsValidMealType(mealType) {
		return models.AttendanceToken{}, models.ErrInvalidMealType
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.inputs = &tokenInputs{
		userID:         userID,
		messID:         messID,
		subscriptionID: subscriptionID,
		mealType:       mealType,
	}
	tok := g.mintLocked()
	slog.Debug("Generator.Generate: token generated",
		"userID", userID, "messID", messID, "mealType", mealType, "expiresAt", tok.ExpiresAt)
	return tok, nil
}

// Rotate regenerates the token from the last Generate inputs, superseding the
// previous instance. Callable manually ("refresh code") and fired by the
// rotation timer.
func (g *Generator) Rotate() (models.AttendanceToken, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inputs == nil {
		return models.AttendanceToken{}, ErrNothingToRotate
	}
	tok := g.mintLocked()
	slog.Debug("Generator.Rotate: token rotated", "userID", tok.UserID, "expiresAt", tok.ExpiresAt)
	return tok, nil
}

// Current returns the most recently minted token, if any.
func (g *Generator) Current() (models.AttendanceToken, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		return models.AttendanceToken{}, false
	}
	return *g.current, true
}

// StartRotation begins automatic rotation every window, invoking onRotate with
// each superseding token. Requires a prior Generate. A second call replaces
// the previous rotation schedule.
func (g *Generator) StartRotation(onRotate func(models.AttendanceToken)) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inputs == nil {
		return ErrNothingToRotate
	}
	if g.rotTimer != nil {
		g.rotTimer.Stop()
	}
	g.onRotate = onRotate
	g.rotTimer = time.AfterFunc(g.window, g.rotateAndReschedule)
	slog.Debug("Generator.StartRotation: automatic rotation started", "window", g.window)
	return nil
}

// Stop cancels automatic rotation. Must be called on check-in screen teardown
// so no timer leaks past the component's lifetime.
func (g *Generator) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.rotTimer != nil {
		g.rotTimer.Stop()
		g.rotTimer = nil
		slog.Debug("Generator.Stop: automatic rotation stopped")
	}
	g.onRotate = nil
}

// rotateAndReschedule is the rotation timer callback.
func (g *Generator) rotateAndReschedule() {
	g.mu.Lock()
	if g.rotTimer == nil || g.inputs == nil {
		// Stopped between firing and acquiring the lock.
		g.mu.Unlock()
		return
	}
	tok := g.mintLocked()
	onRotate := g.onRotate
	g.rotTimer = time.AfterFunc(g.window, g.rotateAndReschedule)
	g.mu.Unlock()

	slog.Debug("Generator.rotateAndReschedule: token auto-rotated", "expiresAt", tok.ExpiresAt)
	if onRotate != nil {
		onRotate(tok)
	}
}

// mintLocked builds a token from the stored inputs. Caller must hold g.mu.
func (g *Generator) mintLocked() models.AttendanceToken {
	now := g.now()
	tok := models.AttendanceToken{
		Nonce:          uuid.NewString(),
		UserID:         g.inputs.userID,
		MessID:         g.inputs.messID,
		SubscriptionID: g.inputs.subscriptionID,
		MealType:       g.inputs.mealType,
		IssuedAt:       now,
		ExpiresAt:      now.Add(g.window),
	}
	g.current = &tok
	return tok
}

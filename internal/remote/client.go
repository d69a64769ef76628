// Package remote implements the HTTP client for the remote check-in service.
//
// The service is an external collaborator: it accepts a check-in payload and
// answers with success or a rejection reason. Submissions carry the derived
// action ID as an idempotency key, since a replay after a crash mid-submission
// cannot otherwise distinguish "never sent" from "sent but response lost".
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/messcheck/messcheck/internal/models"
	"github.com/messcheck/messcheck/internal/util"
)

// DefaultSubmitTimeout bounds a single submission request.
const DefaultSubmitTimeout = 10 * time.Second

// Opts holds configuration for the remote client.
type Opts struct {
	// BaseURL is the check-in service root, e.g. "https://api.messcheck.app".
	BaseURL string
	// HTTPClient overrides the default HTTP client (tests).
	HTTPClient *http.Client
}

// Option configures the remote client.
type Option func(*Opts)

// WithBaseURL sets the check-in service root URL.
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// RejectionError is a permanent rejection from the check-in service:
// duplicate already recorded, expired subscription, unknown mess. Retrying
// cannot change the outcome.
type RejectionError struct {
	StatusCode int
	Reason     string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("check-in rejected (%d): %s", e.StatusCode, e.Reason)
}

// Permanent marks the rejection as non-retryable for the replay coordinator.
func (e *RejectionError) Permanent() bool {
	return true
}

// Client submits check-ins to the remote service.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a remote check-in client based on provided options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		slog.Error("remote client base URL not set")
		return nil, fmt.Errorf("check-in service URL not set")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultSubmitTimeout}
	}
	slog.Debug("Client.NewClient: remote check-in client created", "baseURL", cfg.BaseURL)
	return &Client{baseURL: cfg.BaseURL, http: httpClient}, nil
}

// rejectionBody is the error shape the service answers rejections with.
type rejectionBody struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// Submit sends one check-in. A nil return means the service confirmed it.
// A *RejectionError means the service permanently refused it. Any other
// error is transient (network failure, 5xx) and worth retrying.
func (c *Client) Submit(ctx context.Context, req models.CheckinRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal check-in request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/checkins", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build check-in request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", models.DeriveActionID(req))
	httpReq.Header.Set("X-Request-ID", util.GenerateRequestID())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		slog.Debug("Client.Submit: transport failure", "error", err, "userID", req.UserID)
		return fmt.Errorf("check-in submission failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		slog.Debug("Client.Submit: check-in confirmed", "userID", req.UserID, "messID", req.MessID, "status", resp.StatusCode)
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		reason := readRejectionReason(resp.Body)
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		slog.Info("Client.Submit: check-in rejected", "userID", req.UserID, "status", resp.StatusCode, "reason", reason)
		return &RejectionError{StatusCode: resp.StatusCode, Reason: reason}
	default:
		slog.Debug("Client.Submit: server error", "userID", req.UserID, "status", resp.StatusCode)
		return fmt.Errorf("check-in service returned status %d", resp.StatusCode)
	}
}

// readRejectionReason extracts the rejection reason from an error response
// body. Malformed bodies are absorbed; the status code still tells the story.
func readRejectionReason(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var rb rejectionBody
	if err := json.Unmarshal(data, &rb); err != nil {
		return ""
	}
	if rb.Reason != "" {
		return rb.Reason
	}
	return rb.Message
}

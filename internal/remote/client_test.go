package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/messcheck/messcheck/internal/models"
)

func testRequest() models.CheckinRequest {
	return models.CheckinRequest{
		UserID:          "u1",
		MessID:          "m1",
		SubscriptionID:  "s1",
		MealType:        models.MealTypeLunch,
		ClientTimestamp: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(); err == nil {
		t.Error("expected error when base URL is missing")
	}
}

func TestSubmitSuccess(t *testing.T) {
	var gotPath, gotIdempotency, gotRequestID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotIdempotency = r.Header.Get("Idempotency-Key")
		gotRequestID = r.Header.Get("X-Request-ID")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c, err := NewClient(WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	req := testRequest()
	if err := c.Submit(context.Background(), req); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if gotPath != "/api/v1/checkins" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotIdempotency != models.DeriveActionID(req) {
		t.Errorf("idempotency key = %q, want derived action ID", gotIdempotency)
	}
	if gotRequestID == "" {
		t.Error("request ID header not set")
	}
}

func TestSubmitRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"reason":"duplicate check-in already recorded"}`))
	}))
	defer srv.Close()

	c, _ := NewClient(WithBaseURL(srv.URL))
	err := c.Submit(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected rejection error")
	}

	var rej *RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("expected *RejectionError, got %T: %v", err, err)
	}
	if !rej.Permanent() {
		t.Error("rejection should be permanent")
	}
	if rej.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", rej.StatusCode)
	}
	if rej.Reason != "duplicate check-in already recorded" {
		t.Errorf("reason = %q", rej.Reason)
	}
}

func TestSubmitRejectionWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c, _ := NewClient(WithBaseURL(srv.URL))
	err := c.Submit(context.Background(), testRequest())

	var rej *RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("expected *RejectionError, got %v", err)
	}
	if rej.Reason == "" {
		t.Error("reason should fall back to status text")
	}
}

func TestSubmitServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, _ := NewClient(WithBaseURL(srv.URL))
	err := c.Submit(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected error for 503")
	}
	var rej *RejectionError
	if errors.As(err, &rej) {
		t.Error("5xx must be transient, not a permanent rejection")
	}
}

func TestSubmitTransportErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from now on

	c, _ := NewClient(WithBaseURL(srv.URL))
	err := c.Submit(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected transport error")
	}
	var rej *RejectionError
	if errors.As(err, &rej) {
		t.Error("transport failure must be transient, not a permanent rejection")
	}
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/messcheck/messcheck/internal/connectivity"
	"github.com/messcheck/messcheck/internal/models"
	"github.com/messcheck/messcheck/internal/replay"
	"github.com/messcheck/messcheck/internal/store"
	"github.com/messcheck/messcheck/internal/token"
)

// stubSubmitter scripts the remote service's answer.
type stubSubmitter struct {
	mu    sync.Mutex
	err   error
	calls int
}

type stubRejection struct{ reason string }

func (e *stubRejection) Error() string   { return e.reason }
func (e *stubRejection) Permanent() bool { return true }

func (s *stubSubmitter) Submit(ctx context.Context, req models.CheckinRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.err
}

type testEnv struct {
	server    *Server
	monitor   *connectivity.Monitor
	st        *store.InMemoryStore
	submitter *stubSubmitter
}

func newTestEnv(initial models.ConnectivityState) *testEnv {
	monitor := connectivity.NewMonitor(initial)
	st := store.NewInMemoryStore()
	gen := token.NewGenerator(300 * time.Second)
	sub := &stubSubmitter{}
	coord := replay.NewCoordinator(st, sub, 5)
	return &testEnv{
		server:    NewServer(monitor, st, gen, coord, sub),
		monitor:   monitor,
		st:        st,
		submitter: sub,
	}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return resp
}

func checkinBody() map[string]interface{} {
	return map[string]interface{}{
		"user_id":         "u1",
		"mess_id":         "m1",
		"subscription_id": "s1",
		"meal_type":       "lunch",
	}
}

func TestCheckinOfflineQueues(t *testing.T) {
	env := newTestEnv(models.ConnectivityOffline)
	h := env.server.Handler()

	rr := doJSON(t, h, http.MethodPost, "/checkin", checkinBody())
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	resp := decodeResponse(t, rr)
	if resp.Status != models.APIStatusOK {
		t.Errorf("unexpected response status %q", resp.Status)
	}

	pending, _ := env.st.ListPendingActions()
	if len(pending) != 1 {
		t.Fatalf("expected one queued action, got %d", len(pending))
	}
	if env.submitter.calls != 0 {
		t.Error("offline check-in must not hit the remote service")
	}
}

func TestCheckinOnlineSubmits(t *testing.T) {
	env := newTestEnv(models.ConnectivityOnline)
	h := env.server.Handler()

	rr := doJSON(t, h, http.MethodPost, "/checkin", checkinBody())
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	pending, _ := env.st.ListPendingActions()
	if len(pending) != 0 {
		t.Error("online check-in should not enqueue")
	}
	if env.submitter.calls != 1 {
		t.Errorf("expected one remote submission, got %d", env.submitter.calls)
	}
}

func TestCheckinOnlineRejection(t *testing.T) {
	env := newTestEnv(models.ConnectivityOnline)
	env.submitter.err = &stubRejection{reason: "subscription expired"}
	h := env.server.Handler()

	rr := doJSON(t, h, http.MethodPost, "/checkin", checkinBody())
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	resp := decodeResponse(t, rr)
	if !strings.Contains(resp.Message, "subscription expired") {
		t.Errorf("rejection reason missing from response: %q", resp.Message)
	}

	// Permanent rejections are not queued for retry.
	pending, _ := env.st.ListPendingActions()
	if len(pending) != 0 {
		t.Error("rejected check-in must not be queued")
	}
}

func TestCheckinOnlineTransientFailureFallsBackToQueue(t *testing.T) {
	env := newTestEnv(models.ConnectivityOnline)
	env.submitter.err = errors.New("connection reset")
	h := env.server.Handler()

	rr := doJSON(t, h, http.MethodPost, "/checkin", checkinBody())
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 fallback to queue, got %d", rr.Code)
	}
	pending, _ := env.st.ListPendingActions()
	if len(pending) != 1 {
		t.Errorf("expected queued fallback action, got %d", len(pending))
	}
}

func TestCheckinValidation(t *testing.T) {
	env := newTestEnv(models.ConnectivityOffline)
	h := env.server.Handler()

	body := checkinBody()
	body["meal_type"] = "brunch"
	rr := doJSON(t, h, http.MethodPost, "/checkin", body)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid meal type, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/checkin", strings.NewReader("{not json"))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed JSON, got %d", rr.Code)
	}

	rr = doJSON(t, h, http.MethodGet, "/checkin", nil)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for GET, got %d", rr.Code)
	}
}

func TestTokenEndpoint(t *testing.T) {
	env := newTestEnv(models.ConnectivityOnline)
	h := env.server.Handler()

	rr := doJSON(t, h, http.MethodPost, "/token", map[string]string{
		"user_id": "u1", "mess_id": "m1", "subscription_id": "s1", "meal_type": "dinner",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	resp := decodeResponse(t, rr)
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected result shape: %v", resp.Result)
	}
	if result["user_id"] != "u1" || result["meal_type"] != "dinner" {
		t.Errorf("token fields wrong: %v", result)
	}
	if result["nonce"] == "" || result["expires_at"] == "" {
		t.Error("token missing nonce or expiry")
	}
}

func TestTokenEndpointTerminalQR(t *testing.T) {
	env := newTestEnv(models.ConnectivityOnline)
	h := env.server.Handler()

	rr := doJSON(t, h, http.MethodPost, "/token?qr=terminal", map[string]string{
		"user_id": "u1", "mess_id": "m1", "subscription_id": "s1", "meal_type": "lunch",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("expected text/plain QR output, got %q", ct)
	}
	if rr.Body.Len() == 0 {
		t.Error("QR body is empty")
	}
}

func TestTokenEndpointInvalidMeal(t *testing.T) {
	env := newTestEnv(models.ConnectivityOnline)
	h := env.server.Handler()

	rr := doJSON(t, h, http.MethodPost, "/token", map[string]string{
		"user_id": "u1", "mess_id": "m1", "subscription_id": "s1", "meal_type": "snacks",
	})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(models.ConnectivityOffline)
	h := env.server.Handler()

	// Queue one, fail one.
	id, _, _ := env.st.EnqueueAction(models.CheckinRequest{
		UserID: "u1", MessID: "m1", SubscriptionID: "s1",
		MealType: models.MealTypeLunch, ClientTimestamp: time.Now(),
	})
	env.st.EnqueueAction(models.CheckinRequest{
		UserID: "u2", MessID: "m1", SubscriptionID: "s1",
		MealType: models.MealTypeLunch, ClientTimestamp: time.Now(),
	})
	env.st.MarkActionFailed(id)

	rr := doJSON(t, h, http.MethodGet, "/status", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp := decodeResponse(t, rr)
	result := resp.Result.(map[string]interface{})
	if result["connectivity"] != "offline" {
		t.Errorf("connectivity = %v, want offline", result["connectivity"])
	}
	if result["pending"] != float64(1) || result["failed"] != float64(1) {
		t.Errorf("counts wrong: %v", result)
	}
}

func TestPendingAndFailedListEndpoints(t *testing.T) {
	env := newTestEnv(models.ConnectivityOffline)
	h := env.server.Handler()

	id, _, _ := env.st.EnqueueAction(models.CheckinRequest{
		UserID: "u1", MessID: "m1", SubscriptionID: "s1",
		MealType: models.MealTypeLunch, ClientTimestamp: time.Now(),
	})

	rr := doJSON(t, h, http.MethodGet, "/actions/pending", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("pending list: expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), id) {
		t.Error("pending list missing queued action")
	}

	env.st.MarkActionFailed(id)
	rr = doJSON(t, h, http.MethodGet, "/actions/failed", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("failed list: expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), id) {
		t.Error("failed list missing abandoned action")
	}
}

func TestRetryAndDiscardEndpoints(t *testing.T) {
	env := newTestEnv(models.ConnectivityOffline)
	h := env.server.Handler()

	id, _, _ := env.st.EnqueueAction(models.CheckinRequest{
		UserID: "u1", MessID: "m1", SubscriptionID: "s1",
		MealType: models.MealTypeLunch, ClientTimestamp: time.Now(),
	})
	env.st.MarkActionFailed(id)

	rr := doJSON(t, h, http.MethodPost, "/actions/retry", map[string]string{"id": id})
	if rr.Code != http.StatusOK {
		t.Fatalf("retry: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	pending, _ := env.st.ListPendingActions()
	if len(pending) != 1 {
		t.Error("retried action not back in pending queue")
	}

	rr = doJSON(t, h, http.MethodPost, "/actions/retry", map[string]string{"id": "missing"})
	if rr.Code != http.StatusNotFound {
		t.Errorf("retry missing: expected 404, got %d", rr.Code)
	}

	rr = doJSON(t, h, http.MethodDelete, fmt.Sprintf("/actions?id=%s", id), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("discard: expected 200, got %d", rr.Code)
	}
	pending, _ = env.st.ListPendingActions()
	if len(pending) != 0 {
		t.Error("discarded action still queued")
	}

	rr = doJSON(t, h, http.MethodDelete, "/actions?id=missing", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("discard missing: expected 404, got %d", rr.Code)
	}

	rr = doJSON(t, h, http.MethodDelete, "/actions", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("discard without id: expected 400, got %d", rr.Code)
	}
}

func TestDrainEndpoint(t *testing.T) {
	env := newTestEnv(models.ConnectivityOnline)
	h := env.server.Handler()

	env.st.EnqueueAction(models.CheckinRequest{
		UserID: "u1", MessID: "m1", SubscriptionID: "s1",
		MealType: models.MealTypeLunch, ClientTimestamp: time.Now(),
	})

	rr := doJSON(t, h, http.MethodPost, "/drain", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp := decodeResponse(t, rr)
	result := resp.Result.(map[string]interface{})
	if result["succeeded"] != float64(1) {
		t.Errorf("expected one success in drain summary, got %v", result)
	}

	pending, _ := env.st.ListPendingActions()
	if len(pending) != 0 {
		t.Error("queue not drained")
	}
}

func TestRecordsEndpoints(t *testing.T) {
	env := newTestEnv(models.ConnectivityOffline)
	h := env.server.Handler()

	rr := doJSON(t, h, http.MethodPut, "/records", map[string]interface{}{
		"record_type": "mess",
		"record_id":   "m1",
		"data":        map[string]string{"name": "Annapurna Tiffins"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("put record: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, h, http.MethodGet, "/records?type=mess", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get records: expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Annapurna Tiffins") {
		t.Error("cached record not returned")
	}

	rr = doJSON(t, h, http.MethodGet, "/records", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("get without type: expected 400, got %d", rr.Code)
	}

	rr = doJSON(t, h, http.MethodPut, "/records", map[string]string{"record_type": "mess"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("put without id: expected 400, got %d", rr.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(models.ConnectivityOffline)
	h := env.server.Handler()

	rr := doJSON(t, h, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestCheckinDuplicateOfAbandonedActionRequeues(t *testing.T) {
	env := newTestEnv(models.ConnectivityOffline)
	h := env.server.Handler()

	rr := doJSON(t, h, http.MethodPost, "/checkin", checkinBody())
	if rr.Code != http.StatusAccepted {
		t.Fatalf("first check-in: expected 202, got %d", rr.Code)
	}
	pending, _ := env.st.ListPendingActions()
	if len(pending) != 1 {
		t.Fatalf("expected one queued action, got %d", len(pending))
	}
	id := pending[0].ID
	if err := env.st.MarkActionFailed(id); err != nil {
		t.Fatalf("MarkActionFailed failed: %v", err)
	}

	// The same check-in again must not be acknowledged while the stored
	// action stays failed and invisible to every drain.
	rr = doJSON(t, h, http.MethodPost, "/checkin", checkinBody())
	if rr.Code != http.StatusAccepted {
		t.Fatalf("repeat check-in: expected 202, got %d: %s", rr.Code, rr.Body.String())
	}

	failed, _ := env.st.ListFailedActions()
	if len(failed) != 0 {
		t.Errorf("action still in failed list after repeat check-in: %v", failed)
	}
	pending, _ = env.st.ListPendingActions()
	if len(pending) != 1 || pending[0].ID != id {
		t.Fatalf("expected the action back in pending queue, got %v", pending)
	}
	if pending[0].RetryCount != 0 {
		t.Errorf("requeued retry count = %d, want 0", pending[0].RetryCount)
	}
}

func TestWriteJSONResponseFallback(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSONResponse(rr, http.StatusOK, make(chan int))

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 when marshaling fails, got %d", rr.Code)
	}
	resp := decodeResponse(t, rr)
	if resp.Status != models.APIStatusError {
		t.Errorf("fallback status = %q, want %q", resp.Status, models.APIStatusError)
	}
	if resp.Message == "" {
		t.Error("fallback response missing message")
	}
}

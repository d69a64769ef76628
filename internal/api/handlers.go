// Package api provides HTTP handlers for MessCheck endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/messcheck/messcheck/internal/models"
	"github.com/messcheck/messcheck/internal/replay"
	"github.com/messcheck/messcheck/internal/store"
	"github.com/messcheck/messcheck/internal/token"
)

// statusResult is the payload returned by the status endpoint.
type statusResult struct {
	Connectivity models.ConnectivityState `json:"connectivity"`
	Pending      int                      `json:"pending"`
	Failed       int                      `json:"failed"`
}

// tokenRequest identifies the meal slot a token should cover.
type tokenRequest struct {
	UserID         string          `json:"user_id"`
	MessID         string          `json:"mess_id"`
	SubscriptionID string          `json:"subscription_id"`
	MealType       models.MealType `json:"meal_type"`
}

// checkinResult reports which path a check-in took and where it landed.
type checkinResult struct {
	Path     string              `json:"path"` // "online" or "queued"
	ActionID string              `json:"action_id,omitempty"`
	Status   models.ActionStatus `json:"status,omitempty"`
	Created  bool                `json:"created,omitempty"`
}

// actionIDRequest names one queued action.
type actionIDRequest struct {
	ID string `json:"id"`
}

// recordRequest is the cache upsert payload.
type recordRequest struct {
	RecordType string          `json:"record_type"`
	RecordID   string          `json:"record_id"`
	Data       json.RawMessage `json:"data"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("MessCheck agent is up", nil))
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.statusHandler: processing status request", "method", r.Method)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	pending, err := s.st.ListPendingActions()
	if err != nil {
		slog.Error("Server.statusHandler: listing pending actions failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read queue state"))
		return
	}
	failed, err := s.st.ListFailedActions()
	if err != nil {
		slog.Error("Server.statusHandler: listing failed actions failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read queue state"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(statusResult{
		Connectivity: s.monitor.Status(),
		Pending:      len(pending),
		Failed:       len(failed),
	}))
}

func (s *Server) tokenHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.tokenHandler: processing token request", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.tokenHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.tokenHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	tok, err := s.generator.Generate(req.UserID, req.MessID, req.SubscriptionID, req.MealType)
	if err != nil {
		slog.Warn("Server.tokenHandler: token generation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	if r.URL.Query().Get("qr") == "terminal" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := token.EncodeQR(w, tok); err != nil {
			slog.Error("Server.tokenHandler: QR rendering failed", "error", err)
		}
		return
	}

	slog.Info("Server.tokenHandler: token generated", "userID", req.UserID, "messID", req.MessID, "expiresAt", tok.ExpiresAt)
	writeJSONResponse(w, http.StatusOK, models.Success(tok))
}

func (s *Server) checkinHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.checkinHandler: processing check-in request", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.checkinHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.CheckinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.checkinHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.ClientTimestamp.IsZero() {
		req.ClientTimestamp = time.Now()
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.checkinHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	if s.monitor.Status() == models.ConnectivityOnline {
		err := s.submitter.Submit(r.Context(), req)
		if err == nil {
			slog.Info("Server.checkinHandler: check-in recorded online", "userID", req.UserID, "messID", req.MessID)
			writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Check-in recorded", checkinResult{Path: "online"}))
			return
		}
		if replay.IsPermanent(err) {
			slog.Info("Server.checkinHandler: check-in rejected", "userID", req.UserID, "reason", err)
			writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
			return
		}
		// Transient failure on the online path: queue it instead of losing it.
		slog.Warn("Server.checkinHandler: online submission failed, queuing", "error", err, "userID", req.UserID)
	}

	id, created, err := s.st.EnqueueAction(req)
	if err != nil {
		slog.Error("Server.checkinHandler: enqueue failed", "error", err, "userID", req.UserID)
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Offline check-in cannot be queued right now"))
		return
	}

	if !created {
		// The dedupe hit may be against an abandoned action. Acknowledging
		// the check-in while the stored action stays failed would leave it
		// outside every future drain, so a repeat attempt revives it.
		action, getErr := s.st.GetAction(id)
		if getErr != nil {
			slog.Error("Server.checkinHandler: reading deduped action failed", "error", getErr, "id", id)
			writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Offline check-in cannot be queued right now"))
			return
		}
		if action != nil && action.Status == models.ActionStatusFailed {
			if rqErr := s.st.RequeueAction(id); rqErr != nil {
				slog.Error("Server.checkinHandler: requeueing abandoned action failed", "error", rqErr, "id", id)
				writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Offline check-in cannot be queued right now"))
				return
			}
			slog.Info("Server.checkinHandler: duplicate of abandoned check-in requeued", "id", id)
		}
	}

	slog.Info("Server.checkinHandler: check-in queued", "id", id, "created", created)
	writeJSONResponse(w, http.StatusAccepted, models.SuccessWithMessage("Check-in queued for replay", checkinResult{
		Path:     "queued",
		ActionID: id,
		Status:   models.ActionStatusPending,
		Created:  created,
	}))
}

func (s *Server) pendingActionsHandler(w http.ResponseWriter, r *http.Request) {
	s.listActionsHandler(w, r, s.st.ListPendingActions)
}

func (s *Server) failedActionsHandler(w http.ResponseWriter, r *http.Request) {
	s.listActionsHandler(w, r, s.st.ListFailedActions)
}

func (s *Server) listActionsHandler(w http.ResponseWriter, r *http.Request, list func() ([]models.PendingAction, error)) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	actions, err := list()
	if err != nil {
		slog.Error("Server.listActionsHandler: listing actions failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list actions"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(actions))
}

func (s *Server) retryActionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req actionIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: id"))
		return
	}

	if err := s.st.RequeueAction(req.ID); err != nil {
		if errors.Is(err, store.ErrActionNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("No failed action with that id"))
			return
		}
		slog.Error("Server.retryActionHandler: requeue failed", "error", err, "id", req.ID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to requeue action"))
		return
	}

	slog.Info("Server.retryActionHandler: action requeued", "id", req.ID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Action requeued", nil))
}

func (s *Server) discardActionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.Header().Set("Allow", http.MethodDelete)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required parameter: id"))
		return
	}

	if err := s.st.RemoveAction(id); err != nil {
		if errors.Is(err, store.ErrActionNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("No action with that id"))
			return
		}
		slog.Error("Server.discardActionHandler: remove failed", "error", err, "id", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to discard action"))
		return
	}

	slog.Info("Server.discardActionHandler: action discarded", "id", id)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Action discarded", nil))
}

func (s *Server) drainHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.drainHandler: processing drain request", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	summary := s.coordinator.Drain(r.Context())
	if summary.Skipped {
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Drain already in progress", summary))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Drain complete", summary))
}

func (s *Server) recordsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	switch r.Method {
	case http.MethodGet:
		recordType := r.URL.Query().Get("type")
		if recordType == "" {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required parameter: type"))
			return
		}
		records, err := s.st.GetAllRecords(recordType)
		if err != nil {
			slog.Error("Server.recordsHandler: listing records failed", "error", err, "recordType", recordType)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read cached records"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(records))

	case http.MethodPut, http.MethodPost:
		var req recordRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		if req.RecordType == "" || req.RecordID == "" {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required fields: record_type, record_id"))
			return
		}
		err := s.st.StoreRecord(models.CachedRecord{
			RecordType: req.RecordType,
			RecordID:   req.RecordID,
			DataJSON:   string(req.Data),
		})
		if err != nil {
			slog.Error("Server.recordsHandler: store failed", "error", err, "recordType", req.RecordType, "recordID", req.RecordID)
			writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Failed to cache record"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Record cached", nil))

	default:
		w.Header().Set("Allow", "GET, PUT, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

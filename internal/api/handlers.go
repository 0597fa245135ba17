// Package api provides HTTP handlers for LeadPipe endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/outletmedia/leadpipe/internal/breaker"
	"github.com/outletmedia/leadpipe/internal/gate"
	"github.com/outletmedia/leadpipe/internal/models"
)

// retryableResponse is returned with 503 while the circuit is open, so
// the webhook platform knows to retry and what to tell the customer.
type retryableResponse struct {
	Success   bool   `json:"success"`
	Retryable bool   `json:"retryable"`
	Reply     string `json:"reply"`
}

func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.webhookHandler: processing webhook", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.webhookHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.WebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.webhookHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	result, err := s.gate.Handle(r.Context(), &req)
	switch {
	case err == nil:
	case models.IsValidationError(err):
		slog.Warn("Server.webhookHandler: validation failed", "error", err, "contactID", req.ContactID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	case errors.Is(err, breaker.ErrCircuitOpen):
		slog.Warn("Server.webhookHandler: circuit open, asking caller to retry", "contactID", req.ContactID)
		writeJSONResponse(w, http.StatusServiceUnavailable, retryableResponse{
			Retryable: true,
			Reply:     gate.UnavailableReply,
		})
		return
	default:
		slog.Error("Server.webhookHandler: turn failed", "error", err, "contactID", req.ContactID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}

	slog.Info("Server.webhookHandler: turn processed",
		"contactID", req.ContactID, "duplicate", result.Duplicate, "terminal", result.Terminal)
	writeJSONResponse(w, http.StatusOK, models.WebhookResponse{
		Success:   true,
		LeadInfo:  result.Lead,
		ThreadID:  result.ThreadID,
		Reply:     result.Reply,
		Duplicate: result.Duplicate,
		Terminal:  result.Terminal,
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"uptime": time.Since(s.startedAt).String(),
	}))
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	failures, open := s.breaker.Snapshot()
	stats := map[string]interface{}{
		"breakerFailures": failures,
		"breakerOpen":     open,
		"dedupEntries":    s.dedup.Len(),
		"calendarEntries": s.calendar.Len(),
	}
	writeJSONResponse(w, http.StatusOK, models.Success(stats))
}

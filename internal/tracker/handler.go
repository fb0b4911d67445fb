// OutcomeOps Analytics - Serverless Web Analytics Pipeline
// Copyright 2026 OutcomeOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outcomeops/analytics

package tracker

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/outcomeops/analytics/internal/logging"
	"github.com/outcomeops/analytics/internal/models"
)

// batchRequest is the wire shape of a batch submission.
type batchRequest struct {
	Events []*models.TrackingEvent `json:"events"`
}

// writeResponse is the wire shape of a successful batch response.
type writeResponse struct {
	Status  string `json:"status"`
	Written int    `json:"written"`
	Errors  int    `json:"errors"`
}

// statusResponse is the wire shape of a successful single-event response.
// The tracking script only checks the status field, so the single path
// carries nothing else.
type statusResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves the tracking endpoints in standalone mode.
type Handler struct {
	svc *Service
}

// NewHandler returns a Handler over the service.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes registers the tracking endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/t", h.handleTrack)
	r.Post("/t/batch", h.handleTrackBatch)
}

// handleTrack accepts one event. Unlike the batch endpoint, a validation
// failure here is a 400 with the reason: the client sent exactly one
// thing and it was wrong.
func (h *Handler) handleTrack(w http.ResponseWriter, r *http.Request) {
	var event models.TrackingEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if err := h.svc.Validate(&event); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if _, _, ok := h.write(w, r, []*models.TrackingEvent{&event}); ok {
		respondJSON(w, http.StatusOK, statusResponse{Status: "ok"})
	}
}

// handleTrackBatch accepts up to MaxBatchEvents events in one request.
func (h *Handler) handleTrackBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if written, failed, ok := h.write(w, r, req.Events); ok {
		respondJSON(w, http.StatusOK, writeResponse{Status: "ok", Written: written, Errors: failed})
	}
}

// write stores the batch; on failure it answers the request itself and
// reports ok=false.
func (h *Handler) write(w http.ResponseWriter, r *http.Request, batch []*models.TrackingEvent) (written, failed int, ok bool) {
	written, failed, err := h.svc.WriteEvents(r.Context(), batch)
	switch {
	case errors.Is(err, ErrNoEvents):
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "no events in request"})
		return 0, 0, false
	case errors.Is(err, ErrTooManyEvents):
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "too many events in batch"})
		return 0, 0, false
	case err != nil:
		logging.Error().Err(err).Msg("failed to write tracking events")
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to store events"})
		return 0, 0, false
	}
	return written, failed, true
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error().Err(err).Msg("failed to encode response")
	}
}

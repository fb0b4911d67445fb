// OutcomeOps Analytics - Serverless Web Analytics Pipeline
// Copyright 2026 OutcomeOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outcomeops/analytics

package queryapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/outcomeops/analytics/internal/logging"
	"github.com/outcomeops/analytics/internal/models"
)

type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves the read-side analytics endpoints.
type Handler struct {
	svc     *Service
	allowed map[string]struct{}

	// now is swappable in tests; the default session date derives from it.
	now func() time.Time
}

// NewHandler returns a Handler over the service. allowedDomains empty
// means every domain may be queried.
func NewHandler(svc *Service, allowedDomains []string) *Handler {
	allowed := make(map[string]struct{}, len(allowedDomains))
	for _, d := range allowedDomains {
		allowed[strings.ToLower(d)] = struct{}{}
	}
	return &Handler{svc: svc, allowed: allowed, now: time.Now}
}

// Routes registers the analytics endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/analytics", func(r chi.Router) {
		r.Get("/stats/{domain}", h.aggregate(models.CacheTypeStats))
		r.Get("/pages/{domain}", h.aggregate(models.CacheTypePages))
		r.Get("/referrers/{domain}", h.aggregate(models.CacheTypeReferrers))
		r.Get("/hours/{domain}", h.aggregate(models.CacheTypeHours))
		r.Get("/sessions/{domain}", h.handleListSessions)
		r.Get("/sessions/{domain}/{sessionID}", h.handleSession)
	})
}

// domainAllowed checks the query allow-list; it shares the config value
// with the tracker so dashboards can only read tracked sites.
func (h *Handler) domainAllowed(w http.ResponseWriter, domain string) bool {
	if len(h.allowed) == 0 {
		return true
	}
	if _, ok := h.allowed[strings.ToLower(domain)]; ok {
		return true
	}
	respondJSON(w, http.StatusBadRequest, errorResponse{Error: "domain is not in the allow-list"})
	return false
}

// aggregate builds the handler for one cache type. Aggregate reads never
// hit the rollups: a missing cache row is a 404, not a rebuild.
func (h *Handler) aggregate(cacheType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		domain := chi.URLParam(r, "domain")
		if !h.domainAllowed(w, domain) {
			return
		}

		agg, err := h.svc.ReadAggregate(r.Context(), domain, cacheType)
		if errors.Is(err, ErrCacheNotReady) {
			respondJSON(w, http.StatusNotFound, errorResponse{Error: "no cached data for domain"})
			return
		}
		if err != nil {
			logging.Error().Err(err).Str("domain", domain).Str("cache_type", cacheType).Msg("failed to read cache row")
			respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to read analytics"})
			return
		}
		respondJSON(w, http.StatusOK, agg)
	}
}

// handleListSessions lists a domain's sessions for one day, defaulting to
// today (UTC) when no date parameter is given.
func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	if !h.domainAllowed(w, domain) {
		return
	}
	date := r.URL.Query().Get("date")
	if date == "" {
		date = h.now().UTC().Format("2006-01-02")
	}

	sessions, err := h.svc.ListSessions(r.Context(), domain, date)
	if err != nil {
		logging.Error().Err(err).Str("domain", domain).Str("date", date).Msg("failed to list sessions")
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to list sessions"})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"domain":   domain,
		"date":     date,
		"count":    len(sessions),
		"sessions": sessions,
	})
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	if !h.domainAllowed(w, chi.URLParam(r, "domain")) {
		return
	}
	sessionID := chi.URLParam(r, "sessionID")

	detail, err := h.svc.ReadSession(r.Context(), sessionID)
	if err != nil {
		logging.Error().Err(err).Str("session_id", sessionID).Msg("failed to read session")
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to read session"})
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error().Err(err).Msg("failed to encode response")
	}
}

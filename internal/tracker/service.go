// OutcomeOps Analytics - Serverless Web Analytics Pipeline
// Copyright 2026 OutcomeOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outcomeops/analytics

// Package tracker receives client-emitted journey events, validates and
// enriches them, and writes them as session rows. It serves both the
// standalone HTTP server and the API-gateway Lambda adapter.
package tracker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/outcomeops/analytics/internal/logging"
	"github.com/outcomeops/analytics/internal/metrics"
	"github.com/outcomeops/analytics/internal/models"
)

// MaxBatchEvents bounds one batch submission.
const MaxBatchEvents = 100

// Validation errors returned per event.
var (
	ErrDomainNotAllowed = errors.New("domain is not in the allow-list")
	ErrNoEvents         = errors.New("request carries no events")
	ErrTooManyEvents    = errors.New("request exceeds the batch limit")
)

var (
	validatorOnce sync.Once
	validate      *validator.Validate
)

// sharedValidator builds the process-wide validator on first use.
func sharedValidator() *validator.Validate {
	validatorOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// EventWriter is the store surface the service needs.
type EventWriter interface {
	BatchPutItems(ctx context.Context, items []map[string]types.AttributeValue) (int, error)
}

// Service validates, enriches and persists journey events.
type Service struct {
	writer  EventWriter
	allowed map[string]struct{}

	// now and newID are swappable in tests.
	now   func() time.Time
	newID func() string
}

// NewService wires a tracker over the sessions table. allowedDomains empty
// means every domain is accepted.
func NewService(writer EventWriter, allowedDomains []string) *Service {
	allowed := make(map[string]struct{}, len(allowedDomains))
	for _, d := range allowedDomains {
		allowed[strings.ToLower(d)] = struct{}{}
	}
	return &Service{
		writer:  writer,
		allowed: allowed,
		now:     time.Now,
		newID:   newEventID,
	}
}

// newEventID returns a short random event identifier, enough to
// disambiguate same-millisecond events within one session.
func newEventID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Validate checks one event against the schema and the domain allow-list.
func (s *Service) Validate(e *models.TrackingEvent) error {
	if err := sharedValidator().Struct(e); err != nil {
		metrics.TrackerEventsRejected.WithLabelValues(rejectReason(err)).Inc()
		return err
	}
	if len(s.allowed) > 0 {
		if _, ok := s.allowed[strings.ToLower(e.Domain)]; !ok {
			metrics.TrackerEventsRejected.WithLabelValues("domain").Inc()
			return ErrDomainNotAllowed
		}
	}
	return nil
}

func rejectReason(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Tag() == "oneof" {
		return "event_type"
	}
	return "missing_field"
}

// enrich fills in the server-side attributes: a UTC timestamp when the
// client sent none, and a fresh event id. Client timestamps are trusted as
// opaque sort keys; only the date partition falls back to today when the
// timestamp cannot carry one.
func (s *Service) enrich(e *models.TrackingEvent) (date string) {
	if e.Timestamp == "" {
		e.Timestamp = s.now().UTC().Format("2006-01-02T15:04:05.000Z")
	}
	if e.EventID == "" {
		e.EventID = s.newID()
	}

	date, ok := models.DateOf(e.Timestamp)
	if !ok {
		date = s.now().UTC().Format("2006-01-02")
	}
	return date
}

// WriteEvents validates, enriches and persists a batch. Invalid events are
// counted and skipped; valid ones are written. The returned counts feed
// the wire response directly.
func (s *Service) WriteEvents(ctx context.Context, batch []*models.TrackingEvent) (written, failed int, err error) {
	if len(batch) == 0 {
		return 0, 0, ErrNoEvents
	}
	if len(batch) > MaxBatchEvents {
		return 0, 0, ErrTooManyEvents
	}

	ttl := s.now().UTC().Add(models.TTLDays * 24 * time.Hour).Unix()
	items := make([]map[string]types.AttributeValue, 0, len(batch))
	kinds := make([]string, 0, len(batch))

	for _, e := range batch {
		if err := s.Validate(e); err != nil {
			failed++
			logging.Debug().Err(err).Str("event_type", e.EventType).Msg("rejected tracking event")
			continue
		}
		date := s.enrich(e)

		item, err := e.Item(date, ttl)
		if err != nil {
			failed++
			logging.Warn().Err(err).Msg("failed to marshal tracking event")
			continue
		}
		items = append(items, item)
		kinds = append(kinds, e.EventType)
	}

	if len(items) == 0 {
		return 0, failed, nil
	}

	accepted, err := s.writer.BatchPutItems(ctx, items)
	if err != nil {
		metrics.TrackerEventsRejected.WithLabelValues("store").Inc()
		return accepted, failed + len(items) - accepted, err
	}
	for _, kind := range kinds {
		metrics.TrackerEventsWritten.WithLabelValues(kind).Inc()
	}
	return accepted, failed, nil
}

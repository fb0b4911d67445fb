// OutcomeOps Analytics - Serverless Web Analytics Pipeline
// Copyright 2026 OutcomeOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outcomeops/analytics

// Package queryapi serves dashboard reads. Aggregate endpoints are pure
// cache-row lookups; the heavy lifting happened in the cache builder.
// Session endpoints read the sessions table directly since journeys are
// queried rarely and per-session partitions are small.
package queryapi

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	json "github.com/goccy/go-json"

	"github.com/outcomeops/analytics/internal/models"
)

// sessionsIndex is the GSI listing a domain's sessions per day.
const sessionsIndex = "GSI1"

// ErrCacheNotReady is returned when a domain has no cache row of the
// requested type, either because the builder has not run yet or because
// the row expired.
var ErrCacheNotReady = errors.New("cache row is missing or expired")

// CacheStore is the event-store surface for aggregate reads.
type CacheStore interface {
	GetItem(ctx context.Context, pk, sk string) (map[string]types.AttributeValue, error)
}

// SessionStore is the sessions-table surface for journey reads.
type SessionStore interface {
	QueryIndex(ctx context.Context, index, keyAttr, keyValue string) ([]map[string]types.AttributeValue, error)
	QueryPartition(ctx context.Context, pk, skPrefix string) ([]map[string]types.AttributeValue, error)
}

// Service answers dashboard queries.
type Service struct {
	cache    CacheStore
	sessions SessionStore
}

// NewService wires a Service over both tables.
func NewService(cache CacheStore, sessions SessionStore) *Service {
	return &Service{cache: cache, sessions: sessions}
}

// Aggregate is a cache payload with its build metadata.
type Aggregate struct {
	Domain   string          `json:"domain"`
	FromDate string          `json:"from_date"`
	ToDate   string          `json:"to_date"`
	BuiltAt  string          `json:"built_at"`
	Data     json.RawMessage `json:"data"`
}

// ReadAggregate returns one pre-built cache payload.
func (s *Service) ReadAggregate(ctx context.Context, domain, cacheType string) (*Aggregate, error) {
	item, err := s.cache.GetItem(ctx, models.CachePK(domain), cacheType)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrCacheNotReady
	}

	var row models.CacheRow
	if err := attributevalue.UnmarshalMap(item, &row); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache row: %w", err)
	}

	return &Aggregate{
		Domain:   domain,
		FromDate: row.FromDate,
		ToDate:   row.ToDate,
		BuiltAt:  row.BuiltAt,
		Data:     json.RawMessage(row.Data),
	}, nil
}

// SessionSummary is one row of the per-day session listing.
type SessionSummary struct {
	SessionID string `json:"session_id"`
	Events    int    `json:"events"`
	FirstSeen string `json:"first_seen"`
	LastSeen  string `json:"last_seen"`
	EntryPath string `json:"entry_path"`
}

// ListSessions summarizes a domain's sessions for one day, most recent
// first.
func (s *Service) ListSessions(ctx context.Context, domain, date string) ([]SessionSummary, error) {
	items, err := s.sessions.QueryIndex(ctx, sessionsIndex, "GSI1PK", models.SessionDayPK(domain, date))
	if err != nil {
		return nil, err
	}

	events, err := unmarshalEvents(items)
	if err != nil {
		return nil, err
	}
	sortByTimestamp(events)

	byID := make(map[string]*SessionSummary)
	order := make([]string, 0)
	for _, e := range events {
		sum := byID[e.SessionID]
		if sum == nil {
			sum = &SessionSummary{
				SessionID: e.SessionID,
				FirstSeen: e.Timestamp,
				EntryPath: e.Path,
			}
			byID[e.SessionID] = sum
			order = append(order, e.SessionID)
		}
		sum.Events++
		sum.LastSeen = e.Timestamp
	}

	out := make([]SessionSummary, 0, len(byID))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FirstSeen > out[j].FirstSeen
	})
	return out, nil
}

// SessionDetail is one full journey: every event in order, the page
// sequence, and the total measured time on page.
type SessionDetail struct {
	SessionID       string                `json:"session_id"`
	Events          []models.SessionEvent `json:"events"`
	Pages           []string              `json:"pages"`
	DurationSeconds int                   `json:"duration_seconds"`
}

// ReadSession returns one session's journey. A session with no rows
// returns an empty detail, not an error: expiry makes absence routine.
func (s *Service) ReadSession(ctx context.Context, sessionID string) (*SessionDetail, error) {
	items, err := s.sessions.QueryPartition(ctx, models.SessionPK(sessionID), "EVENT#")
	if err != nil {
		return nil, err
	}

	events, err := unmarshalEvents(items)
	if err != nil {
		return nil, err
	}
	sortByTimestamp(events)

	detail := &SessionDetail{SessionID: sessionID, Events: events}
	for _, e := range events {
		switch e.EventType {
		case models.EventPageview, models.EventNavigation:
			detail.Pages = append(detail.Pages, e.Path)
		case models.EventTimeOnPage:
			detail.DurationSeconds += e.TimeOnPage
		}
	}
	return detail, nil
}

func unmarshalEvents(items []map[string]types.AttributeValue) ([]models.SessionEvent, error) {
	events := make([]models.SessionEvent, 0, len(items))
	for _, item := range items {
		var e models.SessionEvent
		if err := attributevalue.UnmarshalMap(item, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session event: %w", err)
		}
		events = append(events, e)
	}
	return events, nil
}

// sortByTimestamp orders events chronologically. Index order is not
// trusted: the day index sorts by session id, not time.
func sortByTimestamp(events []models.SessionEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp < events[j].Timestamp
	})
}

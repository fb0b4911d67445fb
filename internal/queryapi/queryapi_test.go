// OutcomeOps Analytics - Serverless Web Analytics Pipeline
// Copyright 2026 OutcomeOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outcomeops/analytics

package queryapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outcomeops/analytics/internal/models"
)

type fakeCacheStore struct {
	rows map[string]map[string]types.AttributeValue
}

func (f *fakeCacheStore) GetItem(_ context.Context, pk, sk string) (map[string]types.AttributeValue, error) {
	return f.rows[pk+"|"+sk], nil
}

func (f *fakeCacheStore) put(domain, cacheType, data string) {
	if f.rows == nil {
		f.rows = make(map[string]map[string]types.AttributeValue)
	}
	f.rows[models.CachePK(domain)+"|"+cacheType] = map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: models.CachePK(domain)},
		"SK":        &types.AttributeValueMemberS{Value: cacheType},
		"data":      &types.AttributeValueMemberS{Value: data},
		"from_date": &types.AttributeValueMemberS{Value: "2024-01-09"},
		"to_date":   &types.AttributeValueMemberS{Value: "2024-01-15"},
		"built_at":  &types.AttributeValueMemberS{Value: "2024-01-15T12:00:00Z"},
	}
}

type fakeSessionStore struct {
	byIndex     map[string][]map[string]types.AttributeValue
	byPartition map[string][]map[string]types.AttributeValue
}

func (f *fakeSessionStore) QueryIndex(_ context.Context, _, _, keyValue string) ([]map[string]types.AttributeValue, error) {
	return f.byIndex[keyValue], nil
}

func (f *fakeSessionStore) QueryPartition(_ context.Context, pk, _ string) ([]map[string]types.AttributeValue, error) {
	return f.byPartition[pk], nil
}

func sessionEvent(sessionID, eventType, path, ts string, timeOnPage int) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"session_id": &types.AttributeValueMemberS{Value: sessionID},
		"event_type": &types.AttributeValueMemberS{Value: eventType},
		"domain":     &types.AttributeValueMemberS{Value: "myfantasy.ai"},
		"path":       &types.AttributeValueMemberS{Value: path},
		"timestamp":  &types.AttributeValueMemberS{Value: ts},
	}
	if timeOnPage > 0 {
		item["time_on_page"] = &types.AttributeValueMemberN{Value: strconv.Itoa(timeOnPage)}
	}
	return item
}

func newTestRouter(cache *fakeCacheStore, sessions *fakeSessionStore, allowed ...string) http.Handler {
	r := chi.NewRouter()
	h := NewHandler(NewService(cache, sessions), allowed)
	h.now = func() time.Time { return time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC) }
	h.Routes(r)
	return r
}

func get(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestAggregateEndpoints(t *testing.T) {
	cache := &fakeCacheStore{}
	cache.put("myfantasy.ai", models.CacheTypeStats, `{"total_requests":150,"unique_visitors":3,"daily":{}}`)
	cache.put("myfantasy.ai", models.CacheTypePages, `{"pages":[{"path":"/","count":9}]}`)
	router := newTestRouter(cache, &fakeSessionStore{})

	rec := get(t, router, "/analytics/stats/myfantasy.ai")
	require.Equal(t, http.StatusOK, rec.Code)

	var agg Aggregate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agg))
	assert.Equal(t, "myfantasy.ai", agg.Domain)
	assert.Equal(t, "2024-01-09", agg.FromDate)
	assert.Equal(t, "2024-01-15", agg.ToDate)

	var stats models.StatsCache
	require.NoError(t, json.Unmarshal(agg.Data, &stats))
	assert.Equal(t, int64(150), stats.TotalRequests)

	rec = get(t, router, "/analytics/pages/myfantasy.ai")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAggregateMissingCacheIs404(t *testing.T) {
	router := newTestRouter(&fakeCacheStore{}, &fakeSessionStore{})

	for _, path := range []string{
		"/analytics/stats/cold.example",
		"/analytics/pages/cold.example",
		"/analytics/referrers/cold.example",
		"/analytics/hours/cold.example",
	} {
		assert.Equal(t, http.StatusNotFound, get(t, router, path).Code, path)
	}
}

func TestListSessions(t *testing.T) {
	sessions := &fakeSessionStore{byIndex: map[string][]map[string]types.AttributeValue{
		models.SessionDayPK("myfantasy.ai", "2024-01-15"): {
			sessionEvent("s2", models.EventSessionStart, "/pricing", "2024-01-15T14:00:00.000Z", 0),
			sessionEvent("s1", models.EventSessionStart, "/", "2024-01-15T10:00:00.000Z", 0),
			sessionEvent("s1", models.EventPageview, "/", "2024-01-15T10:00:01.000Z", 0),
			sessionEvent("s1", models.EventNavigation, "/about", "2024-01-15T10:01:00.000Z", 0),
		},
	}}
	router := newTestRouter(&fakeCacheStore{}, sessions)

	rec := get(t, router, "/analytics/sessions/myfantasy.ai?date=2024-01-15")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count    int              `json:"count"`
		Sessions []SessionSummary `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Count)

	// Most recent session first.
	assert.Equal(t, "s2", resp.Sessions[0].SessionID)
	assert.Equal(t, "s1", resp.Sessions[1].SessionID)
	assert.Equal(t, 3, resp.Sessions[1].Events)
	assert.Equal(t, "/", resp.Sessions[1].EntryPath)
	assert.Equal(t, "2024-01-15T10:01:00.000Z", resp.Sessions[1].LastSeen)
}

func TestListSessionsDefaultsToToday(t *testing.T) {
	sessions := &fakeSessionStore{byIndex: map[string][]map[string]types.AttributeValue{
		models.SessionDayPK("myfantasy.ai", "2024-01-15"): {
			sessionEvent("s1", models.EventSessionStart, "/", "2024-01-15T10:00:00.000Z", 0),
		},
	}}
	router := newTestRouter(&fakeCacheStore{}, sessions)

	rec := get(t, router, "/analytics/sessions/myfantasy.ai")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Date  string `json:"date"`
		Count int    `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2024-01-15", resp.Date)
	assert.Equal(t, 1, resp.Count)
}

func TestDomainAllowListEnforced(t *testing.T) {
	router := newTestRouter(&fakeCacheStore{}, &fakeSessionStore{}, "myfantasy.ai")

	for _, path := range []string{
		"/analytics/stats/evil.example",
		"/analytics/sessions/evil.example",
		"/analytics/sessions/evil.example/s1",
	} {
		assert.Equal(t, http.StatusBadRequest, get(t, router, path).Code, path)
	}

	// The allow-listed domain passes through to the (cold) cache.
	assert.Equal(t, http.StatusNotFound, get(t, router, "/analytics/stats/myfantasy.ai").Code)
}

func TestReadSessionDetail(t *testing.T) {
	sessions := &fakeSessionStore{byPartition: map[string][]map[string]types.AttributeValue{
		models.SessionPK("s1"): {
			// Stored out of order; the service sorts by timestamp.
			sessionEvent("s1", models.EventTimeOnPage, "/", "2024-01-15T10:00:30.000Z", 30),
			sessionEvent("s1", models.EventPageview, "/", "2024-01-15T10:00:00.000Z", 0),
			sessionEvent("s1", models.EventNavigation, "/about", "2024-01-15T10:00:31.000Z", 0),
			sessionEvent("s1", models.EventTimeOnPage, "/about", "2024-01-15T10:01:01.000Z", 30),
		},
	}}
	router := newTestRouter(&fakeCacheStore{}, sessions)

	rec := get(t, router, "/analytics/sessions/myfantasy.ai/s1")
	require.Equal(t, http.StatusOK, rec.Code)

	var detail SessionDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, []string{"/", "/about"}, detail.Pages)
	assert.Equal(t, 60, detail.DurationSeconds)
	require.Len(t, detail.Events, 4)
	assert.Equal(t, models.EventPageview, detail.Events[0].EventType)
}

func TestReadSessionUnknownIsEmpty(t *testing.T) {
	router := newTestRouter(&fakeCacheStore{}, &fakeSessionStore{})

	rec := get(t, router, "/analytics/sessions/myfantasy.ai/ghost")
	require.Equal(t, http.StatusOK, rec.Code)

	var detail SessionDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Empty(t, detail.Events)
	assert.Zero(t, detail.DurationSeconds)
}

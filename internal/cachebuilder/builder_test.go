// OutcomeOps Analytics - Serverless Web Analytics Pipeline
// Copyright 2026 OutcomeOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outcomeops/analytics

package cachebuilder

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outcomeops/analytics/internal/models"
)

type fakeStore struct {
	rows    map[string][]map[string]types.AttributeValue
	written []map[string]types.AttributeValue
	err     error
}

func (f *fakeStore) QueryPartition(_ context.Context, pk, skPrefix string) ([]map[string]types.AttributeValue, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []map[string]types.AttributeValue
	for _, item := range f.rows[pk] {
		sk := item["SK"].(*types.AttributeValueMemberS).Value
		if strings.HasPrefix(sk, skPrefix) {
			out = append(out, item)
		}
	}
	return out, nil
}

func (f *fakeStore) PutItem(_ context.Context, item map[string]types.AttributeValue) error {
	f.written = append(f.written, item)
	return nil
}

func (f *fakeStore) addCount(domain, sk string, count int64) {
	pk := models.RollupPK(domain)
	f.rows[pk] = append(f.rows[pk], map[string]types.AttributeValue{
		"PK":    &types.AttributeValueMemberS{Value: pk},
		"SK":    &types.AttributeValueMemberS{Value: sk},
		"count": &types.AttributeValueMemberN{Value: strconv.FormatInt(count, 10)},
	})
}

func (f *fakeStore) addStats(domain, date string, requests int64, ips ...string) {
	pk := models.RollupPK(domain)
	item := map[string]types.AttributeValue{
		"PK":       &types.AttributeValueMemberS{Value: pk},
		"SK":       &types.AttributeValueMemberS{Value: models.StatsSK(date)},
		"requests": &types.AttributeValueMemberN{Value: strconv.FormatInt(requests, 10)},
	}
	if len(ips) > 0 {
		item["unique_ips"] = &types.AttributeValueMemberSS{Value: ips}
	}
	f.rows[pk] = append(f.rows[pk], item)
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string][]map[string]types.AttributeValue)}
}

// newBuilder pins now to 2024-01-15 so the 7-day window is
// 2024-01-09 .. 2024-01-15 inclusive.
func newBuilder(store *fakeStore) *Builder {
	b := New(store, 7, 2*time.Hour)
	b.now = func() time.Time { return time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC) }
	return b
}

func cacheRow(t *testing.T, store *fakeStore, cacheType string) models.CacheRow {
	t.Helper()
	for _, item := range store.written {
		sk := item["SK"].(*types.AttributeValueMemberS).Value
		if sk != cacheType {
			continue
		}
		return models.CacheRow{
			PK:       item["PK"].(*types.AttributeValueMemberS).Value,
			SK:       sk,
			Data:     item["data"].(*types.AttributeValueMemberS).Value,
			FromDate: item["from_date"].(*types.AttributeValueMemberS).Value,
			ToDate:   item["to_date"].(*types.AttributeValueMemberS).Value,
		}
	}
	t.Fatalf("no %s cache row written", cacheType)
	return models.CacheRow{}
}

func TestBuildStats(t *testing.T) {
	store := newFakeStore()
	store.addStats("myfantasy.ai", "2024-01-14", 100, "1.1.1.1", "2.2.2.2")
	store.addStats("myfantasy.ai", "2024-01-15", 50, "1.1.1.1", "3.3.3.3")
	// Outside the window.
	store.addStats("myfantasy.ai", "2024-01-01", 999, "9.9.9.9")

	require.NoError(t, newBuilder(store).Build(context.Background(), "myfantasy.ai"))

	row := cacheRow(t, store, models.CacheTypeStats)
	assert.Equal(t, "CACHE#myfantasy.ai", row.PK)
	assert.Equal(t, "2024-01-09", row.FromDate)
	assert.Equal(t, "2024-01-15", row.ToDate)

	var stats models.StatsCache
	require.NoError(t, json.Unmarshal([]byte(row.Data), &stats))
	assert.Equal(t, int64(150), stats.TotalRequests)
	// IPs are unioned across days, not summed.
	assert.Equal(t, 3, stats.UniqueVisitors)
	assert.Equal(t, int64(100), stats.Daily["2024-01-14"])
	assert.NotContains(t, stats.Daily, "2024-01-01")
}

func TestBuildPagesTopTenAcrossDays(t *testing.T) {
	store := newFakeStore()
	// "/popular" accumulates across two days; twelve one-hit pages compete.
	store.addCount("d", models.PageSK("2024-01-14", "/popular"), 5)
	store.addCount("d", models.PageSK("2024-01-15", "/popular"), 4)
	for i := 0; i < 12; i++ {
		store.addCount("d", models.PageSK("2024-01-15", "/page-"+strconv.Itoa(i)), 1)
	}

	require.NoError(t, newBuilder(store).Build(context.Background(), "d"))

	var pages models.PagesCache
	require.NoError(t, json.Unmarshal([]byte(cacheRow(t, store, models.CacheTypePages).Data), &pages))

	require.Len(t, pages.Pages, 10)
	assert.Equal(t, "/popular", pages.Pages[0].Path)
	assert.Equal(t, int64(9), pages.Pages[0].Count)
}

func TestBuildReferrers(t *testing.T) {
	store := newFakeStore()
	store.addCount("d", models.RefSK("2024-01-15", "google.com"), 7)
	store.addCount("d", models.RefSK("2024-01-14", "google.com"), 3)
	store.addCount("d", models.RefSK("2024-01-15", "news.ycombinator.com"), 2)

	require.NoError(t, newBuilder(store).Build(context.Background(), "d"))

	var refs models.ReferrersCache
	require.NoError(t, json.Unmarshal([]byte(cacheRow(t, store, models.CacheTypeReferrers).Data), &refs))

	require.Len(t, refs.Referrers, 2)
	assert.Equal(t, "google.com", refs.Referrers[0].Domain)
	assert.Equal(t, int64(10), refs.Referrers[0].Count)
}

func TestBuildHours(t *testing.T) {
	store := newFakeStore()
	store.addCount("d", models.HourSK("2024-01-14", "09"), 3)
	store.addCount("d", models.HourSK("2024-01-15", "09"), 4)
	store.addCount("d", models.HourSK("2024-01-15", "23"), 2)

	require.NoError(t, newBuilder(store).Build(context.Background(), "d"))

	var hours models.HoursCache
	require.NoError(t, json.Unmarshal([]byte(cacheRow(t, store, models.CacheTypeHours).Data), &hours))

	// Every hour key is present even when empty.
	assert.Len(t, hours.Hourly, 24)
	assert.Equal(t, int64(7), hours.Hourly["09"])
	assert.Equal(t, int64(0), hours.Hourly["00"])
	assert.Equal(t, "09", hours.PeakHour)
	assert.Equal(t, int64(9), hours.Total)
}

func TestBuildEmptyDomain(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, newBuilder(store).Build(context.Background(), "quiet.example"))

	// All four rows are written even with no rollups at all.
	require.Len(t, store.written, 4)

	var stats models.StatsCache
	require.NoError(t, json.Unmarshal([]byte(cacheRow(t, store, models.CacheTypeStats).Data), &stats))
	assert.Zero(t, stats.TotalRequests)

	var hours models.HoursCache
	require.NoError(t, json.Unmarshal([]byte(cacheRow(t, store, models.CacheTypeHours).Data), &hours))
	assert.Equal(t, "00", hours.PeakHour)
}

func TestBuildAllContinuesPastFailingDomain(t *testing.T) {
	good := newFakeStore()
	good.addStats("ok.example", "2024-01-15", 1)

	// The failing store errors every query; wrap both behind one Store.
	store := &splitStore{bad: "ROLLUP#bad.example", inner: good}
	b := newBuilder(nil)
	b.store = store

	err := b.BuildAll(context.Background(), []string{"bad.example", "ok.example"})
	assert.Error(t, err)
	// The good domain was still built.
	assert.Len(t, good.written, 4)
}

type splitStore struct {
	bad   string
	inner *fakeStore
}

func (s *splitStore) QueryPartition(ctx context.Context, pk, skPrefix string) ([]map[string]types.AttributeValue, error) {
	if pk == s.bad {
		return nil, errors.New("throttled")
	}
	return s.inner.QueryPartition(ctx, pk, skPrefix)
}

func (s *splitStore) PutItem(ctx context.Context, item map[string]types.AttributeValue) error {
	return s.inner.PutItem(ctx, item)
}

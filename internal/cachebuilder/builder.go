// OutcomeOps Analytics - Serverless Web Analytics Pipeline
// Copyright 2026 OutcomeOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outcomeops/analytics

// Package cachebuilder projects rollup rows into pre-computed cache rows
// over a sliding window, so dashboard reads cost four point lookups
// instead of partition scans. The builder runs on a schedule; cache rows
// expire on their own ttl if it stops.
package cachebuilder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	json "github.com/goccy/go-json"

	"github.com/outcomeops/analytics/internal/logging"
	"github.com/outcomeops/analytics/internal/metrics"
	"github.com/outcomeops/analytics/internal/models"
)

// topN bounds the pages and referrers cache payloads.
const topN = 10

// Store is the event-store surface the builder needs.
type Store interface {
	QueryPartition(ctx context.Context, pk, skPrefix string) ([]map[string]types.AttributeValue, error)
	PutItem(ctx context.Context, item map[string]types.AttributeValue) error
}

// Builder rebuilds a domain's cache rows from its rollups.
type Builder struct {
	store      Store
	windowDays int
	cacheTTL   time.Duration

	// now is swappable in tests; the window and ttl derive from it.
	now func() time.Time
}

// New returns a Builder with the given window and cache row lifetime.
func New(store Store, windowDays int, cacheTTL time.Duration) *Builder {
	return &Builder{
		store:      store,
		windowDays: windowDays,
		cacheTTL:   cacheTTL,
		now:        time.Now,
	}
}

// BuildAll rebuilds every cache row for every domain. A failing domain is
// logged and counted but does not stop the others; the joined error is
// returned so a scheduled invocation still reports partial failure.
func (b *Builder) BuildAll(ctx context.Context, domains []string) error {
	started := b.now()

	var errs []error
	for _, domain := range domains {
		if err := b.Build(ctx, domain); err != nil {
			metrics.CacheBuildErrors.WithLabelValues(domain).Inc()
			logging.Error().Err(err).Str("domain", domain).Msg("failed to build caches")
			errs = append(errs, fmt.Errorf("domain %s: %w", domain, err))
		}
	}

	metrics.CacheBuildDuration.Observe(b.now().Sub(started).Seconds())
	logging.Info().
		Int("domains", len(domains)).
		Int("failed", len(errs)).
		Dur("elapsed", b.now().Sub(started)).
		Msg("cache build pass complete")
	return errors.Join(errs...)
}

// Build rebuilds the four cache rows of one domain.
func (b *Builder) Build(ctx context.Context, domain string) error {
	fromDate, toDate := b.window()

	stats, err := b.buildStats(ctx, domain, fromDate)
	if err != nil {
		return err
	}
	pages, err := b.buildTop(ctx, domain, models.RollupPagePrefix, fromDate)
	if err != nil {
		return err
	}
	referrers, err := b.buildTop(ctx, domain, models.RollupRefPrefix, fromDate)
	if err != nil {
		return err
	}
	hours, err := b.buildHours(ctx, domain, fromDate)
	if err != nil {
		return err
	}

	writes := []struct {
		cacheType string
		payload   any
	}{
		{models.CacheTypeStats, stats},
		{models.CacheTypePages, pagesPayload(pages)},
		{models.CacheTypeReferrers, referrersPayload(referrers)},
		{models.CacheTypeHours, hours},
	}
	for _, w := range writes {
		if err := b.writeCache(ctx, domain, w.cacheType, w.payload, fromDate, toDate); err != nil {
			return err
		}
		metrics.CacheBuilds.WithLabelValues(w.cacheType).Inc()
	}
	return nil
}

// window returns the inclusive date range: the last windowDays days ending
// today (UTC).
func (b *Builder) window() (fromDate, toDate string) {
	today := b.now().UTC()
	from := today.AddDate(0, 0, -(b.windowDays - 1))
	return from.Format("2006-01-02"), today.Format("2006-01-02")
}

// rollupRow is the read-back shape of any rollup row; each family fills a
// subset of the attributes.
type rollupRow struct {
	SK        string   `dynamodbav:"SK"`
	Requests  int64    `dynamodbav:"requests"`
	Count     int64    `dynamodbav:"count"`
	UniqueIPs []string `dynamodbav:"unique_ips"`
}

// readRollups queries one rollup family and keeps the rows inside the
// window. ISO dates compare lexicographically, so a string bound suffices.
func (b *Builder) readRollups(ctx context.Context, domain, prefix, fromDate string) ([]rollupRow, error) {
	items, err := b.store.QueryPartition(ctx, models.RollupPK(domain), prefix)
	if err != nil {
		return nil, err
	}

	rows := make([]rollupRow, 0, len(items))
	for _, item := range items {
		var row rollupRow
		if err := attributevalue.UnmarshalMap(item, &row); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rollup row: %w", err)
		}
		if date, _, _ := splitSK(row.SK, prefix); date >= fromDate {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// splitSK decomposes "{prefix}{date}" or "{prefix}{date}#{dim}" sort keys.
func splitSK(sk, prefix string) (date, dim string, ok bool) {
	rest := strings.TrimPrefix(sk, prefix)
	if rest == sk {
		return "", "", false
	}
	date, dim, found := strings.Cut(rest, "#")
	if !found {
		return rest, "", true
	}
	return date, dim, true
}

func (b *Builder) buildStats(ctx context.Context, domain, fromDate string) (*models.StatsCache, error) {
	rows, err := b.readRollups(ctx, domain, models.RollupStatsPrefix, fromDate)
	if err != nil {
		return nil, err
	}

	stats := &models.StatsCache{Daily: make(map[string]int64)}
	visitors := make(map[string]struct{})
	for _, row := range rows {
		date, _, _ := splitSK(row.SK, models.RollupStatsPrefix)
		stats.Daily[date] += row.Requests
		stats.TotalRequests += row.Requests
		for _, ip := range row.UniqueIPs {
			visitors[ip] = struct{}{}
		}
	}
	stats.UniqueVisitors = len(visitors)
	return stats, nil
}

// buildTop aggregates a dimensioned family (pages or referrers) across the
// window and keeps the top entries by count, descending. Ties break on the
// dimension value so output is deterministic.
func (b *Builder) buildTop(ctx context.Context, domain, prefix, fromDate string) ([]dimCount, error) {
	rows, err := b.readRollups(ctx, domain, prefix, fromDate)
	if err != nil {
		return nil, err
	}

	totals := make(map[string]int64)
	for _, row := range rows {
		_, dim, ok := splitSK(row.SK, prefix)
		if !ok || dim == "" {
			continue
		}
		totals[dim] += row.Count
	}

	entries := make([]dimCount, 0, len(totals))
	for dim, count := range totals {
		entries = append(entries, dimCount{dim: dim, count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].dim < entries[j].dim
	})
	if len(entries) > topN {
		entries = entries[:topN]
	}
	return entries, nil
}

func (b *Builder) buildHours(ctx context.Context, domain, fromDate string) (*models.HoursCache, error) {
	rows, err := b.readRollups(ctx, domain, models.RollupHourPrefix, fromDate)
	if err != nil {
		return nil, err
	}

	// All 24 hour keys are always present so chart rendering never has to
	// fill gaps.
	hours := &models.HoursCache{Hourly: make(map[string]int64, 24)}
	for h := 0; h < 24; h++ {
		hours.Hourly[fmt.Sprintf("%02d", h)] = 0
	}

	for _, row := range rows {
		_, hour, ok := splitSK(row.SK, models.RollupHourPrefix)
		if !ok || hour == "" {
			continue
		}
		hours.Hourly[hour] += row.Count
		hours.Total += row.Count
	}

	// Peak is the argmax; ties resolve to the earliest hour.
	peak, best := "00", int64(-1)
	for h := 0; h < 24; h++ {
		key := fmt.Sprintf("%02d", h)
		if hours.Hourly[key] > best {
			peak, best = key, hours.Hourly[key]
		}
	}
	hours.PeakHour = peak
	return hours, nil
}

type dimCount struct {
	dim   string
	count int64
}

func pagesPayload(entries []dimCount) *models.PagesCache {
	out := &models.PagesCache{Pages: make([]models.PageCount, 0, len(entries))}
	for _, e := range entries {
		out.Pages = append(out.Pages, models.PageCount{Path: e.dim, Count: e.count})
	}
	return out
}

func referrersPayload(entries []dimCount) *models.ReferrersCache {
	out := &models.ReferrersCache{Referrers: make([]models.ReferrerCount, 0, len(entries))}
	for _, e := range entries {
		out.Referrers = append(out.Referrers, models.ReferrerCount{Domain: e.dim, Count: e.count})
	}
	return out
}

// writeCache serializes one payload and overwrites the domain's cache row.
func (b *Builder) writeCache(ctx context.Context, domain, cacheType string, payload any, fromDate, toDate string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s cache for %s: %w", cacheType, domain, err)
	}

	now := b.now().UTC()
	row := models.CacheRow{
		PK:       models.CachePK(domain),
		SK:       cacheType,
		Data:     string(data),
		FromDate: fromDate,
		ToDate:   toDate,
		BuiltAt:  now.Format(time.RFC3339),
		TTL:      now.Add(b.cacheTTL).Unix(),
	}

	item, err := attributevalue.MarshalMap(row)
	if err != nil {
		return fmt.Errorf("failed to marshal cache row: %w", err)
	}
	return b.store.PutItem(ctx, item)
}

// OutcomeOps Analytics - Serverless Web Analytics Pipeline
// Copyright 2026 OutcomeOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outcomeops/analytics

package rollup

import (
	"context"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/outcomeops/analytics/internal/logging"
	"github.com/outcomeops/analytics/internal/metrics"
	"github.com/outcomeops/analytics/internal/models"
	"github.com/outcomeops/analytics/internal/store"
)

// Rollup family labels, used in logs and metrics.
const (
	familyStats = "stats"
	familyPage  = "page"
	familyRef   = "ref"
	familyHour  = "hour"
)

// Updater is the store surface the writer needs.
type Updater interface {
	UpdateAdd(ctx context.Context, pk, sk string, spec store.AddSpec) error
}

// Writer applies accumulated rollups to the store. A failed update is
// logged at WARN, counted, and skipped: it degrades that one counter but
// never corrupts the others or fails the invocation. A run of consecutive
// store failures opens the circuit breaker so a struggling table is not
// hammered with the remaining updates.
type Writer struct {
	store   Updater
	breaker *gobreaker.CircuitBreaker[any]

	// now is swappable in tests; ttl stamps derive from it.
	now func() time.Time
}

// NewWriter returns a Writer over the given store.
func NewWriter(updater Updater) *Writer {
	settings := gobreaker.Settings{
		Name:    "rollup-updates",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("rollup circuit breaker state change")
		},
	}

	return &Writer{
		store:   updater,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
		now:     time.Now,
	}
}

// Flush is phase two: one atomic ADD per distinct rollup key. The ttl is
// re-stamped on every touched row. Flush never returns an error; partial
// loss is observable through rollup_update_failures_total.
func (w *Writer) Flush(ctx context.Context, acc *Accumulator) {
	if acc.Empty() {
		return
	}

	ttl := w.now().UTC().Add(models.TTLDays * 24 * time.Hour).Unix()

	for key, agg := range acc.daily {
		spec := store.AddSpec{
			Counters: map[string]int64{"requests": agg.requests},
			TTL:      ttl,
		}
		if len(agg.ips) > 0 {
			ips := make([]string, 0, len(agg.ips))
			for ip := range agg.ips {
				ips = append(ips, ip)
			}
			spec.StringSets = map[string][]string{"unique_ips": ips}
		}
		w.apply(ctx, familyStats, models.RollupPK(key.domain), models.StatsSK(key.date), spec)
	}

	for key, count := range acc.pages {
		w.apply(ctx, familyPage, models.RollupPK(key.domain), models.PageSK(key.date, key.path), countSpec(count, ttl))
	}

	for key, count := range acc.refs {
		w.apply(ctx, familyRef, models.RollupPK(key.domain), models.RefSK(key.date, key.referrer), countSpec(count, ttl))
	}

	for key, count := range acc.hours {
		w.apply(ctx, familyHour, models.RollupPK(key.domain), models.HourSK(key.date, key.hour), countSpec(count, ttl))
	}

	daily, pages, refs, hours := acc.Size()
	logging.Info().
		Int("daily", daily).
		Int("pages", pages).
		Int("referrers", refs).
		Int("hours", hours).
		Msg("updated rollups")
}

func (w *Writer) apply(ctx context.Context, family, pk, sk string, spec store.AddSpec) {
	_, err := w.breaker.Execute(func() (any, error) {
		return nil, w.store.UpdateAdd(ctx, pk, sk, spec)
	})
	metrics.RecordRollupUpdate(family, err)
	if err != nil {
		logging.Warn().
			Err(err).
			Str("family", family).
			Str("pk", pk).
			Str("sk", sk).
			Msg("failed to update rollup")
	}
}

func countSpec(count, ttl int64) store.AddSpec {
	return store.AddSpec{
		Counters: map[string]int64{"count": count},
		TTL:      ttl,
	}
}

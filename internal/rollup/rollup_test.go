// OutcomeOps Analytics - Serverless Web Analytics Pipeline
// Copyright 2026 OutcomeOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outcomeops/analytics

package rollup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outcomeops/analytics/internal/models"
	"github.com/outcomeops/analytics/internal/store"
)

// memUpdater applies ADD semantics in memory, mirroring the store's
// commutative counter contract.
type memUpdater struct {
	counters map[string]map[string]int64
	sets     map[string]map[string]map[string]struct{}
	failOn   map[string]error
	calls    int
}

func newMemUpdater() *memUpdater {
	return &memUpdater{
		counters: make(map[string]map[string]int64),
		sets:     make(map[string]map[string]map[string]struct{}),
		failOn:   make(map[string]error),
	}
}

func (m *memUpdater) UpdateAdd(_ context.Context, pk, sk string, spec store.AddSpec) error {
	m.calls++
	rowKey := pk + "|" + sk
	if err := m.failOn[rowKey]; err != nil {
		return err
	}

	if m.counters[rowKey] == nil {
		m.counters[rowKey] = make(map[string]int64)
	}
	for attr, n := range spec.Counters {
		m.counters[rowKey][attr] += n
	}

	if m.sets[rowKey] == nil {
		m.sets[rowKey] = make(map[string]map[string]struct{})
	}
	for attr, members := range spec.StringSets {
		if m.sets[rowKey][attr] == nil {
			m.sets[rowKey][attr] = make(map[string]struct{})
		}
		for _, member := range members {
			m.sets[rowKey][attr][member] = struct{}{}
		}
	}
	return nil
}

func event(domain, date, hour, path, referrerDomain, ip string) *models.RequestEvent {
	return &models.RequestEvent{
		Domain:         domain,
		Date:           date,
		Timestamp:      date + "T" + hour + ":00:00Z",
		Path:           path,
		Status:         "200",
		RequestID:      "r",
		ReferrerDomain: referrerDomain,
		ClientIP:       ip,
	}
}

func TestFlushWritesAllFamilies(t *testing.T) {
	acc := NewAccumulator()
	acc.Add(event("myfantasy.ai", "2024-01-15", "12", "/", "google.com", "1.2.3.4"))

	m := newMemUpdater()
	NewWriter(m).Flush(context.Background(), acc)

	assert.Equal(t, int64(1), m.counters["ROLLUP#myfantasy.ai|STATS#2024-01-15"]["requests"])
	assert.Equal(t, int64(1), m.counters["ROLLUP#myfantasy.ai|PAGE#2024-01-15#/"]["count"])
	assert.Equal(t, int64(1), m.counters["ROLLUP#myfantasy.ai|REF#2024-01-15#google.com"]["count"])
	assert.Equal(t, int64(1), m.counters["ROLLUP#myfantasy.ai|HOUR#2024-01-15#12"]["count"])
	assert.Contains(t, m.sets["ROLLUP#myfantasy.ai|STATS#2024-01-15"]["unique_ips"], "1.2.3.4")
}

func TestSelfReferralProducesNoRefDelta(t *testing.T) {
	acc := NewAccumulator()
	// ReferrerDomain empty = self-referral or no referrer.
	acc.Add(event("myfantasy.ai", "2024-01-15", "12", "/", "", "1.2.3.4"))

	m := newMemUpdater()
	NewWriter(m).Flush(context.Background(), acc)

	for rowKey := range m.counters {
		assert.NotContains(t, rowKey, "REF#")
	}
	// stats + page + hour, no ref.
	assert.Equal(t, 3, m.calls)
}

func TestAccumulatorAggregatesLocally(t *testing.T) {
	acc := NewAccumulator()
	for i := 0; i < 5; i++ {
		acc.Add(event("d", "2024-01-15", "12", "/", "", "1.1.1.1"))
	}
	acc.Add(event("d", "2024-01-15", "12", "/", "", "2.2.2.2"))

	m := newMemUpdater()
	NewWriter(m).Flush(context.Background(), acc)

	// Six events collapse to one update per distinct key: stats + page + hour.
	assert.Equal(t, 3, m.calls)
	assert.Equal(t, int64(6), m.counters["ROLLUP#d|STATS#2024-01-15"]["requests"])
	assert.Equal(t, int64(6), m.counters["ROLLUP#d|PAGE#2024-01-15#/"]["count"])
	assert.Len(t, m.sets["ROLLUP#d|STATS#2024-01-15"]["unique_ips"], 2)
}

func TestRollupCommutativity(t *testing.T) {
	// Processing (A then B) and (B then A) must converge to identical
	// counters and identical unique_ips.
	a := []*models.RequestEvent{
		event("d", "2024-01-15", "10", "/", "google.com", "1.1.1.1"),
		event("d", "2024-01-15", "11", "/about", "", "2.2.2.2"),
	}
	b := []*models.RequestEvent{
		event("d", "2024-01-15", "10", "/", "", "1.1.1.1"),
		event("d", "2024-01-15", "23", "/pricing", "news.ycombinator.com", "3.3.3.3"),
	}

	flush := func(batches ...[]*models.RequestEvent) *memUpdater {
		m := newMemUpdater()
		w := NewWriter(m)
		for _, batch := range batches {
			acc := NewAccumulator()
			for _, e := range batch {
				acc.Add(e)
			}
			w.Flush(context.Background(), acc)
		}
		return m
	}

	ab := flush(a, b)
	ba := flush(b, a)

	assert.Equal(t, ab.counters, ba.counters)
	assert.Equal(t, ab.sets, ba.sets)
}

func TestFlushToleratesSingleFailure(t *testing.T) {
	acc := NewAccumulator()
	acc.Add(event("d", "2024-01-15", "12", "/", "google.com", "1.2.3.4"))

	m := newMemUpdater()
	m.failOn["ROLLUP#d|PAGE#2024-01-15#/"] = errors.New("throttled")

	NewWriter(m).Flush(context.Background(), acc)

	// The failed page counter is skipped; the others still land.
	assert.Equal(t, int64(1), m.counters["ROLLUP#d|STATS#2024-01-15"]["requests"])
	assert.Equal(t, int64(1), m.counters["ROLLUP#d|HOUR#2024-01-15#12"]["count"])
	assert.Equal(t, int64(1), m.counters["ROLLUP#d|REF#2024-01-15#google.com"]["count"])
	_, pageWritten := m.counters["ROLLUP#d|PAGE#2024-01-15#/"]
	assert.False(t, pageWritten)
}

func TestFlushEmptyAccumulatorIsNoop(t *testing.T) {
	m := newMemUpdater()
	NewWriter(m).Flush(context.Background(), NewAccumulator())
	assert.Zero(t, m.calls)
}

func TestAccumulatorHourDefaults(t *testing.T) {
	acc := NewAccumulator()
	acc.Add(&models.RequestEvent{
		Domain:    "d",
		Date:      "2024-01-15",
		Timestamp: "2024-01-15", // too short to carry an hour
		Path:      "/",
	})

	m := newMemUpdater()
	NewWriter(m).Flush(context.Background(), acc)

	require.Contains(t, m.counters, "ROLLUP#d|HOUR#2024-01-15#00")
}

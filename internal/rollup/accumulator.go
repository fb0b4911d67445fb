// OutcomeOps Analytics - Serverless Web Analytics Pipeline
// Copyright 2026 OutcomeOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outcomeops/analytics

// Package rollup pre-aggregates request events per log object and applies
// the result to per-domain rollup rows with atomic additive updates.
//
// Two phases keep the hot-row update count minimal: phase one accumulates
// in memory (single writer, no locking), phase two issues one ADD per
// distinct rollup key. Because every remote mutation is commutative and
// associative, concurrent invocations over different objects converge to
// correct totals without coordination.
package rollup

import "github.com/outcomeops/analytics/internal/models"

type dailyKey struct {
	domain, date string
}

type pageKey struct {
	domain, date, path string
}

type refKey struct {
	domain, date, referrer string
}

type hourKey struct {
	domain, date, hour string
}

type dailyAgg struct {
	requests int64
	ips      map[string]struct{}
}

// Accumulator is the phase-one in-memory aggregate for one log object.
// It is single-writer: the invocation that created it.
type Accumulator struct {
	daily map[dailyKey]*dailyAgg
	pages map[pageKey]int64
	refs  map[refKey]int64
	hours map[hourKey]int64
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		daily: make(map[dailyKey]*dailyAgg),
		pages: make(map[pageKey]int64),
		refs:  make(map[refKey]int64),
		hours: make(map[hourKey]int64),
	}
}

// Add folds one event into all four rollup families. Referrer counts are
// only kept for external referrers.
func (a *Accumulator) Add(e *models.RequestEvent) {
	day := a.daily[dailyKey{e.Domain, e.Date}]
	if day == nil {
		day = &dailyAgg{ips: make(map[string]struct{})}
		a.daily[dailyKey{e.Domain, e.Date}] = day
	}
	day.requests++
	if e.ClientIP != "" {
		day.ips[e.ClientIP] = struct{}{}
	}

	a.pages[pageKey{e.Domain, e.Date, e.Path}]++
	if e.ReferrerDomain != "" {
		a.refs[refKey{e.Domain, e.Date, e.ReferrerDomain}]++
	}
	a.hours[hourKey{e.Domain, e.Date, models.HourOf(e.Timestamp)}]++
}

// Empty reports whether nothing was accumulated.
func (a *Accumulator) Empty() bool {
	return len(a.daily) == 0 && len(a.pages) == 0 && len(a.refs) == 0 && len(a.hours) == 0
}

// Size returns the distinct rollup key count per family, for logging.
func (a *Accumulator) Size() (daily, pages, refs, hours int) {
	return len(a.daily), len(a.pages), len(a.refs), len(a.hours)
}

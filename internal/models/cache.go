// OutcomeOps Analytics - Serverless Web Analytics Pipeline
// Copyright 2026 OutcomeOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outcomeops/analytics

package models

// Cache payloads are serialized as the opaque JSON "data" blob of cache
// rows. The query API deserializes them back; the ingestion core never
// reads them.

// StatsCache is the "stats" cache payload.
type StatsCache struct {
	TotalRequests  int64            `json:"total_requests"`
	UniqueVisitors int              `json:"unique_visitors"`
	Daily          map[string]int64 `json:"daily"`
}

// PageCount is one entry of the "pages" cache payload.
type PageCount struct {
	Path  string `json:"path"`
	Count int64  `json:"count"`
}

// PagesCache is the "pages" cache payload (top pages, descending).
type PagesCache struct {
	Pages []PageCount `json:"pages"`
}

// ReferrerCount is one entry of the "referrers" cache payload.
type ReferrerCount struct {
	Domain string `json:"domain"`
	Count  int64  `json:"count"`
}

// ReferrersCache is the "referrers" cache payload (top referrers,
// descending).
type ReferrersCache struct {
	Referrers []ReferrerCount `json:"referrers"`
}

// HoursCache is the "hours" cache payload. Hourly always carries all 24
// two-digit hour keys; PeakHour is the argmax and Total the sum.
type HoursCache struct {
	Hourly   map[string]int64 `json:"hourly"`
	PeakHour string           `json:"peak_hour"`
	Total    int64            `json:"total"`
}

// CacheRow is the stored shape of a cache row, shared by the builder
// (write side) and the query API (read side).
type CacheRow struct {
	PK       string `dynamodbav:"PK"`
	SK       string `dynamodbav:"SK"`
	Data     string `dynamodbav:"data"`
	FromDate string `dynamodbav:"from_date"`
	ToDate   string `dynamodbav:"to_date"`
	BuiltAt  string `dynamodbav:"built_at"`
	TTL      int64  `dynamodbav:"ttl"`
}

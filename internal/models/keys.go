// OutcomeOps Analytics - Serverless Web Analytics Pipeline
// Copyright 2026 OutcomeOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outcomeops/analytics

// Package models defines the event-store row families shared by the log
// parser, journey tracker, cache builder and query API: per-request event
// rows, session event rows, additive rollup rows and derived cache rows.
package models

import "fmt"

// TTLDays is the retention window for event and rollup rows.
const TTLDays = 90

// Rollup sort-key family prefixes under PK "ROLLUP#{domain}".
const (
	RollupStatsPrefix = "STATS#"
	RollupPagePrefix  = "PAGE#"
	RollupRefPrefix   = "REF#"
	RollupHourPrefix  = "HOUR#"
)

// Cache sort keys under PK "CACHE#{domain}".
const (
	CacheTypeStats     = "stats"
	CacheTypePages     = "pages"
	CacheTypeReferrers = "referrers"
	CacheTypeHours     = "hours"
)

// EventPK returns the partition key of a request event row.
func EventPK(domain, date string) string {
	return domain + "#" + date
}

// EventSK returns the sort key of a request event row.
func EventSK(timestamp, requestID string) string {
	return timestamp + "#" + requestID
}

// RollupPK returns the partition key of a domain's rollup rows.
func RollupPK(domain string) string {
	return "ROLLUP#" + domain
}

// StatsSK returns the daily-stats rollup sort key.
func StatsSK(date string) string {
	return RollupStatsPrefix + date
}

// PageSK returns the page-count rollup sort key.
func PageSK(date, path string) string {
	return fmt.Sprintf("%s%s#%s", RollupPagePrefix, date, path)
}

// RefSK returns the referrer-count rollup sort key.
func RefSK(date, referrerDomain string) string {
	return fmt.Sprintf("%s%s#%s", RollupRefPrefix, date, referrerDomain)
}

// HourSK returns the hourly-count rollup sort key. hour is the two-digit
// UTC hour.
func HourSK(date, hour string) string {
	return fmt.Sprintf("%s%s#%s", RollupHourPrefix, date, hour)
}

// CachePK returns the partition key of a domain's cache rows.
func CachePK(domain string) string {
	return "CACHE#" + domain
}

// SessionPK returns the partition key of a session's event rows.
func SessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

// SessionSK returns the sort key of a session event row.
func SessionSK(timestamp, eventID string) string {
	return fmt.Sprintf("EVENT#%s#%s", timestamp, eventID)
}

// SessionDayPK returns the GSI1 partition key listing a domain's sessions
// for one day.
func SessionDayPK(domain, date string) string {
	return fmt.Sprintf("DOMAIN#%s#DATE#%s", domain, date)
}

// SessionPathPK returns the GSI2 partition key listing a domain's events
// for one path.
func SessionPathPK(domain, path string) string {
	return fmt.Sprintf("DOMAIN#%s#PATH#%s", domain, path)
}

// DateOf derives the YYYY-MM-DD date from an ISO-8601 timestamp. Returns
// false if the timestamp is too short to carry a date.
func DateOf(timestamp string) (string, bool) {
	if len(timestamp) < 10 {
		return "", false
	}
	return timestamp[:10], true
}

// HourOf derives the two-digit UTC hour from an ISO-8601 timestamp,
// defaulting to "00" for short values.
func HourOf(timestamp string) string {
	if len(timestamp) < 13 {
		return "00"
	}
	return timestamp[11:13]
}

// OutcomeOps Analytics - Serverless Web Analytics Pipeline
// Copyright 2026 OutcomeOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outcomeops/analytics

// Package logparser translates edge-CDN access log lines into normalized
// request events, and filters out paths that carry no analytics value.
//
// The CDN log format is tab-separated with a fixed column layout:
//
//	date time x-edge-location sc-bytes c-ip cs-method cs(Host) cs-uri-stem
//	sc-status cs(Referer) cs(User-Agent) cs-uri-query cs(Cookie)
//	x-edge-result-type x-edge-request-id ...
//
// Only the columns the data model needs are consumed; everything else is
// ignored so format additions at the tail never break the parser.
package logparser

import (
	"net/url"
	"strings"

	"github.com/outcomeops/analytics/internal/models"
)

// minFields is the shortest line the parser accepts. The CDN writes 33
// columns; 20 covers every consumed position with margin for older
// format versions.
const minFields = 20

// Consumed 0-based column positions.
const (
	fieldDate      = 0
	fieldTime      = 1
	fieldClientIP  = 4
	fieldHost      = 6
	fieldURIStem   = 7
	fieldStatus    = 8
	fieldReferer   = 9
	fieldUserAgent = 10
	fieldRequestID = 14
)

// SkipReason says why a line produced no event.
type SkipReason string

const (
	// SkipNone marks a successfully parsed line.
	SkipNone SkipReason = ""

	// SkipComment marks a #-prefixed header line.
	SkipComment SkipReason = "comment"

	// SkipMalformed marks a structurally invalid line.
	SkipMalformed SkipReason = "malformed"
)

// ParseLine parses one log line into a request event. A nil event means
// the line was skipped; the reason distinguishes headers from damage.
// A parse failure never aborts the surrounding object.
func ParseLine(line string) (*models.RequestEvent, SkipReason) {
	if strings.HasPrefix(line, "#") {
		return nil, SkipComment
	}

	fields := strings.Split(strings.TrimSpace(line), "\t")
	if len(fields) < minFields {
		return nil, SkipMalformed
	}

	date := fields[fieldDate]
	timestamp := date + "T" + fields[fieldTime] + "Z"

	event := &models.RequestEvent{
		Domain:    fields[fieldHost],
		Timestamp: timestamp,
		Date:      date,
		Path:      unescape(fields[fieldURIStem]),
		Status:    fields[fieldStatus],
		ClientIP:  fields[fieldClientIP],
		RequestID: optional(fields[fieldRequestID]),
		UserAgent: optional(fields[fieldUserAgent]),
	}

	if referer := optional(fields[fieldReferer]); referer != "" {
		event.Referrer = unescape(referer)
		event.ReferrerDomain = referrerDomain(event.Referrer, fields[fieldHost])
	}

	return event, SkipNone
}

// optional maps the CDN's "-" placeholder to absent.
func optional(field string) string {
	if field == "-" {
		return ""
	}
	return field
}

// unescape URL-decodes a field, keeping the raw value when the escaping
// is damaged. A mangled path is still countable.
func unescape(s string) string {
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}

// referrerDomain derives the external referrer host: the referrer URL's
// host lowercased with a leading "www." stripped. Self-referrals (the
// normalized referrer host equals the normalized event host) yield empty,
// as do unparseable referrers.
func referrerDomain(referrer, host string) string {
	u, err := url.Parse(referrer)
	if err != nil {
		return ""
	}

	refHost := normalizeHost(u.Host)
	if refHost == "" || refHost == normalizeHost(host) {
		return ""
	}
	return refHost
}

// normalizeHost lowercases and strips a leading "www." so that
// www.example.com and example.com compare equal.
func normalizeHost(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}

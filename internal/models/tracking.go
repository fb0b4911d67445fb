// OutcomeOps Analytics - Serverless Web Analytics Pipeline
// Copyright 2026 OutcomeOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outcomeops/analytics

package models

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Session event kinds. EventType is the discriminator of the tagged
// session event record; optional attributes are present only for their
// applicable kinds (scroll_depth on scroll, time_on_page on time_on_page,
// is_ai_pattern/matched_pattern on not_found).
const (
	EventSessionStart = "session_start"
	EventPageview     = "pageview"
	EventNavigation   = "navigation"
	EventScroll       = "scroll"
	EventTimeOnPage   = "time_on_page"
	EventSessionEnd   = "session_end"
	EventNotFound     = "not_found"
)

// TrackingEvent is one client-emitted journey event as received on the
// wire. Pointer fields distinguish absent from zero.
type TrackingEvent struct {
	SessionID string `json:"session_id" validate:"required"`
	EventType string `json:"event_type" validate:"required,oneof=session_start pageview navigation scroll time_on_page session_end not_found"`
	Domain    string `json:"domain" validate:"required"`
	Path      string `json:"path" validate:"required"`

	// Timestamp and EventID are filled in server-side when absent.
	Timestamp string `json:"timestamp,omitempty"`
	EventID   string `json:"event_id,omitempty"`

	Referrer     string `json:"referrer,omitempty"`
	PreviousPath string `json:"previous_path,omitempty"`
	UserAgent    string `json:"user_agent,omitempty"`

	ScrollDepth    *int `json:"scroll_depth,omitempty"`
	TimeOnPage     *int `json:"time_on_page,omitempty"`
	ScreenWidth    *int `json:"screen_width,omitempty"`
	ScreenHeight   *int `json:"screen_height,omitempty"`
	ViewportWidth  *int `json:"viewport_width,omitempty"`
	ViewportHeight *int `json:"viewport_height,omitempty"`

	// AI-crawler hallucination detection, reported on not_found events.
	IsAIPattern    *bool  `json:"is_ai_pattern,omitempty"`
	MatchedPattern string `json:"matched_pattern,omitempty"`
}

// sessionItem is the stored shape of a session event row.
type sessionItem struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`

	// GSI1 lists a domain's sessions per day; GSI2 lists events per path.
	GSI1PK string `dynamodbav:"GSI1PK"`
	GSI1SK string `dynamodbav:"GSI1SK"`
	GSI2PK string `dynamodbav:"GSI2PK"`
	GSI2SK string `dynamodbav:"GSI2SK"`

	SessionID string `dynamodbav:"session_id"`
	EventType string `dynamodbav:"event_type"`
	Domain    string `dynamodbav:"domain"`
	Path      string `dynamodbav:"path"`
	Timestamp string `dynamodbav:"timestamp"`
	TTL       int64  `dynamodbav:"ttl"`

	Referrer       string `dynamodbav:"referrer,omitempty"`
	PreviousPath   string `dynamodbav:"previous_path,omitempty"`
	UserAgent      string `dynamodbav:"user_agent,omitempty"`
	ScrollDepth    *int   `dynamodbav:"scroll_depth,omitempty"`
	TimeOnPage     *int   `dynamodbav:"time_on_page,omitempty"`
	ScreenWidth    *int   `dynamodbav:"screen_width,omitempty"`
	ScreenHeight   *int   `dynamodbav:"screen_height,omitempty"`
	ViewportWidth  *int   `dynamodbav:"viewport_width,omitempty"`
	ViewportHeight *int   `dynamodbav:"viewport_height,omitempty"`
	IsAIPattern    *bool  `dynamodbav:"is_ai_pattern,omitempty"`
	MatchedPattern string `dynamodbav:"matched_pattern,omitempty"`
}

// Item marshals the tracking event into its session row. The caller must
// have enriched Timestamp and EventID first; date is derived by the caller
// so malformed client timestamps fall back consistently.
func (e *TrackingEvent) Item(date string, ttl int64) (map[string]types.AttributeValue, error) {
	item := sessionItem{
		PK:     SessionPK(e.SessionID),
		SK:     SessionSK(e.Timestamp, e.EventID),
		GSI1PK: SessionDayPK(e.Domain, date),
		GSI1SK: SessionPK(e.SessionID),
		GSI2PK: SessionPathPK(e.Domain, e.Path),
		GSI2SK: e.Timestamp,

		SessionID: e.SessionID,
		EventType: e.EventType,
		Domain:    e.Domain,
		Path:      e.Path,
		Timestamp: e.Timestamp,
		TTL:       ttl,

		Referrer:       e.Referrer,
		PreviousPath:   e.PreviousPath,
		UserAgent:      e.UserAgent,
		ScrollDepth:    e.ScrollDepth,
		TimeOnPage:     e.TimeOnPage,
		ScreenWidth:    e.ScreenWidth,
		ScreenHeight:   e.ScreenHeight,
		ViewportWidth:  e.ViewportWidth,
		ViewportHeight: e.ViewportHeight,
		IsAIPattern:    e.IsAIPattern,
		MatchedPattern: e.MatchedPattern,
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session event %s/%s: %w", item.PK, item.SK, err)
	}
	return av, nil
}

// SessionEvent is the stored shape read back by the query API.
type SessionEvent struct {
	SessionID  string `dynamodbav:"session_id" json:"session_id"`
	EventType  string `dynamodbav:"event_type" json:"event_type"`
	Domain     string `dynamodbav:"domain" json:"domain"`
	Path       string `dynamodbav:"path" json:"path"`
	Timestamp  string `dynamodbav:"timestamp" json:"timestamp"`
	Referrer   string `dynamodbav:"referrer" json:"referrer,omitempty"`
	TimeOnPage int    `dynamodbav:"time_on_page" json:"time_on_page,omitempty"`
}

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

// RequestEvent is one normalized edge-CDN request, the output of the log
// line parser. Optional attributes are empty strings when absent.
type RequestEvent struct {
	// Domain is the canonical site domain. The parser fills in the CDN
	// host header; the ingestion controller overwrites it with the
	// domain derived from the object key.
	Domain string

	// Timestamp is ISO-8601 with a trailing Z; Date is Timestamp[0:10].
	Timestamp string
	Date      string

	Path      string
	Status    string
	RequestID string

	Referrer string

	// ReferrerDomain is the normalized external referrer host. Empty for
	// missing referrers and self-referrals.
	ReferrerDomain string

	UserAgent string
	ClientIP  string
}

// eventItem is the stored shape of a request event row.
type eventItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	Domain    string `dynamodbav:"domain"`
	Timestamp string `dynamodbav:"timestamp"`
	Path      string `dynamodbav:"path"`
	Status    string `dynamodbav:"status"`
	RequestID string `dynamodbav:"request_id"`
	TTL       int64  `dynamodbav:"ttl"`

	// GSI1 serves per-path queries.
	GSI1PK string `dynamodbav:"GSI1PK"`
	GSI1SK string `dynamodbav:"GSI1SK"`

	// GSI2 serves per-referrer queries; set only for external referrers.
	GSI2PK string `dynamodbav:"GSI2PK,omitempty"`
	GSI2SK string `dynamodbav:"GSI2SK,omitempty"`

	Referrer       string `dynamodbav:"referrer,omitempty"`
	ReferrerDomain string `dynamodbav:"referrer_domain,omitempty"`
	UserAgent      string `dynamodbav:"user_agent,omitempty"`
	ClientIP       string `dynamodbav:"client_ip,omitempty"`
}

// Item marshals the event into its store row. ttl is the absolute expiry
// in epoch seconds. The (PK, SK) pair is unique per request, which is what
// makes replayed writes collapse into the same row.
func (e *RequestEvent) Item(ttl int64) (map[string]types.AttributeValue, error) {
	item := eventItem{
		PK:        EventPK(e.Domain, e.Date),
		SK:        EventSK(e.Timestamp, e.RequestID),
		Domain:    e.Domain,
		Timestamp: e.Timestamp,
		Path:      e.Path,
		Status:    e.Status,
		RequestID: e.RequestID,
		TTL:       ttl,
		GSI1PK:    e.Domain + "#" + e.Path,
		GSI1SK:    e.Timestamp,

		Referrer:  e.Referrer,
		UserAgent: e.UserAgent,
		ClientIP:  e.ClientIP,
	}

	if e.ReferrerDomain != "" {
		item.ReferrerDomain = e.ReferrerDomain
		item.GSI2PK = e.Domain + "#" + e.ReferrerDomain
		item.GSI2SK = e.Timestamp
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event %s/%s: %w", item.PK, item.SK, err)
	}
	return av, nil
}

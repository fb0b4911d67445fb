// OutcomeOps Analytics - Serverless Web Analytics Pipeline
// Copyright 2026 OutcomeOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outcomeops/analytics

// Package ingest drives the log ingestion pipeline: each delivered log
// object is fetched and decoded, parsed line by line, filtered, written to
// the event store in batches, and folded into per-domain rollups.
package ingest

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/outcomeops/analytics/internal/logging"
	"github.com/outcomeops/analytics/internal/logparser"
	"github.com/outcomeops/analytics/internal/metrics"
	"github.com/outcomeops/analytics/internal/models"
	"github.com/outcomeops/analytics/internal/rollup"
)

// Fetcher is the blob surface the controller needs.
type Fetcher interface {
	Fetch(ctx context.Context, bucket, key string) ([]byte, error)
}

// EventWriter is the store surface the controller needs.
type EventWriter interface {
	BatchPutItems(ctx context.Context, items []map[string]types.AttributeValue) (int, error)
}

// Flusher applies an accumulated rollup delta.
type Flusher interface {
	Flush(ctx context.Context, acc *rollup.Accumulator)
}

// Controller processes delivered log objects. Event writes and blob reads
// are all-or-nothing per invocation: an error fails the invocation so the
// platform redelivers, and unique event keys make the replay idempotent.
// Rollup updates are best-effort and never fail the invocation.
type Controller struct {
	reader  Fetcher
	writer  EventWriter
	rollups Flusher
	filter  *logparser.PathFilter

	// now is swappable in tests; ttl stamps derive from it.
	now func() time.Time
}

// New wires a controller from its collaborators.
func New(reader Fetcher, writer EventWriter, rollups Flusher, filter *logparser.PathFilter) *Controller {
	return &Controller{
		reader:  reader,
		writer:  writer,
		rollups: rollups,
		filter:  filter,
		now:     time.Now,
	}
}

// ProcessRecords handles one delivery notification, which may carry
// multiple object records. The first fatal error aborts the invocation;
// objects already processed replay harmlessly on redelivery.
func (c *Controller) ProcessRecords(ctx context.Context, event events.S3Event) error {
	for _, record := range event.Records {
		bucket := record.S3.Bucket.Name
		key := decodeKey(record.S3.Object.Key)

		// The object key carries the canonical site domain; the Host
		// column inside the log is the CDN distribution hostname, so the
		// key wins. A key without a domain segment is not ours to parse.
		domain := logparser.DomainFromKey(key)
		if domain == "" {
			logging.Warn().Str("bucket", bucket).Str("key", key).Msg("object key has no domain segment, skipping")
			continue
		}

		if err := c.processObject(ctx, bucket, key, domain); err != nil {
			return fmt.Errorf("failed to process %s/%s: %w", bucket, key, err)
		}
	}
	return nil
}

func (c *Controller) processObject(ctx context.Context, bucket, key, domain string) error {
	started := c.now()

	content, err := c.reader.Fetch(ctx, bucket, key)
	if err != nil {
		return err
	}

	kept, parsed, skipped := c.parseObject(string(content), domain)

	written, err := c.writeEvents(ctx, kept)
	if err != nil {
		return err
	}

	acc := rollup.NewAccumulator()
	for _, e := range kept {
		acc.Add(e)
	}
	c.rollups.Flush(ctx, acc)

	metrics.RecordObjectProcessed(c.now().Sub(started))
	logging.Info().
		Str("bucket", bucket).
		Str("key", key).
		Str("domain", domain).
		Int("parsed", parsed).
		Int("skipped", skipped).
		Int("written", written).
		Msg("processed log object")
	return nil
}

// parseObject parses every line of a decoded object, overwriting the
// parser's host-derived domain with the key-derived one and dropping
// filtered paths.
func (c *Controller) parseObject(content, domain string) (kept []*models.RequestEvent, parsed, skipped int) {
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}

		event, reason := logparser.ParseLine(line)
		if event == nil {
			skipped++
			metrics.LogLinesSkipped.WithLabelValues(string(reason)).Inc()
			if reason == logparser.SkipMalformed {
				logging.Debug().Str("line", truncate(line, 200)).Msg("skipped malformed log line")
			}
			continue
		}
		parsed++
		metrics.LogLinesParsed.Inc()

		if c.filter.Exclude(event.Path) {
			skipped++
			metrics.LogLinesSkipped.WithLabelValues("filtered").Inc()
			continue
		}

		event.Domain = domain
		kept = append(kept, event)
	}
	return kept, parsed, skipped
}

// writeEvents marshals and batch-puts the kept events with the retention
// ttl. A write failure is fatal: the invocation fails and the platform
// redelivers the whole object.
func (c *Controller) writeEvents(ctx context.Context, events []*models.RequestEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	ttl := c.now().UTC().Add(models.TTLDays * 24 * time.Hour).Unix()
	items := make([]map[string]types.AttributeValue, 0, len(events))
	for _, e := range events {
		item, err := e.Item(ttl)
		if err != nil {
			return 0, err
		}
		items = append(items, item)
	}

	written, err := c.writer.BatchPutItems(ctx, items)
	if err != nil {
		metrics.EventWriteErrors.Inc()
		return written, err
	}
	metrics.EventsWritten.Add(float64(written))
	return written, nil
}

// decodeKey undoes the URL encoding delivery notifications apply to object
// keys, where spaces arrive as "+". An undecodable key is used raw.
func decodeKey(key string) string {
	decoded, err := url.QueryUnescape(key)
	if err != nil {
		return key
	}
	return decoded
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

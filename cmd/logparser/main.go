// OutcomeOps Analytics - Serverless Web Analytics Pipeline
// Copyright 2026 OutcomeOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outcomeops/analytics

// Package main is the log ingestion Lambda. The CDN delivers gzipped
// access logs to the log bucket; each delivery notification invokes this
// handler, which parses the object into event rows and rollup updates.
//
// Required environment:
//
//	TABLE_NAME           events table
//	EXCLUDED_EXTENSIONS  optional, comma-separated path suffixes to drop
//	EXCLUDED_PATHS       optional, comma-separated path prefixes to drop
package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/outcomeops/analytics/internal/blob"
	"github.com/outcomeops/analytics/internal/config"
	"github.com/outcomeops/analytics/internal/ingest"
	"github.com/outcomeops/analytics/internal/logging"
	"github.com/outcomeops/analytics/internal/logparser"
	"github.com/outcomeops/analytics/internal/rollup"
	"github.com/outcomeops/analytics/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	if err := cfg.ValidateEvents(); err != nil {
		logging.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	events, err := store.Open(ctx, cfg.Store.TableName)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open event store")
	}
	reader, err := blob.OpenReader(ctx)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open log bucket reader")
	}

	controller := ingest.New(
		reader,
		events,
		rollup.NewWriter(events),
		logparser.NewPathFilter(cfg.Ingest.ExcludedExtensions, cfg.Ingest.ExcludedPaths),
	)

	logging.Info().Str("table", cfg.Store.TableName).Msg("log parser ready")
	lambda.Start(controller.ProcessRecords)
}

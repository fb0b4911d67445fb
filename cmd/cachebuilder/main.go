// OutcomeOps Analytics - Serverless Web Analytics Pipeline
// Copyright 2026 OutcomeOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outcomeops/analytics

// Package main is the cache builder Lambda, invoked on a fixed schedule.
// Each invocation projects the rollup rows of every configured domain
// into fresh cache rows.
//
// Required environment:
//
//	TABLE_NAME         events table
//	DOMAIN_LIST        comma-separated domains to build
//	CACHE_WINDOW_DAYS  optional, default 7
//	CACHE_TTL          optional, default 2h
package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/outcomeops/analytics/internal/cachebuilder"
	"github.com/outcomeops/analytics/internal/config"
	"github.com/outcomeops/analytics/internal/logging"
	"github.com/outcomeops/analytics/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	if err := cfg.ValidateCacheBuilder(); err != nil {
		logging.Fatal().Err(err).Msg("invalid configuration")
	}

	eventStore, err := store.Open(context.Background(), cfg.Store.TableName)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open event store")
	}

	builder := cachebuilder.New(eventStore, cfg.CacheBuilder.WindowDays, cfg.CacheBuilder.CacheTTL)
	domains := cfg.CacheBuilder.Domains

	logging.Info().
		Str("table", cfg.Store.TableName).
		Strs("domains", domains).
		Msg("cache builder ready")
	lambda.Start(func(ctx context.Context, _ events.CloudWatchEvent) error {
		return builder.BuildAll(ctx, domains)
	})
}

// OutcomeOps Analytics - Serverless Web Analytics Pipeline
// Copyright 2026 OutcomeOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outcomeops/analytics

// Package main is the journey tracker Lambda, invoked through the HTTP
// API gateway for POST /t and POST /t/batch.
//
// Required environment:
//
//	SESSIONS_TABLE   sessions table
//	ALLOWED_DOMAINS  optional, comma-separated domain allow-list
package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/outcomeops/analytics/internal/config"
	"github.com/outcomeops/analytics/internal/logging"
	"github.com/outcomeops/analytics/internal/store"
	"github.com/outcomeops/analytics/internal/tracker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	if err := cfg.ValidateSessions(); err != nil {
		logging.Fatal().Err(err).Msg("invalid configuration")
	}

	sessions, err := store.Open(context.Background(), cfg.Store.SessionsTable)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open sessions store")
	}

	handler := tracker.NewLambdaHandler(tracker.NewService(sessions, cfg.Tracker.AllowedDomains))

	logging.Info().
		Str("table", cfg.Store.SessionsTable).
		Int("allowed_domains", len(cfg.Tracker.AllowedDomains)).
		Msg("journey tracker ready")
	lambda.Start(handler.Handle)
}

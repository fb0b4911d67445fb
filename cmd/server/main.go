// OutcomeOps Analytics - Serverless Web Analytics Pipeline
// Copyright 2026 OutcomeOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outcomeops/analytics

// Package main is the standalone analytics server. It hosts the journey
// tracker and query API over one HTTP listener and runs the cache builder
// on an interval, replacing the per-function deployment with a single
// process for self-hosted and local-development use.
//
// The server initializes in order:
//
//  1. Configuration (koanf: env > optional YAML > defaults)
//  2. Logging (zerolog, JSON to stderr)
//  3. Event and sessions stores
//  4. HTTP router (chi with CORS, rate limiting, Prometheus metrics)
//  5. Supervision tree (suture: HTTP listener + cache builder)
//
// Shutdown on SIGINT/SIGTERM drains in-flight requests before exit.
//
// Required environment:
//
//	TABLE_NAME      events table
//	SESSIONS_TABLE  sessions table
//	DOMAIN_LIST     optional; enables the periodic cache builder
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/outcomeops/analytics/internal/api"
	"github.com/outcomeops/analytics/internal/cachebuilder"
	"github.com/outcomeops/analytics/internal/config"
	"github.com/outcomeops/analytics/internal/logging"
	"github.com/outcomeops/analytics/internal/queryapi"
	"github.com/outcomeops/analytics/internal/store"
	"github.com/outcomeops/analytics/internal/supervisor"
	"github.com/outcomeops/analytics/internal/tracker"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("server exited")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	if err := cfg.ValidateEvents(); err != nil {
		return err
	}
	if err := cfg.ValidateSessions(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eventStore, err := store.Open(ctx, cfg.Store.TableName)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	sessionStore, err := store.Open(ctx, cfg.Store.SessionsTable)
	if err != nil {
		return fmt.Errorf("failed to open sessions store: %w", err)
	}

	trackerHandler := tracker.NewHandler(tracker.NewService(sessionStore, cfg.Tracker.AllowedDomains))
	queryHandler := queryapi.NewHandler(queryapi.NewService(eventStore, sessionStore), cfg.Tracker.AllowedDomains)

	router := api.NewRouter(api.NewMiddleware(&api.MiddlewareConfig{
		CORSAllowedOrigins: cfg.Server.CORSOrigins,
		CORSMaxAge:         86400,
		RateLimitRequests:  cfg.Server.RateLimitRequests,
		RateLimitWindow:    cfg.Server.RateLimitWindow,
		RateLimitDisabled:  cfg.Server.RateLimitDisabled,
	}), trackerHandler, queryHandler)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	tree := supervisor.NewTree(
		slog.New(slog.NewJSONHandler(os.Stderr, nil)),
		supervisor.DefaultTreeConfig(),
	)
	tree.Add(supervisor.NewHTTPService(server, supervisor.DefaultTreeConfig().ShutdownTimeout))

	if len(cfg.CacheBuilder.Domains) > 0 {
		builder := cachebuilder.New(eventStore, cfg.CacheBuilder.WindowDays, cfg.CacheBuilder.CacheTTL)
		tree.Add(supervisor.NewCacheBuilderService(builder, cfg.CacheBuilder.Domains, cfg.CacheBuilder.Interval))
	} else {
		logging.Warn().Msg("DOMAIN_LIST is empty, cache builder disabled")
	}

	logging.Info().
		Str("addr", server.Addr).
		Str("env", cfg.Env).
		Msg("starting analytics server")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logging.Info().Msg("shutdown complete")
	return nil
}

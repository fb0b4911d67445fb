// OutcomeOps Analytics - Serverless Web Analytics Pipeline
// Copyright 2026 OutcomeOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outcomeops/analytics

package supervisor

import (
	"context"
	"time"

	"github.com/outcomeops/analytics/internal/logging"
)

// CacheRebuilder is the builder surface the service drives.
type CacheRebuilder interface {
	BuildAll(ctx context.Context, domains []string) error
}

// CacheBuilderService rebuilds caches on a fixed interval. In Lambda
// deployments a scheduler invokes the builder directly; this service is
// the standalone-server equivalent of that schedule.
type CacheBuilderService struct {
	builder  CacheRebuilder
	domains  []string
	interval time.Duration
}

// NewCacheBuilderService wraps the builder with its schedule.
func NewCacheBuilderService(builder CacheRebuilder, domains []string, interval time.Duration) *CacheBuilderService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &CacheBuilderService{
		builder:  builder,
		domains:  domains,
		interval: interval,
	}
}

// Serve implements suture.Service. One pass runs immediately so a fresh
// server has caches before the first tick; failed passes are logged and
// retried at the next tick rather than crashing the service.
func (s *CacheBuilderService) Serve(ctx context.Context) error {
	if err := s.builder.BuildAll(ctx, s.domains); err != nil {
		logging.Warn().Err(err).Msg("initial cache build incomplete")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.builder.BuildAll(ctx, s.domains); err != nil {
				logging.Warn().Err(err).Msg("scheduled cache build incomplete")
			}
		}
	}
}

// String implements fmt.Stringer for supervision logs.
func (s *CacheBuilderService) String() string {
	return "cache-builder"
}

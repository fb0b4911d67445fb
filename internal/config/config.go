// OutcomeOps Analytics - Serverless Web Analytics Pipeline
// Copyright 2026 OutcomeOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outcomeops/analytics

// Package config provides layered configuration loading for the analytics
// pipeline. Precedence: environment variables > optional YAML file >
// built-in defaults. Lambda deployments configure everything through
// environment variables; the YAML layer exists for the standalone server
// and local development.
package config

import (
	"errors"
	"strings"
	"time"
)

// Config is the root configuration shared by all binaries. Each binary
// validates only the sections it uses.
type Config struct {
	// Env is the deployment tag (dev, staging, prod).
	Env string `koanf:"env"`

	Store        StoreConfig        `koanf:"store"`
	Ingest       IngestConfig       `koanf:"ingest"`
	Tracker      TrackerConfig      `koanf:"tracker"`
	CacheBuilder CacheBuilderConfig `koanf:"cache_builder"`
	Server       ServerConfig       `koanf:"server"`
	Logging      LoggingConfig      `koanf:"logging"`
}

// StoreConfig names the event-store tables.
type StoreConfig struct {
	// TableName holds per-request events, rollups and cache rows.
	TableName string `koanf:"table_name"`

	// SessionsTable holds journey tracker session events.
	SessionsTable string `koanf:"sessions_table"`
}

// IngestConfig controls the log parser's path filtering.
type IngestConfig struct {
	// ExcludedExtensions are case-insensitive path suffixes to drop
	// (static assets such as .css, .js).
	ExcludedExtensions []string `koanf:"excluded_extensions"`

	// ExcludedPaths are case-insensitive path prefixes to drop
	// (bot and scanner probes such as /wp-admin).
	ExcludedPaths []string `koanf:"excluded_paths"`
}

// TrackerConfig controls journey tracker validation.
type TrackerConfig struct {
	// AllowedDomains is the allow-list checked on every tracking event.
	AllowedDomains []string `koanf:"allowed_domains"`
}

// CacheBuilderConfig controls the rollup projection job.
type CacheBuilderConfig struct {
	// Domains are the sites the cache builder processes.
	Domains []string `koanf:"domains"`

	// WindowDays is the projection window, inclusive of today.
	WindowDays int `koanf:"window_days"`

	// Interval is the rebuild period in standalone mode. Lambda
	// deployments schedule the handler externally instead.
	Interval time.Duration `koanf:"interval"`

	// CacheTTL is how long cache rows stay readable before expiry.
	CacheTTL time.Duration `koanf:"cache_ttl"`
}

// ServerConfig applies to the standalone server only.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`

	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`

	CORSOrigins []string `koanf:"cors_origins"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Sentinel errors for missing required settings.
var (
	ErrMissingTableName     = errors.New("TABLE_NAME is not configured")
	ErrMissingSessionsTable = errors.New("SESSIONS_TABLE is not configured")
	ErrNoDomains            = errors.New("DOMAIN_LIST is not configured")
)

// defaultConfig returns the built-in defaults, applied before file and
// environment layers.
func defaultConfig() *Config {
	return &Config{
		Env: "dev",
		CacheBuilder: CacheBuilderConfig{
			WindowDays: 7,
			Interval:   time.Hour,
			CacheTTL:   2 * time.Hour,
		},
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8089,
			Timeout:           30 * time.Second,
			RateLimitRequests: 300,
			RateLimitWindow:   time.Minute,
			CORSOrigins:       []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// normalize canonicalizes list values after loading: filter rules are
// matched case-insensitively against lowercased paths, so the rules
// themselves are stored lowercased.
func (c *Config) normalize() {
	c.Ingest.ExcludedExtensions = lowerTrimmed(c.Ingest.ExcludedExtensions)
	c.Ingest.ExcludedPaths = lowerTrimmed(c.Ingest.ExcludedPaths)
	c.Tracker.AllowedDomains = trimmed(c.Tracker.AllowedDomains)
	c.CacheBuilder.Domains = trimmed(c.CacheBuilder.Domains)
}

// ValidateEvents checks the settings the log parser and cache builder need.
func (c *Config) ValidateEvents() error {
	if c.Store.TableName == "" {
		return ErrMissingTableName
	}
	return nil
}

// ValidateSessions checks the settings the journey tracker needs.
func (c *Config) ValidateSessions() error {
	if c.Store.SessionsTable == "" {
		return ErrMissingSessionsTable
	}
	return nil
}

// ValidateCacheBuilder checks the settings the cache builder needs.
func (c *Config) ValidateCacheBuilder() error {
	if err := c.ValidateEvents(); err != nil {
		return err
	}
	if len(c.CacheBuilder.Domains) == 0 {
		return ErrNoDomains
	}
	return nil
}

func trimmed(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func lowerTrimmed(in []string) []string {
	out := trimmed(in)
	for i, s := range out {
		out[i] = strings.ToLower(s)
	}
	return out
}

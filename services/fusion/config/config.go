// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config holds the opfuse configuration file format.
//
// A config starts from DefaultConfig, which reads a few OPFUSE_*
// environment overrides, and is then overlaid by a YAML file. Every field
// is checked with validator tags before use.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/AleutianAI/opfuse/services/fusion/telemetry"
)

// Config is the root of the config file.
type Config struct {
	Driver    DriverConfig     `yaml:"driver"`
	Patterns  PatternsConfig   `yaml:"patterns"`
	Cache     CacheConfig      `yaml:"cache"`
	Server    ServerConfig     `yaml:"server"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// DriverConfig controls graph traversal.
type DriverConfig struct {
	// Workers is the number of concurrent seed searches. 1 is sequential.
	Workers int `yaml:"workers" validate:"gte=1,lte=64"`

	// Order is "topological" or "reverse".
	Order string `yaml:"order" validate:"oneof=topological reverse"`
}

// PatternsConfig selects catalog patterns.
type PatternsConfig struct {
	// Enabled lists catalog pattern names. Empty enables all.
	Enabled []string `yaml:"enabled,omitempty" validate:"unique,dive,catalog_pattern"`

	// MaxRepetition is the exclusive upper bound of repeated post ops.
	MaxRepetition int `yaml:"max_repetition" validate:"gte=1,lte=16"`
}

// CacheConfig controls the on-disk match cache.
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`

	// Path is the badger directory. Required unless InMemory is set.
	Path string `yaml:"path" validate:"required_if=Enabled true InMemory false"`

	InMemory bool `yaml:"in_memory"`

	// TTL expires entries. Zero keeps them until purged.
	TTL time.Duration `yaml:"ttl" validate:"gte=0"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`

	// RateLimit caps match requests per second. Zero disables the limit.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`

	// Burst is the number of requests allowed above RateLimit at once.
	Burst int `yaml:"burst" validate:"gte=0"`

	// WatchConfig reloads driver and pattern settings when the config
	// file changes.
	WatchConfig bool `yaml:"watch_config"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`

	// File receives log output. Empty means stderr.
	File string `yaml:"file"`
}

// DefaultConfig returns the built-in configuration.
//
// Environment variables override defaults where applicable:
//   - OPFUSE_WORKERS: driver workers
//   - OPFUSE_ORDER: driver visit order
//   - OPFUSE_MAX_REPETITION: repetition cap
//   - OPFUSE_CACHE_PATH: match cache directory
//   - OPFUSE_ADDR: HTTP listen address
//   - OPFUSE_LOG_LEVEL: log level
//   - OPFUSE_LOG_FORMAT: log format
func DefaultConfig() Config {
	return Config{
		Driver: DriverConfig{
			Workers: getEnvIntOr("OPFUSE_WORKERS", 1),
			Order:   getEnvOr("OPFUSE_ORDER", "topological"),
		},
		Patterns: PatternsConfig{
			MaxRepetition: getEnvIntOr("OPFUSE_MAX_REPETITION", 4),
		},
		Cache: CacheConfig{
			Path: getEnvOr("OPFUSE_CACHE_PATH", ".opfuse/cache"),
			TTL:  24 * time.Hour,
		},
		Server: ServerConfig{
			Addr:  getEnvOr("OPFUSE_ADDR", ":8080"),
			Burst: 10,
		},
		Telemetry: telemetry.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  getEnvOr("OPFUSE_LOG_LEVEL", "info"),
			Format: getEnvOr("OPFUSE_LOG_FORMAT", "text"),
		},
	}
}

// getEnvOr returns the environment variable value or the fallback.
func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvIntOr is getEnvOr for integers. Unparsable values fall back.
func getEnvIntOr(key string, fallback int) int {
	v, err := strconv.Atoi(getEnvOr(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

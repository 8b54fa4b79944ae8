// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"OPFUSE_WORKERS", "OPFUSE_ORDER", "OPFUSE_MAX_REPETITION", "OPFUSE_CACHE_PATH",
		"OPFUSE_LOG_LEVEL", "OPFUSE_LOG_FORMAT", "OPFUSE_ENV", "OPFUSE_ADDR",
		"OTEL_TRACES_EXPORTER", "OTEL_METRICS_EXPORTER", "OTEL_EXPORTER_OTLP_ENDPOINT",
	} {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "opfuse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	clearEnv(t)
	cfg := DefaultConfig()

	assert.Equal(t, 1, cfg.Driver.Workers)
	assert.Equal(t, "topological", cfg.Driver.Order)
	assert.Equal(t, 4, cfg.Patterns.MaxRepetition)
	assert.Empty(t, cfg.Patterns.Enabled)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "opfuse", cfg.Telemetry.ServiceName)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Zero(t, cfg.Server.RateLimit)
	assert.NoError(t, Validate(&cfg))
}

func TestDefaultConfig_Env(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPFUSE_WORKERS", "8")
	t.Setenv("OPFUSE_ORDER", "reverse")
	t.Setenv("OPFUSE_MAX_REPETITION", "not-a-number")
	t.Setenv("OPFUSE_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	assert.Equal(t, 8, cfg.Driver.Workers)
	assert.Equal(t, "reverse", cfg.Driver.Order)
	assert.Equal(t, 4, cfg.Patterns.MaxRepetition)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_EmptyPath(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), *cfg)
}

func TestLoad_Overlay(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
driver:
  workers: 4
patterns:
  enabled: [mlp, conv_bias_post_ops]
cache:
  enabled: true
  in_memory: true
  ttl: 90m
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Driver.Workers)
	assert.Equal(t, "topological", cfg.Driver.Order)
	assert.Equal(t, []string{"mlp", "conv_bias_post_ops"}, cfg.Patterns.Enabled)
	assert.Equal(t, 4, cfg.Patterns.MaxRepetition)
	assert.True(t, cfg.Cache.Enabled)
	assert.True(t, cfg.Cache.InMemory)
	assert.Equal(t, 90*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_ReadErrors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrReadConfig)

	_, err = Load(writeFile(t, "driver: [not, a, map]"))
	assert.ErrorIs(t, err, ErrReadConfig)

	_, err = Load(writeFile(t, "driver:\n  wrokers: 2\n"))
	assert.ErrorIs(t, err, ErrReadConfig)
}

func TestParse_Empty(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), *cfg)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		expect string
	}{
		{"workers too low", "driver: {workers: 0}", "driver.workers"},
		{"workers too high", "driver: {workers: 65}", "driver.workers"},
		{"bad order", "driver: {order: sideways}", "driver.order"},
		{"repetition too low", "patterns: {max_repetition: 0}", "patterns.max_repetition"},
		{"repetition too high", "patterns: {max_repetition: 17}", "patterns.max_repetition"},
		{"unknown pattern", "patterns: {enabled: [mlp, nope]}", `unknown pattern "nope"`},
		{"duplicate pattern", "patterns: {enabled: [mlp, mlp]}", "patterns.enabled: duplicate"},
		{"cache without path", "cache: {enabled: true, path: ''}", "cache.path: required"},
		{"negative ttl", "cache: {ttl: -1h}", "cache.ttl"},
		{"empty addr", "server: {addr: ''}", "server.addr: required"},
		{"negative rate limit", "server: {rate_limit: -1}", "server.rate_limit"},
		{"bad level", "logging: {level: trace}", "logging.level"},
		{"bad format", "logging: {format: xml}", "logging.format"},
		{"bad exporter", "telemetry: {trace_exporter: zipkin}", "telemetry.trace_exporter"},
		{"otlp without endpoint", "telemetry: {trace_exporter: otlp, otlp_endpoint: ''}", "telemetry.otlp_endpoint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := Parse([]byte(tt.yaml))
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.expect)
		})
	}
}

func TestValidate_CacheInMemoryNeedsNoPath(t *testing.T) {
	clearEnv(t)
	_, err := Parse([]byte("cache: {enabled: true, in_memory: true, path: ''}"))
	assert.NoError(t, err)
}

func TestMarshal_RoundTrip(t *testing.T) {
	clearEnv(t)
	cfg := DefaultConfig()
	cfg.Patterns.Enabled = []string{"mlp"}
	cfg.Driver.Workers = 3

	data, err := Marshal(&cfg)
	require.NoError(t, err)
	assert.Contains(t, string(data), "workers: 3")

	back, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, *back)
}

func TestWriteDefault(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "opfuse.yaml")

	created, err := WriteDefault(path)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = WriteDefault(path)
	require.NoError(t, err)
	assert.False(t, created)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), *cfg)
}

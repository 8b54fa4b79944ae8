// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package driver

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for driver runs.
var (
	tracer = otel.Tracer("opfuse.driver")
	meter  = otel.Meter("opfuse.driver")
)

var (
	runsTotal   metric.Int64Counter
	runLatency  metric.Float64Histogram
	partitions  metric.Int64Histogram
	replayFails metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		runsTotal, err = meter.Int64Counter(
			"opfuse_driver_runs_total",
			metric.WithDescription("Total number of driver runs"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runLatency, err = meter.Float64Histogram(
			"opfuse_driver_run_duration_seconds",
			metric.WithDescription("Duration of a driver run over one graph"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		partitions, err = meter.Int64Histogram(
			"opfuse_driver_partitions",
			metric.WithDescription("Matches produced by one driver run"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		replayFails, err = meter.Int64Counter(
			"opfuse_driver_replay_failures_total",
			metric.WithDescription("Cached runs that did not reproduce and were searched again"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordRun records a completed run.
func recordRun(ctx context.Context, order Order, duration time.Duration, matches int, cacheHit bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("order", order.String()),
		attribute.Bool("cache_hit", cacheHit),
	)
	runsTotal.Add(ctx, 1, attrs)
	runLatency.Record(ctx, duration.Seconds(), attrs)
	partitions.Record(ctx, int64(matches), attrs)
}

func recordReplayFailure(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	replayFails.Add(ctx, 1)
}

// startRunSpan creates a span for a driver run.
func startRunSpan(ctx context.Context, runID string, ops, patterns, workers int, order Order) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Driver.Run",
		trace.WithAttributes(
			attribute.String("driver.run_id", runID),
			attribute.Int("driver.ops", ops),
			attribute.Int("driver.patterns", patterns),
			attribute.Int("driver.workers", workers),
			attribute.String("driver.order", order.String()),
		),
	)
}

// setRunSpanResult sets the result attributes on a run span.
func setRunSpanResult(span trace.Span, matches, attempts int, cacheHit bool) {
	span.SetAttributes(
		attribute.Int("driver.matches", matches),
		attribute.Int("driver.attempts", attempts),
		attribute.Bool("driver.cache_hit", cacheHit),
	)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package matcher

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for match attempts. Matching is too fine-grained for
// a span per attempt; the driver owns the spans.
var meter = otel.Meter("opfuse.matcher")

var (
	attemptsTotal   metric.Int64Counter
	successTotal    metric.Int64Counter
	rejectionsTotal metric.Int64Counter
	matchLatency    metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		attemptsTotal, err = meter.Int64Counter(
			"opfuse_match_attempts_total",
			metric.WithDescription("Total number of pattern match attempts"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		successTotal, err = meter.Int64Counter(
			"opfuse_match_success_total",
			metric.WithDescription("Total number of successful pattern matches"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rejectionsTotal, err = meter.Int64Counter(
			"opfuse_match_rejections_total",
			metric.WithDescription("Failed match attempts by final rejection reason"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		matchLatency, err = meter.Float64Histogram(
			"opfuse_match_duration_seconds",
			metric.WithDescription("Duration of a single match attempt"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordAttempt records one Find call.
func recordAttempt(ctx context.Context, patternName string, duration time.Duration, matched bool, reason Reason) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("pattern", patternName))
	attemptsTotal.Add(ctx, 1, attrs)
	matchLatency.Record(ctx, duration.Seconds(), attrs)

	if matched {
		successTotal.Add(ctx, 1, attrs)
		return
	}
	if reason != "" {
		rejectionsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("pattern", patternName),
			attribute.String("reason", string(reason)),
		))
	}
}

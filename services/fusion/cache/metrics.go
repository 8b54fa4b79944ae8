// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("opfuse.cache")

var (
	cacheHits   metric.Int64Counter
	cacheMisses metric.Int64Counter
	cacheWrites metric.Int64Counter
	entrySize   metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		cacheHits, err = meter.Int64Counter(
			"opfuse_cache_hits_total",
			metric.WithDescription("Match cache lookups that found an entry"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheMisses, err = meter.Int64Counter(
			"opfuse_cache_misses_total",
			metric.WithDescription("Match cache lookups that found nothing usable"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheWrites, err = meter.Int64Counter(
			"opfuse_cache_writes_total",
			metric.WithDescription("Match cache entries written"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		entrySize, err = meter.Int64Histogram(
			"opfuse_cache_entry_bytes",
			metric.WithDescription("Encoded size of written cache entries"),
			metric.WithUnit("By"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordLookup records a Get. reason is empty on a hit.
func recordLookup(ctx context.Context, hit bool, reason string) {
	if err := initMetrics(); err != nil {
		return
	}
	if hit {
		cacheHits.Add(ctx, 1)
		return
	}
	cacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// recordWrite records a Put of size bytes.
func recordWrite(ctx context.Context, size int) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheWrites.Add(ctx, 1)
	entrySize.Record(ctx, int64(size))
}

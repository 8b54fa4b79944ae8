// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/opfuse/services/fusion/api"
	"github.com/AleutianAI/opfuse/services/fusion/catalog"
	"github.com/AleutianAI/opfuse/services/fusion/config"
	"github.com/AleutianAI/opfuse/services/fusion/driver"
	"github.com/AleutianAI/opfuse/services/fusion/opgraph"
	"github.com/AleutianAI/opfuse/services/fusion/telemetry"
)

var errGraphSource = errors.New("exactly one of --sample and --graph is required")

// matchFlags holds the flags of the match command.
type matchFlags struct {
	sample        string
	graphPath     string
	workers       int
	order         string
	patterns      []string
	maxRepetition int
	metricsAddr   string
	jsonOut       bool
	noCache       bool
}

// newMatchCmd runs the driver over one graph.
//
// Examples:
//
//	opfuse match --sample resblock
//	opfuse match --sample mlp --workers 4 --order reverse
//	opfuse match --graph model.json --patterns mlp,matmul_post_ops --json
//	opfuse match --sample attention --metrics-addr :9464
func newMatchCmd(a *app) *cobra.Command {
	f := &matchFlags{}
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Partition a graph into fusible subgraphs",
		Long: `Runs the fusion driver over a sample graph or a JSON graph file and
prints the partitions it found.

A graph file holds {"ops": [{"kind": "MatMul", "inputs": [0, 1], "outputs": [2]}, ...]}.
Ops are declared in ID order and values are named by integer IDs.

Flags override the config file for this run only.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMatch(cmd, a, f)
		},
	}
	cmd.Flags().StringVarP(&f.sample, "sample", "s", "", "Built-in sample graph name")
	cmd.Flags().StringVarP(&f.graphPath, "graph", "g", "", "JSON graph file")
	cmd.Flags().IntVarP(&f.workers, "workers", "w", 0, "Concurrent seed searches")
	cmd.Flags().StringVar(&f.order, "order", "", "Visit order: topological or reverse")
	cmd.Flags().StringSliceVarP(&f.patterns, "patterns", "p", nil, "Catalog patterns to enable")
	cmd.Flags().IntVar(&f.maxRepetition, "max-repetition", 0, "Exclusive upper bound of post-op chains")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "Print the result as JSON")
	cmd.Flags().BoolVar(&f.noCache, "no-cache", false, "Skip the match cache")
	return cmd
}

// overlay applies the flags that were set to a copy of cfg and validates it.
func (f *matchFlags) overlay(cmd *cobra.Command, cfg config.Config) (config.Config, error) {
	flags := cmd.Flags()
	if flags.Changed("workers") {
		cfg.Driver.Workers = f.workers
	}
	if flags.Changed("order") {
		cfg.Driver.Order = f.order
	}
	if flags.Changed("patterns") {
		cfg.Patterns.Enabled = f.patterns
	}
	if flags.Changed("max-repetition") {
		cfg.Patterns.MaxRepetition = f.maxRepetition
	}
	if f.noCache {
		cfg.Cache.Enabled = false
	}
	if err := config.Validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func runMatch(cmd *cobra.Command, a *app, f *matchFlags) error {
	if (f.sample == "") == (f.graphPath == "") {
		return errGraphSource
	}
	cfg, err := f.overlay(cmd, *a.cfg)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	logger := a.log()

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()
	if f.metricsAddr != "" {
		stop := serveMetrics(f.metricsAddr, logger)
		defer stop()
	}

	ctx, span := telemetry.StartSpan(ctx, "opfuse.cli", "match")
	defer span.End()
	rep, names, g, source, err := matchGraph(ctx, cfg, f, logger)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	telemetry.AddSpanEvent(span, "matched",
		attribute.String("source", source),
		attribute.Int("partitions", len(rep.Matches)),
	)
	telemetry.SetSpanOK(span)

	resp := api.NewMatchResponse(rep, names, g.NumOps())
	if f.jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	a.renderMatch(source, resp)
	return nil
}

// matchGraph loads the graph named by the flags and runs the catalog
// over it.
func matchGraph(ctx context.Context, cfg config.Config, f *matchFlags, logger *slog.Logger) (*driver.Report, []string, *opgraph.Graph, string, error) {
	g, source, err := loadGraph(f)
	if err != nil {
		return nil, nil, nil, "", err
	}

	opts, err := cfg.Driver.Options()
	if err != nil {
		return nil, nil, nil, "", err
	}
	opts = append(opts, driver.WithLogger(logger))
	store, err := cfg.Cache.Open(logger)
	if err != nil {
		return nil, nil, nil, "", err
	}
	if store != nil {
		defer store.Close()
		opts = append(opts, driver.WithCache(store))
	}

	d := driver.New(opts...)
	names, err := catalog.Register(d, cfg.Patterns.Catalog())
	if err != nil {
		return nil, nil, nil, "", err
	}
	rep, err := d.Run(ctx, g)
	if err != nil {
		return nil, nil, nil, "", err
	}
	return rep, names, g, source, nil
}

// loadGraph builds the graph named by the flags and a label for it.
func loadGraph(f *matchFlags) (*opgraph.Graph, string, error) {
	if f.sample != "" {
		s, err := catalog.LookupSample(f.sample)
		if err != nil {
			return nil, "", err
		}
		g, err := s.Build()
		return g, "sample " + s.Name, err
	}

	data, err := os.ReadFile(f.graphPath)
	if err != nil {
		return nil, "", fmt.Errorf("read graph: %w", err)
	}
	var spec api.GraphSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, "", fmt.Errorf("parse graph %s: %w", f.graphPath, err)
	}
	g, err := api.BuildGraph(&spec)
	if err != nil {
		return nil, "", fmt.Errorf("graph %s: %w", f.graphPath, err)
	}
	return g, f.graphPath, nil
}

func (a *app) renderMatch(source string, resp api.MatchResponse) {
	p := a.printer
	p.Title("Fusion report: " + source)
	p.KeyValues([][2]string{
		{"ops", strconv.Itoa(resp.Ops)},
		{"partitions", strconv.Itoa(len(resp.Partitions))},
		{"matched_ops", strconv.Itoa(resp.MatchedOps)},
		{"attempts", strconv.Itoa(resp.Attempts)},
		{"cache_hit", strconv.FormatBool(resp.CacheHit)},
		{"order", resp.Order},
		{"workers", strconv.Itoa(resp.Workers)},
		{"duration_ms", strconv.FormatInt(resp.DurationMS, 10)},
	})
	if len(resp.Partitions) == 0 {
		p.Warning("no partitions found")
		return
	}

	rows := make([][]string, 0, len(resp.Partitions))
	for _, pv := range resp.Partitions {
		rows = append(rows, []string{
			pv.Pattern,
			strconv.Itoa(pv.Seed),
			joinInts(pv.Ops),
			strings.Join(pv.Kinds, ","),
		})
	}
	p.Table([]string{"pattern", "seed", "ops", "kinds"}, rows)
	p.Success(fmt.Sprintf("%d of %d ops fused into %d partitions", resp.MatchedOps, resp.Ops, len(resp.Partitions)))
}

func joinInts(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

// serveMetrics exposes the Prometheus handler on addr until stop is called.
// Without a Prometheus exporter it logs and does nothing.
func serveMetrics(addr string, logger *slog.Logger) (stop func()) {
	handler := telemetry.MetricsHandler()
	if handler == nil {
		logger.Warn("metrics address set but the prometheus exporter is not enabled", slog.String("addr", addr))
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
	logger.Info("serving metrics", slog.String("addr", addr))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownServer(ctx, srv, logger, "metrics")
	}
}

// shutdownServer stops srv and logs a failure to drain before ctx ends.
func shutdownServer(ctx context.Context, srv *http.Server, logger *slog.Logger, name string) {
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn(name+" server shutdown failed", slog.String("error", err.Error()))
	}
}

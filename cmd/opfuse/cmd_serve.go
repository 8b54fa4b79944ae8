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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/opfuse/services/fusion/api"
	"github.com/AleutianAI/opfuse/services/fusion/config"
	"github.com/AleutianAI/opfuse/services/fusion/telemetry"
)

var errNoConfigToWatch = errors.New("--watch needs a --config file")

// newServeCmd runs the HTTP API until interrupted.
//
// Examples:
//
//	opfuse serve
//	opfuse serve --addr 127.0.0.1:9000 --config opfuse.yaml
func newServeCmd(a *app) *cobra.Command {
	var addr string
	var debug, watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the fusion API over HTTP",
		Long: `Serves GET /healthz, GET /metrics (with the prometheus exporter),
GET /v1/patterns, GET /v1/samples and POST /v1/match.

Match requests run with the config file's driver and pattern settings
unless the request overrides them. One match cache is shared by all
requests. With --watch (or server.watch_config), edits to the --config
file change the settings of later requests.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if debug {
				gin.SetMode(gin.DebugMode)
			} else {
				gin.SetMode(gin.ReleaseMode)
			}
			if cmd.Flags().Changed("addr") {
				a.cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("watch") {
				a.cfg.Server.WatchConfig = watch
			}
			return serve(cmd.Context(), a)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Gin debug mode")
	cmd.Flags().BoolVar(&watch, "watch", false, "Reload driver and pattern settings when the config file changes")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	logger := a.log()
	cfg := *a.cfg
	addr := cfg.Server.Addr

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	opts := []api.Option{api.WithLogger(logger)}
	store, err := cfg.Cache.Open(logger)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
		opts = append(opts, api.WithCache(store))
	}

	handlers := api.NewHandlers(cfg, opts...)
	if cfg.Server.WatchConfig {
		if err := watchConfig(ctx, a.configPath, handlers, logger); err != nil {
			return err
		}
	}

	router := api.NewRouter(cfg.Telemetry.ServiceName, handlers, telemetry.MetricsHandler())
	srv := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting opfuse server", slog.String("address", addr))
		errCh <- srv.ListenAndServe()
	}()
	a.printer.Success("listening on " + addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down opfuse server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// watchConfig applies reloads of path to handlers until ctx ends.
func watchConfig(ctx context.Context, path string, handlers *api.Handlers, logger *slog.Logger) error {
	if path == "" {
		return errNoConfigToWatch
	}
	w, err := config.NewWatcher(path, logger)
	if err != nil {
		return err
	}
	go w.Run(ctx, func(cfg *config.Config) {
		handlers.SetConfig(*cfg)
		logger.Info("match settings reloaded",
			slog.Int("workers", cfg.Driver.Workers),
			slog.String("order", cfg.Driver.Order),
			slog.Int("enabled_patterns", len(cfg.Patterns.Enabled)),
		)
	})
	return nil
}

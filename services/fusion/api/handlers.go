// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api serves the fusion engine over HTTP.
//
// Routes:
//
//	GET  /healthz          - liveness
//	GET  /metrics          - Prometheus scrape endpoint, when configured
//	GET  /v1/patterns      - the pattern catalog
//	GET  /v1/samples       - the built-in sample graphs
//	POST /v1/match         - run the driver over a sample or a posted graph
//	GET  /v1/match/stream  - WebSocket session of match requests
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/opfuse/services/fusion/catalog"
	"github.com/AleutianAI/opfuse/services/fusion/config"
	"github.com/AleutianAI/opfuse/services/fusion/driver"
	"github.com/AleutianAI/opfuse/services/fusion/opgraph"
	"github.com/AleutianAI/opfuse/services/fusion/telemetry"
)

var (
	errGraphSource    = errors.New("exactly one of sample and graph must be set")
	errInvalidRequest = errors.New("invalid request")
	errRateLimited    = errors.New("rate limit exceeded")
)

// Option configures Handlers.
type Option func(*Handlers)

// WithCache shares c between every match request.
func WithCache(c driver.Cache) Option {
	return func(h *Handlers) { h.cache = c }
}

// WithLogger sets the logger. Nil means slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handlers) { h.logger = logger }
}

// Handlers holds the HTTP handlers and the defaults they run with.
//
// Thread Safety: Safe for concurrent use. Every match request builds its
// own graph and driver from the config current when it arrives.
type Handlers struct {
	cfg     atomic.Pointer[config.Config]
	cache   driver.Cache
	logger  *slog.Logger
	limiter *rate.Limiter
}

// NewHandlers creates handlers that run with cfg's driver and pattern
// settings unless a request overrides them. cfg.Server.RateLimit, when
// positive, limits match requests for the handlers' lifetime.
func NewHandlers(cfg config.Config, opts ...Option) *Handlers {
	h := &Handlers{}
	h.cfg.Store(&cfg)
	if cfg.Server.RateLimit > 0 {
		h.limiter = rate.NewLimiter(rate.Limit(cfg.Server.RateLimit), max(cfg.Server.Burst, 1))
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// SetConfig replaces the settings used by later requests. Requests in
// flight keep the settings they started with.
func (h *Handlers) SetConfig(cfg config.Config) {
	h.cfg.Store(&cfg)
}

// Config returns the current settings.
func (h *Handlers) Config() config.Config {
	return *h.cfg.Load()
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(c *gin.Context) {
	cfg := h.cfg.Load()
	enabled := len(cfg.Patterns.Enabled)
	if enabled == 0 {
		enabled = len(catalog.Entries())
	}
	c.JSON(http.StatusOK, HealthResponse{
		Status:   "ok",
		Service:  cfg.Telemetry.ServiceName,
		Version:  cfg.Telemetry.ServiceVersion,
		Patterns: enabled,
	})
}

// HandlePatterns handles GET /v1/patterns.
//
// Query Parameters:
//
//	describe - "true" adds each pattern's structure.
func (h *Handlers) HandlePatterns(c *gin.Context) {
	describe := c.Query("describe") == "true"
	cfg := h.cfg.Load()
	maxRep := cfg.Patterns.MaxRepetition

	entries := catalog.Entries()
	out := make([]PatternView, 0, len(entries))
	for _, e := range entries {
		pv := PatternView{
			Name:        e.Name,
			Priority:    e.Priority,
			Description: e.Description,
			Enabled:     len(cfg.Patterns.Enabled) == 0 || slices.Contains(cfg.Patterns.Enabled, e.Name),
		}
		if describe {
			pv.Structure = e.Build(maxRep).Describe()
		}
		out = append(out, pv)
	}
	c.JSON(http.StatusOK, out)
}

// HandleSamples handles GET /v1/samples.
func (h *Handlers) HandleSamples(c *gin.Context) {
	samples := catalog.Samples()
	out := make([]SampleView, 0, len(samples))
	for _, s := range samples {
		g, err := s.Build()
		if err != nil {
			h.logger.Error("sample graph failed to build", slog.String("sample", s.Name), slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: CodeInternal})
			return
		}
		out = append(out, SampleView{Name: s.Name, Description: s.Description, Ops: g.NumOps()})
	}
	c.JSON(http.StatusOK, out)
}

// HandleMatch handles POST /v1/match.
//
// Description:
//
//	Builds the requested graph, registers the selected catalog patterns on
//	a fresh driver and runs it. The response lists every partition in
//	commit order.
//
// Errors:
//
//	400 INVALID_REQUEST - malformed body, or not exactly one of sample and graph.
//	400 UNKNOWN_PATTERN - a pattern name is not in the catalog.
//	404 UNKNOWN_SAMPLE  - the sample name is not known.
//	422 INVALID_GRAPH   - the posted graph is malformed or cyclic.
//	499 CANCELED        - the client went away during the run.
func (h *Handlers) HandleMatch(c *gin.Context) {
	ctx := c.Request.Context()
	logger := telemetry.LoggerWithTrace(ctx, h.logger).With(
		slog.String("request_id", getOrCreateRequestID(c)),
		slog.String("handler", "HandleMatch"),
	)

	var req MatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error(), Code: CodeInvalidRequest})
		return
	}
	resp, err := h.match(ctx, &req, logger)
	if err != nil {
		status, code := classify(err)
		logRejection(logger, status, code, err)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// match runs one validated request.
func (h *Handlers) match(ctx context.Context, req *MatchRequest, logger *slog.Logger) (MatchResponse, error) {
	if (req.Sample == "") == (req.Graph == nil) {
		return MatchResponse{}, errGraphSource
	}
	g, err := h.graph(req)
	if err != nil {
		return MatchResponse{}, err
	}
	d, names, err := h.driver(req, logger)
	if err != nil {
		return MatchResponse{}, err
	}
	span := trace.SpanFromContext(ctx)
	telemetry.AddSpanEvent(span, "patterns registered",
		attribute.Int("patterns", len(names)), attribute.Int("ops", g.NumOps()))

	rep, err := d.Run(ctx, g)
	if err != nil {
		telemetry.RecordError(span, err)
		return MatchResponse{}, err
	}
	logger.Info("match finished",
		slog.String("run_id", rep.RunID.String()),
		slog.Int("partitions", len(rep.Matches)),
		slog.Bool("cache_hit", rep.CacheHit),
	)
	return NewMatchResponse(rep, names, g.NumOps()), nil
}

func (h *Handlers) graph(req *MatchRequest) (*opgraph.Graph, error) {
	if req.Graph != nil {
		return BuildGraph(req.Graph)
	}
	s, err := catalog.LookupSample(req.Sample)
	if err != nil {
		return nil, err
	}
	return s.Build()
}

func (h *Handlers) driver(req *MatchRequest, logger *slog.Logger) (*driver.Driver, []string, error) {
	cfg := h.cfg.Load()
	dc := cfg.Driver
	if req.Workers > 0 {
		dc.Workers = req.Workers
	}
	if req.Order != "" {
		dc.Order = req.Order
	}
	pc := cfg.Patterns
	if len(req.Patterns) > 0 {
		pc.Enabled = req.Patterns
	}
	if req.MaxRepetition > 0 {
		pc.MaxRepetition = req.MaxRepetition
	}

	opts, err := dc.Options()
	if err != nil {
		return nil, nil, err
	}
	opts = append(opts, driver.WithLogger(logger))
	if h.cache != nil {
		opts = append(opts, driver.WithCache(h.cache))
	}
	d := driver.New(opts...)
	names, err := catalog.Register(d, pc.Catalog())
	if err != nil {
		return nil, nil, err
	}
	return d, names, nil
}

// classify maps err to a status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errGraphSource), errors.Is(err, errInvalidRequest):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, catalog.ErrUnknownSample):
		return http.StatusNotFound, CodeUnknownSample
	case errors.Is(err, catalog.ErrUnknownPattern):
		return http.StatusBadRequest, CodeUnknownPattern
	case errors.Is(err, driver.ErrInvalidOrder):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, opgraph.ErrUnknownKind),
		errors.Is(err, opgraph.ErrInvalidSlot),
		errors.Is(err, opgraph.ErrMultipleProducers),
		errors.Is(err, opgraph.ErrCyclicGraph):
		return http.StatusUnprocessableEntity, CodeInvalidGraph
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return 499, CodeCanceled
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func logRejection(logger *slog.Logger, status int, code string, err error) {
	if status >= http.StatusInternalServerError {
		logger.Error("match failed", slog.String("error", err.Error()))
		return
	}
	logger.Warn("match rejected", slog.String("code", code), slog.String("error", err.Error()))
}

// rateLimit rejects requests above the configured rate with 429.
func (h *Handlers) rateLimit(c *gin.Context) {
	if h.limiter != nil && !h.limiter.Allow() {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
			Error: errRateLimited.Error(),
			Code:  CodeRateLimited,
		})
		return
	}
	c.Next()
}

// getOrCreateRequestID returns the X-Request-ID header or a new UUID, and
// echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}


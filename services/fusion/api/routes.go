// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/opfuse/services/fusion/telemetry"
)

// RegisterRoutes registers the versioned API on rg.
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	v1 := rg.Group("/v1")
	{
		v1.GET("/patterns", handlers.HandlePatterns)
		v1.GET("/samples", handlers.HandleSamples)
		v1.POST("/match", handlers.rateLimit, handlers.HandleMatch)
		v1.GET("/match/stream", handlers.HandleMatchStream)
	}
}

// NewRouter builds the engine: recovery, tracing, request logging, the
// health and metrics endpoints and the versioned API. A nil metrics
// handler leaves /metrics unregistered.
func NewRouter(service string, handlers *Handlers, metrics http.Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(service))
	router.Use(requestLogger(handlers.logger))

	router.GET("/healthz", handlers.HandleHealth)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}
	RegisterRoutes(&router.RouterGroup, handlers)
	return router
}

// requestLogger logs one line per request.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Int64("latency_ms", time.Since(start).Milliseconds()),
			slog.String("trace_id", telemetry.TraceID(c.Request.Context())),
		)
	}
}

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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/opfuse/services/fusion/cache"
	"github.com/AleutianAI/opfuse/services/fusion/catalog"
	"github.com/AleutianAI/opfuse/services/fusion/config"
	"github.com/AleutianAI/opfuse/services/fusion/opgraph"
)

func newTestRouter(t *testing.T, metrics http.Handler, opts ...Option) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.DefaultConfig()
	cfg.Driver.Workers = 1
	cfg.Driver.Order = "topological"
	cfg.Patterns.MaxRepetition = catalog.MaxRepetition
	return NewRouter("opfuse-test", NewHandlers(cfg, opts...), metrics)
}

func do(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func matmulRelu() *GraphSpec {
	return &GraphSpec{Ops: []OpSpec{
		{Kind: "MatMul", Name: "mm", Inputs: []int{0, 1}, Outputs: []int{2}},
		{Kind: "relu", Inputs: []int{2}, Outputs: []int{3}},
	}}
}

func TestHandleHealth(t *testing.T) {
	router := newTestRouter(t, nil)

	w := do(t, router, http.MethodGet, "/healthz", nil)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, len(catalog.Entries()), resp.Patterns)
}

func TestHandlePatterns(t *testing.T) {
	router := newTestRouter(t, nil)

	w := do(t, router, http.MethodGet, "/v1/patterns", nil)
	require.Equal(t, http.StatusOK, w.Code)
	views := decode[[]PatternView](t, w)
	require.Len(t, views, len(catalog.Entries()))
	assert.Equal(t, catalog.Names()[0], views[0].Name)
	for _, v := range views {
		assert.True(t, v.Enabled)
		assert.Empty(t, v.Structure)
	}

	w = do(t, router, http.MethodGet, "/v1/patterns?describe=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	for _, v := range decode[[]PatternView](t, w) {
		assert.NotEmpty(t, v.Structure, v.Name)
	}
}

func TestHandleSamples(t *testing.T) {
	router := newTestRouter(t, nil)

	w := do(t, router, http.MethodGet, "/v1/samples", nil)

	require.Equal(t, http.StatusOK, w.Code)
	views := decode[[]SampleView](t, w)
	require.Len(t, views, len(catalog.Samples()))
	for _, v := range views {
		assert.Positive(t, v.Ops, v.Name)
	}
}

func TestHandleMatch_Sample(t *testing.T) {
	router := newTestRouter(t, nil)

	w := do(t, router, http.MethodPost, "/v1/match", MatchRequest{Sample: "mlp"})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[MatchResponse](t, w)
	require.Len(t, resp.Partitions, 1)
	assert.Equal(t, "mlp", resp.Partitions[0].Pattern)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6}, resp.Partitions[0].Ops)
	assert.Equal(t, 7, resp.Ops)
	assert.Equal(t, 7, resp.MatchedOps)
	assert.Equal(t, "topological", resp.Order)
	assert.NotEmpty(t, resp.RunID)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestHandleMatch_PostedGraph(t *testing.T) {
	router := newTestRouter(t, nil)

	w := do(t, router, http.MethodPost, "/v1/match", MatchRequest{Graph: matmulRelu(), Workers: 4})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[MatchResponse](t, w)
	require.Len(t, resp.Partitions, 1)
	p := resp.Partitions[0]
	assert.Equal(t, "matmul_post_ops", p.Pattern)
	assert.Equal(t, 0, p.Seed)
	assert.Equal(t, []int{0, 1}, p.Ops)
	assert.Equal(t, []string{"MatMul", "ReLU"}, p.Kinds)
	assert.Equal(t, 1, p.Repetitions["post_ops"])
	assert.Equal(t, 4, resp.Workers)
}

func TestHandleMatch_PatternSelection(t *testing.T) {
	router := newTestRouter(t, nil)

	w := do(t, router, http.MethodPost, "/v1/match", MatchRequest{
		Sample:   "resblock",
		Patterns: []string{"conv_simple_resblock"},
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[MatchResponse](t, w)
	assert.Equal(t, []string{"conv_simple_resblock"}, resp.Patterns)
	require.Len(t, resp.Partitions, 1)
	assert.Len(t, resp.Partitions[0].Ops, 7)
}

func TestHandleMatch_Errors(t *testing.T) {
	cyclic := &GraphSpec{Ops: []OpSpec{
		{Kind: "Add", Inputs: []int{1}, Outputs: []int{0}},
		{Kind: "ReLU", Inputs: []int{0}, Outputs: []int{1}},
	}}
	twoProducers := &GraphSpec{Ops: []OpSpec{
		{Kind: "ReLU", Inputs: []int{0}, Outputs: []int{1}},
		{Kind: "ReLU", Inputs: []int{0}, Outputs: []int{1}},
	}}
	unknownKind := &GraphSpec{Ops: []OpSpec{{Kind: "Frobnicate", Inputs: []int{0}, Outputs: []int{1}}}}

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"empty body", map[string]any{}, http.StatusBadRequest, CodeInvalidRequest},
		{"sample and graph", MatchRequest{Sample: "mlp", Graph: matmulRelu()}, http.StatusBadRequest, CodeInvalidRequest},
		{"bad workers", MatchRequest{Sample: "mlp", Workers: 100}, http.StatusBadRequest, CodeInvalidRequest},
		{"bad order", MatchRequest{Sample: "mlp", Order: "sideways"}, http.StatusBadRequest, CodeInvalidRequest},
		{"empty graph", MatchRequest{Graph: &GraphSpec{}}, http.StatusBadRequest, CodeInvalidRequest},
		{"unknown sample", MatchRequest{Sample: "nope"}, http.StatusNotFound, CodeUnknownSample},
		{"unknown pattern", MatchRequest{Sample: "mlp", Patterns: []string{"nope"}}, http.StatusBadRequest, CodeUnknownPattern},
		{"cyclic graph", MatchRequest{Graph: cyclic}, http.StatusUnprocessableEntity, CodeInvalidGraph},
		{"two producers", MatchRequest{Graph: twoProducers}, http.StatusUnprocessableEntity, CodeInvalidGraph},
		{"unknown kind", MatchRequest{Graph: unknownKind}, http.StatusUnprocessableEntity, CodeInvalidGraph},
	}

	router := newTestRouter(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, http.MethodPost, "/v1/match", tt.body)

			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, w).Code)
		})
	}
}

func TestHandleMatch_SharedCache(t *testing.T) {
	store, err := cache.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	router := newTestRouter(t, nil, WithCache(store))

	first := decode[MatchResponse](t, do(t, router, http.MethodPost, "/v1/match", MatchRequest{Sample: "attention"}))
	second := decode[MatchResponse](t, do(t, router, http.MethodPost, "/v1/match", MatchRequest{Sample: "attention"}))

	assert.False(t, first.CacheHit)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Partitions, second.Partitions)
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("opfuse_driver_runs_total 1\n"))
	})

	w := do(t, newTestRouter(t, metrics), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "opfuse_driver_runs_total")

	w = do(t, newTestRouter(t, nil), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBuildGraph_Attributes(t *testing.T) {
	g, err := BuildGraph(&GraphSpec{Ops: []OpSpec{{
		Kind:    "Convolution",
		Inputs:  []int{0, 1},
		Outputs: []int{2},
		Attrs: map[string]any{
			"groups":  float64(4),
			"alpha":   0.5,
			"strides": []any{float64(1), float64(2)},
			"format":  "NCX",
		},
	}}})
	require.NoError(t, err)

	op, ok := g.Op(0)
	require.True(t, ok)
	assert.Equal(t, opgraph.Convolution, op.Kind())
	groups, ok := op.AttrInt("groups")
	require.True(t, ok)
	assert.Equal(t, int64(4), groups)
	alpha, ok := op.AttrFloat("alpha")
	require.True(t, ok)
	assert.InDelta(t, 0.5, alpha, 1e-9)
	strides, ok := op.AttrInts("strides")
	require.True(t, ok)
	assert.Equal(t, []int64{1, 2}, strides)
	format, ok := op.AttrString("format")
	require.True(t, ok)
	assert.Equal(t, "NCX", format)
}

func TestAttrValue_IntegralBound(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"small integral", float64(7), int64(7)},
		{"fractional", 2.5, 2.5},
		{"beyond exact range", 1e300, 1e300},
		{"integral array", []any{float64(1), float64(2)}, []int64{1, 2}},
		{"array beyond exact range", []any{1e300, float64(2)}, []any{1e300, float64(2)}},
		{"array at bound", []any{float64(1 << 53)}, []any{float64(1 << 53)}},
		{"mixed array", []any{float64(1), "x"}, []any{float64(1), "x"}},
		{"string", "NCX", "NCX"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, attrValue(tt.in))
		})
	}
}

func TestHandleMatch_RateLimited(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.DefaultConfig()
	cfg.Driver.Workers = 1
	cfg.Driver.Order = "topological"
	cfg.Server.RateLimit = 0.001
	cfg.Server.Burst = 1
	router := NewRouter("opfuse-test", NewHandlers(cfg), nil)

	first := do(t, router, http.MethodPost, "/v1/match", MatchRequest{Sample: "depthwise"})
	second := do(t, router, http.MethodPost, "/v1/match", MatchRequest{Sample: "depthwise"})

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, CodeRateLimited, decode[ErrorResponse](t, second).Code)

	// Listing routes are not limited.
	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/v1/samples", nil).Code)
}

func TestHandlers_SetConfig(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.DefaultConfig()
	cfg.Driver.Workers = 1
	cfg.Driver.Order = "topological"
	h := NewHandlers(cfg)
	router := NewRouter("opfuse-test", h, nil)

	next := h.Config()
	next.Patterns.Enabled = []string{"conv_simple_resblock"}
	h.SetConfig(next)

	resp := decode[MatchResponse](t, do(t, router, http.MethodPost, "/v1/match", MatchRequest{Sample: "resblock"}))
	assert.Equal(t, []string{"conv_simple_resblock"}, resp.Patterns)

	views := decode[[]PatternView](t, do(t, router, http.MethodGet, "/v1/patterns", nil))
	for _, v := range views {
		assert.Equal(t, v.Name == "conv_simple_resblock", v.Enabled, v.Name)
	}
}

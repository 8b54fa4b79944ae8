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
	"github.com/AleutianAI/opfuse/services/fusion/driver"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Error codes.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeInvalidGraph   = "INVALID_GRAPH"
	CodeUnknownSample  = "UNKNOWN_SAMPLE"
	CodeUnknownPattern = "UNKNOWN_PATTERN"
	CodeCanceled       = "CANCELED"
	CodeRateLimited    = "RATE_LIMITED"
	CodeInternal       = "INTERNAL"
)

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Version  string `json:"version"`
	Patterns int    `json:"patterns"`
}

// PatternView describes one catalog pattern.
type PatternView struct {
	Name        string  `json:"name"`
	Priority    float64 `json:"priority"`
	Description string  `json:"description"`
	Enabled     bool    `json:"enabled"`

	// Structure is the pattern tree, present when ?describe=true.
	Structure string `json:"structure,omitempty"`
}

// SampleView describes one built-in sample graph.
type SampleView struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Ops         int    `json:"ops"`
}

// OpSpec declares one op of a request graph. Values are identified by
// integer IDs; an output ID may be produced by at most one op.
type OpSpec struct {
	Kind    string         `json:"kind" binding:"required"`
	Name    string         `json:"name,omitempty"`
	Inputs  []int          `json:"inputs" binding:"dive,gte=0"`
	Outputs []int          `json:"outputs" binding:"dive,gte=0"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// GraphSpec is an operator graph in request form. Ops are declared in ID
// order.
type GraphSpec struct {
	Ops []OpSpec `json:"ops" binding:"required,min=1,dive"`
}

// MatchRequest is the body of POST /v1/match. Exactly one of Sample and
// Graph is set. Zero-valued tuning fields fall back to the server config.
type MatchRequest struct {
	Sample string     `json:"sample,omitempty"`
	Graph  *GraphSpec `json:"graph,omitempty"`

	Patterns      []string `json:"patterns,omitempty" binding:"omitempty,unique"`
	Workers       int      `json:"workers,omitempty" binding:"omitempty,gte=1,lte=64"`
	Order         string   `json:"order,omitempty" binding:"omitempty,oneof=topological reverse"`
	MaxRepetition int      `json:"max_repetition,omitempty" binding:"omitempty,gte=1,lte=16"`
}

// PartitionView is one match of a run.
type PartitionView struct {
	Pattern     string         `json:"pattern"`
	Seed        int            `json:"seed"`
	Ops         []int          `json:"ops"`
	Kinds       []string       `json:"kinds"`
	Repetitions map[string]int `json:"repetitions,omitempty"`
}

// MatchResponse is the result of POST /v1/match.
type MatchResponse struct {
	RunID      string          `json:"run_id"`
	Patterns   []string        `json:"patterns"`
	Partitions []PartitionView `json:"partitions"`
	Ops        int             `json:"ops"`
	MatchedOps int             `json:"matched_ops"`
	Attempts   int             `json:"attempts"`
	CacheHit   bool            `json:"cache_hit"`
	Order      string          `json:"order"`
	Workers    int             `json:"workers"`
	DurationMS int64           `json:"duration_ms"`
}

// NewMatchResponse converts a run report.
func NewMatchResponse(rep *driver.Report, patterns []string, ops int) MatchResponse {
	resp := MatchResponse{
		RunID:      rep.RunID.String(),
		Patterns:   patterns,
		Partitions: make([]PartitionView, 0, len(rep.Matches)),
		Ops:        ops,
		MatchedOps: rep.MatchedOps(),
		Attempts:   rep.Attempts,
		CacheHit:   rep.CacheHit,
		Order:      rep.Order.String(),
		Workers:    rep.Workers,
		DurationMS: rep.Duration.Milliseconds(),
	}
	for _, m := range rep.Matches {
		pv := PartitionView{
			Pattern: m.Pattern,
			Seed:    m.Seed.ID(),
			Ops:     m.OpIDs(),
		}
		for _, k := range m.Kinds() {
			pv.Kinds = append(pv.Kinds, k.String())
		}
		if len(m.Repetitions) > 0 {
			pv.Repetitions = m.Repetitions
		}
		resp.Partitions = append(resp.Partitions, pv)
	}
	return resp
}

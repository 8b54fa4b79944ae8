// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package matcher binds pattern graphs to operator graphs.
//
// The search is depth-first with backtracking. Aggregate pattern nodes
// (alternation, repetition, optional, nested) are expanded lazily, only
// when the search reaches them, and every choice point works on a copy of
// the search state, so a failed branch leaves nothing to undo.
//
// A search starts by binding the seed op to the first pattern node. It then
// repeatedly follows a pattern edge with exactly one bound end: downwards
// through the consumers of a bound producer, or upwards to the producer of
// a bound consumer's input. When every leaf is bound the candidate match
// must pass two global checks: side outputs must be covered by the pattern,
// and contracting the matched ops must not create a cycle.
package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/AleutianAI/opfuse/services/fusion/opgraph"
	"github.com/AleutianAI/opfuse/services/fusion/pattern"
)

// ctxCheckInterval is the number of search steps between context checks.
const ctxCheckInterval = 256

// Option configures a Matcher.
type Option func(*Matcher)

// WithLogger sets the logger. Nil means slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Matcher) { m.logger = logger }
}

// Matcher finds pattern matches rooted at seed ops.
//
// Thread Safety:
//
//	A Matcher holds no per-search state and is safe for concurrent use.
//	Find only reads the operator graph; Match additionally marks the
//	matched ops through opgraph.Graph.MarkMatched.
type Matcher struct {
	logger *slog.Logger
}

// New creates a Matcher.
func New(opts ...Option) *Matcher {
	m := &Matcher{}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// Find searches for a match of p whose first node binds seed.
//
// Description:
//
//	Find never marks ops. Ops already marked as matched can only be bound
//	by anchor leaves. Invalid arguments, an unfrozen pattern and a
//	cancelled context all report no match; use Match to tell them apart.
//
// Outputs:
//
//	*Match - The first match in search order, or nil.
//	bool   - True if a match was found.
func (m *Matcher) Find(ctx context.Context, seed *opgraph.Op, p *pattern.Graph) (*Match, bool) {
	if checkArgs(seed, p) != nil {
		return nil, false
	}
	match, _ := m.find(ctx, seed, p)
	return match, match != nil
}

// Match finds a match of p at seed and marks its ops as consumed.
//
// Description:
//
//	A failed search returns (nil, false, nil). Errors are reserved for
//	caller mistakes and for losing a race with another writer.
//
// Errors:
//
//	ErrNilSeed, ErrNilPattern     - Missing argument.
//	ErrPatternNotFrozen           - p was never frozen.
//	opgraph.ErrGraphNotFinalized  - The seed's graph is still building.
//	opgraph.ErrAlreadyMatched     - Another writer marked an op first.
//	ctx.Err()                     - The context was cancelled mid-search.
//
// Thread Safety: Safe for concurrent use.
func (m *Matcher) Match(ctx context.Context, seed *opgraph.Op, p *pattern.Graph) (*Match, bool, error) {
	if err := checkArgs(seed, p); err != nil {
		return nil, false, err
	}
	match, err := m.find(ctx, seed, p)
	if err != nil {
		return nil, false, err
	}
	if match == nil {
		return nil, false, nil
	}
	if err := seed.Graph().MarkMatched(match.Ops); err != nil {
		return nil, false, fmt.Errorf("mark %s at %s: %w", p.Name(), seed, err)
	}
	return match, true, nil
}

func checkArgs(seed *opgraph.Op, p *pattern.Graph) error {
	switch {
	case seed == nil:
		return ErrNilSeed
	case p == nil:
		return ErrNilPattern
	case !p.IsFrozen():
		return fmt.Errorf("%w: %s", ErrPatternNotFrozen, p.Name())
	case !seed.Graph().IsFinalized():
		return opgraph.ErrGraphNotFinalized
	}
	return nil
}

func (m *Matcher) find(ctx context.Context, seed *opgraph.Op, p *pattern.Graph) (*Match, error) {
	start := time.Now()
	s := &search{ctx: ctx, seed: seed}

	var match *Match
	if final := s.solve(newState(p)); final != nil {
		match = buildMatch(p.Name(), seed, final)
	}
	duration := time.Since(start)
	recordAttempt(ctx, p.Name(), duration, match != nil, s.reason)

	m.logger.Debug("match attempt",
		slog.String("pattern", p.Name()),
		slog.String("seed", seed.String()),
		slog.Bool("matched", match != nil),
		slog.String("reason", string(s.reason)),
		slog.Int("steps", s.steps),
		slog.Duration("duration", duration),
	)
	if s.err != nil {
		return nil, s.err
	}
	return match, nil
}

// search is the per-attempt bookkeeping shared by all branches.
type search struct {
	ctx    context.Context
	seed   *opgraph.Op
	steps  int
	err    error
	reason Reason
}

func (s *search) reject(r Reason) { s.reason = r }

func (s *search) stopped() bool { return s.err != nil }

func (s *search) tick() bool {
	s.steps++
	if s.err == nil && (s.steps-1)%ctxCheckInterval == 0 {
		s.err = s.ctx.Err()
	}
	return s.err != nil
}

// solve advances st by one binding or expansion and recurses. It returns
// the first accepted final state reachable from st, or nil.
func (s *search) solve(st *state) *state {
	if s.tick() {
		return nil
	}
	if !st.consistent() {
		s.reject(ReasonEdge)
		return nil
	}
	if len(st.bind) == 0 {
		return s.bindSeed(st)
	}

	for _, e := range st.edges {
		_, fromBound := st.bind[e.from.node]
		_, toBound := st.bind[e.to.node]
		switch {
		case fromBound == toBound:
			continue
		case fromBound:
			if n := st.nodes[e.to.node]; !n.isLeaf() {
				return s.expand(st, n)
			}
			return s.extendDown(st, e)
		default:
			if n := st.nodes[e.from.node]; !n.isLeaf() {
				return s.expand(st, n)
			}
			return s.extendUp(st, e)
		}
	}

	nodes := st.sortedNodes()
	for _, n := range nodes {
		if !n.isLeaf() {
			return s.expand(st, n)
		}
	}
	for _, n := range nodes {
		if _, ok := st.bind[n.id]; !ok {
			s.reject(ReasonUnreachable)
			return nil
		}
	}
	if !s.accept(st) {
		return nil
	}
	return st
}

// bindSeed binds the seed op to the first node in declaration order.
func (s *search) bindSeed(st *state) *state {
	nodes := st.sortedNodes()
	if len(nodes) == 0 {
		s.reject(ReasonUnreachable)
		return nil
	}
	root := nodes[0]
	if !root.isLeaf() {
		return s.expand(st, root)
	}
	return s.bindEach(st, root, s.seed, func([]int) bool { return true })
}

// extendDown binds the consumer end of e among the consumers of the value
// produced at its bound end.
func (s *search) extendDown(st *state, e edge) *state {
	x := st.bind[e.from.node]
	out := x.Output(e.from.port)
	if out == nil || out.NumConsumers() == 0 {
		s.reject(ReasonEdge)
		return nil
	}
	n := st.nodes[e.to.node]

	var tried []*opgraph.Op
	for _, use := range out.Consumers() {
		if slices.Contains(tried, use.Op) {
			continue
		}
		tried = append(tried, use.Op)
		y := use.Op
		res := s.bindEach(st, n, y, func(perm []int) bool {
			return e.to.port < len(perm) && y.Input(perm[e.to.port]) == out
		})
		if res != nil || s.stopped() {
			return res
		}
	}
	return nil
}

// extendUp binds the producer end of e to the producer feeding its bound
// consumer.
func (s *search) extendUp(st *state, e edge) *state {
	y := st.bind[e.to.node]
	perm := st.slots[e.to.node]
	if e.to.port >= len(perm) {
		s.reject(ReasonEdge)
		return nil
	}
	x, slot := y.Input(perm[e.to.port]).Producer()
	if x == nil || slot != e.from.port {
		s.reject(ReasonEdge)
		return nil
	}
	return s.bindEach(st, st.nodes[e.from.node], x, func([]int) bool { return true })
}

// bindEach tries op at leaf n under every admissible input permutation.
func (s *search) bindEach(st *state, n *flatNode, op *opgraph.Op, admit func(perm []int) bool) *state {
	for _, perm := range st.permutations(n, op) {
		if !admit(perm) {
			continue
		}
		next := s.tryBind(st, n, op, perm)
		if next == nil {
			continue
		}
		if res := s.solve(next); res != nil || s.stopped() {
			return res
		}
	}
	return nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package driver walks an operator graph and applies registered patterns.
//
// Every op is visited once, in topological or reverse topological order.
// At each op that no earlier match consumed, the patterns are tried in
// registration order and the first match wins; its ops are marked so no
// later seed can claim them.
//
// Example:
//
//	d := driver.New(driver.WithWorkers(4))
//	if err := d.Register("conv_bias_relu", p); err != nil {
//	    return err
//	}
//	report, err := d.Run(ctx, g)
package driver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/opfuse/services/fusion/cache"
	"github.com/AleutianAI/opfuse/services/fusion/matcher"
	"github.com/AleutianAI/opfuse/services/fusion/opgraph"
	"github.com/AleutianAI/opfuse/services/fusion/pattern"
	"github.com/AleutianAI/opfuse/services/fusion/telemetry"
)

// Order is the op visit order of a run.
type Order int

const (
	// OrderTopological visits producers before consumers.
	OrderTopological Order = iota

	// OrderReverseTopological visits consumers before producers.
	OrderReverseTopological
)

// String returns the config name of the order.
func (o Order) String() string {
	switch o {
	case OrderTopological:
		return "topological"
	case OrderReverseTopological:
		return "reverse"
	default:
		return "unknown"
	}
}

// ParseOrder parses a config order name.
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(s) {
	case "topological", "topo", "":
		return OrderTopological, nil
	case "reverse", "reverse_topological":
		return OrderReverseTopological, nil
	default:
		return OrderTopological, fmt.Errorf("%w: %q", ErrInvalidOrder, s)
	}
}

// Cache stores run results by key. *cache.Store implements it.
type Cache interface {
	Get(ctx context.Context, key string) ([]cache.Entry, bool, error)
	Put(ctx context.Context, key string, entries []cache.Entry) error
}

// Option configures a Driver.
type Option func(*Driver)

// WithWorkers sets the number of concurrent searches. Values below 2 run
// sequentially.
func WithWorkers(n int) Option {
	return func(d *Driver) { d.workers = max(n, 1) }
}

// WithOrder sets the visit order.
func WithOrder(o Order) Option {
	return func(d *Driver) { d.order = o }
}

// WithCache enables result replay through c.
func WithCache(c Cache) Option {
	return func(d *Driver) { d.cache = c }
}

// WithMatcher sets the matcher. Nil means matcher.New with the driver's
// logger.
func WithMatcher(m *matcher.Matcher) Option {
	return func(d *Driver) { d.matcher = m }
}

// WithLogger sets the logger. Nil means slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) { d.logger = logger }
}

type registered struct {
	name  string
	graph *pattern.Graph
}

// Driver applies a registry of patterns to operator graphs.
//
// Thread Safety:
//
//	Register and Run may be called concurrently. Concurrent Runs over the
//	same graph are not supported: each run assumes it is the only writer
//	of the graph's matched markers.
type Driver struct {
	mu       sync.RWMutex
	patterns []registered
	names    map[string]bool

	matcher *matcher.Matcher
	logger  *slog.Logger
	workers int
	order   Order
	cache   Cache
}

// New creates a driver with an empty registry.
func New(opts ...Option) *Driver {
	d := &Driver{
		names:   make(map[string]bool),
		workers: 1,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.matcher == nil {
		d.matcher = matcher.New(matcher.WithLogger(d.logger))
	}
	return d
}

// Register freezes p and appends it to the registry under name. An empty
// name registers p under its own name.
//
// Errors:
//
//	matcher.ErrNilPattern - p is nil.
//	ErrDuplicatePattern   - name is taken.
//	Any construction error recorded by p.
func (d *Driver) Register(name string, p *pattern.Graph) error {
	if p == nil {
		return matcher.ErrNilPattern
	}
	if name == "" {
		name = p.Name()
	}
	if err := p.Freeze(); err != nil {
		return fmt.Errorf("register %q: %w", name, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.names[name] {
		return fmt.Errorf("%w: %q", ErrDuplicatePattern, name)
	}
	d.names[name] = true
	d.patterns = append(d.patterns, registered{name: name, graph: p})
	return nil
}

// Patterns returns the registered names in registration order.
func (d *Driver) Patterns() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, len(d.patterns))
	for i, r := range d.patterns {
		out[i] = r.name
	}
	return out
}

// Pattern returns the pattern registered under name.
func (d *Driver) Pattern(name string) (*pattern.Graph, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, r := range d.patterns {
		if r.name == name {
			return r.graph, true
		}
	}
	return nil, false
}

// Signature digests the registry: names, order and pattern structure.
func (d *Driver) Signature() string {
	return signature(d.snapshot())
}

func signature(patterns []registered) string {
	h := sha256.New()
	for _, r := range patterns {
		fmt.Fprintf(h, "%s=%s\n", r.name, r.graph.Signature())
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (d *Driver) snapshot() []registered {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.patterns)
}

// Report is the outcome of one Run.
type Report struct {
	RunID uuid.UUID

	// Matches are in the order they were committed.
	Matches []*matcher.Match

	// Attempts counts (seed, pattern) searches. A replayed run counts one
	// per cached match.
	Attempts int

	Duration time.Duration
	CacheHit bool
	Order    Order
	Workers  int
}

// Partitions returns the op IDs of each match.
func (r *Report) Partitions() [][]int {
	out := make([][]int, len(r.Matches))
	for i, m := range r.Matches {
		out[i] = m.OpIDs()
	}
	return out
}

// MatchedOps returns the number of ops consumed by the run.
func (r *Report) MatchedOps() int {
	n := 0
	for _, m := range r.Matches {
		n += m.Size()
	}
	return n
}

// Run matches the registered patterns over g and marks the matched ops.
//
// Description:
//
//	Ops already marked when Run starts are never seeded or bound, except
//	by anchor leaves. With a cache, a stored result for the same graph,
//	registry, order and prior marks is replayed and verified first; a
//	result that does not reproduce falls back to a full search. The cache
//	is skipped when a registered pattern is not Labeled, since its
//	signature cannot tell its predicates apart. A run that fails clears
//	the marks it made.
//
// Errors:
//
//	ErrNilGraph                  - g is nil.
//	opgraph.ErrGraphNotFinalized - g is still building.
//	ErrNoPatterns                - nothing is registered.
//	ctx.Err()                    - the context ended between seeds.
//
// Thread Safety: See Driver.
func (d *Driver) Run(ctx context.Context, g *opgraph.Graph) (*Report, error) {
	if g == nil {
		return nil, ErrNilGraph
	}
	seeds, err := d.visitOrder(g)
	if err != nil {
		return nil, err
	}
	patterns := d.snapshot()
	if len(patterns) == 0 {
		return nil, ErrNoPatterns
	}

	start := time.Now()
	rep := &Report{RunID: uuid.New(), Order: d.order, Workers: d.workers}
	ctx, span := startRunSpan(ctx, rep.RunID.String(), len(seeds), len(patterns), d.workers, d.order)
	defer span.End()

	d.logger.Info("fusion run started",
		slog.String("run_id", rep.RunID.String()),
		slog.Int("ops", len(seeds)),
		slog.Int("patterns", len(patterns)),
		slog.Int("workers", d.workers),
		slog.String("order", d.order.String()),
	)

	var key string
	useCache := d.cache != nil && cacheable(patterns)
	if d.cache != nil && !useCache {
		d.logger.Debug("match cache skipped: pattern with anonymous predicates",
			slog.String("run_id", rep.RunID.String()),
		)
	}
	if useCache {
		key, err = cacheKey(g, patterns, d.order)
		if err != nil {
			return nil, d.abort(g, rep, span, err)
		}
		if err := d.replay(ctx, g, key, patterns, rep); err != nil {
			return nil, d.abort(g, rep, span, err)
		}
	}

	if !rep.CacheHit {
		if d.workers > 1 {
			err = d.runParallel(ctx, seeds, patterns, rep)
		} else {
			err = d.runSequential(ctx, seeds, patterns, rep)
		}
		if err != nil {
			return nil, d.abort(g, rep, span, err)
		}
		if useCache {
			d.store(ctx, key, rep)
		}
	}

	rep.Duration = time.Since(start)
	setRunSpanResult(span, len(rep.Matches), rep.Attempts, rep.CacheHit)
	telemetry.SetSpanOK(span)
	recordRun(ctx, d.order, rep.Duration, len(rep.Matches), rep.CacheHit)

	d.logger.Info("fusion run finished",
		slog.String("run_id", rep.RunID.String()),
		slog.Int("matches", len(rep.Matches)),
		slog.Int("matched_ops", rep.MatchedOps()),
		slog.Int("attempts", rep.Attempts),
		slog.Bool("cache_hit", rep.CacheHit),
		slog.Int64("duration_ms", rep.Duration.Milliseconds()),
	)
	return rep, nil
}

// abort undoes the marks of a failed run.
func (d *Driver) abort(g *opgraph.Graph, rep *Report, span trace.Span, err error) error {
	for _, m := range rep.Matches {
		g.ClearMatched(m.Ops)
	}
	telemetry.RecordError(span, err)
	d.logger.Warn("fusion run aborted",
		slog.String("run_id", rep.RunID.String()),
		slog.Int("rolled_back", len(rep.Matches)),
		slog.String("error", err.Error()),
	)
	return err
}

func (d *Driver) visitOrder(g *opgraph.Graph) ([]*opgraph.Op, error) {
	seeds, err := g.TopoOrder()
	if err != nil {
		return nil, err
	}
	if d.order == OrderReverseTopological {
		slices.Reverse(seeds)
	}
	return seeds, nil
}

func (d *Driver) runSequential(ctx context.Context, seeds []*opgraph.Op, patterns []registered, rep *Report) error {
	for _, seed := range seeds {
		if err := ctx.Err(); err != nil {
			return err
		}
		m, attempts, err := d.matchSeed(ctx, seed, patterns)
		rep.Attempts += attempts
		if err != nil {
			return err
		}
		if m != nil {
			rep.Matches = append(rep.Matches, m)
		}
	}
	return nil
}

// matchSeed tries each pattern at seed and commits the first match.
func (d *Driver) matchSeed(ctx context.Context, seed *opgraph.Op, patterns []registered) (*matcher.Match, int, error) {
	if seed.IsMatched() {
		return nil, 0, nil
	}
	attempts := 0
	for _, r := range patterns {
		attempts++
		m, ok, err := d.matcher.Match(ctx, seed, r.graph)
		if err != nil {
			return nil, attempts, fmt.Errorf("pattern %q at %s: %w", r.name, seed, err)
		}
		if ok {
			m.Pattern = r.name
			return m, attempts, nil
		}
	}
	return nil, attempts, nil
}

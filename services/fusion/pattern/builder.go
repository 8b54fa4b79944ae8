// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pattern provides the builder for fusion pattern graphs.
//
// A pattern graph is a small DAG of pattern nodes. Leaves match single
// operations; aggregates (alternation, repetition, optional, nested) embed
// other pattern graphs and are expanded by the matcher on demand.
//
//	p := pattern.NewGraph("conv_bias_relu")
//	conv := p.AppendOp(opgraph.Convolution, nil)
//	bias := p.AppendOp(opgraph.BiasAdd, []pattern.InEdge{pattern.In(0, conv, 0)})
//	p.AppendOp(opgraph.ReLU, []pattern.InEdge{pattern.In(0, bias, 0)})
//	if err := p.Freeze(); err != nil { ... }
//
// The builder records the first construction error and turns every later
// Append call into a no-op returning nil. The error is reported by Err,
// Freeze, and any attempt to embed the graph elsewhere.
package pattern

import (
	"fmt"
	"sort"

	"github.com/AleutianAI/opfuse/services/fusion/opgraph"
)

// State represents the lifecycle state of a pattern Graph.
type State int

const (
	// StateBuilding accepts Append calls.
	StateBuilding State = iota

	// StateFrozen is read-only and safe to share between matchers.
	StateFrozen
)

// String returns the string representation of the State.
func (s State) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateFrozen:
		return "frozen"
	default:
		return "unknown"
	}
}

// NodeOption configures a node at append time.
type NodeOption func(*nodeOptions)

type nodeOptions struct {
	name     string
	external []int
}

// WithName sets the node name used in match bindings.
func WithName(name string) NodeOption {
	return func(o *nodeOptions) { o.name = name }
}

// WithAllowExternalOutput marks output ports whose consumers may lie
// outside the match.
func WithAllowExternalOutput(ports ...int) NodeOption {
	return func(o *nodeOptions) { o.external = append(o.external, ports...) }
}

// Graph is a pattern graph under construction or frozen.
//
// Thread Safety:
//
//	Building is not safe for concurrent use. A frozen graph is immutable
//	and may be matched from many goroutines.
type Graph struct {
	name     string
	state    State
	nodes    []*Node
	inputs   map[int]PortRef
	outputs  map[int]PortRef
	identity bool
	err      error
}

// NewGraph creates an empty pattern graph.
func NewGraph(name string) *Graph {
	return &Graph{
		name:    name,
		inputs:  make(map[int]PortRef),
		outputs: make(map[int]PortRef),
	}
}

// SingleOp builds a frozen one-node graph matching kind. Its ports are the
// identity: graph port p is port p of the node, in both directions.
func SingleOp(kind opgraph.OpKind, decisions ...Decision) *Graph {
	g := NewGraph(kind.String())
	n := g.AppendOp(kind, nil)
	for _, d := range decisions {
		n.AppendDecision(d)
	}
	g.identity = true
	_ = g.Freeze()
	return g
}

// Name returns the graph name.
func (g *Graph) Name() string { return g.name }

// State returns the lifecycle state.
func (g *Graph) State() State { return g.state }

// IsFrozen reports whether Freeze succeeded.
func (g *Graph) IsFrozen() bool { return g.state == StateFrozen }

// Err returns the first construction error, if any.
func (g *Graph) Err() error { return g.err }

// Identity reports whether the graph maps every port to its single node.
func (g *Graph) Identity() bool { return g.identity }

// Nodes returns the nodes in declaration order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Root returns the first declared node, or nil for an empty graph.
func (g *Graph) Root() *Node {
	if len(g.nodes) == 0 {
		return nil
	}
	return g.nodes[0]
}

// Freeze validates the graph and makes it read-only. Freezing a frozen
// graph is a no-op.
//
// Errors:
//
//	The first recorded construction error, or ErrEmptyPattern.
func (g *Graph) Freeze() error {
	if g.err != nil {
		return g.err
	}
	if g.state == StateFrozen {
		return nil
	}
	if len(g.nodes) == 0 {
		g.fail(ErrEmptyPattern)
		return g.err
	}
	g.state = StateFrozen
	return nil
}

func (g *Graph) fail(err error) {
	if g.err == nil {
		g.err = fmt.Errorf("pattern %q: %w", g.name, err)
	}
}

// mutable reports whether the graph still accepts changes, recording
// ErrPatternFrozen when it does not.
func (g *Graph) mutable() bool {
	if g.err != nil {
		return false
	}
	if g.state == StateFrozen {
		g.fail(ErrPatternFrozen)
		return false
	}
	return true
}

// AppendOp appends a leaf matching operations of the given kind.
//
// Description:
//
//	opgraph.Wildcard appends an anchor: it matches any operation, may bind
//	an operation that is already fused, and is never part of the match.
//	Input ports without an in-edge are unconstrained.
//
// Outputs:
//
//	*Node - The new node, or nil if the graph is in error.
func (g *Graph) AppendOp(kind opgraph.OpKind, inEdges []InEdge, opts ...NodeOption) *Node {
	if !g.mutable() {
		return nil
	}
	if !kind.Valid() {
		g.fail(fmt.Errorf("%w: %d", opgraph.ErrUnknownKind, int(kind)))
		return nil
	}
	leaf := &LeafOp{Kinds: []opgraph.OpKind{kind}}
	if kind == opgraph.Wildcard {
		leaf.Anchor = true
		leaf.Decisions = []Decision{Any()}
	} else {
		leaf.Decisions = []Decision{KindIs(kind)}
	}
	return g.appendNode(leaf, inEdges, opts)
}

// AppendPredicate appends a leaf matching any operation accepted by pred.
// The predicate is anonymous.
func (g *Graph) AppendPredicate(pred Predicate, inEdges []InEdge, opts ...NodeOption) *Node {
	if !g.mutable() {
		return nil
	}
	if pred == nil {
		g.fail(ErrNoPredicate)
		return nil
	}
	return g.appendNode(&LeafOp{Decisions: []Decision{{Accept: pred}}}, inEdges, opts)
}

// AppendAlternation appends a node matching exactly one of candidates,
// tried in order. Every candidate is frozen.
func (g *Graph) AppendAlternation(candidates []*Graph, inEdges []InEdge, opts ...NodeOption) *Node {
	if !g.mutable() {
		return nil
	}
	if len(candidates) == 0 {
		g.fail(ErrEmptyAlternation)
		return nil
	}
	for _, c := range candidates {
		if !g.embed(c) {
			return nil
		}
	}
	alt := &Alternation{Candidates: append([]*Graph(nil), candidates...)}
	return g.appendNode(alt, inEdges, opts)
}

// AppendKindAlternation appends an alternation of single-op candidates.
func (g *Graph) AppendKindAlternation(kinds []opgraph.OpKind, inEdges []InEdge, opts ...NodeOption) *Node {
	if !g.mutable() {
		return nil
	}
	candidates := make([]*Graph, 0, len(kinds))
	for _, k := range kinds {
		candidates = append(candidates, SingleOp(k))
	}
	return g.AppendAlternation(candidates, inEdges, opts...)
}

// AppendRepetition appends a node matching body between min and max-1
// consecutive times.
//
// Inputs:
//
//	body     - The repeated graph. It is frozen.
//	feedback - Output port of one instance feeding input port of the next.
//	min, max - Half-open instance range; requires 0 <= min < max.
//
// Errors (recorded):
//
//	ErrInvalidRepetitionRange - The range is empty or negative.
//	ErrUnresolvedPort         - body does not expose the feedback ports.
func (g *Graph) AppendRepetition(body *Graph, feedback PortMap, min, max int, inEdges []InEdge, opts ...NodeOption) *Node {
	if !g.mutable() {
		return nil
	}
	if min < 0 || max <= min {
		g.fail(fmt.Errorf("%w: [%d,%d)", ErrInvalidRepetitionRange, min, max))
		return nil
	}
	if !g.embed(body) {
		return nil
	}
	if !body.hasOutput(feedback.Out) || !body.hasInput(feedback.In) {
		g.fail(fmt.Errorf("%w: feedback %d->%d of %q", ErrUnresolvedPort, feedback.Out, feedback.In, body.name))
		return nil
	}
	rep := &Repetition{Body: body, Feedback: feedback, Min: min, Max: max}
	return g.appendNode(rep, inEdges, opts)
}

// AppendOptional appends a node matching body zero or one time.
func (g *Graph) AppendOptional(body *Graph, inEdges []InEdge, opts ...NodeOption) *Node {
	if !g.mutable() {
		return nil
	}
	if !g.embed(body) {
		return nil
	}
	return g.appendNode(&Optional{Body: body}, inEdges, opts)
}

// AppendGraph appends body as a nested node exposing its declared ports.
func (g *Graph) AppendGraph(body *Graph, inEdges []InEdge, opts ...NodeOption) *Node {
	if !g.mutable() {
		return nil
	}
	if !g.embed(body) {
		return nil
	}
	return g.appendNode(&Nested{Body: body}, inEdges, opts)
}

// embed freezes body for use inside g.
func (g *Graph) embed(body *Graph) bool {
	switch {
	case body == nil:
		g.fail(fmt.Errorf("%w: nil body", ErrEmptyPattern))
		return false
	case body == g:
		g.fail(ErrRecursivePattern)
		return false
	}
	if err := body.Freeze(); err != nil {
		g.fail(fmt.Errorf("embed: %w", err))
		return false
	}
	return true
}

func (g *Graph) appendNode(v Variant, inEdges []InEdge, opts []NodeOption) *Node {
	var o nodeOptions
	for _, opt := range opts {
		opt(&o)
	}

	n := &Node{
		id:       len(g.nodes),
		name:     o.name,
		graph:    g,
		variant:  v,
		external: make(map[int]bool),
	}
	if n.name == "" {
		n.name = fmt.Sprintf("%s_%d", defaultLabel(v), n.id)
	}

	seen := make(map[int]bool, len(inEdges))
	for _, e := range inEdges {
		if err := g.checkInEdge(n, e); err != nil {
			g.fail(err)
			return nil
		}
		if seen[e.Port] {
			g.fail(fmt.Errorf("%w: input port %d of %q", ErrDuplicatePort, e.Port, n.name))
			return nil
		}
		seen[e.Port] = true
	}
	for _, p := range o.external {
		if p < 0 || !n.hasOutput(p) {
			g.fail(fmt.Errorf("%w: output port %d of %q", ErrUnresolvedPort, p, n.name))
			return nil
		}
		n.external[p] = true
	}

	n.inEdges = append([]InEdge(nil), inEdges...)
	sort.Slice(n.inEdges, func(i, j int) bool { return n.inEdges[i].Port < n.inEdges[j].Port })
	g.nodes = append(g.nodes, n)
	return n
}

func (g *Graph) checkInEdge(n *Node, e InEdge) error {
	if e.Producer == nil || e.Producer.graph != g {
		return fmt.Errorf("%w: input port %d of %q", ErrDanglingProducer, e.Port, n.name)
	}
	if e.Port < 0 || e.ProducerPort < 0 {
		return fmt.Errorf("%w: negative port on edge %s.%d -> %s.%d",
			ErrUnresolvedPort, e.Producer.name, e.ProducerPort, n.name, e.Port)
	}
	if !e.Producer.hasOutput(e.ProducerPort) {
		return fmt.Errorf("%w: %q has no output port %d", ErrUnresolvedPort, e.Producer.name, e.ProducerPort)
	}
	if !n.hasInput(e.Port) {
		return fmt.Errorf("%w: %q has no input port %d", ErrUnresolvedPort, n.name, e.Port)
	}
	return nil
}

func defaultLabel(v Variant) string {
	if leaf, ok := v.(*LeafOp); ok {
		if len(leaf.Kinds) == 1 {
			return leaf.Kinds[0].String()
		}
		return "predicate"
	}
	return v.NodeKind().String()
}

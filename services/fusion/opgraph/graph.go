// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package opgraph provides the concrete data-flow graph searched by the
// fusion matcher.
//
// A Graph is built once per compilation job:
//
//	g := opgraph.New()
//	conv, _ := g.AddOp(opgraph.Convolution, []opgraph.ValueID{0, 1}, []opgraph.ValueID{2})
//	relu, _ := g.AddOp(opgraph.ReLU, []opgraph.ValueID{2}, []opgraph.ValueID{3})
//	if err := g.Finalize(); err != nil { ... }
//
// Values are named by caller-chosen IDs. Each value has at most one producer;
// values nobody produces are graph inputs. After Finalize the graph is
// read-only except for the per-op matched marker.
package opgraph

import (
	"container/heap"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// GraphState represents the lifecycle state of a Graph.
type GraphState int

const (
	// GraphStateBuilding accepts AddOp calls.
	GraphStateBuilding GraphState = iota

	// GraphStateFinalized is validated, topologically ordered and read-only.
	GraphStateFinalized
)

// String returns the string representation of the GraphState.
func (s GraphState) String() string {
	switch s {
	case GraphStateBuilding:
		return "building"
	case GraphStateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// OpOption configures an op at insertion time.
type OpOption func(*opOptions)

type opOptions struct {
	name  string
	attrs map[string]any
}

// WithName sets a human-readable op name.
func WithName(name string) OpOption {
	return func(o *opOptions) { o.name = name }
}

// WithAttr sets one attribute.
func WithAttr(key string, value any) OpOption {
	return func(o *opOptions) {
		if o.attrs == nil {
			o.attrs = make(map[string]any)
		}
		o.attrs[key] = value
	}
}

// Graph is a directed acyclic data-flow graph of ops.
//
// Thread Safety:
//
//	Building is not safe for concurrent use. After Finalize, all read
//	methods are safe for concurrent use; MarkMatched, ClearMatched and
//	ResetMatched serialize on an internal mutex.
type Graph struct {
	mu     sync.Mutex
	state  GraphState
	ops    []*Op
	values map[ValueID]*Value
	order  []*Op
}

// New creates an empty graph in the building state.
func New() *Graph {
	return &Graph{
		values: make(map[ValueID]*Value),
	}
}

// AddOp appends an op reading the input values and writing the output
// values. Values are created on first reference. The same value may be read
// by several slots, including several slots of one op.
//
// Errors:
//
//	ErrGraphFinalized    - the graph is finalized.
//	ErrUnknownKind       - kind is not a declared OpKind.
//	ErrInvalidSlot       - a value ID is negative.
//	ErrMultipleProducers - an output value already has a producer.
func (g *Graph) AddOp(kind OpKind, inputs, outputs []ValueID, opts ...OpOption) (*Op, error) {
	if g.state != GraphStateBuilding {
		return nil, ErrGraphFinalized
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(kind))
	}
	for _, id := range append(append([]ValueID(nil), inputs...), outputs...) {
		if id < 0 {
			return nil, fmt.Errorf("%w: value %d", ErrInvalidSlot, id)
		}
	}
	seenOut := make(map[ValueID]bool, len(outputs))
	for _, id := range outputs {
		if v, ok := g.values[id]; (ok && v.producer != nil) || seenOut[id] {
			return nil, fmt.Errorf("%w: value %d", ErrMultipleProducers, id)
		}
		seenOut[id] = true
	}

	var o opOptions
	for _, opt := range opts {
		opt(&o)
	}

	op := &Op{
		id:    len(g.ops),
		kind:  kind,
		name:  o.name,
		attrs: o.attrs,
		graph: g,
		topo:  -1,
	}
	if op.attrs == nil {
		op.attrs = map[string]any{}
	}
	for slot, id := range inputs {
		v := g.value(id)
		v.consumers = append(v.consumers, Port{Op: op, Slot: slot})
		op.inputs = append(op.inputs, v)
	}
	for slot, id := range outputs {
		v := g.value(id)
		v.producer = op
		v.slot = slot
		op.outputs = append(op.outputs, v)
	}
	g.ops = append(g.ops, op)
	return op, nil
}

func (g *Graph) value(id ValueID) *Value {
	v, ok := g.values[id]
	if !ok {
		v = &Value{id: id, slot: -1}
		g.values[id] = v
	}
	return v
}

// Finalize validates the graph and computes its topological order.
//
// The order is stable: among ops whose producers are all placed, the one
// inserted first comes first.
//
// Errors:
//
//	ErrGraphFinalized - already finalized.
//	ErrCyclicGraph    - the data flow contains a cycle.
func (g *Graph) Finalize() error {
	if g.state != GraphStateBuilding {
		return ErrGraphFinalized
	}

	indegree := make([]int, len(g.ops))
	for _, op := range g.ops {
		for _, v := range op.inputs {
			if v.producer != nil {
				indegree[op.id]++
			}
		}
	}

	ready := &idHeap{}
	for _, op := range g.ops {
		if indegree[op.id] == 0 {
			heap.Push(ready, op.id)
		}
	}

	order := make([]*Op, 0, len(g.ops))
	for ready.Len() > 0 {
		op := g.ops[heap.Pop(ready).(int)]
		op.topo = len(order)
		order = append(order, op)
		for _, v := range op.outputs {
			for _, use := range v.consumers {
				indegree[use.Op.id]--
				if indegree[use.Op.id] == 0 {
					heap.Push(ready, use.Op.id)
				}
			}
		}
	}

	if len(order) != len(g.ops) {
		var stuck []string
		for _, op := range g.ops {
			if indegree[op.id] > 0 {
				stuck = append(stuck, op.Name())
			}
			op.topo = -1
		}
		return fmt.Errorf("%w: ops %s", ErrCyclicGraph, strings.Join(stuck, ", "))
	}

	g.order = order
	g.state = GraphStateFinalized
	return nil
}

// State returns the lifecycle state.
func (g *Graph) State() GraphState { return g.state }

// IsFinalized reports whether Finalize succeeded.
func (g *Graph) IsFinalized() bool { return g.state == GraphStateFinalized }

// NumOps returns the number of ops.
func (g *Graph) NumOps() int { return len(g.ops) }

// Ops returns all ops in insertion order.
func (g *Graph) Ops() []*Op {
	out := make([]*Op, len(g.ops))
	copy(out, g.ops)
	return out
}

// Op returns the op with the given ID.
func (g *Graph) Op(id int) (*Op, bool) {
	if id < 0 || id >= len(g.ops) {
		return nil, false
	}
	return g.ops[id], true
}

// Value returns the value with the given ID.
func (g *Graph) Value(id ValueID) (*Value, bool) {
	v, ok := g.values[id]
	return v, ok
}

// Inputs returns the graph input values ordered by ID.
func (g *Graph) Inputs() []*Value {
	var out []*Value
	for _, v := range g.values {
		if v.producer == nil {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// TopoOrder returns the ops in topological order.
//
// Errors:
//
//	ErrGraphNotFinalized - Finalize has not succeeded.
func (g *Graph) TopoOrder() ([]*Op, error) {
	if g.state != GraphStateFinalized {
		return nil, ErrGraphNotFinalized
	}
	out := make([]*Op, len(g.order))
	copy(out, g.order)
	return out, nil
}

// MarkMatched atomically marks every op as consumed by a partition.
//
// Description:
//
//	Either all ops are marked or none is: if any op is already matched the
//	call fails without side effects. This is the single critical section
//	through which the matched marker is written.
//
// Errors:
//
//	ErrGraphNotFinalized - the graph is still building.
//	ErrForeignOp         - an op belongs to another graph.
//	ErrAlreadyMatched    - an op was consumed earlier.
//
// Thread Safety: Safe for concurrent use.
func (g *Graph) MarkMatched(ops []*Op) error {
	if g.state != GraphStateFinalized {
		return ErrGraphNotFinalized
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, op := range ops {
		if op.graph != g {
			return fmt.Errorf("%w: %s", ErrForeignOp, op)
		}
		if op.matched.Load() {
			return fmt.Errorf("%w: %s", ErrAlreadyMatched, op)
		}
	}
	for _, op := range ops {
		op.matched.Store(true)
	}
	return nil
}

// ClearMatched removes the matched marker from the given ops.
//
// Thread Safety: Safe for concurrent use.
func (g *Graph) ClearMatched(ops []*Op) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, op := range ops {
		if op.graph == g {
			op.matched.Store(false)
		}
	}
}

// ResetMatched clears every matched marker so the graph can be searched again.
//
// Thread Safety: Safe for concurrent use.
func (g *Graph) ResetMatched() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, op := range g.ops {
		op.matched.Store(false)
	}
}

// MatchedOps returns the ops currently marked as matched, in insertion order.
func (g *Graph) MatchedOps() []*Op {
	var out []*Op
	for _, op := range g.ops {
		if op.matched.Load() {
			out = append(out, op)
		}
	}
	return out
}

// Fingerprint returns a hex SHA-256 digest of the graph structure.
//
// Description:
//
//	The digest covers op kinds, value wiring and attributes, in insertion
//	order. Attribute values are written with their dynamic type, so "2",
//	int64(2) and float64(2) differ. Op names and matched markers are not
//	included. Two graphs built by the same sequence of AddOp calls share a
//	fingerprint.
//
// Errors:
//
//	ErrGraphNotFinalized - the graph is still building.
func (g *Graph) Fingerprint() (string, error) {
	if g.state != GraphStateFinalized {
		return "", ErrGraphNotFinalized
	}
	h := sha256.New()
	for _, op := range g.ops {
		fmt.Fprintf(h, "op %d %s in[", op.id, op.kind)
		for _, v := range op.inputs {
			fmt.Fprintf(h, "%d,", v.id)
		}
		fmt.Fprint(h, "] out[")
		for _, v := range op.outputs {
			fmt.Fprintf(h, "%d,", v.id)
		}
		fmt.Fprint(h, "] attrs{")
		keys := make([]string, 0, len(op.attrs))
		for k := range op.attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(h, "%q=", k)
			writeAttr(h, op.attrs[k])
			fmt.Fprint(h, ";")
		}
		fmt.Fprint(h, "}\n")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// writeAttr writes v in a type-tagged canonical form. Lists and maps of
// any are walked so each element keeps its own type.
func writeAttr(w io.Writer, v any) {
	switch x := v.(type) {
	case []any:
		fmt.Fprint(w, "[]any[")
		for _, e := range x {
			writeAttr(w, e)
			fmt.Fprint(w, ",")
		}
		fmt.Fprint(w, "]")
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprint(w, "map[string]any{")
		for _, k := range keys {
			fmt.Fprintf(w, "%q:", k)
			writeAttr(w, x[k])
			fmt.Fprint(w, ",")
		}
		fmt.Fprint(w, "}")
	default:
		fmt.Fprintf(w, "%T:%#v", v, v)
	}
}

// idHeap is a min-heap of op IDs.
type idHeap []int

func (h idHeap) Len() int           { return len(h) }
func (h idHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *idHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

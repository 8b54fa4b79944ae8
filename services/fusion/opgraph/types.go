// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package opgraph

import (
	"fmt"
	"sync/atomic"
)

// ValueID identifies a value (tensor) flowing between ops.
//
// Value IDs are chosen by the graph builder, so a graph can be assembled
// from any external numbering scheme.
type ValueID int

// Port names one input or output slot of an op.
type Port struct {
	Op   *Op
	Slot int
}

// String renders the port as "name:slot".
func (p Port) String() string {
	if p.Op == nil {
		return fmt.Sprintf("<nil>:%d", p.Slot)
	}
	return fmt.Sprintf("%s:%d", p.Op.Name(), p.Slot)
}

// Value is a data-flow edge: one producer output slot feeding any number
// of consumer input slots.
//
// A value without a producer is a graph input.
type Value struct {
	id        ValueID
	producer  *Op
	slot      int
	consumers []Port
}

// ID returns the builder-assigned identifier.
func (v *Value) ID() ValueID { return v.id }

// Producer returns the op writing this value and the output slot it is
// written from. Returns (nil, -1) for graph inputs.
func (v *Value) Producer() (*Op, int) {
	if v.producer == nil {
		return nil, -1
	}
	return v.producer, v.slot
}

// IsGraphInput reports whether no op produces the value.
func (v *Value) IsGraphInput() bool { return v.producer == nil }

// Consumers returns every (op, input slot) reading the value, in the
// order the uses were declared.
func (v *Value) Consumers() []Port {
	out := make([]Port, len(v.consumers))
	copy(out, v.consumers)
	return out
}

// NumConsumers returns the number of input slots reading the value.
func (v *Value) NumConsumers() int { return len(v.consumers) }

// Op is a single operation in a Graph.
//
// Thread Safety:
//
//	All accessors are safe for concurrent use once the owning graph is
//	finalized. The matched marker is written only through Graph.MarkMatched
//	and Graph.ResetMatched.
type Op struct {
	id      int
	kind    OpKind
	name    string
	inputs  []*Value
	outputs []*Value
	attrs   map[string]any
	graph   *Graph
	topo    int
	matched atomic.Bool
}

// ID returns the op's identifier, which is its insertion index.
func (o *Op) ID() int { return o.id }

// Kind returns the operation kind.
func (o *Op) Kind() OpKind { return o.kind }

// Name returns the op name, or "<kind>_<id>" when none was given.
func (o *Op) Name() string {
	if o.name != "" {
		return o.name
	}
	return fmt.Sprintf("%s_%d", o.kind, o.id)
}

// Graph returns the graph owning the op.
func (o *Op) Graph() *Graph { return o.graph }

// NumInputs returns the number of input slots.
func (o *Op) NumInputs() int { return len(o.inputs) }

// NumOutputs returns the number of output slots.
func (o *Op) NumOutputs() int { return len(o.outputs) }

// Input returns the value read by input slot i, or nil when i is out of range.
func (o *Op) Input(i int) *Value {
	if i < 0 || i >= len(o.inputs) {
		return nil
	}
	return o.inputs[i]
}

// Output returns the value written by output slot i, or nil when i is out of range.
func (o *Op) Output(i int) *Value {
	if i < 0 || i >= len(o.outputs) {
		return nil
	}
	return o.outputs[i]
}

// Producers returns the distinct ops feeding this op's inputs, in slot order.
func (o *Op) Producers() []*Op {
	var out []*Op
	seen := make(map[*Op]bool)
	for _, v := range o.inputs {
		if v.producer != nil && !seen[v.producer] {
			seen[v.producer] = true
			out = append(out, v.producer)
		}
	}
	return out
}

// Consumers returns the distinct ops reading this op's outputs, in slot
// and declaration order.
func (o *Op) Consumers() []*Op {
	var out []*Op
	seen := make(map[*Op]bool)
	for _, v := range o.outputs {
		for _, use := range v.consumers {
			if !seen[use.Op] {
				seen[use.Op] = true
				out = append(out, use.Op)
			}
		}
	}
	return out
}

// TopoIndex returns the op's position in the graph's topological order,
// or -1 before the graph is finalized.
func (o *Op) TopoIndex() int { return o.topo }

// IsMatched reports whether the op was consumed by a partition.
func (o *Op) IsMatched() bool { return o.matched.Load() }

// HasAttr reports whether the attribute is set.
func (o *Op) HasAttr(key string) bool {
	_, ok := o.attrs[key]
	return ok
}

// Attr returns the raw attribute value.
func (o *Op) Attr(key string) (any, bool) {
	v, ok := o.attrs[key]
	return v, ok
}

// AttrInt returns an integer attribute. Any Go integer type is accepted.
func (o *Op) AttrInt(key string) (int64, bool) {
	switch v := o.attrs[key].(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint32:
		return int64(v), true
	default:
		return 0, false
	}
}

// AttrFloat returns a floating point attribute.
func (o *Op) AttrFloat(key string) (float64, bool) {
	switch v := o.attrs[key].(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

// AttrString returns a string attribute.
func (o *Op) AttrString(key string) (string, bool) {
	v, ok := o.attrs[key].(string)
	return v, ok
}

// AttrBool returns a boolean attribute.
func (o *Op) AttrBool(key string) (bool, bool) {
	v, ok := o.attrs[key].(bool)
	return v, ok
}

// AttrInts returns an integer list attribute.
func (o *Op) AttrInts(key string) ([]int64, bool) {
	switch v := o.attrs[key].(type) {
	case []int64:
		out := make([]int64, len(v))
		copy(out, v)
		return out, true
	case []int:
		out := make([]int64, len(v))
		for i, x := range v {
			out[i] = int64(x)
		}
		return out, true
	default:
		return nil, false
	}
}

// String renders the op as "name(Kind)".
func (o *Op) String() string {
	return fmt.Sprintf("%s(%s)", o.Name(), o.kind)
}

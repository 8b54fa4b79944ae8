// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package matcher

import (
	"maps"
	"slices"

	"github.com/AleutianAI/opfuse/services/fusion/opgraph"
)

// Binding records which op a pattern leaf was bound to.
type Binding struct {
	// Path names the leaf through its enclosing aggregates, e.g.
	// "chain[1]/Add_0" for the second instance of repetition "chain".
	Path string

	Op *opgraph.Op

	// Anchor is true for wildcard leaves. Their op is not part of the match.
	Anchor bool
}

// Match is a successful binding of a pattern at a seed op.
type Match struct {
	Pattern string
	Seed    *opgraph.Op

	// Ops are the matched ops in topological order, anchors excluded.
	Ops []*opgraph.Op

	// Bindings are ordered by pattern declaration.
	Bindings []Binding

	// Inputs are the op input slots fed from outside the match, in Ops
	// order then slot order.
	Inputs []opgraph.Port

	// Outputs are the op output slots with a consumer outside the match
	// or with no consumer at all, in Ops order then slot order.
	Outputs []opgraph.Port

	// Repetitions maps repetition and optional paths to the instance count.
	Repetitions map[string]int
}

// Size returns the number of matched ops.
func (m *Match) Size() int { return len(m.Ops) }

// Contains reports whether op is part of the match.
func (m *Match) Contains(op *opgraph.Op) bool { return slices.Contains(m.Ops, op) }

// OpIDs returns the IDs of the matched ops, in Ops order.
func (m *Match) OpIDs() []int {
	out := make([]int, len(m.Ops))
	for i, op := range m.Ops {
		out[i] = op.ID()
	}
	return out
}

// Kinds returns the kinds of the matched ops, in Ops order.
func (m *Match) Kinds() []opgraph.OpKind {
	out := make([]opgraph.OpKind, len(m.Ops))
	for i, op := range m.Ops {
		out[i] = op.Kind()
	}
	return out
}

func buildMatch(name string, seed *opgraph.Op, st *state) *Match {
	set := st.matchedSet()
	m := &Match{
		Pattern:     name,
		Seed:        seed,
		Repetitions: maps.Clone(st.reps),
	}

	for op := range set {
		m.Ops = append(m.Ops, op)
	}
	slices.SortFunc(m.Ops, func(a, b *opgraph.Op) int { return a.TopoIndex() - b.TopoIndex() })

	nodes := st.sortedNodes()
	for _, n := range nodes {
		if op, ok := st.bind[n.id]; ok {
			m.Bindings = append(m.Bindings, Binding{Path: n.path, Op: op, Anchor: n.isAnchor()})
		}
	}

	for _, op := range m.Ops {
		for i := 0; i < op.NumInputs(); i++ {
			prod, _ := op.Input(i).Producer()
			if prod == nil || !set[prod] {
				m.Inputs = append(m.Inputs, opgraph.Port{Op: op, Slot: i})
			}
		}
	}
	for _, op := range m.Ops {
		for i := 0; i < op.NumOutputs(); i++ {
			uses := op.Output(i).Consumers()
			external := len(uses) == 0
			for _, u := range uses {
				if !set[u.Op] {
					external = true
					break
				}
			}
			if external {
				m.Outputs = append(m.Outputs, opgraph.Port{Op: op, Slot: i})
			}
		}
	}
	return m
}

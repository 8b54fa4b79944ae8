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
	"slices"
	"strconv"
	"strings"

	"github.com/AleutianAI/opfuse/services/fusion/opgraph"
)

// maxCommutativeInputs bounds the permutations tried for one op.
const maxCommutativeInputs = 4

// tryBind binds leaf n to op with input permutation perm. Every edge
// between n and an already bound leaf must agree with the concrete graph.
// Returns nil when the binding is rejected.
func (s *search) tryBind(st *state, n *flatNode, op *opgraph.Op, perm []int) *state {
	if _, taken := st.owner[op]; taken {
		s.reject(ReasonEdge)
		return nil
	}
	if op.IsMatched() && !n.isAnchor() {
		s.reject(ReasonPredicate)
		return nil
	}
	if !n.leaf.Matches(op) {
		s.reject(ReasonPredicate)
		return nil
	}

	for _, e := range st.edges {
		switch {
		case e.to.node == n.id:
			other := st.nodes[e.from.node]
			if !other.isLeaf() {
				continue
			}
			if e.to.port >= len(perm) {
				s.reject(ReasonEdge)
				return nil
			}
			prod, slot := op.Input(perm[e.to.port]).Producer()
			if prod == nil || slot != e.from.port {
				s.reject(ReasonEdge)
				return nil
			}
			if x, ok := st.bind[e.from.node]; ok && x != prod {
				s.reject(ReasonEdge)
				return nil
			}

		case e.from.node == n.id:
			other := st.nodes[e.to.node]
			if !other.isLeaf() {
				continue
			}
			out := op.Output(e.from.port)
			if out == nil || out.NumConsumers() == 0 {
				s.reject(ReasonEdge)
				return nil
			}
			if y, ok := st.bind[e.to.node]; ok {
				yperm := st.slots[e.to.node]
				if e.to.port >= len(yperm) || y.Input(yperm[e.to.port]) != out {
					s.reject(ReasonEdge)
					return nil
				}
			}
		}
	}

	next := st.clone()
	next.bind[n.id] = op
	next.owner[op] = n.id
	next.slots[n.id] = perm
	return next
}

// consistent reports whether every edge between two bound leaves is
// realized by the concrete graph. Expansion may rewire edges between
// leaves that were bound earlier, so this runs at every step.
func (st *state) consistent() bool {
	for _, e := range st.edges {
		x, okFrom := st.bind[e.from.node]
		y, okTo := st.bind[e.to.node]
		if !okFrom || !okTo {
			continue
		}
		perm := st.slots[e.to.node]
		if e.to.port >= len(perm) {
			return false
		}
		prod, slot := y.Input(perm[e.to.port]).Producer()
		if prod != x || slot != e.from.port {
			return false
		}
	}
	return true
}

// permutations lists the input slot orders to try when binding n to op.
// perm[q] is the op slot bound to pattern input port q. The identity comes
// first. Commutative ops with at least two constrained ports also get
// every other order, deduplicated on the constrained ports.
func (st *state) permutations(n *flatNode, op *opgraph.Op) [][]int {
	arity := op.NumInputs()
	identity := make([]int, arity)
	for i := range identity {
		identity[i] = i
	}
	if !op.Kind().Commutative() || arity < 2 || arity > maxCommutativeInputs {
		return [][]int{identity}
	}

	var constrained []int
	for _, e := range st.edges {
		if e.to.node == n.id && e.to.port < arity && !slices.Contains(constrained, e.to.port) {
			constrained = append(constrained, e.to.port)
		}
	}
	if len(constrained) < 2 {
		return [][]int{identity}
	}
	slices.Sort(constrained)

	var out [][]int
	seen := make(map[string]bool)
	perm := slices.Clone(identity)
	for {
		var sig strings.Builder
		for _, q := range constrained {
			sig.WriteString(strconv.Itoa(perm[q]))
			sig.WriteByte(',')
		}
		if !seen[sig.String()] {
			seen[sig.String()] = true
			out = append(out, slices.Clone(perm))
		}
		if !nextPermutation(perm) {
			return out
		}
	}
}

// nextPermutation advances p to the next lexicographic order, reporting
// false after the last one.
func nextPermutation(p []int) bool {
	i := len(p) - 2
	for i >= 0 && p[i] >= p[i+1] {
		i--
	}
	if i < 0 {
		return false
	}
	j := len(p) - 1
	for p[j] <= p[i] {
		j--
	}
	p[i], p[j] = p[j], p[i]
	slices.Reverse(p[i+1:])
	return true
}

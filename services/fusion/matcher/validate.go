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

import "github.com/AleutianAI/opfuse/services/fusion/opgraph"

// accept runs the whole-match checks on a fully bound state.
func (s *search) accept(st *state) bool {
	set := st.matchedSet()
	if len(set) == 0 {
		s.reject(ReasonUnreachable)
		return false
	}
	if !st.sideOutputsCovered() {
		s.reject(ReasonSideOutput)
		return false
	}
	if createsCycle(set) {
		s.reject(ReasonCycle)
		return false
	}
	return true
}

// matchedSet returns the ops bound to non-anchor leaves.
func (st *state) matchedSet() map[*opgraph.Op]bool {
	set := make(map[*opgraph.Op]bool, len(st.bind))
	for id, op := range st.bind {
		if !st.nodes[id].isAnchor() {
			set[op] = true
		}
	}
	return set
}

// sideOutputsCovered checks that every output consumed inside the pattern
// has no consumers the pattern does not account for. Outputs without
// pattern consumers are match outputs and may be used freely.
func (st *state) sideOutputsCovered() bool {
	type use struct {
		op   *opgraph.Op
		slot int
	}
	covered := make(map[endpoint]map[use]bool)
	for _, e := range st.edges {
		y, ok := st.bind[e.to.node]
		if !ok {
			continue
		}
		if covered[e.from] == nil {
			covered[e.from] = make(map[use]bool)
		}
		covered[e.from][use{op: y, slot: st.slots[e.to.node][e.to.port]}] = true
	}

	for from, uses := range covered {
		n := st.nodes[from.node]
		x, ok := st.bind[from.node]
		if !ok || n.isAnchor() || n.external[from.port] {
			continue
		}
		for _, c := range x.Output(from.port).Consumers() {
			if !uses[use{op: c.Op, slot: c.Slot}] {
				return false
			}
		}
	}
	return true
}

// createsCycle reports whether a path leaves the set and re-enters it, in
// which case contracting the set into one op would form a cycle.
func createsCycle(set map[*opgraph.Op]bool) bool {
	visited := make(map[*opgraph.Op]bool)
	var queue []*opgraph.Op
	for op := range set {
		for _, c := range op.Consumers() {
			if !set[c] && !visited[c] {
				visited[c] = true
				queue = append(queue, c)
			}
		}
	}
	for len(queue) > 0 {
		op := queue[0]
		queue = queue[1:]
		for _, c := range op.Consumers() {
			if set[c] {
				return true
			}
			if !visited[c] {
				visited[c] = true
				queue = append(queue, c)
			}
		}
	}
	return false
}

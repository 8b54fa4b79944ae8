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
	"fmt"
	"maps"
	"slices"

	"github.com/AleutianAI/opfuse/services/fusion/pattern"
)

// expand tries every rewrite of aggregate n in order and returns the first
// accepted final state.
func (s *search) expand(st *state, n *flatNode) *state {
	switch v := n.pnode.Variant().(type) {
	case *pattern.Alternation:
		for c, cand := range v.Candidates {
			next := st.clone()
			next.inlineBody(n, cand, append(slices.Clone(n.key), c))
			if res := s.solve(next); res != nil || s.stopped() {
				return res
			}
		}
		return nil

	case *pattern.Nested:
		next := st.clone()
		next.inlineBody(n, v.Body, n.key)
		return s.solve(next)

	case *pattern.Optional:
		next := st.clone()
		next.inlineBody(n, v.Body, n.key)
		next.reps[n.path] = 1
		if res := s.solve(next); res != nil || s.stopped() {
			return res
		}
		next = st.clone()
		next.passthrough(n, func(port int) int { return port })
		next.reps[n.path] = 0
		return s.solve(next)

	case *pattern.Repetition:
		if n.done+1 < v.Max {
			next := st.clone()
			next.instance(n, v)
			if res := s.solve(next); res != nil || s.stopped() {
				return res
			}
		}
		if n.done < v.Min {
			s.reject(ReasonRepetition)
			return nil
		}
		next := st.clone()
		if n.done == 0 {
			next.passthrough(n, func(port int) int {
				if port == v.Feedback.Out {
					return v.Feedback.In
				}
				return -1
			})
		} else {
			next.stop(n)
		}
		next.reps[n.path] = n.done
		return s.solve(next)
	}
	return nil
}

// inlineBody replaces aggregate n by one copy of body. Edges at n's ports
// are rewired through body's port mapping.
func (st *state) inlineBody(n *flatNode, body *pattern.Graph, prefix []int) {
	ids := st.inline(body, prefix, n.path)
	out := resolver(ids, body.OutputPort)
	st.redirect(n.id, resolver(ids, body.InputPort), out)
	for p := range n.external {
		if ep, ok := out(p); ok {
			st.allowExternal(ep)
		}
	}
	st.remove(n.id)
}

// instance places repetition instance n.done and moves n's consumers to a
// residual node that stands for the remaining instances.
func (st *state) instance(n *flatNode, v *pattern.Repetition) {
	k := n.done
	ids := st.inline(v.Body, append(slices.Clone(n.base), k), fmt.Sprintf("%s[%d]", n.path, k))

	r := &flatNode{
		id:       st.nextID,
		key:      append(slices.Clone(n.base), k+1),
		base:     n.base,
		path:     n.path,
		pnode:    n.pnode,
		external: maps.Clone(n.external),
		done:     k + 1,
	}
	st.nextID++
	st.nodes[r.id] = r

	st.redirect(n.id,
		resolver(ids, v.Body.InputPort),
		func(port int) (endpoint, bool) { return endpoint{node: r.id, port: port}, true },
	)

	ports := map[int]bool{v.Feedback.Out: true}
	for p := range n.external {
		ports[p] = true
	}
	for _, e := range st.edges {
		if e.from.node == r.id {
			ports[e.from.port] = true
		}
	}
	for _, outs := range st.lastOut {
		for _, ep := range outs {
			if ep.node == r.id {
				ports[ep.port] = true
			}
		}
	}

	resolve := resolver(ids, v.Body.OutputPort)
	outs := make(map[int]endpoint, len(ports))
	for p := range ports {
		if ep, ok := resolve(p); ok {
			outs[p] = ep
		}
	}
	st.lastOut[r.id] = outs

	if ep, ok := outs[v.Feedback.Out]; ok {
		st.edges = append(st.edges, edge{from: ep, to: endpoint{node: r.id, port: v.Feedback.In}})
	}
	for p := range n.external {
		if ep, ok := outs[p]; ok {
			st.allowExternal(ep)
		}
	}
	st.remove(n.id)
}

// stop ends a repetition residual after at least one instance: consumers
// read the latest instance's outputs.
func (st *state) stop(n *flatNode) {
	outs := st.lastOut[n.id]
	st.redirect(n.id, dropAll, func(port int) (endpoint, bool) {
		ep, ok := outs[port]
		return ep, ok
	})
	st.remove(n.id)
}

// passthrough removes an aggregate with zero instances. Output port p is
// fed by whatever feeds input port through(p); negative means nothing.
func (st *state) passthrough(n *flatNode, through func(port int) int) {
	src := st.producers(n.id)
	st.redirect(n.id, dropAll, func(port int) (endpoint, bool) {
		in := through(port)
		if in < 0 {
			return endpoint{}, false
		}
		ep, ok := src[in]
		return ep, ok
	})
	st.remove(n.id)
}

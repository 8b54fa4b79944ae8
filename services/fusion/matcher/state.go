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
	"github.com/AleutianAI/opfuse/services/fusion/pattern"
)

// endpoint is a port of a flat node.
type endpoint struct {
	node int
	port int
}

// edge connects an output port to an input port of two flat nodes.
type edge struct {
	from endpoint
	to   endpoint
}

// flatNode is a pattern node placed in the search state. Leaves are bound
// to ops; aggregates are replaced by their expansion.
//
// flatNodes are shared between cloned states and must not be mutated
// after insertion; allowExternal replaces the node instead.
type flatNode struct {
	id       int
	key      []int
	base     []int
	path     string
	pnode    *pattern.Node
	leaf     *pattern.LeafOp
	external map[int]bool
	done     int
}

func (n *flatNode) isLeaf() bool   { return n.leaf != nil }
func (n *flatNode) isAnchor() bool { return n.leaf != nil && n.leaf.Anchor }

// state is one point of the backtracking search. Choice points clone it;
// a failed branch simply drops its copy.
type state struct {
	nodes map[int]*flatNode
	edges []edge

	bind  map[int]*opgraph.Op
	owner map[*opgraph.Op]int
	slots map[int][]int

	// lastOut maps a repetition residual to the body outputs of its latest
	// instance, by repetition output port.
	lastOut map[int]map[int]endpoint
	reps    map[string]int
	nextID  int
}

func newState(p *pattern.Graph) *state {
	st := &state{
		nodes:   make(map[int]*flatNode),
		bind:    make(map[int]*opgraph.Op),
		owner:   make(map[*opgraph.Op]int),
		slots:   make(map[int][]int),
		lastOut: make(map[int]map[int]endpoint),
		reps:    make(map[string]int),
	}
	st.inline(p, nil, "")
	return st
}

func (st *state) clone() *state {
	c := &state{
		nodes:   maps.Clone(st.nodes),
		edges:   slices.Clone(st.edges),
		bind:    maps.Clone(st.bind),
		owner:   maps.Clone(st.owner),
		slots:   maps.Clone(st.slots),
		lastOut: make(map[int]map[int]endpoint, len(st.lastOut)),
		reps:    maps.Clone(st.reps),
		nextID:  st.nextID,
	}
	for id, outs := range st.lastOut {
		c.lastOut[id] = maps.Clone(outs)
	}
	return c
}

// inline places every node of g into the state and returns the flat ID of
// each pattern node, by pattern node ID.
func (st *state) inline(g *pattern.Graph, prefix []int, pathPrefix string) map[int]int {
	nodes := g.Nodes()
	ids := make(map[int]int, len(nodes))
	for _, pn := range nodes {
		key := append(slices.Clone(prefix), pn.ID())
		path := pn.Name()
		if pathPrefix != "" {
			path = pathPrefix + "/" + path
		}
		fn := &flatNode{
			id:       st.nextID,
			key:      key,
			path:     path,
			pnode:    pn,
			external: make(map[int]bool),
		}
		for _, p := range pn.ExternalOutputs() {
			fn.external[p] = true
		}
		switch v := pn.Variant().(type) {
		case *pattern.LeafOp:
			fn.leaf = v
		case *pattern.Repetition:
			fn.base = key
		}
		st.nextID++
		st.nodes[fn.id] = fn
		ids[pn.ID()] = fn.id

		for _, e := range pn.InEdges() {
			st.edges = append(st.edges, edge{
				from: endpoint{node: ids[e.Producer.ID()], port: e.ProducerPort},
				to:   endpoint{node: fn.id, port: e.Port},
			})
		}
	}
	return ids
}

type portMapper func(port int) (endpoint, bool)

func dropAll(int) (endpoint, bool) { return endpoint{}, false }

// redirect rewires every edge and residual output touching flat node id.
// Edges whose port maps to nothing are dropped.
func (st *state) redirect(id int, in, out portMapper) {
	kept := make([]edge, 0, len(st.edges))
	for _, e := range st.edges {
		if e.to.node == id {
			ep, ok := in(e.to.port)
			if !ok {
				continue
			}
			e.to = ep
		}
		if e.from.node == id {
			ep, ok := out(e.from.port)
			if !ok {
				continue
			}
			e.from = ep
		}
		kept = append(kept, e)
	}
	st.edges = kept

	for _, outs := range st.lastOut {
		for port, ep := range outs {
			if ep.node != id {
				continue
			}
			if next, ok := out(ep.port); ok {
				outs[port] = next
			} else {
				delete(outs, port)
			}
		}
	}
}

// remove deletes an expanded aggregate.
func (st *state) remove(id int) {
	delete(st.nodes, id)
	delete(st.lastOut, id)
}

// producers returns the in-edge sources of flat node id by input port.
func (st *state) producers(id int) map[int]endpoint {
	out := make(map[int]endpoint)
	for _, e := range st.edges {
		if e.to.node == id {
			out[e.to.port] = e.from
		}
	}
	return out
}

// allowExternal marks an output endpoint as allowed to have consumers
// outside the match.
func (st *state) allowExternal(ep endpoint) {
	n, ok := st.nodes[ep.node]
	if !ok || n.external[ep.port] {
		return
	}
	cp := *n
	cp.external = maps.Clone(n.external)
	cp.external[ep.port] = true
	st.nodes[ep.node] = &cp
}

// sortedNodes returns the live flat nodes in key order.
func (st *state) sortedNodes() []*flatNode {
	out := make([]*flatNode, 0, len(st.nodes))
	for _, n := range st.nodes {
		out = append(out, n)
	}
	slices.SortFunc(out, func(a, b *flatNode) int { return slices.Compare(a.key, b.key) })
	return out
}

func resolver(ids map[int]int, lookup func(int) (pattern.PortRef, bool)) portMapper {
	return func(port int) (endpoint, bool) {
		ref, ok := lookup(port)
		if !ok {
			return endpoint{}, false
		}
		return endpoint{node: ids[ref.Node.ID()], port: ref.Port}, true
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pattern

import (
	"fmt"
	"sort"
)

// CreateInputPort exposes input port innerPort of inner as graph input
// port port.
//
// Errors (also recorded on the graph):
//
//	ErrDanglingProducer - inner is nil or belongs to another graph.
//	ErrDuplicatePort    - port is already declared, or the inner port is
//	                      already exposed or fed by a pattern edge.
//	ErrUnresolvedPort   - a port is negative or inner cannot accept it.
func (g *Graph) CreateInputPort(port int, inner *Node, innerPort int) error {
	if !g.mutable() {
		return g.err
	}
	if err := g.checkPort(port, inner, innerPort); err != nil {
		g.fail(err)
		return g.err
	}
	if _, dup := g.inputs[port]; dup {
		g.fail(fmt.Errorf("%w: input port %d", ErrDuplicatePort, port))
		return g.err
	}
	ref := PortRef{Node: inner, Port: innerPort}
	for _, existing := range g.inputs {
		if existing == ref {
			g.fail(fmt.Errorf("%w: %s.%d is already an input port", ErrDuplicatePort, inner.name, innerPort))
			return g.err
		}
	}
	for _, e := range inner.inEdges {
		if e.Port == innerPort {
			g.fail(fmt.Errorf("%w: %s.%d already has a producer", ErrDuplicatePort, inner.name, innerPort))
			return g.err
		}
	}
	if !inner.hasInput(innerPort) {
		g.fail(fmt.Errorf("%w: %q has no input port %d", ErrUnresolvedPort, inner.name, innerPort))
		return g.err
	}
	g.inputs[port] = ref
	return nil
}

// CreateOutputPort exposes output port innerPort of inner as graph output
// port port.
func (g *Graph) CreateOutputPort(port int, inner *Node, innerPort int) error {
	if !g.mutable() {
		return g.err
	}
	if err := g.checkPort(port, inner, innerPort); err != nil {
		g.fail(err)
		return g.err
	}
	if _, dup := g.outputs[port]; dup {
		g.fail(fmt.Errorf("%w: output port %d", ErrDuplicatePort, port))
		return g.err
	}
	ref := PortRef{Node: inner, Port: innerPort}
	for _, existing := range g.outputs {
		if existing == ref {
			g.fail(fmt.Errorf("%w: %s.%d is already an output port", ErrDuplicatePort, inner.name, innerPort))
			return g.err
		}
	}
	if !inner.hasOutput(innerPort) {
		g.fail(fmt.Errorf("%w: %q has no output port %d", ErrUnresolvedPort, inner.name, innerPort))
		return g.err
	}
	g.outputs[port] = ref
	return nil
}

func (g *Graph) checkPort(port int, inner *Node, innerPort int) error {
	if inner == nil || inner.graph != g {
		return fmt.Errorf("%w: port %d", ErrDanglingProducer, port)
	}
	if port < 0 || innerPort < 0 {
		return fmt.Errorf("%w: negative port %d -> %s.%d", ErrUnresolvedPort, port, inner.name, innerPort)
	}
	return nil
}

// InputPort resolves graph input port port to a node port one level down.
func (g *Graph) InputPort(port int) (PortRef, bool) {
	if g.identity {
		if port < 0 || len(g.nodes) == 0 {
			return PortRef{}, false
		}
		return PortRef{Node: g.nodes[0], Port: port}, true
	}
	ref, ok := g.inputs[port]
	return ref, ok
}

// OutputPort resolves graph output port port to a node port one level down.
func (g *Graph) OutputPort(port int) (PortRef, bool) {
	if g.identity {
		if port < 0 || len(g.nodes) == 0 {
			return PortRef{}, false
		}
		return PortRef{Node: g.nodes[0], Port: port}, true
	}
	ref, ok := g.outputs[port]
	return ref, ok
}

// InputPorts returns the declared input ports, sorted. Identity graphs
// declare none.
func (g *Graph) InputPorts() []int { return sortedPorts(g.inputs) }

// OutputPorts returns the declared output ports, sorted.
func (g *Graph) OutputPorts() []int { return sortedPorts(g.outputs) }

func sortedPorts(m map[int]PortRef) []int {
	out := make([]int, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

func (g *Graph) hasInput(port int) bool {
	_, ok := g.InputPort(port)
	return ok
}

func (g *Graph) hasOutput(port int) bool {
	_, ok := g.OutputPort(port)
	return ok
}

// hasInput reports whether every expansion of n resolves input port.
// Leaves accept any port.
func (n *Node) hasInput(port int) bool {
	for _, b := range Bodies(n.variant) {
		if !b.hasInput(port) {
			return false
		}
	}
	return port >= 0
}

func (n *Node) hasOutput(port int) bool {
	for _, b := range Bodies(n.variant) {
		if !b.hasOutput(port) {
			return false
		}
	}
	return port >= 0
}

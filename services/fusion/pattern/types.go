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

	"github.com/AleutianAI/opfuse/services/fusion/opgraph"
)

// Predicate decides whether a concrete op satisfies a leaf pattern node.
type Predicate func(op *opgraph.Op) bool

// Decision is a labeled Predicate. The label names the predicate in
// Describe and Signature, so two decisions with the same label must accept
// the same ops. An empty label marks an anonymous predicate.
type Decision struct {
	Label  string
	Accept Predicate
}

// NodeKind discriminates the pattern node variants.
type NodeKind int

const (
	// NodeLeaf binds exactly one concrete op.
	NodeLeaf NodeKind = iota

	// NodeAlternation binds one of several candidate sub-graphs.
	NodeAlternation

	// NodeRepetition binds a body sub-graph a bounded number of times.
	NodeRepetition

	// NodeOptional binds a body sub-graph zero or one time.
	NodeOptional

	// NodeNested binds a sub-graph inline.
	NodeNested
)

// String returns the string representation of the NodeKind.
func (k NodeKind) String() string {
	switch k {
	case NodeLeaf:
		return "leaf"
	case NodeAlternation:
		return "alternation"
	case NodeRepetition:
		return "repetition"
	case NodeOptional:
		return "optional"
	case NodeNested:
		return "nested"
	default:
		return "unknown"
	}
}

// Variant is the closed set of pattern node payloads: *LeafOp,
// *Alternation, *Repetition, *Optional and *Nested.
type Variant interface {
	NodeKind() NodeKind
	isVariant()
}

// LeafOp matches a single concrete op.
//
// Anchor leaves (built from opgraph.Wildcard) accept any op and only guide
// the search. The op bound to an anchor is not part of the match.
type LeafOp struct {
	Kinds     []opgraph.OpKind
	Decisions []Decision
	Anchor    bool
}

// Alternation matches exactly one of its candidates, tried in order.
type Alternation struct {
	Candidates []*Graph
}

// Repetition matches Body between Min and Max-1 times. The output port
// Feedback.Out of one instance feeds input port Feedback.In of the next.
type Repetition struct {
	Body     *Graph
	Feedback PortMap
	Min      int
	Max      int
}

// Optional matches Body zero or one time. When absent, output port p of
// the node passes through whatever feeds input port p.
type Optional struct {
	Body *Graph
}

// Nested matches Body inline, exposing its declared ports.
type Nested struct {
	Body *Graph
}

func (*LeafOp) NodeKind() NodeKind      { return NodeLeaf }
func (*Alternation) NodeKind() NodeKind { return NodeAlternation }
func (*Repetition) NodeKind() NodeKind  { return NodeRepetition }
func (*Optional) NodeKind() NodeKind    { return NodeOptional }
func (*Nested) NodeKind() NodeKind      { return NodeNested }

func (*LeafOp) isVariant()      {}
func (*Alternation) isVariant() {}
func (*Repetition) isVariant()  {}
func (*Optional) isVariant()    {}
func (*Nested) isVariant()      {}

// Matches reports whether op satisfies every predicate.
func (l *LeafOp) Matches(op *opgraph.Op) bool {
	for _, d := range l.Decisions {
		if !d.Accept(op) {
			return false
		}
	}
	return true
}

// Bodies returns the sub-graphs embedded by v, or nil for a leaf.
func Bodies(v Variant) []*Graph {
	switch v := v.(type) {
	case *Alternation:
		return v.Candidates
	case *Repetition:
		return []*Graph{v.Body}
	case *Optional:
		return []*Graph{v.Body}
	case *Nested:
		return []*Graph{v.Body}
	default:
		return nil
	}
}

// PortMap wires output port Out of one repetition instance to input port
// In of the next.
type PortMap struct {
	Out int
	In  int
}

// InEdge connects input port Port of a node to output port ProducerPort of
// a previously appended node.
type InEdge struct {
	Port         int
	Producer     *Node
	ProducerPort int
}

// In builds an InEdge.
func In(port int, producer *Node, producerPort int) InEdge {
	return InEdge{Port: port, Producer: producer, ProducerPort: producerPort}
}

// PortRef names a port of a node inside a graph.
type PortRef struct {
	Node *Node
	Port int
}

// Node is a vertex of a pattern Graph.
//
// Nodes are created by the Graph's Append methods and are immutable once the
// graph is frozen.
type Node struct {
	id       int
	name     string
	graph    *Graph
	variant  Variant
	inEdges  []InEdge
	external map[int]bool
}

// ID returns the node's index within its graph.
func (n *Node) ID() int { return n.id }

// Name returns the node name.
func (n *Node) Name() string { return n.name }

// Graph returns the graph the node belongs to.
func (n *Node) Graph() *Graph { return n.graph }

// Variant returns the node payload.
func (n *Node) Variant() Variant { return n.variant }

// Kind returns the variant discriminator.
func (n *Node) Kind() NodeKind { return n.variant.NodeKind() }

// IsAnchor reports whether the node is an anchor leaf.
func (n *Node) IsAnchor() bool {
	leaf, ok := n.variant.(*LeafOp)
	return ok && leaf.Anchor
}

// InEdges returns the node's input edges ordered by port.
func (n *Node) InEdges() []InEdge {
	out := make([]InEdge, len(n.inEdges))
	copy(out, n.inEdges)
	return out
}

// AllowsExternalOutput reports whether output port may have consumers
// outside a match.
func (n *Node) AllowsExternalOutput(port int) bool { return n.external[port] }

// ExternalOutputs returns the ports marked with AllowExternalOutput, sorted.
func (n *Node) ExternalOutputs() []int {
	out := make([]int, 0, len(n.external))
	for p := range n.external {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// AllowExternalOutput lets the op bound to this node keep consumers outside
// the match on the given output port.
//
// Errors are recorded on the owning graph (see Graph.Err). A nil node is
// ignored so calls can be chained after a failed Append.
func (n *Node) AllowExternalOutput(port int) *Node {
	if n == nil || !n.graph.mutable() {
		return n
	}
	if port < 0 || !n.hasOutput(port) {
		n.graph.fail(fmt.Errorf("%w: output port %d of %q", ErrUnresolvedPort, port, n.name))
		return n
	}
	n.external[port] = true
	return n
}

// AppendDecisionFunc adds an anonymous predicate to a leaf node. Patterns
// carrying anonymous predicates are not Labeled.
func (n *Node) AppendDecisionFunc(pred Predicate) *Node {
	return n.AppendDecision(Decision{Accept: pred})
}

// AppendDecision adds a labeled predicate to a leaf node.
func (n *Node) AppendDecision(d Decision) *Node {
	if n == nil || !n.graph.mutable() {
		return n
	}
	leaf, ok := n.variant.(*LeafOp)
	if !ok {
		n.graph.fail(fmt.Errorf("%w: %q is a %s node", ErrNoPredicate, n.name, n.Kind()))
		return n
	}
	if d.Accept == nil {
		n.graph.fail(fmt.Errorf("%w: nil predicate on %q", ErrNoPredicate, n.name))
		return n
	}
	leaf.Decisions = append(leaf.Decisions, d)
	return n
}

// String renders the node as "name(kind)".
func (n *Node) String() string {
	return fmt.Sprintf("%s(%s)", n.name, n.Kind())
}

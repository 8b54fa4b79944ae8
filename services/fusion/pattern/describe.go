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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Describe renders the graph structure as indented text, recursing into
// embedded graphs. Predicates are shown by label; anonymous ones as "func".
func (g *Graph) Describe() string {
	var b strings.Builder
	g.describe(&b, 0)
	return b.String()
}

// Signature returns a hex SHA-256 digest of Describe. Two graphs with the
// same structure and predicate labels share a signature. Signatures of
// graphs that are not Labeled do not identify their behavior.
func (g *Graph) Signature() string {
	sum := sha256.Sum256([]byte(g.Describe()))
	return hex.EncodeToString(sum[:])
}

// Labeled reports whether every predicate of g and its embedded graphs
// has a label.
func (g *Graph) Labeled() bool {
	for _, n := range g.nodes {
		if leaf, ok := n.variant.(*LeafOp); ok {
			for _, d := range leaf.Decisions {
				if d.Label == "" {
					return false
				}
			}
		}
		for _, body := range Bodies(n.variant) {
			if !body.Labeled() {
				return false
			}
		}
	}
	return true
}

func (g *Graph) describe(b *strings.Builder, depth int) {
	pad := strings.Repeat("  ", depth)
	fmt.Fprintf(b, "%spattern %s\n", pad, g.name)
	for _, n := range g.nodes {
		fmt.Fprintf(b, "%s  [%d] %s %s", pad, n.id, n.name, n.Kind())
		switch v := n.variant.(type) {
		case *LeafOp:
			kinds := make([]string, len(v.Kinds))
			for i, k := range v.Kinds {
				kinds[i] = k.String()
			}
			labels := make([]string, len(v.Decisions))
			for i, d := range v.Decisions {
				labels[i] = d.Label
				if labels[i] == "" {
					labels[i] = "func"
				}
			}
			fmt.Fprintf(b, " {%s} preds=[%s]", strings.Join(kinds, ","), strings.Join(labels, " "))
			if v.Anchor {
				b.WriteString(" anchor")
			}
		case *Repetition:
			fmt.Fprintf(b, " [%d,%d) feedback=%d->%d", v.Min, v.Max, v.Feedback.Out, v.Feedback.In)
		}
		for _, e := range n.inEdges {
			fmt.Fprintf(b, " in%d<-%s.%d", e.Port, e.Producer.name, e.ProducerPort)
		}
		if ext := n.ExternalOutputs(); len(ext) > 0 {
			fmt.Fprintf(b, " external=%v", ext)
		}
		b.WriteByte('\n')
		for i, body := range Bodies(n.variant) {
			if _, alt := n.variant.(*Alternation); alt {
				fmt.Fprintf(b, "%s    candidate %d:\n", pad, i)
			}
			body.describe(b, depth+2)
		}
	}
	if g.identity {
		fmt.Fprintf(b, "%s  ports identity\n", pad)
		return
	}
	for _, p := range g.InputPorts() {
		ref := g.inputs[p]
		fmt.Fprintf(b, "%s  input %d -> %s.%d\n", pad, p, ref.Node.name, ref.Port)
	}
	for _, p := range g.OutputPorts() {
		ref := g.outputs[p]
		fmt.Fprintf(b, "%s  output %d -> %s.%d\n", pad, p, ref.Node.name, ref.Port)
	}
}

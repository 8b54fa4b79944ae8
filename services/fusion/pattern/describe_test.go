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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/opfuse/services/fusion/opgraph"
)

func matmulChain(name string, max int) *Graph {
	g := NewGraph(name)
	mm := g.AppendOp(opgraph.MatMul, nil)
	rep := g.AppendRepetition(addRelu(), PortMap{Out: 0, In: 0}, 1, max, edges(In(0, mm, 0)))
	g.AppendOp(opgraph.ReLU, edges(In(0, rep, 0)))
	return g
}

func TestGraph_Describe(t *testing.T) {
	g := matmulChain("mm_chain", 3)
	require.NoError(t, g.Freeze())

	out := g.Describe()
	assert.Contains(t, out, "pattern mm_chain\n")
	assert.Contains(t, out, "[1] repetition_1 repetition [1,3) feedback=0->0 in0<-MatMul_0.0")
	assert.Contains(t, out, "    pattern add_relu\n")
	assert.Contains(t, out, "input 0 -> Add_0.0")
}

func TestGraph_Signature(t *testing.T) {
	a := matmulChain("mm_chain", 3)
	b := matmulChain("mm_chain", 3)
	c := matmulChain("mm_chain", 4)

	assert.Equal(t, a.Signature(), b.Signature())
	assert.NotEqual(t, a.Signature(), c.Signature())
	assert.Len(t, a.Signature(), 64)
}

func TestGraph_SignatureCoversPredicates(t *testing.T) {
	build := func(d Decision) *Graph {
		g := NewGraph("p")
		g.AppendOp(opgraph.ReLU, nil).AppendDecision(d)
		require.NoError(t, g.Freeze())
		return g
	}

	accept, reject := build(Any()), build(Not(Any()))
	assert.NotEqual(t, accept.Signature(), reject.Signature())
	assert.Contains(t, reject.Describe(), "preds=[kind_is(ReLU) not(any)]")
	assert.Equal(t, build(InputCount(2)).Signature(), build(InputCount(2)).Signature())
	assert.NotEqual(t, build(InputCount(1)).Signature(), build(InputCount(2)).Signature())
	assert.NotEqual(t, build(AttrIntGreater("groups", 1)).Signature(),
		build(AttrIntGreater("group", 1)).Signature())
}

func TestGraph_Labeled(t *testing.T) {
	labeled := matmulChain("mm_chain", 3)
	require.NoError(t, labeled.Freeze())
	assert.True(t, labeled.Labeled())

	body := NewGraph("body")
	relu := body.AppendOp(opgraph.ReLU, nil).AppendDecisionFunc(func(*opgraph.Op) bool { return true })
	require.NoError(t, body.CreateInputPort(0, relu, 0))
	require.NoError(t, body.CreateOutputPort(0, relu, 0))
	outer := NewGraph("outer")
	mm := outer.AppendOp(opgraph.MatMul, nil)
	outer.AppendOptional(body, edges(In(0, mm, 0)))
	require.NoError(t, outer.Freeze())
	assert.False(t, outer.Labeled())
	assert.Contains(t, outer.Describe(), "preds=[kind_is(ReLU) func]")

	assert.Empty(t, Not(Decision{Accept: func(*opgraph.Op) bool { return true }}).Label)

	pred := NewGraph("pred")
	pred.AppendPredicate(func(*opgraph.Op) bool { return true }, nil)
	require.NoError(t, pred.Freeze())
	assert.False(t, pred.Labeled())
}

func TestPredicates(t *testing.T) {
	g := opgraph.New()
	conv, err := g.AddOp(opgraph.Convolution, []opgraph.ValueID{0, 1}, []opgraph.ValueID{2},
		opgraph.WithAttr("groups", int64(8)),
		opgraph.WithAttr("dtype", "int8"),
	)
	require.NoError(t, err)

	tests := []struct {
		name string
		pred Decision
		want bool
	}{
		{"any", Any(), true},
		{"kind match", KindIs(opgraph.MatMul, opgraph.Convolution), true},
		{"kind mismatch", KindIs(opgraph.MatMul), false},
		{"input count", InputCount(2), true},
		{"output count", OutputCount(2), false},
		{"has attr", HasAttr("groups"), true},
		{"attr greater", AttrIntGreater("groups", 1), true},
		{"attr greater missing", AttrIntGreater("pads", 1), false},
		{"attr at most", AttrIntAtMost("groups", 1), false},
		{"attr at most missing", AttrIntAtMost("pads", 1), true},
		{"string attr", AttrStringIs("dtype", "int8"), true},
		{"not", Not(Any()), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.pred.Accept(conv))
			assert.NotEmpty(t, tt.pred.Label)
		})
	}
}

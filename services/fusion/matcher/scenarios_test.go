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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/opfuse/services/fusion/opgraph"
	"github.com/AleutianAI/opfuse/services/fusion/pattern"
)

// Multi-layer perceptron shapes built from repetitions of matmul layers.

var activations = []opgraph.OpKind{opgraph.ReLU, opgraph.Sigmoid, opgraph.Tanh}

// optionalActivation wraps an activation alternation in an optional body.
func optionalActivation(t *testing.T, kinds []opgraph.OpKind) *pattern.Graph {
	t.Helper()
	body := pattern.NewGraph("activation")
	alt := body.AppendKindAlternation(kinds, nil)
	require.NoError(t, body.CreateInputPort(0, alt, 0))
	require.NoError(t, body.CreateOutputPort(0, alt, 0))
	return body
}

func TestScenario_RepeatedLayersWithExternalOutputs(t *testing.T) {
	layer := pattern.NewGraph("layer")
	mm := layer.AppendOp(opgraph.MatMul, nil, pattern.WithAllowExternalOutput(0))
	act := layer.AppendKindAlternation(activations, edges(pattern.In(0, mm, 0)), pattern.WithAllowExternalOutput(0))
	require.NoError(t, layer.CreateInputPort(0, mm, 0))
	require.NoError(t, layer.CreateOutputPort(0, act, 0))

	p := pattern.NewGraph("mlp")
	p.AppendRepetition(layer, pattern.PortMap{Out: 0, In: 0}, 1, 10, nil, pattern.WithName("layers"))
	frozen(t, p)

	t.Run("layers first", func(t *testing.T) {
		tg := newTestGraph(t)
		seed := tg.op(opgraph.MatMul, vals(0, 1), vals(2), "mm0")
		tg.op(opgraph.ReLU, vals(2), vals(3), "relu0")
		tg.op(opgraph.MatMul, vals(3, 4), vals(5), "mm1")
		tg.op(opgraph.ReLU, vals(5), vals(6), "relu1")
		tg.op(opgraph.StaticTranspose, vals(2), vals(7), "ext0")
		tg.op(opgraph.StaticTranspose, vals(3), vals(8), "ext1")
		tg.op(opgraph.StaticTranspose, vals(5), vals(9), "ext2")
		tg.finalize()

		m, ok := New().Find(context.Background(), seed, p)
		require.True(t, ok)
		assert.Equal(t, []string{"mm0", "relu0", "mm1", "relu1"}, opNames(m.Ops))
		assert.Equal(t, 2, m.Repetitions["layers"])
	})

	t.Run("external consumers first", func(t *testing.T) {
		tg := newTestGraph(t)
		tg.op(opgraph.StaticTranspose, vals(2), vals(7), "ext0")
		tg.op(opgraph.StaticTranspose, vals(3), vals(8), "ext1")
		tg.op(opgraph.StaticTranspose, vals(5), vals(9), "ext2")
		seed := tg.op(opgraph.MatMul, vals(0, 1), vals(2), "mm0")
		tg.op(opgraph.ReLU, vals(2), vals(3), "relu0")
		tg.op(opgraph.MatMul, vals(3, 4), vals(5), "mm1")
		tg.op(opgraph.ReLU, vals(5), vals(6), "relu1")
		tg.finalize()

		m, ok := New().Find(context.Background(), seed, p)
		require.True(t, ok)
		assert.Equal(t, 4, m.Size())
	})
}

func TestScenario_RepetitionShrinksToAvoidCycle(t *testing.T) {
	layer := pattern.NewGraph("layer")
	mm := layer.AppendOp(opgraph.MatMul, nil, pattern.WithAllowExternalOutput(0))
	relu := layer.AppendOp(opgraph.ReLU, edges(pattern.In(0, mm, 0)))
	add := layer.AppendOp(opgraph.Add, edges(pattern.In(0, relu, 0)))
	require.NoError(t, layer.CreateInputPort(0, mm, 0))
	require.NoError(t, layer.CreateOutputPort(0, add, 0))

	p := pattern.NewGraph("residual_mlp")
	p.AppendRepetition(layer, pattern.PortMap{Out: 0, In: 0}, 1, 10, nil, pattern.WithName("layers"))
	frozen(t, p)

	// sigmoid reads the first matmul and feeds the second add, so taking
	// both layers would contract a cycle.
	tg := newTestGraph(t)
	seed := tg.op(opgraph.MatMul, vals(0, 1), vals(2), "mm0")
	tg.op(opgraph.ReLU, vals(2), vals(3), "relu0")
	tg.op(opgraph.Sigmoid, vals(2), vals(4), "sigmoid")
	tg.op(opgraph.Add, vals(3, 12), vals(5), "add0")
	tg.op(opgraph.MatMul, vals(5, 6), vals(7), "mm1")
	tg.op(opgraph.ReLU, vals(7), vals(8), "relu1")
	tg.op(opgraph.Add, vals(8, 4), vals(10), "add1")
	tg.finalize()

	m, ok := New().Find(context.Background(), seed, p)
	require.True(t, ok)
	assert.Equal(t, []string{"mm0", "relu0", "add0"}, opNames(m.Ops))
	assert.Equal(t, 1, m.Repetitions["layers"])
}

func TestScenario_OptionalInsideRepetition(t *testing.T) {
	t.Run("optional activation skipped in every layer", func(t *testing.T) {
		layer := pattern.NewGraph("layer")
		mm := layer.AppendOp(opgraph.MatMul, nil)
		act := layer.AppendOptional(optionalActivation(t, activations), edges(pattern.In(0, mm, 0)),
			pattern.WithName("act"))
		require.NoError(t, layer.CreateInputPort(0, mm, 0))
		require.NoError(t, layer.CreateOutputPort(0, act, 0))

		p := pattern.NewGraph("mlp")
		p.AppendRepetition(layer, pattern.PortMap{Out: 0, In: 0}, 1, 5, nil, pattern.WithName("layers"))
		frozen(t, p)

		tg := newTestGraph(t)
		seed := tg.op(opgraph.MatMul, vals(0, 1), vals(2), "mm0")
		tg.op(opgraph.MatMul, vals(2, 3), vals(4), "mm1")
		tg.op(opgraph.MatMul, vals(4, 5), vals(6), "mm2")
		tg.finalize()

		m, ok := New().Find(context.Background(), seed, p)
		require.True(t, ok)
		assert.Equal(t, 3, m.Size())
		assert.Equal(t, 3, m.Repetitions["layers"])
		assert.Equal(t, 0, m.Repetitions["layers[0]/act"])
		assert.Equal(t, 0, m.Repetitions["layers[2]/act"])
	})

	t.Run("unused second output", func(t *testing.T) {
		layer := pattern.NewGraph("layer")
		mm := layer.AppendOp(opgraph.MatMul, nil)
		relu := layer.AppendOp(opgraph.ReLU, edges(pattern.In(0, mm, 0)))
		act := layer.AppendOptional(optionalActivation(t, []opgraph.OpKind{opgraph.Sigmoid, opgraph.Tanh}),
			edges(pattern.In(0, mm, 0)), pattern.WithName("act"))
		require.NoError(t, layer.CreateInputPort(0, mm, 0))
		require.NoError(t, layer.CreateOutputPort(0, relu, 0))
		require.NoError(t, layer.CreateOutputPort(1, act, 0))

		p := pattern.NewGraph("mlp")
		p.AppendRepetition(layer, pattern.PortMap{Out: 0, In: 0}, 1, 5, nil, pattern.WithName("layers"))
		frozen(t, p)

		tg := newTestGraph(t)
		seed := tg.op(opgraph.MatMul, vals(0, 1), vals(2), "mm")
		tg.op(opgraph.ReLU, vals(2), vals(3), "relu")
		tg.finalize()

		m, ok := New().Find(context.Background(), seed, p)
		require.True(t, ok)
		assert.Equal(t, []string{"mm", "relu"}, opNames(m.Ops))
	})

	t.Run("optional trailing relu absent", func(t *testing.T) {
		layer := pattern.NewGraph("layer")
		mm := layer.AppendOp(opgraph.MatMul, nil)
		relu := layer.AppendOp(opgraph.ReLU, edges(pattern.In(0, mm, 0)))
		extra := layer.AppendOptional(pattern.SingleOp(opgraph.ReLU), edges(pattern.In(0, relu, 0)))
		require.NoError(t, layer.CreateInputPort(0, mm, 0))
		require.NoError(t, layer.CreateOutputPort(0, extra, 0))

		p := pattern.NewGraph("mlp")
		p.AppendRepetition(layer, pattern.PortMap{Out: 0, In: 0}, 1, 5, nil)
		frozen(t, p)

		tg := newTestGraph(t)
		seed := tg.op(opgraph.MatMul, vals(0, 1), vals(2), "mm")
		tg.op(opgraph.ReLU, vals(2), vals(3), "relu")
		tg.finalize()

		m, ok := New().Find(context.Background(), seed, p)
		require.True(t, ok)
		assert.Equal(t, 2, m.Size())
	})

	t.Run("two optionals absent", func(t *testing.T) {
		layer := pattern.NewGraph("layer")
		mm := layer.AppendOp(opgraph.MatMul, nil)
		add := layer.AppendOptional(pattern.SingleOp(opgraph.Add), edges(pattern.In(0, mm, 0)))
		act := layer.AppendOptional(optionalActivation(t, activations), edges(pattern.In(0, add, 0)))
		require.NoError(t, layer.CreateInputPort(0, mm, 0))
		require.NoError(t, layer.CreateOutputPort(0, act, 0))

		p := pattern.NewGraph("mlp")
		p.AppendRepetition(layer, pattern.PortMap{Out: 0, In: 0}, 1, 5, nil)
		frozen(t, p)

		tg := newTestGraph(t)
		seed := tg.op(opgraph.MatMul, vals(0, 1), vals(2), "mm")
		tg.finalize()

		m, ok := New().Find(context.Background(), seed, p)
		require.True(t, ok)
		assert.Equal(t, []*opgraph.Op{seed}, m.Ops)
	})
}

func TestScenario_RepetitionOutputSharedWithBackward(t *testing.T) {
	layer := pattern.NewGraph("layer")
	mm := layer.AppendOp(opgraph.MatMul, nil)
	relu := layer.AppendOp(opgraph.ReLU, edges(pattern.In(0, mm, 0)), pattern.WithAllowExternalOutput(0))
	require.NoError(t, layer.CreateInputPort(0, mm, 0))
	require.NoError(t, layer.CreateOutputPort(0, relu, 0))

	p := pattern.NewGraph("mlp_sigmoid")
	rep := p.AppendRepetition(layer, pattern.PortMap{Out: 0, In: 0}, 1, 10, nil, pattern.WithName("layers"))
	p.AppendOp(opgraph.Sigmoid, edges(pattern.In(0, rep, 0)))
	frozen(t, p)

	tg := newTestGraph(t)
	seed := tg.op(opgraph.MatMul, vals(0, 1), vals(2), "mm0")
	tg.op(opgraph.ReLU, vals(2), vals(3), "relu0")
	tg.op(opgraph.ReLUBackprop, vals(3, 4), vals(5), "relu_bwd0")
	tg.op(opgraph.MatMul, vals(3, 6), vals(7), "mm1")
	tg.op(opgraph.ReLU, vals(7), vals(8), "relu1")
	tg.op(opgraph.Sigmoid, vals(8), vals(9), "sigmoid")
	tg.op(opgraph.ReLUBackprop, vals(8, 10), vals(11), "relu_bwd1")
	tg.finalize()

	m, ok := New().Find(context.Background(), seed, p)
	require.True(t, ok)
	assert.Equal(t, []string{"mm0", "relu0", "mm1", "relu1", "sigmoid"}, opNames(m.Ops))
	assert.Equal(t, 2, m.Repetitions["layers"])
}

func TestScenario_DiamondIsNotACycle(t *testing.T) {
	p := pattern.NewGraph("diamond")
	mm := p.AppendOp(opgraph.MatMul, nil)
	relu := p.AppendOp(opgraph.ReLU, edges(pattern.In(0, mm, 0)))
	sig := p.AppendOp(opgraph.Sigmoid, edges(pattern.In(0, mm, 0)))
	p.AppendOp(opgraph.Add, edges(pattern.In(0, relu, 0), pattern.In(1, sig, 0)))
	frozen(t, p)

	tg := newTestGraph(t)
	seed := tg.op(opgraph.MatMul, vals(0, 1), vals(2), "mm")
	tg.op(opgraph.ReLU, vals(2), vals(3), "relu")
	tg.op(opgraph.Sigmoid, vals(2), vals(4), "sigmoid")
	tg.op(opgraph.Add, vals(4, 3), vals(5), "add")
	tg.finalize()

	m, ok := New().Find(context.Background(), seed, p)
	require.True(t, ok)
	assert.Equal(t, []string{"mm", "relu", "sigmoid", "add"}, opNames(m.Ops))
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/opfuse/services/fusion/driver"
	"github.com/AleutianAI/opfuse/services/fusion/matcher"
	"github.com/AleutianAI/opfuse/services/fusion/opgraph"
)

func runSample(t *testing.T, sample string, cfg Config, opts ...driver.Option) *driver.Report {
	t.Helper()
	d := driver.New(opts...)
	_, err := Register(d, cfg)
	require.NoError(t, err)

	s, err := LookupSample(sample)
	require.NoError(t, err)
	g, err := s.Build()
	require.NoError(t, err)

	rep, err := d.Run(context.Background(), g)
	require.NoError(t, err)
	return rep
}

func patternNames(rep *driver.Report) []string {
	out := make([]string, len(rep.Matches))
	for i, m := range rep.Matches {
		out[i] = m.Pattern
	}
	return out
}

func TestEntries_PriorityOrder(t *testing.T) {
	assert.Equal(t, []string{
		"int8_conv_bias",
		"conv_bias_add_relu",
		"conv_depthwise",
		"conv_bias_post_ops",
		"mlp",
		"matmul_post_ops",
		"conv_simple_resblock",
	}, Names())

	es := Entries()
	for i := 1; i < len(es); i++ {
		assert.GreaterOrEqual(t, es[i-1].Priority, es[i].Priority)
	}
}

func TestEntries_BuildAndFreeze(t *testing.T) {
	for _, e := range Entries() {
		t.Run(e.Name, func(t *testing.T) {
			p := e.Build(MaxRepetition)
			require.NotNil(t, p)
			require.NoError(t, p.Freeze())
			assert.Equal(t, e.Name, p.Name())
			assert.NotEmpty(t, p.Describe())
			assert.True(t, p.Labeled())
		})
	}
}

func TestLookup(t *testing.T) {
	e, ok := Lookup("mlp")
	require.True(t, ok)
	assert.Equal(t, 9.5, e.Priority)

	_, ok = Lookup("nope")
	assert.False(t, ok)
}

func TestRegister_All(t *testing.T) {
	d := driver.New()
	names, err := Register(d, Config{})
	require.NoError(t, err)
	assert.Equal(t, Names(), names)
	assert.Equal(t, names, d.Patterns())
}

func TestRegister_EnabledKeepsPriorityOrder(t *testing.T) {
	d := driver.New()
	names, err := Register(d, Config{Enabled: []string{"matmul_post_ops", "int8_conv_bias"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"int8_conv_bias", "matmul_post_ops"}, names)
}

func TestRegister_UnknownPattern(t *testing.T) {
	d := driver.New()
	_, err := Register(d, Config{Enabled: []string{"conv_bias_post_ops", "bogus"}})
	require.ErrorIs(t, err, ErrUnknownPattern)
	assert.Empty(t, d.Patterns())
}

func TestRegister_Twice(t *testing.T) {
	d := driver.New()
	_, err := Register(d, Config{Enabled: []string{"mlp"}})
	require.NoError(t, err)
	_, err = Register(d, Config{Enabled: []string{"mlp"}})
	assert.ErrorIs(t, err, driver.ErrDuplicatePattern)
}

func TestSamples_Build(t *testing.T) {
	for _, s := range Samples() {
		t.Run(s.Name, func(t *testing.T) {
			g, err := s.Build()
			require.NoError(t, err)
			assert.True(t, g.IsFinalized())
			assert.NotEmpty(t, s.Description)
		})
	}

	_, err := LookupSample("nope")
	assert.ErrorIs(t, err, ErrUnknownSample)
}

func TestCatalog_Samples(t *testing.T) {
	tests := []struct {
		sample     string
		partitions [][]int
		patterns   []string
	}{
		{
			sample:     "resblock",
			partitions: [][]int{{0, 1}, {2, 3}, {4, 5, 6}},
			patterns:   []string{"conv_bias_post_ops", "conv_bias_post_ops", "conv_bias_add_relu"},
		},
		{
			sample:     "mlp",
			partitions: [][]int{{0, 1, 2, 3, 4, 5, 6}},
			patterns:   []string{"mlp"},
		},
		{
			sample:     "attention",
			partitions: [][]int{{0, 1}, {3}},
			patterns:   []string{"matmul_post_ops", "matmul_post_ops"},
		},
		{
			sample:     "int8_conv",
			partitions: [][]int{{0, 1, 2, 3, 4, 5}},
			patterns:   []string{"int8_conv_bias"},
		},
		{
			sample:     "depthwise",
			partitions: [][]int{{0, 1}},
			patterns:   []string{"conv_depthwise"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.sample, func(t *testing.T) {
			rep := runSample(t, tt.sample, Config{})
			assert.Equal(t, tt.partitions, rep.Partitions())
			assert.Equal(t, tt.patterns, patternNames(rep))

			par := runSample(t, tt.sample, Config{}, driver.WithWorkers(4))
			assert.Equal(t, rep.Partitions(), par.Partitions())
			assert.Equal(t, patternNames(rep), patternNames(par))
		})
	}
}

func TestCatalog_SimpleResblock(t *testing.T) {
	rep := runSample(t, "resblock", Config{Enabled: []string{"conv_simple_resblock"}})
	require.Len(t, rep.Matches, 1)
	m := rep.Matches[0]
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6}, m.OpIDs())

	// The residual input feeds both conv0 and the add.
	var residual int
	for _, in := range m.Inputs {
		if in.Op.Name() == "add" {
			residual++
			assert.Equal(t, 1, in.Slot)
		}
	}
	assert.Equal(t, 1, residual)
}

func TestCatalog_MLPRespectsMaxRepetition(t *testing.T) {
	rep := runSample(t, "mlp", Config{MaxRepetition: 2})
	assert.Equal(t, [][]int{{0, 1, 2, 3, 4}, {5, 6}}, rep.Partitions())
	assert.Equal(t, []string{"mlp", "matmul_post_ops"}, patternNames(rep))
	assert.Equal(t, 2, rep.Matches[0].Repetitions["layers"])
}

func TestCatalog_Int8WithoutWeightQuantize(t *testing.T) {
	d := driver.New()
	_, err := Register(d, Config{Enabled: []string{"int8_conv_bias"}})
	require.NoError(t, err)

	b := newGraphBuilder()
	b.op(opgraph.Dequantize, v(0), v(1), "dequant_data")
	b.op(opgraph.Dequantize, v(2), v(3), "dequant_weight")
	b.op(opgraph.Convolution, v(1, 3), v(4), "conv")
	g, err := b.finalize()
	require.NoError(t, err)

	rep, err := d.Run(context.Background(), g)
	require.NoError(t, err)
	require.Len(t, rep.Matches, 1)
	m := rep.Matches[0]
	assert.Equal(t, []int{0, 1, 2}, m.OpIDs())
	assert.Equal(t, 0, m.Repetitions["quant_weight"])
	assert.Equal(t, 0, m.Repetitions["bias"])
	assert.Equal(t, 0, m.Repetitions["quant_out"])
}

func TestGraphBuilder_StickyError(t *testing.T) {
	b := newGraphBuilder()
	b.op(opgraph.ReLU, v(0), v(1), "relu")
	b.op(opgraph.ReLU, v(2), v(1), "clash")
	b.op(opgraph.ReLU, v(1), v(3), "after")
	_, err := b.finalize()
	assert.Error(t, err)
}

func TestCatalog_GroupedConvSkipsPostOps(t *testing.T) {
	p := convBiasPostOps(MaxRepetition)
	require.NoError(t, p.Freeze())

	b := newGraphBuilder()
	b.op(opgraph.Convolution, v(0, 1), v(2), "conv", opgraph.WithAttr("groups", 2))
	b.op(opgraph.ReLU, v(2), v(3), "relu")
	g, err := b.finalize()
	require.NoError(t, err)

	ops, err := g.TopoOrder()
	require.NoError(t, err)
	_, ok := matcher.New().Find(context.Background(), ops[0], p)
	assert.False(t, ok)
}

func TestCatalog_ResidualAddOnEitherInput(t *testing.T) {
	tests := []struct {
		name string
		ins  []opgraph.ValueID
	}{
		{"conv on input 0", v(2, 3)},
		{"conv on input 1", v(3, 2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := driver.New()
			_, err := Register(d, Config{})
			require.NoError(t, err)

			b := newGraphBuilder()
			b.op(opgraph.Convolution, v(0, 1), v(2), "conv")
			b.op(opgraph.Add, tt.ins, v(4), "add")
			b.op(opgraph.ReLU, v(4), v(5), "relu")
			g, err := b.finalize()
			require.NoError(t, err)

			rep, err := d.Run(context.Background(), g)
			require.NoError(t, err)
			assert.Equal(t, [][]int{{0, 1, 2}}, rep.Partitions())
			assert.Equal(t, []string{"conv_bias_add_relu"}, patternNames(rep))
		})
	}
}

func TestCatalog_BinaryPostOpInput(t *testing.T) {
	tests := []struct {
		name     string
		kind     opgraph.OpKind
		wantOps  []int
		wantReps int
	}{
		{"commutative on input 1", opgraph.Multiply, []int{0, 1}, 1},
		{"ordered on input 1", opgraph.Subtract, []int{0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := driver.New()
			_, err := Register(d, Config{Enabled: []string{"conv_bias_post_ops"}})
			require.NoError(t, err)

			b := newGraphBuilder()
			b.op(opgraph.Convolution, v(0, 1), v(2), "conv")
			b.op(tt.kind, v(3, 2), v(4), "binary")
			g, err := b.finalize()
			require.NoError(t, err)

			rep, err := d.Run(context.Background(), g)
			require.NoError(t, err)
			require.NotEmpty(t, rep.Matches)
			assert.Equal(t, tt.wantOps, rep.Matches[0].OpIDs())
			assert.Equal(t, tt.wantReps, rep.Matches[0].Repetitions["post_ops"])
		})
	}
}

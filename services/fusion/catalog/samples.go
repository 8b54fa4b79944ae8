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
	"fmt"

	"github.com/AleutianAI/opfuse/services/fusion/opgraph"
)

// Sample is a small named graph for demos and smoke tests.
type Sample struct {
	Name        string
	Description string

	// Build returns a fresh finalized graph.
	Build func() (*opgraph.Graph, error)
}

var samples = []Sample{
	{Name: "resblock", Description: "three convolutions with relus and a residual add", Build: resblockGraph},
	{Name: "mlp", Description: "three matmul layers, the first with a bias", Build: mlpGraph},
	{Name: "attention", Description: "scaled dot-product attention core", Build: attentionGraph},
	{Name: "int8_conv", Description: "quantized convolution with bias", Build: int8ConvGraph},
	{Name: "depthwise", Description: "convolution feeding a grouped convolution and a relu", Build: depthwiseGraph},
}

// Samples returns the sample graphs in a fixed order.
func Samples() []Sample {
	out := make([]Sample, len(samples))
	copy(out, samples)
	return out
}

// LookupSample returns the sample with the given name.
//
// Errors:
//
//	ErrUnknownSample - No sample has that name.
func LookupSample(name string) (Sample, error) {
	for _, s := range samples {
		if s.Name == name {
			return s, nil
		}
	}
	return Sample{}, fmt.Errorf("%w: %q", ErrUnknownSample, name)
}

// graphBuilder records the first AddOp error so sample bodies stay flat.
type graphBuilder struct {
	g   *opgraph.Graph
	err error
}

func newGraphBuilder() *graphBuilder {
	return &graphBuilder{g: opgraph.New()}
}

func (b *graphBuilder) op(kind opgraph.OpKind, ins, outs []opgraph.ValueID, name string, opts ...opgraph.OpOption) {
	if b.err != nil {
		return
	}
	opts = append([]opgraph.OpOption{opgraph.WithName(name)}, opts...)
	if _, err := b.g.AddOp(kind, ins, outs, opts...); err != nil {
		b.err = fmt.Errorf("add %s: %w", name, err)
	}
}

func (b *graphBuilder) finalize() (*opgraph.Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := b.g.Finalize(); err != nil {
		return nil, err
	}
	return b.g, nil
}

func v(ids ...opgraph.ValueID) []opgraph.ValueID { return ids }

func resblockGraph() (*opgraph.Graph, error) {
	b := newGraphBuilder()
	b.op(opgraph.Convolution, v(0, 1), v(2), "conv0")
	b.op(opgraph.ReLU, v(2), v(3), "relu0")
	b.op(opgraph.Convolution, v(3, 4), v(5), "conv1")
	b.op(opgraph.ReLU, v(5), v(6), "relu1")
	b.op(opgraph.Convolution, v(6, 7), v(8), "conv2")
	b.op(opgraph.Add, v(8, 0), v(9), "add")
	b.op(opgraph.ReLU, v(9), v(10), "relu2")
	return b.finalize()
}

func mlpGraph() (*opgraph.Graph, error) {
	b := newGraphBuilder()
	b.op(opgraph.MatMul, v(0, 1), v(2), "fc0")
	b.op(opgraph.BiasAdd, v(2, 3), v(4), "bias0")
	b.op(opgraph.ReLU, v(4), v(5), "relu0")
	b.op(opgraph.MatMul, v(5, 6), v(7), "fc1")
	b.op(opgraph.ReLU, v(7), v(8), "relu1")
	b.op(opgraph.MatMul, v(8, 9), v(10), "fc2")
	b.op(opgraph.Sigmoid, v(10), v(11), "sigmoid")
	return b.finalize()
}

func attentionGraph() (*opgraph.Graph, error) {
	b := newGraphBuilder()
	b.op(opgraph.MatMul, v(0, 1), v(2), "qk")
	b.op(opgraph.Divide, v(2, 3), v(4), "scale")
	b.op(opgraph.SoftMax, v(4), v(5), "softmax")
	b.op(opgraph.MatMul, v(5, 6), v(7), "av")
	b.op(opgraph.StaticTranspose, v(7), v(8), "transpose")
	b.op(opgraph.StaticReshape, v(8), v(9), "reshape")
	return b.finalize()
}

func int8ConvGraph() (*opgraph.Graph, error) {
	b := newGraphBuilder()
	b.op(opgraph.Dequantize, v(0), v(1), "dequant_data")
	b.op(opgraph.Quantize, v(2), v(3), "quant_weight")
	b.op(opgraph.Dequantize, v(3), v(4), "dequant_weight")
	b.op(opgraph.Convolution, v(1, 4), v(5), "conv")
	b.op(opgraph.BiasAdd, v(5, 6), v(7), "bias")
	b.op(opgraph.Quantize, v(7), v(8), "quant_out")
	return b.finalize()
}

func depthwiseGraph() (*opgraph.Graph, error) {
	b := newGraphBuilder()
	b.op(opgraph.Convolution, v(0, 1), v(2), "conv")
	b.op(opgraph.Convolution, v(2, 3), v(4), "depthwise", opgraph.WithAttr("groups", 4))
	b.op(opgraph.ReLU, v(4), v(5), "relu")
	return b.finalize()
}

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
	"github.com/AleutianAI/opfuse/services/fusion/pattern"
)

// unaryPostOps are the eltwise kinds a post-op chain accepts.
var unaryPostOps = []opgraph.OpKind{
	opgraph.Abs, opgraph.Clamp, opgraph.Elu, opgraph.Exp, opgraph.GELU,
	opgraph.HardSwish, opgraph.Log, opgraph.ReLU, opgraph.Round,
	opgraph.Sigmoid, opgraph.Sqrt, opgraph.Square, opgraph.Tanh,
}

// binaryPostOps join the chain on input 0, or on either input when the
// kind is commutative. The other input is free.
var binaryPostOps = []opgraph.OpKind{
	opgraph.Add, opgraph.Multiply, opgraph.Maximum, opgraph.Minimum,
	opgraph.Divide, opgraph.Subtract,
}

func edges(e ...pattern.InEdge) []pattern.InEdge { return e }

// enteredOn is a one-op graph whose input port 0 is input slot of the op.
// Its only output port is output 0 of the op.
func enteredOn(kind opgraph.OpKind, slot int) *pattern.Graph {
	body := pattern.NewGraph(fmt.Sprintf("%s_in%d", kind, slot))
	op := body.AppendOp(kind, nil)
	// Port errors stay recorded on body and surface when it is embedded.
	_ = body.CreateInputPort(0, op, slot)
	_ = body.CreateOutputPort(0, op, 0)
	return body
}

// eitherInput matches kind entered on input 0 or, failing that, input 1.
func eitherInput(kind opgraph.OpKind) []*pattern.Graph {
	return []*pattern.Graph{pattern.SingleOp(kind), enteredOn(kind, 1)}
}

// postOpBody is one link of a post-op chain: any unary or binary post op,
// entered and left on port 0. Commutative binary ops may also be entered
// on input 1.
func postOpBody() *pattern.Graph {
	candidates := make([]*pattern.Graph, 0, len(unaryPostOps)+2*len(binaryPostOps))
	for _, k := range unaryPostOps {
		candidates = append(candidates, pattern.SingleOp(k))
	}
	for _, k := range binaryPostOps {
		candidates = append(candidates, pattern.SingleOp(k))
	}
	for _, k := range binaryPostOps {
		if k.Commutative() {
			candidates = append(candidates, enteredOn(k, 1))
		}
	}

	body := pattern.NewGraph("post_op")
	alt := body.AppendAlternation(candidates, nil, pattern.WithName("op"))
	// Port errors stay recorded on body and surface when it is embedded.
	_ = body.CreateInputPort(0, alt, 0)
	_ = body.CreateOutputPort(0, alt, 0)
	return body
}

// appendPostOps appends an optional bias and a post-op chain after the
// node producing port 0 of from.
func appendPostOps(p *pattern.Graph, from *pattern.Node, maxRep int) {
	bias := p.AppendOptional(pattern.SingleOp(opgraph.BiasAdd),
		edges(pattern.In(0, from, 0)), pattern.WithName("bias"))
	p.AppendRepetition(postOpBody(), pattern.PortMap{Out: 0, In: 0}, 0, maxRep,
		edges(pattern.In(0, bias, 0)), pattern.WithName("post_ops"))
}

func convBiasPostOps(maxRep int) *pattern.Graph {
	p := pattern.NewGraph("conv_bias_post_ops")
	conv := p.AppendOp(opgraph.Convolution, nil, pattern.WithName("conv")).
		AppendDecision(pattern.AttrIntAtMost("groups", 1))
	appendPostOps(p, conv, maxRep)
	return p
}

func convBiasAddRelu(int) *pattern.Graph {
	p := pattern.NewGraph("conv_bias_add_relu")
	conv := p.AppendOp(opgraph.Convolution, nil, pattern.WithName("conv"))
	bias := p.AppendOptional(pattern.SingleOp(opgraph.BiasAdd),
		edges(pattern.In(0, conv, 0)), pattern.WithName("bias"))
	add := p.AppendAlternation(eitherInput(opgraph.Add), edges(pattern.In(0, bias, 0)), pattern.WithName("add"))
	p.AppendOp(opgraph.ReLU, edges(pattern.In(0, add, 0)), pattern.WithName("relu"))
	return p
}

// convDepthwise fuses a convolution into the grouped convolution that
// consumes it. Neither carries a bias input.
func convDepthwise(int) *pattern.Graph {
	p := pattern.NewGraph("conv_depthwise")
	conv := p.AppendOp(opgraph.Convolution, nil, pattern.WithName("conv")).
		AppendDecision(pattern.InputCount(2))
	p.AppendOp(opgraph.Convolution, edges(pattern.In(0, conv, 0)), pattern.WithName("depthwise")).
		AppendDecision(pattern.InputCount(2)).
		AppendDecision(pattern.AttrIntGreater("groups", 1))
	return p
}

// int8ConvBias matches the quantized form of a convolution:
//
//	Dequantize(data) ----------------------+
//	[Quantize(weight)] -> Dequantize(weight) -> Convolution -> [BiasAdd] -> [Quantize]
func int8ConvBias(int) *pattern.Graph {
	p := pattern.NewGraph("int8_conv_bias")
	dqData := p.AppendOp(opgraph.Dequantize, nil, pattern.WithName("dequant_data"))
	qWeight := p.AppendOptional(pattern.SingleOp(opgraph.Quantize), nil, pattern.WithName("quant_weight"))
	dqWeight := p.AppendOp(opgraph.Dequantize, edges(pattern.In(0, qWeight, 0)), pattern.WithName("dequant_weight"))
	conv := p.AppendOp(opgraph.Convolution, edges(
		pattern.In(0, dqData, 0),
		pattern.In(1, dqWeight, 0),
	), pattern.WithName("conv"))
	bias := p.AppendOptional(pattern.SingleOp(opgraph.BiasAdd),
		edges(pattern.In(0, conv, 0)), pattern.WithName("bias"))
	p.AppendOptional(pattern.SingleOp(opgraph.Quantize),
		edges(pattern.In(0, bias, 0)), pattern.WithName("quant_out"))
	return p
}

// convSimpleResblock is conv, relu, conv, relu, conv, add, relu with the
// add taking the residual on its other input.
func convSimpleResblock(int) *pattern.Graph {
	p := pattern.NewGraph("conv_simple_resblock")
	conv0 := p.AppendOp(opgraph.Convolution, nil, pattern.WithName("conv0")).
		AppendDecision(pattern.InputCount(2))
	relu0 := p.AppendOp(opgraph.ReLU, edges(pattern.In(0, conv0, 0)), pattern.WithName("relu0"))
	conv1 := p.AppendOp(opgraph.Convolution, edges(pattern.In(0, relu0, 0)), pattern.WithName("conv1")).
		AppendDecision(pattern.InputCount(2))
	relu1 := p.AppendOp(opgraph.ReLU, edges(pattern.In(0, conv1, 0)), pattern.WithName("relu1"))
	conv2 := p.AppendOp(opgraph.Convolution, edges(pattern.In(0, relu1, 0)), pattern.WithName("conv2")).
		AppendDecision(pattern.InputCount(2))
	add := p.AppendAlternation(eitherInput(opgraph.Add), edges(pattern.In(0, conv2, 0)), pattern.WithName("add"))
	p.AppendOp(opgraph.ReLU, edges(pattern.In(0, add, 0)), pattern.WithName("relu2"))
	return p
}

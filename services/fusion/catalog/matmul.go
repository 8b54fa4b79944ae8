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
	"github.com/AleutianAI/opfuse/services/fusion/opgraph"
	"github.com/AleutianAI/opfuse/services/fusion/pattern"
)

// mlpActivations close each mlp layer.
var mlpActivations = []opgraph.OpKind{
	opgraph.ReLU, opgraph.Sigmoid, opgraph.Tanh, opgraph.GELU,
}

func matmulPostOps(maxRep int) *pattern.Graph {
	p := pattern.NewGraph("matmul_post_ops")
	mm := p.AppendOp(opgraph.MatMul, nil, pattern.WithName("matmul"))
	appendPostOps(p, mm, maxRep)
	return p
}

// mlpLayer is MatMul, an optional BiasAdd and an activation. The layer
// input is matmul input 0, its output the activation output.
func mlpLayer() *pattern.Graph {
	layer := pattern.NewGraph("layer")
	mm := layer.AppendOp(opgraph.MatMul, nil, pattern.WithName("matmul"))
	bias := layer.AppendOptional(pattern.SingleOp(opgraph.BiasAdd),
		edges(pattern.In(0, mm, 0)), pattern.WithName("bias"))
	act := layer.AppendKindAlternation(mlpActivations,
		edges(pattern.In(0, bias, 0)), pattern.WithName("act"))
	// Port errors stay recorded on layer and surface when it is embedded.
	_ = layer.CreateInputPort(0, mm, 0)
	_ = layer.CreateOutputPort(0, act, 0)
	return layer
}

// mlp needs at least two layers; below three the repetition cap is
// raised so the range stays non-empty.
func mlp(maxRep int) *pattern.Graph {
	p := pattern.NewGraph("mlp")
	p.AppendRepetition(mlpLayer(), pattern.PortMap{Out: 0, In: 0}, 2, max(maxRep, 3),
		nil, pattern.WithName("layers"))
	return p
}

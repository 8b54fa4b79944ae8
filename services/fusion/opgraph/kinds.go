// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package opgraph

import (
	"fmt"
	"strings"
)

// OpKind identifies the operation performed by an Op.
//
// The set is closed: only the constants below are valid. Wildcard is a
// placeholder kind for operations the fusion passes do not need to
// distinguish (and, in patterns, for nodes that match any operation).
type OpKind int

const (
	Wildcard OpKind = iota
	Abs
	Add
	AvgPool
	BatchNormInference
	BiasAdd
	Clamp
	Concat
	Convolution
	ConvTranspose
	Dequantize
	Divide
	Elu
	Exp
	GELU
	HardSwish
	Log
	MatMul
	Maximum
	MaxPool
	Minimum
	Multiply
	Pow
	Quantize
	ReLU
	ReLUBackprop
	Reorder
	Round
	Sigmoid
	SoftMax
	SoftMaxBackprop
	Sqrt
	Square
	StaticReshape
	StaticTranspose
	Subtract
	Tanh
	TypeCast

	kindCount
)

var kindNames = [kindCount]string{
	Wildcard:           "Wildcard",
	Abs:                "Abs",
	Add:                "Add",
	AvgPool:            "AvgPool",
	BatchNormInference: "BatchNormInference",
	BiasAdd:            "BiasAdd",
	Clamp:              "Clamp",
	Concat:             "Concat",
	Convolution:        "Convolution",
	ConvTranspose:      "ConvTranspose",
	Dequantize:         "Dequantize",
	Divide:             "Divide",
	Elu:                "Elu",
	Exp:                "Exp",
	GELU:               "GELU",
	HardSwish:          "HardSwish",
	Log:                "Log",
	MatMul:             "MatMul",
	Maximum:            "Maximum",
	MaxPool:            "MaxPool",
	Minimum:            "Minimum",
	Multiply:           "Multiply",
	Pow:                "Pow",
	Quantize:           "Quantize",
	ReLU:               "ReLU",
	ReLUBackprop:       "ReLUBackprop",
	Reorder:            "Reorder",
	Round:              "Round",
	Sigmoid:            "Sigmoid",
	SoftMax:            "SoftMax",
	SoftMaxBackprop:    "SoftMaxBackprop",
	Sqrt:               "Sqrt",
	Square:             "Square",
	StaticReshape:      "StaticReshape",
	StaticTranspose:    "StaticTranspose",
	Subtract:           "Subtract",
	Tanh:               "Tanh",
	TypeCast:           "TypeCast",
}

// String returns the canonical name of the kind.
func (k OpKind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("OpKind(%d)", int(k))
	}
	return kindNames[k]
}

// Valid reports whether k is one of the declared kinds.
func (k OpKind) Valid() bool {
	return k >= 0 && k < kindCount
}

// Commutative reports whether the inputs of an operation of this kind
// may be exchanged without changing its result.
func (k OpKind) Commutative() bool {
	switch k {
	case Add, Multiply, Maximum, Minimum:
		return true
	default:
		return false
	}
}

// ParseOpKind returns the kind with the given name. Matching is
// case-insensitive.
//
// Errors:
//
//	ErrUnknownKind - name does not name a kind.
func ParseOpKind(name string) (OpKind, error) {
	for k := OpKind(0); k < kindCount; k++ {
		if strings.EqualFold(kindNames[k], name) {
			return k, nil
		}
	}
	return Wildcard, fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// Kinds returns every declared kind in declaration order.
func Kinds() []OpKind {
	out := make([]OpKind, 0, kindCount)
	for k := OpKind(0); k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

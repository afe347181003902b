// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package layers holds the inference-only building blocks of the point completion network:
// affine transforms, inference-mode batch normalization and ReLU activations.
//
// Layers are described by Op, a small tagged variant (one of affine, batch_norm, relu or identity), and
// composed into a Stack executed in order. A Stack is a plain parameter bundle: before running it must be
// compiled (see Stack.Compile) into a Program, which validates that every layer's input dimension matches
// the previous layer's output, copies the parameters and folds the normalization into a per-channel affine.
//
// A Program processes a batch of rows at a time, all rows sharing the same weights: this is how the
// "same weights applied independently to every point" pattern is expressed, with one matrix multiplication
// per affine layer for the whole batch.
//
// Example: a shared per-point layer lifting 3 coordinates to 128 features:
//
//	stack := layers.Stack{
//		layers.Affine(layers.NewAffine(3, 128)),
//		layers.BatchNorm(layers.NewBatchNorm(128, layers.DefaultEpsilon)),
//		layers.Relu(),
//	}
//	program, err := stack.Compile(3)
//	if err != nil { … }
//	features := program.Apply(points, numPoints) // numPoints x 128, row-major.
package layers

import (
	"fmt"

	"github.com/gomlx/pcn/pkg/core/shapes"
)

// Kind of layer operation.
type Kind int

const (
	// KindAffine is `y = W·x + b`, see AffineParams.
	KindAffine Kind = iota

	// KindBatchNorm is the inference-mode batch normalization `z = scale * (y - mean) / sqrt(var + eps) + shift`,
	// see BatchNormParams.
	KindBatchNorm

	// KindRelu is the element-wise `max(0, x)`.
	KindRelu

	// KindIdentity is a no-op.
	KindIdentity
)

//go:generate go tool enumer -type=Kind -trimprefix=Kind -transform=snake -values -text -output=gen_kind_enumer.go layers.go

// Op is one layer operation in a Stack. Which parameters field is set depends on Kind.
//
// Use the constructors Affine, BatchNorm, Relu and Identity to create them.
type Op struct {
	Kind Kind

	// Affine parameters, set only if Kind == KindAffine.
	Affine *AffineParams

	// BatchNorm parameters, set only if Kind == KindBatchNorm.
	BatchNorm *BatchNormParams
}

// Affine returns an affine Op with the given parameters.
func Affine(params *AffineParams) Op { return Op{Kind: KindAffine, Affine: params} }

// BatchNorm returns an inference-mode batch normalization Op with the given parameters.
func BatchNorm(params *BatchNormParams) Op { return Op{Kind: KindBatchNorm, BatchNorm: params} }

// Relu returns a ReLU activation Op.
func Relu() Op { return Op{Kind: KindRelu} }

// Identity returns a no-op.
func Identity() Op { return Op{Kind: KindIdentity} }

// String implements fmt.Stringer.
func (op Op) String() string {
	switch op.Kind {
	case KindAffine:
		if op.Affine == nil {
			return "affine(<nil>)"
		}
		return fmt.Sprintf("affine(%d->%d)", op.Affine.InDim, op.Affine.OutDim)
	case KindBatchNorm:
		if op.BatchNorm == nil {
			return "batch_norm(<nil>)"
		}
		return fmt.Sprintf("batch_norm(%d, eps=%g)", op.BatchNorm.Dim, op.BatchNorm.Epsilon)
	default:
		return op.Kind.String()
	}
}

// outputDim returns the dimension of the Op output given its input dimension, or an error if the
// Op can't take inputs of that dimension or its parameters are inconsistent.
func (op Op) outputDim(inputDim int) (int, error) {
	switch op.Kind {
	case KindAffine:
		if op.Affine == nil {
			return 0, shapes.Errorf("affine op has no parameters")
		}
		if err := op.Affine.validate(); err != nil {
			return 0, err
		}
		if op.Affine.InDim != inputDim {
			return 0, shapes.Errorf("affine op takes inputs of dimension %d, but previous layer outputs dimension %d",
				op.Affine.InDim, inputDim)
		}
		return op.Affine.OutDim, nil
	case KindBatchNorm:
		if op.BatchNorm == nil {
			return 0, shapes.Errorf("batch_norm op has no parameters")
		}
		if err := op.BatchNorm.validate(); err != nil {
			return 0, err
		}
		if op.BatchNorm.Dim != inputDim {
			return 0, shapes.Errorf("batch_norm op normalizes %d channels, but previous layer outputs dimension %d",
				op.BatchNorm.Dim, inputDim)
		}
		return inputDim, nil
	case KindRelu, KindIdentity:
		return inputDim, nil
	default:
		return 0, shapes.Errorf("unknown layer kind %s", op.Kind)
	}
}

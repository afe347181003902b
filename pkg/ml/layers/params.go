// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"slices"

	"github.com/gomlx/pcn/pkg/core/shapes"
)

// DefaultEpsilon is the default constant added to the variance in batch normalization, the same as PyTorch's.
const DefaultEpsilon = 1e-5

// AffineParams holds the parameters of an affine transform `y = W·x + b`.
type AffineParams struct {
	InDim, OutDim int

	// Weights is the OutDim x InDim matrix W, in row-major order: Weights[o*InDim+i] is the weight
	// connecting input i to output o.
	Weights []float32

	// Bias with OutDim values.
	Bias []float32
}

// NewAffine returns AffineParams for the given dimensions with all weights and biases set to zero.
func NewAffine(inDim, outDim int) *AffineParams {
	if inDim <= 0 || outDim <= 0 {
		return &AffineParams{InDim: inDim, OutDim: outDim}
	}
	return &AffineParams{
		InDim:   inDim,
		OutDim:  outDim,
		Weights: make([]float32, inDim*outDim),
		Bias:    make([]float32, outDim),
	}
}

func (p *AffineParams) validate() error {
	if p.InDim <= 0 || p.OutDim <= 0 {
		return shapes.Errorf("affine op with invalid dimensions %d->%d", p.InDim, p.OutDim)
	}
	if len(p.Weights) != p.InDim*p.OutDim {
		return shapes.Errorf("affine op %d->%d has %d weights, wanted %d x %d = %d",
			p.InDim, p.OutDim, len(p.Weights), p.OutDim, p.InDim, p.InDim*p.OutDim)
	}
	if len(p.Bias) != p.OutDim {
		return shapes.Errorf("affine op %d->%d has %d biases, wanted %d", p.InDim, p.OutDim, len(p.Bias), p.OutDim)
	}
	return nil
}

// Clone returns a deep copy of the parameters.
func (p *AffineParams) Clone() *AffineParams {
	return &AffineParams{
		InDim:   p.InDim,
		OutDim:  p.OutDim,
		Weights: slices.Clone(p.Weights),
		Bias:    slices.Clone(p.Bias),
	}
}

// BatchNormParams holds the learned parameters and the stored running statistics of an inference-mode
// batch normalization:
//
//	z = Scale * (y - Mean) / sqrt(Variance + Epsilon) + Shift
//
// The statistics are never recomputed from the inputs, so the transform doesn't depend on the batch.
type BatchNormParams struct {
	// Dim is the number of channels normalized.
	Dim int

	// Scale and Shift are the learned per-channel rescaling (sometimes called gamma and beta).
	Scale, Shift []float32

	// Mean and Variance are the per-channel running statistics collected during training.
	Mean, Variance []float32

	// Epsilon is added to the Variance for numerical stability.
	Epsilon float64
}

// NewBatchNorm returns BatchNormParams for dim channels that starts as an identity transform
// (up to epsilon): Scale=1, Shift=0, Mean=0 and Variance=1.
func NewBatchNorm(dim int, epsilon float64) *BatchNormParams {
	p := &BatchNormParams{Dim: dim, Epsilon: epsilon}
	if dim <= 0 {
		return p
	}
	p.Scale = make([]float32, dim)
	p.Shift = make([]float32, dim)
	p.Mean = make([]float32, dim)
	p.Variance = make([]float32, dim)
	for ii := range dim {
		p.Scale[ii] = 1
		p.Variance[ii] = 1
	}
	return p
}

func (p *BatchNormParams) validate() error {
	if p.Dim <= 0 {
		return shapes.Errorf("batch_norm op with invalid dimension %d", p.Dim)
	}
	if !(p.Epsilon >= 0) {
		return shapes.Errorf("batch_norm op epsilon must be >= 0, got %g", p.Epsilon)
	}
	for _, field := range []struct {
		name   string
		values []float32
	}{
		{"scale", p.Scale},
		{"shift", p.Shift},
		{"mean", p.Mean},
		{"variance", p.Variance},
	} {
		if len(field.values) != p.Dim {
			return shapes.Errorf("batch_norm op of dimension %d has %d values for %s", p.Dim, len(field.values), field.name)
		}
	}
	return nil
}

// Clone returns a deep copy of the parameters.
func (p *BatchNormParams) Clone() *BatchNormParams {
	return &BatchNormParams{
		Dim:      p.Dim,
		Scale:    slices.Clone(p.Scale),
		Shift:    slices.Clone(p.Shift),
		Mean:     slices.Clone(p.Mean),
		Variance: slices.Clone(p.Variance),
		Epsilon:  p.Epsilon,
	}
}

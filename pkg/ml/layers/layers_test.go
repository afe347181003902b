// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/pcn/pkg/core/shapes"
)

func TestKind(t *testing.T) {
	assert.Equal(t, "affine", KindAffine.String())
	assert.Equal(t, "batch_norm", KindBatchNorm.String())
	assert.Equal(t, "relu", KindRelu.String())
	assert.Equal(t, "identity", KindIdentity.String())
	k, err := KindString("batch_norm")
	require.NoError(t, err)
	assert.Equal(t, KindBatchNorm, k)
	_, err = KindString("softmax")
	require.Error(t, err)
}

func TestAffine(t *testing.T) {
	params := &AffineParams{
		InDim:   3,
		OutDim:  2,
		Weights: []float32{1, 2, 3, 4, 5, 6},
		Bias:    []float32{0.5, -1},
	}
	program, err := Stack{Affine(params)}.Compile(3)
	require.NoError(t, err)
	require.Equal(t, 3, program.InputDim())
	require.Equal(t, 2, program.OutputDim())

	x := []float32{
		1, 1, 1,
		1, 0, -1,
	}
	got := program.Apply(x, 2)
	assert.Equal(t, []float32{6.5, 14, -1.5, -3}, got)

	// Parameters are copied at compilation.
	params.Weights[0] = 100
	got = program.Apply([]float32{1, 1, 1}, 1)
	assert.Equal(t, []float32{6.5, 14}, got)

	require.Panics(t, func() { _ = program.Apply([]float32{1, 2}, 1) })
}

func TestBatchNorm(t *testing.T) {
	params := &BatchNormParams{
		Dim:      3,
		Scale:    []float32{2, 1, 0.5},
		Shift:    []float32{1, 0, -1},
		Mean:     []float32{1, -2, 0},
		Variance: []float32{4, 0, 1},
		Epsilon:  DefaultEpsilon,
	}
	program, err := Stack{BatchNorm(params)}.Compile(3)
	require.NoError(t, err)

	y := []float32{3, -2, 2, 1, 1, 1}
	got := program.Apply(append([]float32(nil), y...), 2)
	for ii, v := range got {
		ch := ii % 3
		want := float64(params.Scale[ch])*(float64(y[ii])-float64(params.Mean[ch]))/
			math.Sqrt(float64(params.Variance[ch])+params.Epsilon) + float64(params.Shift[ch])
		assert.InDeltaf(t, want, float64(v), 1e-5*math.Max(1, math.Abs(want)), "value #%d", ii)
		assert.False(t, math.IsInf(float64(v), 0) || math.IsNaN(float64(v)), "value #%d not finite", ii)
	}

	// Zero variance relies on epsilon: (1 - (-2)) / sqrt(1e-5) ~= 948.68.
	assert.InDelta(t, 3/math.Sqrt(1e-5), float64(got[4]), 1e-2)

	// Default parameters are the identity, up to epsilon.
	program, err = Stack{BatchNorm(NewBatchNorm(2, DefaultEpsilon))}.Compile(2)
	require.NoError(t, err)
	got = program.Apply([]float32{3, -7}, 1)
	assert.InDelta(t, 3, got[0], 1e-4)
	assert.InDelta(t, -7, got[1], 1e-4)

	// Negative or NaN epsilon is rejected, as it would turn a zero variance into NaN.
	for _, eps := range []float64{-1e-5, math.NaN()} {
		bad := params.Clone()
		bad.Epsilon = eps
		_, err = Stack{BatchNorm(bad)}.Compile(3)
		assert.ErrorIs(t, err, shapes.ErrShape, "epsilon=%g", eps)
	}
}

func TestRelu(t *testing.T) {
	program, err := Stack{Relu(), Identity()}.Compile(4)
	require.NoError(t, err)
	nan := float32(math.NaN())
	got := program.Apply([]float32{-1, 0, 2.5, nan}, 1)
	assert.Equal(t, []float32{0, 0, 2.5}, got[:3])
	assert.True(t, math.IsNaN(float64(got[3])), "NaN should propagate")

	negZero := float32(math.Copysign(0, -1))
	got = program.Apply([]float32{negZero, 1, 1, 1}, 1)
	assert.False(t, math.Signbit(float64(got[0])))
}

func TestStackValidation(t *testing.T) {
	testCases := []struct {
		name  string
		stack Stack
	}{
		{"affine input mismatch", Stack{Affine(NewAffine(3, 8)), Relu(), Affine(NewAffine(16, 4))}},
		{"batch_norm dim mismatch", Stack{Affine(NewAffine(3, 8)), BatchNorm(NewBatchNorm(4, DefaultEpsilon))}},
		{"wrong number of weights", Stack{Affine(&AffineParams{InDim: 3, OutDim: 2, Weights: make([]float32, 5), Bias: make([]float32, 2)})}},
		{"wrong number of biases", Stack{Affine(&AffineParams{InDim: 3, OutDim: 2, Weights: make([]float32, 6), Bias: make([]float32, 3)})}},
		{"missing variance", Stack{BatchNorm(&BatchNormParams{Dim: 3, Scale: make([]float32, 3), Shift: make([]float32, 3), Mean: make([]float32, 3)})}},
		{"nil affine", Stack{{Kind: KindAffine}}},
		{"nil batch_norm", Stack{{Kind: KindBatchNorm}}},
		{"unknown kind", Stack{{Kind: Kind(17)}}},
		{"zero dims", Stack{Affine(NewAffine(3, 0))}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.stack.Compile(3)
			require.Error(t, err)
			assert.ErrorIs(t, err, shapes.ErrShape)
		})
	}

	dim, err := Stack{Affine(NewAffine(3, 8)), BatchNorm(NewBatchNorm(8, DefaultEpsilon)), Relu(), Affine(NewAffine(8, 5))}.OutputDim(3)
	require.NoError(t, err)
	assert.Equal(t, 5, dim)

	_, err = Stack{}.OutputDim(0)
	assert.ErrorIs(t, err, shapes.ErrShape)
}

func TestLayoutAndVariables(t *testing.T) {
	stack := Stack{
		Affine(NewAffine(3, 4)),
		BatchNorm(NewBatchNorm(4, 1e-3)),
		Relu(),
		Identity(),
		Affine(NewAffine(4, 6)),
	}
	assert.Equal(t, 3*4+4+4*4+4*6+6, stack.NumParameters())

	vars := stack.Variables("encoder")
	require.Len(t, vars, 8)
	assert.Equal(t, "encoder/00/affine/weights", vars[0].Name)
	assert.Equal(t, "(Float32)[4 3]", vars[0].Shape.String())
	assert.Equal(t, "encoder/01/batch_norm/variance", vars[5].Name)
	assert.Equal(t, "encoder/04/affine/bias", vars[7].Name)

	// Variables share storage with the parameters.
	vars[1].Values[2] = 7
	assert.Equal(t, float32(7), stack[0].Affine.Bias[2])

	layout := stack.Layout()
	rebuilt, err := FromLayout(layout, 3)
	require.NoError(t, err)
	assert.Equal(t, layout, rebuilt.Layout())
	assert.Equal(t, 1e-3, rebuilt[1].BatchNorm.Epsilon)
	assert.Equal(t, float32(1), rebuilt[1].BatchNorm.Variance[0])

	clone := stack.Clone()
	clone[0].Affine.Bias[2] = -1
	assert.Equal(t, float32(7), stack[0].Affine.Bias[2])

	layoutVars := LayoutVariables("encoder", layout)
	require.Len(t, layoutVars, len(vars))
	for ii, v := range layoutVars {
		assert.Equal(t, vars[ii].Name, v.Name)
		assert.Equal(t, vars[ii].Shape, v.Shape)
		assert.Nil(t, v.Values)
	}

	_, err = FromLayout([]OpLayout{{Kind: KindBatchNorm, InDim: 3, OutDim: 4}}, 3)
	assert.ErrorIs(t, err, shapes.ErrShape)
	_, err = FromLayout(layout, 4)
	assert.ErrorIs(t, err, shapes.ErrShape, "layout takes 3 dimensional inputs")
}

func TestLayoutOutputDim(t *testing.T) {
	dim, err := LayoutOutputDim([]OpLayout{
		{Kind: KindAffine, InDim: 3, OutDim: 8},
		{Kind: KindBatchNorm, InDim: 8, OutDim: 8, Epsilon: DefaultEpsilon},
		{Kind: KindRelu},
		{Kind: KindAffine, InDim: 8, OutDim: 2},
	}, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, dim)

	for _, tc := range []struct {
		name   string
		layout []OpLayout
	}{
		{"huge affine", []OpLayout{{Kind: KindAffine, InDim: 3, OutDim: 4_000_000_000_000_000_000}}},
		{"overflowing affine", []OpLayout{{Kind: KindAffine, InDim: 3, OutDim: 1 << 62}}},
		{"too large affine", []OpLayout{{Kind: KindAffine, InDim: 3, OutDim: MaxLayerParameters}}},
		{"huge batch_norm", []OpLayout{{Kind: KindBatchNorm, InDim: 1 << 62, OutDim: 1 << 62}}},
		{"negative epsilon", []OpLayout{{Kind: KindBatchNorm, InDim: 3, OutDim: 3, Epsilon: -1}}},
		{"zero dimension", []OpLayout{{Kind: KindAffine, InDim: 3, OutDim: 0}}},
		{"not chained", []OpLayout{{Kind: KindAffine, InDim: 3, OutDim: 4}, {Kind: KindAffine, InDim: 5, OutDim: 2}}},
		{"unknown kind", []OpLayout{{Kind: Kind(17)}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var err error
			require.NotPanics(t, func() { _, err = FromLayout(tc.layout, 3) })
			require.ErrorIs(t, err, shapes.ErrShape)
		})
	}
}

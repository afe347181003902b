// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"fmt"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	require.False(t, Shape{}.Ok())

	shape0 := Make(dtypes.Float64)
	require.True(t, shape0.Ok())
	require.True(t, shape0.IsScalar())
	require.Equal(t, 0, shape0.Rank())
	require.Equal(t, 1, shape0.Size())
	require.Equal(t, 8, int(shape0.Memory()))

	shape1 := Make(dtypes.Float32, 1024, 3)
	require.False(t, shape1.IsScalar())
	require.Equal(t, 2, shape1.Rank())
	require.Equal(t, 1024*3, shape1.Size())
	require.Equal(t, 4*1024*3, int(shape1.Memory()))
	require.Equal(t, "(Float32)[1024 3]", shape1.String())

	require.True(t, shape1.Equal(shape1.Clone()))
	require.False(t, shape1.Equal(Make(dtypes.Float16, 1024, 3)))
	require.False(t, shape1.Equal(Make(dtypes.Float32, 3, 1024)))

	require.Panics(t, func() { _ = Make(dtypes.Float32, 0, 3) })
}

func TestDim(t *testing.T) {
	shape := Make(dtypes.Float32, 4, 3, 2)
	require.Equal(t, 4, shape.Dim(0))
	require.Equal(t, 2, shape.Dim(2))
	require.Equal(t, 4, shape.Dim(-3))
	require.Equal(t, 2, shape.Dim(-1))
	require.Panics(t, func() { _ = shape.Dim(3) })
	require.Panics(t, func() { _ = shape.Dim(-4) })
}

func TestErrShape(t *testing.T) {
	err := Errorf("point #%d has %d coordinates", 7, 2)
	require.ErrorIs(t, err, ErrShape)
	require.Contains(t, err.Error(), "point #7 has 2 coordinates")

	// Still detectable after further wrapping.
	wrapped := errors.WithMessagef(err, "while completing cloud")
	require.ErrorIs(t, wrapped, ErrShape)
	require.ErrorIs(t, fmt.Errorf("outer: %w", wrapped), ErrShape)
	require.NotErrorIs(t, errors.New("something else"), ErrShape)
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package pointcloud defines Cloud, an ordered set of 3D points, and tools to validate, transform, resample
// and read/write point clouds in the XYZ and PCD file formats.
package pointcloud

import (
	"math"
	"math/rand/v2"
	"slices"

	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gomlx/pcn/pkg/core/shapes"
)

// Dim is the number of coordinates of each point: x, y, z.
const Dim = 3

// Cloud is an ordered sequence of points. Each point is expected to hold exactly Dim coordinates, see Validate.
//
// For partial (input) clouds the order of the points is irrelevant. For completed clouds the order is fixed
// by the network, but carries no meaning.
type Cloud [][]float32

// Validate that the cloud is not empty and all points have exactly Dim coordinates.
// It returns an error wrapping shapes.ErrShape otherwise.
func (c Cloud) Validate() error {
	if len(c) == 0 {
		return shapes.Errorf("empty point cloud")
	}
	for ii, point := range c {
		if len(point) != Dim {
			return shapes.Errorf("point #%d has %d coordinates, wanted %d", ii, len(point), Dim)
		}
	}
	return nil
}

// Len returns the number of points.
func (c Cloud) Len() int { return len(c) }

// Shape of the cloud as a dense array, `(float32)[N 3]`. The cloud is assumed to be valid.
func (c Cloud) Shape() shapes.Shape {
	return shapes.Make(dtypes.Float32, len(c), Dim)
}

// New returns a cloud of n points, all zero, backed by a single contiguous array.
func New(n int) Cloud {
	return FromFlatUnchecked(make([]float32, n*Dim))
}

// FromFlat converts a flat row-major array (x0, y0, z0, x1, y1, z1, …) to a Cloud.
// The points share the storage of flat.
//
// It returns a shapes.ErrShape error if the length of flat is not a multiple of Dim.
func FromFlat(flat []float32) (Cloud, error) {
	if len(flat)%Dim != 0 {
		return nil, shapes.Errorf("flat point array of length %d is not a multiple of %d", len(flat), Dim)
	}
	return FromFlatUnchecked(flat), nil
}

// FromFlatUnchecked is like FromFlat, but it silently drops any trailing values that don't form a
// complete point.
func FromFlatUnchecked(flat []float32) Cloud {
	n := len(flat) / Dim
	c := make(Cloud, n)
	for ii := range n {
		c[ii] = flat[ii*Dim : (ii+1)*Dim : (ii+1)*Dim]
	}
	return c
}

// Flatten returns the points as a flat row-major array with N*Dim values. The cloud is assumed to be valid.
func (c Cloud) Flatten() []float32 {
	flat := make([]float32, len(c)*Dim)
	c.FlattenInto(flat)
	return flat
}

// FlattenInto copies the points into dst, which must hold at least N*Dim values.
func (c Cloud) FlattenInto(dst []float32) {
	for ii, point := range c {
		copy(dst[ii*Dim:(ii+1)*Dim], point)
	}
}

// Clone returns a deep copy of the cloud.
func (c Cloud) Clone() Cloud {
	if c == nil {
		return nil
	}
	c2 := make(Cloud, len(c))
	for ii, point := range c {
		c2[ii] = slices.Clone(point)
	}
	return c2
}

// Permute returns a new cloud with the points (shared, not copied) reordered such that result[i] = c[perm[i]].
func (c Cloud) Permute(perm []int) Cloud {
	c2 := make(Cloud, len(perm))
	for ii, src := range perm {
		c2[ii] = c[src]
	}
	return c2
}

// Shuffle returns a new cloud with the points (shared, not copied) in a random order drawn from rng.
func (c Cloud) Shuffle(rng *rand.Rand) Cloud {
	return c.Permute(rng.Perm(len(c)))
}

// Bounds returns the minimum and maximum value of each coordinate. The cloud is assumed to be valid.
// NaN coordinates are ignored.
func (c Cloud) Bounds() (minPoint, maxPoint [Dim]float32) {
	for axis := range Dim {
		minPoint[axis] = float32(math.Inf(1))
		maxPoint[axis] = float32(math.Inf(-1))
	}
	for _, point := range c {
		for axis, v := range point {
			if v < minPoint[axis] {
				minPoint[axis] = v
			}
			if v > maxPoint[axis] {
				maxPoint[axis] = v
			}
		}
	}
	return
}

// IsFinite returns whether all coordinates are finite (no NaN or ±Inf).
func (c Cloud) IsFinite() bool {
	for _, point := range c {
		for _, v := range point {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return false
			}
		}
	}
	return true
}

// Random returns a cloud of n points uniformly sampled in [0, 1)^3.
func Random(n int, rng *rand.Rand) Cloud {
	flat := make([]float32, n*Dim)
	for ii := range flat {
		flat[ii] = rng.Float32()
	}
	return FromFlatUnchecked(flat)
}

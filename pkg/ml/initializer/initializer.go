// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package initializer provides parameter initializers: they fill the values of a float32 variable of a given
// shape, typically drawing from a seeded random number generator.
//
// They are used to build demonstration models (see pcn.RandomInit), where the parameters are not loaded from
// a trained checkpoint but generated deterministically from a seed.
package initializer

import (
	"math"
	"math/rand/v2"

	"github.com/gomlx/exceptions"

	"github.com/gomlx/pcn/pkg/core/shapes"
)

// Initializer fills values, which must have shape.Size() elements, with initial values for a variable of the
// given shape.
type Initializer func(shape shapes.Shape, values []float32)

var (
	// Zero initializes variables with zero.
	Zero Initializer = func(shape shapes.Shape, values []float32) {
		checkSize(shape, values)
		clear(values)
	}

	// One initializes variables with one.
	One Initializer = func(shape shapes.Shape, values []float32) {
		checkSize(shape, values)
		for ii := range values {
			values[ii] = 1
		}
	}
)

func checkSize(shape shapes.Shape, values []float32) {
	if len(values) != shape.Size() {
		exceptions.Panicf("initializer for shape %s given %d values, wanted %d", shape, len(values), shape.Size())
	}
}

// NewRNG returns a deterministic random number generator for the given seed.
func NewRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Normal returns an initializer that generates random normal values with the given standard deviation
// and mean set to 0.
func Normal(rng *rand.Rand, stddev float64) Initializer {
	return func(shape shapes.Shape, values []float32) {
		checkSize(shape, values)
		for ii := range values {
			values[ii] = float32(rng.NormFloat64() * stddev)
		}
	}
}

// Uniform returns an initializer that generates random uniform values from [min, max).
func Uniform(rng *rand.Rand, minValue, maxValue float64) Initializer {
	return func(shape shapes.Shape, values []float32) {
		checkSize(shape, values)
		for ii := range values {
			values[ii] = float32(minValue + rng.Float64()*(maxValue-minValue))
		}
	}
}

// computeFanInFanOut of a variable expected to be the weights of an affine layer, with shape [out, in], or
// a convolution kernel with shape [out, in, spatial...].
func computeFanInFanOut(shape shapes.Shape) (fanIn, fanOut int) {
	rank := shape.Rank()
	switch rank {
	case 0: // Scalar.
		fanIn = 1
		fanOut = fanIn
	case 1: // 1D shape, like a bias term.
		fanIn = 0
		fanOut = fanIn
	case 2: // Affine weights.
		fanOut = shape.Dimensions[0]
		fanIn = shape.Dimensions[1]
	default: // Convolution kernels: [out, in, spatial...].
		receptiveFieldSize := 1
		for _, dim := range shape.Dimensions[2:] {
			receptiveFieldSize *= dim
		}
		fanOut = shape.Dimensions[0] * receptiveFieldSize
		fanIn = shape.Dimensions[1] * receptiveFieldSize
	}
	return
}

// symmetricUniform fills values with U(-limit, limit).
func symmetricUniform(rng *rand.Rand, limit float64, values []float32) {
	for ii := range values {
		values[ii] = float32((2*rng.Float64() - 1) * limit)
	}
}

// GlorotUniform returns a Glorot uniform initializer, also called Xavier uniform initializer.
//
// It draws samples from a uniform distribution within `[-limit, limit]`, where
// `limit = sqrt(3 / ((fan_in + fan_out)/2))` (`fan_in` is the number of input units in the weight
// tensor and fan_out is the number of output units).
//
// It initializes biases (anything with rank <= 1) to zeros.
func GlorotUniform(rng *rand.Rand) Initializer {
	return func(shape shapes.Shape, values []float32) {
		checkSize(shape, values)
		if shape.Rank() <= 1 {
			// Zero-bias.
			clear(values)
			return
		}
		fanIn, fanOut := computeFanInFanOut(shape)
		scale := max(1.0, float64(fanIn+fanOut)/2.0)
		symmetricUniform(rng, math.Sqrt(3.0/scale), values)
	}
}

// XavierUniform returns an initializer that generates random values with a uniform distribution with a range
// defined by +/- sqrt(6 / (fanIn+fanOut)).
// See paper and reasoning in https://paperswithcode.com/method/xavier-initialization
//
// It initializes biases (anything with rank <= 1) to zeros.
func XavierUniform(rng *rand.Rand) Initializer {
	return func(shape shapes.Shape, values []float32) {
		checkSize(shape, values)
		if shape.Rank() <= 1 {
			// Zero-bias.
			clear(values)
			return
		}
		fanIn, fanOut := computeFanInFanOut(shape)
		scale := max(1.0, float64(fanIn+fanOut))
		symmetricUniform(rng, math.Sqrt(6.0/scale), values)
	}
}

// XavierNormal returns an initializer that generates random values with a normal distribution with mean in 0
// and stddev of sqrt(2 / (fanIn+fanOut)).
//
// It initializes biases (anything with rank <= 1) to zeros.
func XavierNormal(rng *rand.Rand) Initializer {
	return func(shape shapes.Shape, values []float32) {
		checkSize(shape, values)
		if shape.Rank() <= 1 {
			clear(values)
			return
		}
		fanIn, fanOut := computeFanInFanOut(shape)
		stddev := math.Sqrt(2.0 / max(1.0, float64(fanIn+fanOut)))
		for ii := range values {
			values[ii] = float32(rng.NormFloat64() * stddev)
		}
	}
}

// He returns the initializer that tries to preserve the variance of 1, calculated for the Relu activation functions.
//
// It initializes biases (anything with rank <= 1) to zeros.
//
// [1] https://arxiv.org/pdf/1502.01852
func He(rng *rand.Rand) Initializer {
	return func(shape shapes.Shape, values []float32) {
		checkSize(shape, values)
		if shape.Rank() <= 1 {
			clear(values)
			return
		}
		fanIn, _ := computeFanInFanOut(shape)
		stddev := math.Sqrt(2.0 / max(1.0, float64(fanIn)))
		for ii := range values {
			values[ii] = float32(rng.NormFloat64() * stddev)
		}
	}
}

// Names of the initializers accepted by FromName.
var Names = []string{"zero", "one", "normal", "uniform", "glorot_uniform", "xavier_uniform", "xavier_normal", "he"}

// FromName returns the initializer with the given name (see Names), using rng for the random ones.
// "normal" and "uniform" use a standard deviation of 0.05 and the range [-0.05, 0.05) respectively.
func FromName(name string, rng *rand.Rand) (Initializer, bool) {
	switch name {
	case "normal":
		return Normal(rng, 0.05), true
	case "uniform":
		return Uniform(rng, -0.05, 0.05), true
	case "zero":
		return Zero, true
	case "one":
		return One, true
	case "glorot_uniform":
		return GlorotUniform(rng), true
	case "xavier_uniform":
		return XavierUniform(rng), true
	case "xavier_normal":
		return XavierNormal(rng), true
	case "he":
		return He(rng), true
	default:
		return nil, false
	}
}

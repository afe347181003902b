// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pcn

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/gomlx/pcn/pkg/ml/initializer"
	"github.com/gomlx/pcn/pkg/ml/layers"
)

// Parameters is the full parameter bundle of a completion network: the encoder and decoder layer stacks and
// the point counts. It's what a Source provides to LoadModel.
type Parameters struct {
	// Name of the network variant, informative only.
	Name string

	InputCount, OutputCount int

	// Encoder is applied independently to each point, the decoder once to the global feature vector.
	Encoder, Decoder layers.Stack
}

const (
	// EncoderScope prefixes the names of the encoder variables.
	EncoderScope = "encoder"

	// DecoderScope prefixes the names of the decoder variables.
	DecoderScope = "decoder"
)

// Clone returns a deep copy of the parameters.
func (p *Parameters) Clone() *Parameters {
	return &Parameters{
		Name:        p.Name,
		InputCount:  p.InputCount,
		OutputCount: p.OutputCount,
		Encoder:     p.Encoder.Clone(),
		Decoder:     p.Decoder.Clone(),
	}
}

// Variables enumerates all parameter arrays, encoder first, with names like "encoder/00/affine/weights".
// The values share storage with the parameters.
func (p *Parameters) Variables() []layers.Variable {
	return append(p.Encoder.Variables(EncoderScope), p.Decoder.Variables(DecoderScope)...)
}

// NumParameters returns the total number of scalar parameters.
func (p *Parameters) NumParameters() int {
	return p.Encoder.NumParameters() + p.Decoder.NumParameters()
}

// Source of Parameters for LoadModel. The model doesn't care where they come from: random initialization,
// a checkpoint file or values built in memory.
type Source interface {
	Load() (*Parameters, error)
}

// SourceFunc adapts a function to a Source.
type SourceFunc func() (*Parameters, error)

// Load implements Source.
func (fn SourceFunc) Load() (*Parameters, error) { return fn() }

// FromParameters returns a Source that provides the given parameters.
func FromParameters(params *Parameters) Source {
	return SourceFunc(func() (*Parameters, error) {
		if params == nil {
			return nil, errors.New("nil parameters")
		}
		return params, nil
	})
}

// DefaultWeightsInitializer is the initializer of the affine weights used by RandomInit.
const DefaultWeightsInitializer = "xavier_uniform"

// RandomInit returns a Source that generates the parameters for the configuration the way an untrained
// network is initialized: Xavier uniform weights `U(-sqrt(6/(in+out)), +sqrt(6/(in+out)))`, zero biases, and
// batch normalization with scale=1, shift=0, mean=0 and variance=1.
//
// The values are a deterministic function of the seed.
func RandomInit(config Config, seed uint64) Source {
	return RandomInitWith(config, seed, DefaultWeightsInitializer)
}

// RandomInitWith is like RandomInit, but the affine weights are generated by the named initializer,
// one of initializer.Names.
func RandomInitWith(config Config, seed uint64, weightsInitializer string) Source {
	return SourceFunc(func() (*Parameters, error) {
		initFn, found := initializer.FromName(weightsInitializer, initializer.NewRNG(seed))
		if !found {
			return nil, errors.Errorf("unknown initializer %q, valid values are %q", weightsInitializer, initializer.Names)
		}
		params, err := config.NewParameters()
		if err != nil {
			return nil, err
		}
		for _, v := range params.Variables() {
			if strings.HasSuffix(v.Name, "/weights") {
				initFn(v.Shape, v.Values)
			}
		}
		return params, nil
	})
}

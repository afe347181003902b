// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package pcn implements inference for point completion networks: given a partial point cloud, with holes
// from occlusion or a limited field of view, it produces a fixed-size denser cloud approximating the
// complete surface.
//
// The network is a pipeline of three stages:
//
//  1. The encoder lifts each point to a feature vector, applying the same affine → batch_norm → relu layers
//     independently to every point.
//  2. The global max pool reduces the per-point features to a single global feature vector, taking the
//     maximum of each channel over all points. This makes the result independent of the order of the points,
//     and of their number.
//  3. The decoder expands the global feature vector through affine → batch_norm → relu layers, the last
//     being affine only, into OutputCount*3 values, read row-major as OutputCount points.
//
// A Model is created once with LoadModel from a parameter Source (random initialization, a checkpoint, …),
// and is then immutable: it can be shared by any number of goroutines calling Complete concurrently.
//
// Example:
//
//	model, err := pcn.LoadModel(pcn.RandomInit(pcn.SimpleConfig(), 42))
//	if err != nil { … }
//	completed, err := pcn.Complete(model, partial)
//	if err != nil { … } // Only shape errors: points that are not 3D, or an empty cloud.
package pcn

import (
	"fmt"
	"runtime"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/pcn/internal/workerspool"
	"github.com/gomlx/pcn/pkg/core/shapes"
	"github.com/gomlx/pcn/pkg/ml/layers"
	"github.com/gomlx/pcn/pkg/pointcloud"
)

// DefaultChunkSize is the default number of points encoded together, with one matrix multiplication per
// layer. Chunks are processed in parallel.
const DefaultChunkSize = 128

// Model is a validated, compiled completion network. Create it with LoadModel.
//
// It is immutable and safe for concurrent use.
type Model struct {
	params           *Parameters
	encoder, decoder *layers.Program
	featureDim       int

	pool             *workerspool.Pool
	chunkSize        int
	batchParallelism int
}

type modelOptions struct {
	parallelism, batchParallelism int
	chunkSize                     int
}

// Option configures LoadModel.
type Option func(opts *modelOptions)

// WithParallelism sets the target number of goroutines used to encode the points of one cloud.
// 0 disables parallelism, -1 makes it unlimited. The default is runtime.NumCPU().
func WithParallelism(n int) Option {
	return func(opts *modelOptions) {
		opts.parallelism = n
	}
}

// WithBatchParallelism sets how many clouds CompleteBatch processes concurrently. Values <= 0 are ignored.
// The default is runtime.NumCPU().
func WithBatchParallelism(n int) Option {
	return func(opts *modelOptions) {
		if n > 0 {
			opts.batchParallelism = n
		}
	}
}

// WithChunkSize sets the number of points encoded together, see DefaultChunkSize. Values <= 0 are ignored.
func WithChunkSize(n int) Option {
	return func(opts *modelOptions) {
		if n > 0 {
			opts.chunkSize = n
		}
	}
}

// LoadModel creates a Model from the parameters given by the source.
//
// All the structural invariants are checked here, once, so that Complete only needs to check its input:
// the encoder must take 3-dimensional points, each layer must take the dimension output by the previous one,
// the decoder must take the encoder output dimension, and its output must be exactly OutputCount*3.
// Any violation returns an error wrapping shapes.ErrShape, and no model.
//
// The parameters are copied: changing them afterwards doesn't affect the model.
func LoadModel(source Source, options ...Option) (*Model, error) {
	opts := &modelOptions{
		parallelism:      runtime.NumCPU(),
		batchParallelism: runtime.NumCPU(),
		chunkSize:        DefaultChunkSize,
	}
	for _, option := range options {
		option(opts)
	}

	params, err := source.Load()
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to load model parameters")
	}
	if params == nil {
		return nil, errors.New("model parameters source returned no parameters")
	}
	if params.InputCount <= 0 || params.OutputCount <= 0 {
		return nil, shapes.Errorf("model %q: invalid input/output point counts %d/%d",
			params.Name, params.InputCount, params.OutputCount)
	}
	if len(params.Encoder) == 0 || len(params.Decoder) == 0 {
		return nil, shapes.Errorf("model %q: encoder and decoder need at least one layer each, got %d and %d",
			params.Name, len(params.Encoder), len(params.Decoder))
	}
	m := &Model{
		params:           params.Clone(),
		chunkSize:        opts.chunkSize,
		batchParallelism: opts.batchParallelism,
		pool:             workerspool.New(),
	}
	m.pool.SetMaxParallelism(opts.parallelism)
	m.encoder, err = m.params.Encoder.Compile(pointcloud.Dim)
	if err != nil {
		return nil, errors.WithMessagef(err, "model %q encoder", params.Name)
	}
	m.featureDim = m.encoder.OutputDim()
	m.decoder, err = m.params.Decoder.Compile(m.featureDim)
	if err != nil {
		return nil, errors.WithMessagef(err, "model %q decoder", params.Name)
	}
	outputDim := m.decoder.OutputDim()
	if outputDim%pointcloud.Dim != 0 {
		return nil, shapes.Errorf("model %q: decoder outputs %d values, not a multiple of %d",
			params.Name, outputDim, pointcloud.Dim)
	}
	if outputDim != params.OutputCount*pointcloud.Dim {
		return nil, shapes.Errorf("model %q: decoder outputs %d values, wanted OutputCount(%d) * %d = %d",
			params.Name, outputDim, params.OutputCount, pointcloud.Dim, params.OutputCount*pointcloud.Dim)
	}
	if klog.V(1).Enabled() {
		klog.Infof("loaded %s: %d parameters, parallelism=%d, chunk size=%d",
			m, m.NumParameters(), m.Parallelism(), opts.chunkSize)
	}
	return m, nil
}

// String implements fmt.Stringer.
func (m *Model) String() string {
	return fmt.Sprintf("pcn.Model(%q, %d points -> %d features -> %d points)",
		m.params.Name, m.params.InputCount, m.featureDim, m.params.OutputCount)
}

// Name of the network variant.
func (m *Model) Name() string { return m.params.Name }

// InputCount is the number of points of the partial clouds the network was calibrated for.
// Complete accepts any number of points though.
func (m *Model) InputCount() int { return m.params.InputCount }

// OutputCount is the number of points in completed clouds.
func (m *Model) OutputCount() int { return m.params.OutputCount }

// FeatureDim is the dimension of the per-point and global feature vectors.
func (m *Model) FeatureDim() int { return m.featureDim }

// InputShape is the declared shape of the partial clouds: `(float32)[InputCount 3]`.
func (m *Model) InputShape() shapes.Shape {
	return shapes.Make(dtypes.Float32, m.params.InputCount, pointcloud.Dim)
}

// OutputShape is the shape of the completed clouds: `(float32)[OutputCount 3]`.
func (m *Model) OutputShape() shapes.Shape {
	return shapes.Make(dtypes.Float32, m.params.OutputCount, pointcloud.Dim)
}

// Parallelism is the target number of goroutines encoding the points of one cloud: 0 means serial
// and -1 unlimited. See WithParallelism.
func (m *Model) Parallelism() int { return m.pool.MaxParallelism() }

// BatchParallelism is the number of clouds CompleteBatch processes concurrently.
func (m *Model) BatchParallelism() int { return m.batchParallelism }

// Parameters returns a copy of the model parameters.
func (m *Model) Parameters() *Parameters { return m.params.Clone() }

// NumParameters returns the total number of scalar parameters.
func (m *Model) NumParameters() int { return m.params.NumParameters() }

// Memory returns the number of bytes used by the parameters.
func (m *Model) Memory() uintptr {
	return uintptr(m.NumParameters()) * dtypes.Float32.Memory()
}

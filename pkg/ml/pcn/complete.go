// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pcn

import (
	"context"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/gomlx/pcn/pkg/core/shapes"
	"github.com/gomlx/pcn/pkg/pointcloud"
)

// Complete runs the full network on the partial cloud and returns the completed cloud, with
// model.OutputCount() points.
//
// The partial cloud can have any number of points N > 0 (the network is calibrated for model.InputCount()),
// in any order: the result doesn't depend on the order. It fails with an error wrapping shapes.ErrShape
// if the cloud is empty or any point doesn't have exactly 3 coordinates. NaN or infinite coordinates
// are not checked, they propagate to the output.
//
// The output is deterministic given the model and the input. It is safe to call concurrently.
func Complete(model *Model, partial pointcloud.Cloud) (pointcloud.Cloud, error) {
	return model.Complete(partial)
}

// Complete runs the full network on the partial cloud, see the package function Complete.
func (m *Model) Complete(partial pointcloud.Cloud) (completed pointcloud.Cloud, err error) {
	if err = partial.Validate(); err != nil {
		return nil, err
	}
	if klog.V(2).Enabled() {
		start := time.Now()
		defer func() {
			klog.Infof("%s: completed %d points in %s", m, len(partial), time.Since(start))
		}()
	}
	global, err := m.encodeAndPool(partial)
	if err != nil {
		return nil, err
	}
	err = exceptions.TryCatch[error](func() {
		completed = pointcloud.FromFlatUnchecked(m.decoder.Apply(global, 1))
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "%s decoder", m)
	}
	return completed, nil
}

// Encode applies the encoder to each point of the partial cloud, returning one feature vector of
// dimension model.FeatureDim() per point.
//
// It fails with an error wrapping shapes.ErrShape if the cloud is empty or any point doesn't have
// exactly 3 coordinates.
func (m *Model) Encode(partial pointcloud.Cloud) ([][]float32, error) {
	if err := partial.Validate(); err != nil {
		return nil, err
	}
	features := make([][]float32, len(partial))
	err := m.forEachChunk(len(partial), func(_, start, end int) {
		rows := m.encodeChunk(partial[start:end])
		for ii := range end - start {
			features[start+ii] = rows[ii*m.featureDim : (ii+1)*m.featureDim : (ii+1)*m.featureDim]
		}
	})
	if err != nil {
		return nil, err
	}
	return features, nil
}

// Decode applies the decoder to a global feature vector of dimension model.FeatureDim(), and returns the
// model.OutputCount() points of the completed cloud.
//
// It fails with an error wrapping shapes.ErrShape if the feature vector has the wrong dimension.
func (m *Model) Decode(global []float32) (completed pointcloud.Cloud, err error) {
	if len(global) != m.featureDim {
		return nil, shapes.Errorf("%s: global feature vector has dimension %d, wanted %d", m, len(global), m.featureDim)
	}
	err = exceptions.TryCatch[error](func() {
		completed = pointcloud.FromFlatUnchecked(m.decoder.Apply(slices.Clone(global), 1))
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "%s decoder", m)
	}
	return completed, nil
}

// GlobalMaxPool reduces N feature vectors of dimension F to one vector of dimension F holding, for each channel,
// the maximum over the N vectors. If any value of a channel is NaN, the result for that channel is NaN.
//
// The result doesn't depend on the order of the vectors. It fails with an error wrapping shapes.ErrShape if
// there are no vectors, or if they don't all have the same dimension F > 0.
func GlobalMaxPool(features [][]float32) ([]float32, error) {
	if len(features) == 0 {
		return nil, shapes.Errorf("global max pool of an empty set of feature vectors")
	}
	dim := len(features[0])
	if dim == 0 {
		return nil, shapes.Errorf("global max pool of feature vectors of dimension 0")
	}
	for ii, f := range features {
		if len(f) != dim {
			return nil, shapes.Errorf("global max pool: feature vector #%d has dimension %d, vector #0 has dimension %d",
				ii, len(f), dim)
		}
	}
	pooled := slices.Clone(features[0])
	for _, f := range features[1:] {
		mergeMax(pooled, f)
	}
	return pooled, nil
}

// mergeMax sets dst to the element-wise maximum of dst and src. NaN values are sticky.
func mergeMax(dst, src []float32) {
	for ii, v := range src {
		if v > dst[ii] || math.IsNaN(float64(v)) {
			dst[ii] = v
		}
	}
}

// maxRows returns the element-wise maximum of the rows of x, each with dim values.
func maxRows(x []float32, dim int) []float32 {
	pooled := slices.Clone(x[:dim])
	for start := dim; start < len(x); start += dim {
		mergeMax(pooled, x[start:start+dim])
	}
	return pooled
}

// treeMax reduces the partial maxima pairwise, in a fixed order, and returns the overall maximum.
// It reuses the storage of parts.
func treeMax(parts [][]float32) []float32 {
	for len(parts) > 1 {
		next := parts[:0:0]
		for ii := 0; ii < len(parts); ii += 2 {
			if ii+1 < len(parts) {
				mergeMax(parts[ii], parts[ii+1])
			}
			next = append(next, parts[ii])
		}
		parts = next
	}
	return parts[0]
}

// encodeChunk applies the encoder to a contiguous chunk of points, returning len(points) x featureDim values.
func (m *Model) encodeChunk(points pointcloud.Cloud) []float32 {
	x := make([]float32, len(points)*pointcloud.Dim)
	points.FlattenInto(x)
	return m.encoder.Apply(x, len(points))
}

// encodeAndPool encodes the (validated) partial cloud chunk by chunk, each chunk reduced to its own maximum as
// soon as it's encoded, and returns the global feature vector.
//
// Chunk boundaries and the reduction tree only depend on the number of points, so the result doesn't depend on
// the scheduling of the chunks.
func (m *Model) encodeAndPool(partial pointcloud.Cloud) ([]float32, error) {
	numChunks := (len(partial) + m.chunkSize - 1) / m.chunkSize
	chunkMaxima := make([][]float32, numChunks)
	err := m.forEachChunk(len(partial), func(chunk, start, end int) {
		chunkMaxima[chunk] = maxRows(m.encodeChunk(partial[start:end]), m.featureDim)
	})
	if err != nil {
		return nil, err
	}
	return treeMax(chunkMaxima), nil
}

// forEachChunk calls fn for each chunk of up to chunkSize rows out of n, using the workers pool.
// fn is called concurrently, with non-overlapping ranges [start, end).
//
// Panics in fn are returned as errors.
func (m *Model) forEachChunk(n int, fn func(chunk, start, end int)) error {
	numChunks := (n + m.chunkSize - 1) / m.chunkSize
	runChunk := func(chunk int) error {
		start := chunk * m.chunkSize
		end := min(start+m.chunkSize, n)
		return exceptions.TryCatch[error](func() { fn(chunk, start, end) })
	}
	if numChunks == 1 || !m.pool.IsEnabled() {
		for chunk := range numChunks {
			if err := runChunk(chunk); err != nil {
				return errors.WithMessagef(err, "%s encoder", m)
			}
		}
		return nil
	}

	var (
		next     atomic.Int32
		mu       sync.Mutex
		firstErr error
	)
	m.pool.Saturate(func() {
		for {
			chunk := int(next.Add(1)) - 1
			if chunk >= numChunks {
				return
			}
			if err := runChunk(chunk); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
		}
	})
	if firstErr != nil {
		return errors.WithMessagef(firstErr, "%s encoder", m)
	}
	return nil
}

// CompleteBatch completes each of the partial clouds, concurrently, and returns the completed clouds in the
// same order.
//
// It stops at the first error, returned with the index of the failing cloud, or when ctx is cancelled:
// clouds not yet started are skipped and ctx.Err() is returned.
func CompleteBatch(ctx context.Context, model *Model, partials []pointcloud.Cloud) ([]pointcloud.Cloud, error) {
	results := make([]pointcloud.Cloud, len(partials))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(model.batchParallelism)
	for ii, partial := range partials {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			completed, err := model.Complete(partial)
			if err != nil {
				return errors.WithMessagef(err, "partial cloud #%d", ii)
			}
			results[ii] = completed
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pcn

import (
	"context"
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/pcn/pkg/core/shapes"
	"github.com/gomlx/pcn/pkg/ml/initializer"
	"github.com/gomlx/pcn/pkg/ml/layers"
	"github.com/gomlx/pcn/pkg/pointcloud"
)

// smallConfig is a scaled down network, fast enough for property tests.
func smallConfig() Config {
	return Config{
		Name:          "small",
		InputCount:    64,
		OutputCount:   10,
		EncoderWidths: []int{8, 16},
		DecoderWidths: []int{32, 30},
		Epsilon:       layers.DefaultEpsilon,
	}
}

var approx = cmpopts.EquateApprox(1e-5, 1e-6)

func mustLoad(t testing.TB, source Source, options ...Option) *Model {
	model, err := LoadModel(source, options...)
	require.NoError(t, err)
	return model
}

// handBuiltParams returns a tiny network whose output can be computed by hand.
func handBuiltParams() *Parameters {
	return &Parameters{
		Name:        "hand_built",
		InputCount:  2,
		OutputCount: 1,
		Encoder: layers.Stack{
			layers.Affine(&layers.AffineParams{
				InDim: 3, OutDim: 2,
				Weights: []float32{
					1, 0, 0,
					0, 1, -1,
				},
				Bias: []float32{0, 0.5},
			}),
			layers.Relu(),
		},
		Decoder: layers.Stack{
			layers.Affine(&layers.AffineParams{
				InDim: 2, OutDim: 3,
				Weights: []float32{
					1, 0,
					0, 1,
					1, 1,
				},
				Bias: []float32{0, 0, -1},
			}),
		},
	}
}

func TestHandBuilt(t *testing.T) {
	model := mustLoad(t, FromParameters(handBuiltParams()))
	assert.Equal(t, 2, model.FeatureDim())
	partial := pointcloud.Cloud{{1, 2, 3}, {-4, 5, 1}}

	features, err := model.Encode(partial)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 4.5}}, features)

	global, err := GlobalMaxPool(features)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 4.5}, global)

	decoded, err := model.Decode(global)
	require.NoError(t, err)
	assert.Equal(t, pointcloud.Cloud{{1, 4.5, 4.5}}, decoded)
	assert.Equal(t, []float32{1, 4.5}, global, "Decode must not change its input")

	completed, err := Complete(model, partial)
	require.NoError(t, err)
	assert.Equal(t, pointcloud.Cloud{{1, 4.5, 4.5}}, completed)

	_, err = model.Decode([]float32{1, 2, 3})
	assert.ErrorIs(t, err, shapes.ErrShape)
}

func TestVariants(t *testing.T) {
	for _, name := range ConfigNames {
		t.Run(name, func(t *testing.T) {
			config, err := ConfigByName(name)
			require.NoError(t, err)
			require.NoError(t, config.Validate())
			model := mustLoad(t, RandomInit(config, 1))
			assert.Equal(t, name, model.Name())
			assert.Equal(t, config.FeatureDim(), model.FeatureDim())
			assert.Equal(t, "(Float32)[1024 3]", model.InputShape().String())
			assert.Equal(t, "(Float32)[2048 3]", model.OutputShape().String())
			assert.Equal(t, uintptr(4*model.NumParameters()), model.Memory())
		})
	}
	assert.Equal(t, 512, SimpleConfig().FeatureDim())
	assert.Equal(t, 1024, PointNetConfig().FeatureDim())
	_, err := ConfigByName("transformer")
	assert.Error(t, err)

	// Simple: 3 encoder affine+bn, 2 decoder affine+bn and one final affine.
	params, err := SimpleConfig().NewParameters()
	require.NoError(t, err)
	want := (3*128 + 128 + 4*128) + (128*256 + 256 + 4*256) + (256*512 + 512 + 4*512) +
		(512*1024 + 1024 + 4*1024) + (1024*2048 + 2048 + 4*2048) + (2048*6144 + 6144)
	assert.Equal(t, want, params.NumParameters())
	assert.Equal(t, layers.KindAffine, params.Decoder[len(params.Decoder)-1].Kind)
}

func TestRandomInit(t *testing.T) {
	params, err := RandomInit(smallConfig(), 7).Load()
	require.NoError(t, err)
	for _, v := range params.Variables() {
		switch {
		case v.Shape.Rank() == 2:
			fanOut, fanIn := v.Shape.Dimensions[0], v.Shape.Dimensions[1]
			limit := math.Sqrt(6 / float64(fanIn+fanOut))
			var nonZero int
			for _, w := range v.Values {
				require.LessOrEqualf(t, math.Abs(float64(w)), limit*(1+1e-6), "variable %s", v.Name)
				if w != 0 {
					nonZero++
				}
			}
			assert.Greaterf(t, nonZero, 0, "variable %s", v.Name)
		case strings.HasSuffix(v.Name, "/scale") || strings.HasSuffix(v.Name, "/variance"):
			for _, w := range v.Values {
				require.Equal(t, float32(1), w)
			}
		default:
			for _, w := range v.Values {
				require.Equalf(t, float32(0), w, "variable %s", v.Name)
			}
		}
	}

	// Same seed, same parameters.
	params2, err := RandomInit(smallConfig(), 7).Load()
	require.NoError(t, err)
	assert.Equal(t, params.Variables(), params2.Variables())
	params3, err := RandomInit(smallConfig(), 8).Load()
	require.NoError(t, err)
	assert.NotEqual(t, params.Variables()[0].Values, params3.Variables()[0].Values)
}

func TestRandomInitWith(t *testing.T) {
	partial := pointcloud.Random(30, rand.New(rand.NewPCG(2, 2)))
	for _, name := range initializer.Names {
		t.Run(name, func(t *testing.T) {
			model := mustLoad(t, RandomInitWith(smallConfig(), 5, name))
			completed, err := model.Complete(partial)
			require.NoError(t, err)
			require.Len(t, completed, smallConfig().OutputCount)
			require.True(t, completed.IsFinite())
		})
	}

	want, err := RandomInit(smallConfig(), 5).Load()
	require.NoError(t, err)
	got, err := RandomInitWith(smallConfig(), 5, DefaultWeightsInitializer).Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	he, err := RandomInitWith(smallConfig(), 5, "he").Load()
	require.NoError(t, err)
	assert.NotEqual(t, want.Variables()[0].Values, he.Variables()[0].Values)

	_, err = RandomInitWith(smallConfig(), 5, "lecun").Load()
	require.ErrorContains(t, err, "unknown initializer")
	assert.NotErrorIs(t, err, shapes.ErrShape)
}

func TestModelValidation(t *testing.T) {
	valid := func() *Parameters {
		p, err := RandomInit(smallConfig(), 1).Load()
		require.NoError(t, err)
		return p
	}
	testCases := []struct {
		name   string
		modify func(p *Parameters)
	}{
		{"encoder not taking points", func(p *Parameters) {
			p.Encoder[0] = layers.Affine(layers.NewAffine(4, 8))
		}},
		{"encoder layers don't chain", func(p *Parameters) {
			p.Encoder[3] = layers.Affine(layers.NewAffine(9, 16))
		}},
		{"batch norm of the wrong dimension", func(p *Parameters) {
			p.Encoder[1] = layers.BatchNorm(layers.NewBatchNorm(7, layers.DefaultEpsilon))
		}},
		{"decoder doesn't take encoder features", func(p *Parameters) {
			p.Decoder[0] = layers.Affine(layers.NewAffine(8, 32))
		}},
		{"final width not a multiple of 3", func(p *Parameters) {
			p.Decoder[len(p.Decoder)-1] = layers.Affine(layers.NewAffine(32, 29))
		}},
		{"final width != OutputCount*3", func(p *Parameters) {
			p.Decoder[len(p.Decoder)-1] = layers.Affine(layers.NewAffine(32, 33))
		}},
		{"missing weights", func(p *Parameters) {
			p.Decoder[0].Affine.Weights = p.Decoder[0].Affine.Weights[:10]
		}},
		{"empty encoder", func(p *Parameters) { p.Encoder = nil }},
		{"empty decoder", func(p *Parameters) { p.Decoder = nil }},
		{"invalid output count", func(p *Parameters) { p.OutputCount = 0 }},
		{"negative epsilon", func(p *Parameters) {
			p.Encoder[1].BatchNorm.Epsilon = -1e-5
			p.Encoder[1].BatchNorm.Variance[0] = 0
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := valid()
			tc.modify(p)
			model, err := LoadModel(FromParameters(p))
			require.Error(t, err)
			assert.Nil(t, model)
			assert.ErrorIs(t, err, shapes.ErrShape)
		})
	}

	// Invalid configurations fail before any parameter is generated.
	config := smallConfig()
	config.DecoderWidths = []int{32, 31}
	_, err := LoadModel(RandomInit(config, 0))
	assert.ErrorIs(t, err, shapes.ErrShape)

	// Errors from the source are not shape errors.
	_, err = LoadModel(SourceFunc(func() (*Parameters, error) { return nil, errors.New("disk on fire") }))
	require.Error(t, err)
	assert.NotErrorIs(t, err, shapes.ErrShape)
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestModelIsImmutable(t *testing.T) {
	params, err := RandomInit(smallConfig(), 3).Load()
	require.NoError(t, err)
	model := mustLoad(t, FromParameters(params))
	partial := pointcloud.Random(20, rand.New(rand.NewPCG(1, 1)))
	before, err := model.Complete(partial)
	require.NoError(t, err)

	params.Encoder[0].Affine.Weights[0] += 10
	params.Decoder[0].Affine.Bias[0] += 10
	modelParams := model.Parameters()
	modelParams.Decoder[0].Affine.Bias[1] += 10

	after, err := model.Complete(partial)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestCompleteShapes(t *testing.T) {
	model := mustLoad(t, RandomInit(smallConfig(), 5), WithChunkSize(16))
	rng := rand.New(rand.NewPCG(2, 3))
	for _, n := range []int{1, 2, 15, 16, 17, 64, 333} {
		partial := pointcloud.Random(n, rng)
		completed, err := model.Complete(partial)
		require.NoError(t, err)
		require.Equal(t, model.OutputCount(), completed.Len(), "n=%d", n)
		require.NoError(t, completed.Validate())
		require.True(t, completed.IsFinite())

		features, err := model.Encode(partial)
		require.NoError(t, err)
		require.Len(t, features, n)
		for _, f := range features {
			require.Len(t, f, model.FeatureDim())
		}
	}
}

func TestShapeErrors(t *testing.T) {
	model := mustLoad(t, RandomInit(smallConfig(), 5))
	for name, partial := range map[string]pointcloud.Cloud{
		"empty":       {},
		"nil":         nil,
		"2D point":    {{1, 2, 3}, {1, 2}},
		"4D point":    {{1, 2, 3, 4}},
		"empty point": {{}},
	} {
		_, err := Complete(model, partial)
		require.Errorf(t, err, "partial cloud %q", name)
		assert.ErrorIsf(t, err, shapes.ErrShape, "partial cloud %q", name)

		_, err = model.Encode(partial)
		assert.ErrorIsf(t, err, shapes.ErrShape, "partial cloud %q", name)
	}

	_, err := GlobalMaxPool(nil)
	assert.ErrorIs(t, err, shapes.ErrShape)
	_, err = GlobalMaxPool([][]float32{{1, 2}, {3}})
	assert.ErrorIs(t, err, shapes.ErrShape)
	_, err = GlobalMaxPool([][]float32{{}})
	assert.ErrorIs(t, err, shapes.ErrShape)

	// The model is still usable after errors.
	_, err = model.Complete(pointcloud.Cloud{{0, 0, 0}})
	require.NoError(t, err)
}

func TestPermutationInvariance(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 12))
	for _, config := range []Config{smallConfig(), SimpleConfig()} {
		model := mustLoad(t, RandomInit(config, 17))
		n := config.InputCount
		partial := pointcloud.Random(n, rng)
		want, err := model.Complete(partial)
		require.NoError(t, err)
		for trial := range 5 {
			shuffled := partial.Shuffle(rng)
			got, err := model.Complete(shuffled)
			require.NoError(t, err)
			require.Truef(t, cmp.Equal(want, got, approx), "config %q, trial %d: %s", config.Name, trial, cmp.Diff(want, got, approx))
		}

		// Duplicating points doesn't change the global descriptor either.
		duplicated := append(partial.Clone(), partial[:n/3]...)
		got, err := model.Complete(duplicated)
		require.NoError(t, err)
		require.True(t, cmp.Equal(want, got, approx), "config %q, duplicated points", config.Name)
	}
}

func TestGlobalMaxPool(t *testing.T) {
	features := [][]float32{{1, -3, 0}, {0.5, -1, 2}, {2, -7, 1}}
	got, err := GlobalMaxPool(features)
	require.NoError(t, err)
	assert.Equal(t, []float32{2, -1, 2}, got)
	assert.Equal(t, []float32{1, -3, 0}, features[0], "input must not be modified")

	// Any order.
	rng := rand.New(rand.NewPCG(0, 0))
	for range 10 {
		perm := rng.Perm(len(features))
		shuffled := [][]float32{features[perm[0]], features[perm[1]], features[perm[2]]}
		got2, err := GlobalMaxPool(shuffled)
		require.NoError(t, err)
		require.Equal(t, got, got2)
	}

	// NaN propagates, wherever it is.
	nan := float32(math.NaN())
	for _, pos := range []int{0, 1, 2} {
		withNaN := [][]float32{{1, 1}, {2, 2}, {3, 3}}
		withNaN[pos][1] = nan
		got, err := GlobalMaxPool(withNaN)
		require.NoError(t, err)
		assert.Equal(t, float32(3), got[0])
		assert.True(t, math.IsNaN(float64(got[1])), "NaN at position %d", pos)
	}

	// treeMax with an odd number of parts.
	parts := [][]float32{{1}, {5}, {3}, {4}, {2}}
	assert.Equal(t, []float32{5}, treeMax(parts))
}

func TestDeterminism(t *testing.T) {
	rng := rand.New(rand.NewPCG(21, 22))
	partial := pointcloud.Random(500, rng)
	serial := mustLoad(t, RandomInit(smallConfig(), 9), WithParallelism(0))
	parallel := mustLoad(t, RandomInit(smallConfig(), 9), WithParallelism(-1))
	chunked := mustLoad(t, RandomInit(smallConfig(), 9), WithChunkSize(7), WithParallelism(3))

	want, err := serial.Complete(partial)
	require.NoError(t, err)
	for range 3 {
		got, err := parallel.Complete(partial)
		require.NoError(t, err)
		require.Equal(t, want, got)
		got, err = serial.Complete(partial)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	got, err := chunked.Complete(partial)
	require.NoError(t, err)
	require.True(t, cmp.Equal(want, got, approx), cmp.Diff(want, got, approx))
}

func TestConcreteScenario(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping full size network in short mode")
	}
	model := mustLoad(t, RandomInit(SimpleConfig(), 42))
	require.Equal(t, 512, model.FeatureDim())
	require.Equal(t, 2048, model.OutputCount())

	partial := pointcloud.Random(1024, rand.New(rand.NewPCG(42, 42)))
	completed, err := Complete(model, partial)
	require.NoError(t, err)
	require.Equal(t, 2048, completed.Len())
	require.NoError(t, completed.Validate())
	require.True(t, completed.IsFinite())
	require.True(t, completed.Shape().Equal(model.OutputShape()))

	// All-zero input: every point has the same features, and the output is the decoder's response to them.
	zeros := pointcloud.New(1024)
	completedZeros, err := Complete(model, zeros)
	require.NoError(t, err)
	require.True(t, completedZeros.IsFinite())
	features, err := model.Encode(pointcloud.Cloud{{0, 0, 0}})
	require.NoError(t, err)
	decoded, err := model.Decode(features[0])
	require.NoError(t, err)
	require.True(t, cmp.Equal(decoded, completedZeros, approx))
	again, err := Complete(model, zeros)
	require.NoError(t, err)
	require.Equal(t, completedZeros, again)
}

func TestZeroVariance(t *testing.T) {
	params, err := RandomInit(smallConfig(), 13).Load()
	require.NoError(t, err)
	for _, v := range params.Variables() {
		if strings.HasSuffix(v.Name, "/variance") {
			clear(v.Values)
		}
	}
	require.Equal(t, float32(0), params.Encoder[1].BatchNorm.Variance[0])
	require.Equal(t, 1e-5, params.Encoder[1].BatchNorm.Epsilon)
	model := mustLoad(t, FromParameters(params))
	completed, err := model.Complete(pointcloud.Random(64, rand.New(rand.NewPCG(1, 2))))
	require.NoError(t, err)
	require.True(t, completed.IsFinite())
}

func TestNaNPropagates(t *testing.T) {
	model := mustLoad(t, RandomInit(smallConfig(), 3))
	partial := pointcloud.Random(10, rand.New(rand.NewPCG(5, 5)))
	partial[4][1] = float32(math.NaN())
	completed, err := model.Complete(partial)
	require.NoError(t, err, "NaN is not an error")
	require.False(t, completed.IsFinite())
}

func TestCompleteBatch(t *testing.T) {
	model := mustLoad(t, RandomInit(smallConfig(), 4), WithBatchParallelism(2), WithParallelism(-1))
	assert.Equal(t, 2, model.BatchParallelism())
	assert.Equal(t, -1, model.Parallelism())
	rng := rand.New(rand.NewPCG(8, 9))
	partials := make([]pointcloud.Cloud, 7)
	for ii := range partials {
		partials[ii] = pointcloud.Random(10+ii*13, rng)
	}
	results, err := CompleteBatch(context.Background(), model, partials)
	require.NoError(t, err)
	require.Len(t, results, len(partials))
	for ii, partial := range partials {
		want, err := model.Complete(partial)
		require.NoError(t, err)
		require.Equal(t, want, results[ii])
	}

	// First error is reported with the index of the failing cloud.
	partials[3] = pointcloud.Cloud{{1, 2}}
	_, err = CompleteBatch(context.Background(), model, partials)
	require.ErrorIs(t, err, shapes.ErrShape)
	assert.Contains(t, err.Error(), "partial cloud #3")

	// Cancelled context.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = CompleteBatch(ctx, model, partials[:2])
	require.ErrorIs(t, err, context.Canceled)
}

func BenchmarkComplete(b *testing.B) {
	partial := pointcloud.Random(DefaultInputCount, rand.New(rand.NewPCG(0, 0)))
	for _, config := range []Config{SimpleConfig(), PointNetConfig()} {
		model := mustLoad(b, RandomInit(config, 0))
		b.Run(config.Name, func(b *testing.B) {
			for range b.N {
				_, err := model.Complete(partial)
				if err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

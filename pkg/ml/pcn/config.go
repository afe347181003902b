// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pcn

import (
	"slices"
	"strings"

	"github.com/pkg/errors"

	"github.com/gomlx/pcn/pkg/core/shapes"
	"github.com/gomlx/pcn/pkg/ml/layers"
	"github.com/gomlx/pcn/pkg/pointcloud"
)

const (
	// DefaultInputCount is the number of points in the partial clouds the networks are calibrated for.
	DefaultInputCount = 1024

	// DefaultOutputCount is the number of points in the completed clouds.
	DefaultOutputCount = 2048
)

// Config describes the architecture of a completion network: a shared per-point encoder of
// affine → batch_norm → relu layers, a global max pool, and a decoder of affine → batch_norm → relu layers
// whose last layer is affine only.
//
// Two variants are predefined, see SimpleConfig and PointNetConfig. Both work with the same code, they only
// differ in their widths.
type Config struct {
	// Name of the variant, informative only.
	Name string `json:"name"`

	// InputCount is the number of points of the partial clouds the network is calibrated for.
	// The network accepts any number of points.
	InputCount int `json:"input_count"`

	// OutputCount is the number of points of the completed cloud.
	OutputCount int `json:"output_count"`

	// EncoderWidths are the output dimensions of each encoder layer. The first layer takes the 3 coordinates of
	// a point, and the last width is the dimension of the global feature vector.
	EncoderWidths []int `json:"encoder_widths"`

	// DecoderWidths are the output dimensions of each decoder layer. The last one must be OutputCount * 3.
	DecoderWidths []int `json:"decoder_widths"`

	// Epsilon used by the batch normalization layers.
	Epsilon float64 `json:"epsilon"`
}

// SimpleConfig returns the configuration of the MLP variant: a per-point encoder 3→128→256→512 and
// a decoder 512→1024→2048→6144, completing 1024 points into 2048.
func SimpleConfig() Config {
	return Config{
		Name:          "simple",
		InputCount:    DefaultInputCount,
		OutputCount:   DefaultOutputCount,
		EncoderWidths: []int{128, 256, 512},
		DecoderWidths: []int{1024, 2048, DefaultOutputCount * pointcloud.Dim},
		Epsilon:       layers.DefaultEpsilon,
	}
}

// PointNetConfig returns the configuration of the PointNet-style variant, whose encoder is a stack of
// kernel-size-1 convolutions (equivalent to shared per-point affine layers): 3→64→128→1024, and
// decoder 1024→2048→4096→6144, completing 1024 points into 2048.
func PointNetConfig() Config {
	return Config{
		Name:          "pointnet",
		InputCount:    DefaultInputCount,
		OutputCount:   DefaultOutputCount,
		EncoderWidths: []int{64, 128, 1024},
		DecoderWidths: []int{2048, 4096, DefaultOutputCount * pointcloud.Dim},
		Epsilon:       layers.DefaultEpsilon,
	}
}

// ConfigNames lists the names accepted by ConfigByName.
var ConfigNames = []string{"simple", "pointnet"}

// ConfigByName returns one of the predefined configurations: "simple" or "pointnet".
func ConfigByName(name string) (Config, error) {
	switch strings.ToLower(name) {
	case "simple":
		return SimpleConfig(), nil
	case "pointnet":
		return PointNetConfig(), nil
	default:
		return Config{}, errors.Errorf("unknown network variant %q, valid values are %q", name, ConfigNames)
	}
}

// FeatureDim returns the dimension of the global feature vector, the last encoder width.
func (c Config) FeatureDim() int {
	if len(c.EncoderWidths) == 0 {
		return 0
	}
	return c.EncoderWidths[len(c.EncoderWidths)-1]
}

// Validate the configuration. It returns an error wrapping shapes.ErrShape if any of the dimensions is invalid.
func (c Config) Validate() error {
	if c.InputCount <= 0 || c.OutputCount <= 0 {
		return shapes.Errorf("config %q: invalid input/output point counts %d/%d", c.Name, c.InputCount, c.OutputCount)
	}
	if len(c.EncoderWidths) == 0 || len(c.DecoderWidths) == 0 {
		return shapes.Errorf("config %q: encoder and decoder need at least one layer each, got %d and %d",
			c.Name, len(c.EncoderWidths), len(c.DecoderWidths))
	}
	if slices.ContainsFunc(c.EncoderWidths, func(w int) bool { return w <= 0 }) ||
		slices.ContainsFunc(c.DecoderWidths, func(w int) bool { return w <= 0 }) {
		return shapes.Errorf("config %q: invalid layer widths, encoder=%v, decoder=%v", c.Name, c.EncoderWidths, c.DecoderWidths)
	}
	if last := c.DecoderWidths[len(c.DecoderWidths)-1]; last != c.OutputCount*pointcloud.Dim {
		return shapes.Errorf("config %q: last decoder width is %d, wanted OutputCount(%d) * %d = %d",
			c.Name, last, c.OutputCount, pointcloud.Dim, c.OutputCount*pointcloud.Dim)
	}
	if c.Epsilon < 0 {
		return shapes.Errorf("config %q: batch normalization epsilon must be >= 0, got %g", c.Name, c.Epsilon)
	}
	return nil
}

// NewParameters allocates the Parameters for the configuration: affine layers are zero-initialized and batch
// normalization layers start with scale=1, shift=0, mean=0 and variance=1.
func (c Config) NewParameters() (*Parameters, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	p := &Parameters{
		Name:        c.Name,
		InputCount:  c.InputCount,
		OutputCount: c.OutputCount,
	}
	dim := pointcloud.Dim
	for _, width := range c.EncoderWidths {
		p.Encoder = append(p.Encoder,
			layers.Affine(layers.NewAffine(dim, width)),
			layers.BatchNorm(layers.NewBatchNorm(width, c.Epsilon)),
			layers.Relu())
		dim = width
	}
	for ii, width := range c.DecoderWidths {
		p.Decoder = append(p.Decoder, layers.Affine(layers.NewAffine(dim, width)))
		if ii < len(c.DecoderWidths)-1 {
			p.Decoder = append(p.Decoder,
				layers.BatchNorm(layers.NewBatchNorm(width, c.Epsilon)),
				layers.Relu())
		}
		dim = width
	}
	return p, nil
}

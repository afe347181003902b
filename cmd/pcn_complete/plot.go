// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"image/color"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/gomlx/pcn/pkg/pointcloud"
)

var (
	partialColor   = color.RGBA{R: 220, G: 50, B: 47, A: 255}
	completedColor = color.RGBA{R: 38, G: 139, B: 210, A: 160}
)

// parseAxes converts a projection like "xz" to the indices of the two coordinates.
func parseAxes(axes string) (a0, a1 int, err error) {
	axes = strings.ToLower(axes)
	if len(axes) != 2 || axes[0] == axes[1] {
		return 0, 0, errors.Errorf("invalid projection axes %q, valid values are \"xy\", \"xz\" or \"yz\"", axes)
	}
	indices := make([]int, 2)
	for ii := range 2 {
		indices[ii] = strings.IndexByte("xyz", axes[ii])
		if indices[ii] < 0 {
			return 0, 0, errors.Errorf("invalid projection axes %q, valid values are \"xy\", \"xz\" or \"yz\"", axes)
		}
	}
	return indices[0], indices[1], nil
}

// projection of the cloud on the two axes.
func projection(c pointcloud.Cloud, a0, a1 int) plotter.XYs {
	xys := make(plotter.XYs, len(c))
	for ii, p := range c {
		xys[ii] = plotter.XY{X: float64(p[a0]), Y: float64(p[a1])}
	}
	return xys
}

// savePlot saves a PNG (or any format supported by plot.Save, given by the extension) with the projection
// of the partial cloud over the completed cloud.
func savePlot(filePath, title, axes string, partial, completed pointcloud.Cloud) error {
	a0, a1, err := parseAxes(axes)
	if err != nil {
		return err
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = axes[0:1]
	p.Y.Label.Text = axes[1:2]
	p.Add(plotter.NewGrid())

	for _, series := range []struct {
		name   string
		cloud  pointcloud.Cloud
		color  color.Color
		radius vg.Length
	}{
		{"completed", completed, completedColor, vg.Points(1)},
		{"partial", partial, partialColor, vg.Points(1.5)},
	} {
		scatter, err := plotter.NewScatter(projection(series.cloud, a0, a1))
		if err != nil {
			return errors.Wrapf(err, "plotting %s cloud", series.name)
		}
		scatter.GlyphStyle.Color = series.color
		scatter.GlyphStyle.Radius = series.radius
		scatter.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(scatter)
		p.Legend.Add(series.name, scatter)
	}
	p.Legend.Top = true
	if err = p.Save(8*vg.Inch, 8*vg.Inch, filePath); err != nil {
		return errors.Wrapf(err, "saving plot to %q", filePath)
	}
	return nil
}

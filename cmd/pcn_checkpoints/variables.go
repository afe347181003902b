// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/gomlx/pcn/pkg/ml/checkpoints"
	"github.com/gomlx/pcn/pkg/ml/initializer"
	"github.com/gomlx/pcn/pkg/ml/layers"
)

// ListLayers lists the layers of the encoder and the decoder of the checkpoint.
func ListLayers(h *checkpoints.Handler, name string) {
	fmt.Println(titleStyle.Render(fmt.Sprintf("Layers of %q", name)))
	table := newPlainTable(true, lipgloss.Left, lipgloss.Right, lipgloss.Left, lipgloss.Right)
	table.Headers("Stack", "#", "Kind", "Input", "Output", "Epsilon")
	metadata := h.Metadata()
	for _, stack := range []struct {
		name   string
		layout []layers.OpLayout
	}{{"encoder", metadata.Encoder}, {"decoder", metadata.Decoder}} {
		for ii, l := range stack.layout {
			var inDim, outDim, epsilon string
			if l.InDim > 0 {
				inDim, outDim = humanize.Comma(int64(l.InDim)), humanize.Comma(int64(l.OutDim))
			}
			if l.Kind == layers.KindBatchNorm {
				epsilon = fmt.Sprintf("%g", l.Epsilon)
			}
			table.Row(stack.name, fmt.Sprintf("%02d", ii), l.Kind.String(), inDim, outDim, epsilon)
		}
	}
	fmt.Println(table.Render())
}

// variableStats returns the mean absolute value, the root-mean-square and the max absolute value of values.
func variableStats(values []float32) (mav, rms, maxAV float64) {
	if len(values) == 0 {
		return
	}
	abs := make([]float64, len(values))
	for ii, v := range values {
		abs[ii] = math.Abs(float64(v))
	}
	n := float64(len(abs))
	mav = floats.Sum(abs) / n
	rms = floats.Norm(abs, 2) / math.Sqrt(n)
	maxAV = floats.Max(abs)
	return
}

// ListVariables lists the variables of the checkpoint, with their shape and MAV (mean absolute value),
// RMS (root-mean-square) and MaxAV (max absolute value) values.
func ListVariables(h *checkpoints.Handler, name string) {
	fmt.Println(titleStyle.Render(fmt.Sprintf("Variables of %q", name)))
	params := must.M1(h.Load())
	stored := make(map[string]checkpoints.VariableInfo, len(h.Metadata().Variables))
	for _, info := range h.Metadata().Variables {
		stored[info.ParameterName] = info
	}
	table := newPlainTable(true, lipgloss.Left, lipgloss.Left, lipgloss.Right)
	table.Headers("Name", "Shape", "Size", "Stored bytes", "Scalar/MAV", "RMS", "MaxAV")
	for _, v := range params.Variables() {
		var mav, rms, maxAV string
		if len(v.Values) == 1 {
			mav = fmt.Sprintf("%8v", v.Values[0])
		} else {
			mavF, rmsF, maxAVF := variableStats(v.Values)
			mav = fmt.Sprintf("%.3g", mavF)
			rms = fmt.Sprintf("%.3g", rmsF)
			maxAV = fmt.Sprintf("%.3g", maxAVF)
		}
		table.Row(v.Name, v.Shape.String(),
			humanize.Comma(int64(v.Shape.Size())),
			humanize.Bytes(uint64(stored[v.Name].Length)),
			mav, rms, maxAV)
	}
	fmt.Println(table.Render())
	if *flagGlossary {
		fmt.Printf("  %s:\n", sectionStyle.Render("Glossary"))
		fmt.Printf("   ◦ %s: %s\n", emphasisStyle.Render("Scalar/MAV"), italicStyle.Render("If variable is a scalar then the value itself, else the Mean Absolute Value"))
		fmt.Printf("   ◦ %s: %s\n", emphasisStyle.Render("RMS"), italicStyle.Render("Root Mean Square"))
		fmt.Printf("   ◦ %s: %s\n", emphasisStyle.Render("MaxAV"), italicStyle.Render("Max Absolute Value"))
	}
}

// isLearned returns whether the variable is learned during training, as opposed to the running statistics
// of batch normalization.
func isLearned(name string) bool {
	return !strings.HasSuffix(name, "/mean") && !strings.HasSuffix(name, "/variance")
}

// PerturbVars multiplies the learned variables of the latest checkpoint by 1+U(-x, x), and saves the result as
// a new checkpoint. It returns the number of variables changed.
func PerturbVars(checkpointPath string, x float64, seed uint64, binFormat checkpoints.BinFormat) (int, error) {
	handler, err := checkpoints.Load().Dir(checkpointPath).Keep(-1).WithCompression(binFormat).Done()
	if err != nil {
		return 0, err
	}
	params, err := handler.Load()
	if err != nil {
		return 0, err
	}
	rng := initializer.NewRNG(seed)
	var numUpdates int
	for _, v := range params.Variables() {
		if !isLearned(v.Name) {
			continue
		}
		for ii := range v.Values {
			perturbation := 1 + (2*rng.Float64()-1)*x
			v.Values[ii] = float32(float64(v.Values[ii]) * perturbation)
		}
		numUpdates++
	}
	if err = handler.Save(params); err != nil {
		return 0, errors.WithMessagef(err, "saving perturbed checkpoint")
	}
	return numUpdates, nil
}

// Convert saves the latest checkpoint again, storing the values as dtype.
func Convert(checkpointPath string, dtype dtypes.DType, binFormat checkpoints.BinFormat) error {
	handler, err := checkpoints.Load().Dir(checkpointPath).Keep(-1).
		StoreAs(dtype).WithCompression(binFormat).Done()
	if err != nil {
		return err
	}
	params, err := handler.Load()
	if err != nil {
		return err
	}
	return handler.Save(params)
}

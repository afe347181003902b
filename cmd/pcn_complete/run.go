// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"os"

	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/gomlx/pcn/pkg/ml/checkpoints"
	"github.com/gomlx/pcn/pkg/ml/initializer"
	"github.com/gomlx/pcn/pkg/ml/pcn"
	"github.com/gomlx/pcn/pkg/pointcloud"
	"github.com/gomlx/pcn/pkg/support/fsutil"
)

// runConfig holds the configuration of one execution of pcn_complete, as set by the flags.
type runConfig struct {
	Variant    string
	Init       string
	Seed       uint64
	Checkpoint string

	Parallelism, BatchParallelism, BatchSize int

	Resample    int
	RandomInput int
	Inputs      []string

	Out, Suffix    string
	Plot           bool
	PlotAxes       string
	SaveCheckpoint string
	ShowProgress   bool
}

// source returns where to load the network parameters from.
func (cfg *runConfig) source() (pcn.Source, error) {
	if cfg.Checkpoint != "" {
		return checkpoints.Load().Dir(cfg.Checkpoint).Done()
	}
	config, err := pcn.ConfigByName(cfg.Variant)
	if err != nil {
		return nil, err
	}
	initName := cfg.Init
	if initName == "" {
		initName = pcn.DefaultWeightsInitializer
	}
	klog.Warningf("No -checkpoint given: using randomly initialized %q network (%s, seed=%d), "+
		"the completed clouds are not meaningful.", config.Name, initName, cfg.Seed)
	return pcn.RandomInitWith(config, cfg.Seed, initName), nil
}

func (cfg *runConfig) loadModel() (*pcn.Model, error) {
	source, err := cfg.source()
	if err != nil {
		return nil, err
	}
	return pcn.LoadModel(source,
		pcn.WithParallelism(cfg.Parallelism),
		pcn.WithBatchParallelism(cfg.BatchParallelism))
}

func (cfg *runConfig) saveCheckpoint(model *pcn.Model) error {
	handler, err := checkpoints.Build().Dir(cfg.SaveCheckpoint).Done()
	if err != nil {
		return err
	}
	return handler.Save(model.Parameters())
}

// outputPath returns where to save the completion of the input cloud.
func (cfg *runConfig) outputPath(input string) string {
	if cfg.Out != "" && (len(cfg.Inputs) <= 1) {
		return cfg.Out
	}
	if input == "" {
		return "random" + cfg.Suffix + ".xyz"
	}
	return fsutil.WithSuffix(input, cfg.Suffix)
}

// readPartial reads the input cloud, or generates a random one if input is empty, and resamples it if configured.
func (cfg *runConfig) readPartial(model *pcn.Model, input string) (pointcloud.Cloud, error) {
	var partial pointcloud.Cloud
	if input == "" {
		partial = pointcloud.Random(cfg.RandomInput, initializer.NewRNG(cfg.Seed+1))
	} else {
		var err error
		input, err = fsutil.ReplaceTildeInDir(input)
		if err != nil {
			return nil, err
		}
		partial, err = pointcloud.ReadFile(input)
		if err != nil {
			return nil, err
		}
	}
	numPoints := cfg.Resample
	if numPoints < 0 {
		numPoints = model.InputCount()
	}
	if numPoints > 0 && len(partial) > 0 && len(partial) != numPoints {
		return pointcloud.Resample(partial, numPoints, cfg.Seed)
	}
	return partial, nil
}

// run completes all the inputs, in batches, and returns the paths of the completed clouds saved.
func (cfg *runConfig) run(ctx context.Context, model *pcn.Model) ([]string, error) {
	inputs := cfg.Inputs
	if len(inputs) == 0 {
		if cfg.RandomInput <= 0 {
			return nil, nil
		}
		inputs = []string{""}
	}
	batchSize := max(cfg.BatchSize, 1)

	var bar *progressbar.ProgressBar
	if cfg.ShowProgress {
		bar = progressbar.NewOptions(len(inputs),
			progressbar.OptionSetDescription("completing"),
			progressbar.OptionEnableColorCodes(termenv.NewOutput(os.Stderr).Profile != termenv.Ascii),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("clouds"),
			progressbar.OptionSetTheme(progressbar.ThemeASCII),
			progressbar.OptionSetWriter(os.Stderr),
		)
	}

	outputs := make([]string, 0, len(inputs))
	for start := 0; start < len(inputs); start += batchSize {
		batch := inputs[start:min(start+batchSize, len(inputs))]
		partials := make([]pointcloud.Cloud, len(batch))
		for ii, input := range batch {
			var err error
			partials[ii], err = cfg.readPartial(model, input)
			if err != nil {
				return outputs, errors.WithMessagef(err, "reading partial cloud %q", input)
			}
		}
		completed, err := pcn.CompleteBatch(ctx, model, partials)
		if err != nil {
			return outputs, errors.WithMessagef(err, "completing batch of clouds starting at %q", batch[0])
		}
		for ii, input := range batch {
			output := cfg.outputPath(input)
			if err = pointcloud.WriteFile(output, completed[ii]); err != nil {
				return outputs, err
			}
			outputs = append(outputs, output)
			if cfg.Plot {
				title := input
				if title == "" {
					title = "random input"
				}
				if err = savePlot(fsutil.ReplaceExt(output, ".png"), title, cfg.PlotAxes, partials[ii], completed[ii]); err != nil {
					return outputs, err
				}
			}
		}
		if bar != nil {
			_ = bar.Add(len(batch))
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
	return outputs, nil
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// pcn_complete completes partial point clouds with a point completion network.
//
// The network is loaded from a checkpoint (-checkpoint) or, for demonstration, randomly initialized from one of
// the predefined variants (-variant, -seed). Each input cloud (.xyz, .txt, .csv or .pcd) is completed and saved
// next to it with a "_completed" suffix, or to -out if there is only one input.
//
// Usage:
//
//	pcn_complete [flags] <partial_cloud> [<partial_cloud> ...]
//	pcn_complete -random_input=1024 -out=completed.xyz -plot
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/gomlx/pcn/pkg/ml/initializer"
	"github.com/gomlx/pcn/pkg/ml/pcn"
)

var (
	flagVariant    = flag.String("variant", "simple", "Network variant used when no -checkpoint is given: \"simple\" or \"pointnet\".")
	flagInit       = flag.String("init", pcn.DefaultWeightsInitializer, fmt.Sprintf("Initializer of the weights when no -checkpoint is given, one of %q.", initializer.Names))
	flagSeed       = flag.Uint64("seed", 42, "Seed for the random initialization of the network, when no -checkpoint is given.")
	flagCheckpoint = flag.String("checkpoint", "", "Directory with the checkpoint of a trained network. If empty, the network is randomly initialized.")

	flagParallelism      = flag.Int("parallelism", runtime.NumCPU(), "Number of goroutines used to encode the points of one cloud. 0 disables parallelism, -1 makes it unlimited.")
	flagBatchParallelism = flag.Int("batch_parallelism", runtime.NumCPU(), "Number of clouds completed concurrently.")
	flagBatchSize        = flag.Int("batch_size", 32, "Number of clouds read and completed together.")

	flagResample    = flag.Int("resample", 0, "If > 0, resample each partial cloud to this number of points before completion. If -1, resample to the number of points the network was calibrated for.")
	flagRandomInput = flag.Int("random_input", 0, "If > 0 and no input files are given, complete a random cloud with this number of points in the unit cube.")

	flagOut    = flag.String("out", "", "Output file for the completed cloud, when there is only one input. The format is given by the extension.")
	flagSuffix = flag.String("suffix", "_completed", "Suffix added to input file names to name the completed clouds.")
	flagPlot   = flag.Bool("plot", false, "Also save a PNG plot of the projection of the partial and completed clouds, next to the output.")
	flagAxes   = flag.String("plot_axes", "xy", "Axes of the projection for -plot: \"xy\", \"xz\" or \"yz\".")

	flagSummary        = flag.Bool("summary", false, "Print a summary of the network before completing.")
	flagSaveCheckpoint = flag.String("save_checkpoint", "", "Save the parameters of the network as a checkpoint in the given directory.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	cfg := &runConfig{
		Variant:          *flagVariant,
		Init:             *flagInit,
		Seed:             *flagSeed,
		Checkpoint:       *flagCheckpoint,
		Parallelism:      *flagParallelism,
		BatchParallelism: *flagBatchParallelism,
		BatchSize:        *flagBatchSize,
		Resample:         *flagResample,
		RandomInput:      *flagRandomInput,
		Inputs:           flag.Args(),
		Out:              *flagOut,
		Suffix:           *flagSuffix,
		Plot:             *flagPlot,
		PlotAxes:         *flagAxes,
		SaveCheckpoint:   *flagSaveCheckpoint,
		ShowProgress:     len(flag.Args()) > 1,
	}
	if len(cfg.Inputs) == 0 && cfg.RandomInput <= 0 && cfg.SaveCheckpoint == "" && !*flagSummary {
		klog.Errorf("No partial clouds given. See 'pcn_complete -help'.")
		os.Exit(1)
	}

	model := must.M1(cfg.loadModel())
	if *flagSummary {
		printSummary(model, cfg)
	}
	if cfg.SaveCheckpoint != "" {
		must.M(cfg.saveCheckpoint(model))
		fmt.Printf("Network parameters saved to %q.\n", cfg.SaveCheckpoint)
	}
	outputs := must.M1(cfg.run(context.Background(), model))
	for _, output := range outputs {
		fmt.Printf("Completed cloud saved to %q.\n", output)
	}
}

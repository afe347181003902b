// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// pcn_checkpoints inspects and transforms checkpoints of point completion networks.
//
// Usage:
//
//	pcn_checkpoints [flags] <checkpoint_dir> [<checkpoint_dir> ...]
//
// With more than one directory, the summary compares the checkpoints side by side.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/pcn/pkg/ml/checkpoints"
)

var (
	flagSummary = flag.Bool("summary", false, "Display a summary of the checkpoints: network variant, sizes and storage. "+
		"It's the default if no other report or action is requested.")
	flagLayers   = flag.Bool("layers", false, "Lists the layers of the encoder and the decoder.")
	flagVars     = flag.Bool("vars", false, "Lists the variables, with statistics of their values.")
	flagGlossary = flag.Bool("glossary", true, "Whether to print a glossary of the statistics after -vars.")

	flagPerturb = flag.Float64("perturb", 0,
		"Perturbs learned variables by <x>: it multiplies them by 1.0+(RandomUniform(-1, 1)*x), and saves a new checkpoint. "+
			"Batch normalization running statistics (mean, variance) are not changed.")
	flagSeed = flag.Uint64("seed", 0, "Seed for the random numbers used by -perturb.")

	flagConvert = flag.String("convert", "",
		"Saves a new checkpoint with the values stored as the given dtype: \"float32\" or \"float16\".")
	flagCompression = flag.String("compression", "gzip",
		"Compression of the binary data of new checkpoints (-convert, -perturb): \"gzip\" or \"uncompressed\".")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		klog.Errorf("Missing checkpoint directory to read from. See 'pcn_checkpoints -help'")
		os.Exit(1)
	}
	if !*flagLayers && !*flagVars && *flagPerturb == 0 && *flagConvert == "" {
		*flagSummary = true
	}
	binFormat := must.M1(parseCompression(*flagCompression))

	names := MinimalUniquePaths(args...)
	handlers := make([]*checkpoints.Handler, len(args))
	for ii, checkpointPath := range args {
		handlers[ii] = must.M1(checkpoints.Load().Dir(checkpointPath).Done())
	}
	if *flagSummary {
		Summary(handlers, names)
	}
	for ii, handler := range handlers {
		if *flagLayers {
			ListLayers(handler, names[ii])
		}
		if *flagVars {
			ListVariables(handler, names[ii])
		}
	}

	for _, checkpointPath := range args {
		if *flagPerturb != 0 {
			numUpdates := must.M1(PerturbVars(checkpointPath, *flagPerturb, *flagSeed, binFormat))
			fmt.Printf("%s: %d variables updated, new checkpoint saved.\n", checkpointPath, numUpdates)
		}
		if *flagConvert != "" {
			dtype := must.M1(parseStorageDType(*flagConvert))
			must.M(Convert(checkpointPath, dtype, binFormat))
			fmt.Printf("%s: new checkpoint saved with values stored as %s (%s).\n", checkpointPath, dtype, binFormat)
		}
	}
}

func parseCompression(name string) (checkpoints.BinFormat, error) {
	for _, bf := range []checkpoints.BinFormat{checkpoints.BinGZIP, checkpoints.BinUncompressed} {
		if strings.EqualFold(name, bf.String()) {
			return bf, nil
		}
	}
	return 0, errors.Errorf("unknown compression %q, valid values are \"gzip\" or \"uncompressed\"", name)
}

func parseStorageDType(name string) (dtypes.DType, error) {
	switch strings.ToLower(name) {
	case "float32", "f32":
		return dtypes.Float32, nil
	case "float16", "f16", "half":
		return dtypes.Float16, nil
	default:
		return dtypes.InvalidDType, errors.Errorf("unsupported storage dtype %q, valid values are \"float32\" or \"float16\"", name)
	}
}

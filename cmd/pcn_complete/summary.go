// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/gomlx/pcn/pkg/ml/pcn"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
	keyStyle   = lipgloss.NewStyle().Bold(true).PaddingLeft(1).PaddingRight(1).Align(lipgloss.Right)
	valueStyle = lipgloss.NewStyle().PaddingLeft(1).PaddingRight(1)
)

// summaryRows lists the properties of the network shown by -summary.
func summaryRows(model *pcn.Model, cfg *runConfig) [][]string {
	source := "checkpoint " + cfg.Checkpoint
	if cfg.Checkpoint == "" {
		initName := cfg.Init
		if initName == "" {
			initName = pcn.DefaultWeightsInitializer
		}
		source = fmt.Sprintf("random initialization (%s, seed=%d)", initName, cfg.Seed)
	}
	return [][]string{
		{"variant", model.Name()},
		{"parameters from", source},
		{"input shape", model.InputShape().String()},
		{"feature dim", humanize.Comma(int64(model.FeatureDim()))},
		{"output shape", model.OutputShape().String()},
		{"# parameters", humanize.Comma(int64(model.NumParameters()))},
		{"memory", humanize.Bytes(uint64(model.Memory()))},
		{"parallelism", fmt.Sprintf("%d goroutines per cloud, %d clouds at a time", model.Parallelism(), model.BatchParallelism())},
	}
}

func printSummary(model *pcn.Model, cfg *runConfig) {
	fmt.Println(titleStyle.Render("Point Completion Network"))
	table := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return keyStyle
			}
			return valueStyle
		}).
		Rows(summaryRows(model, cfg)...)
	fmt.Println(table.Render())
}

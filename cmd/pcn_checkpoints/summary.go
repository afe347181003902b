// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"k8s.io/klog/v2"

	"github.com/gomlx/pcn/pkg/ml/checkpoints"
	"github.com/gomlx/pcn/pkg/ml/pcn"
)

// Summary prints one column per checkpoint. Rows that differ across checkpoints are highlighted.
func Summary(handlers []*checkpoints.Handler, names []string) {
	fmt.Println(titleStyle.Render("Summary"))
	table := newPlainTableWithReds(false, lipgloss.Right, lipgloss.Left)
	addRow := func(title string, compare bool, valueFn func(h *checkpoints.Handler) string) {
		values := make([]string, len(handlers))
		for ii, h := range handlers {
			values[ii] = valueFn(h)
		}
		table.Row(compare && !isAllEqual(values), append([]string{title}, values...)...)
	}
	table.Row(false, append([]string{"checkpoint"}, names...)...)
	addRow("model id", false, func(h *checkpoints.Handler) string { return h.ModelID() })
	addRow("variant", true, func(h *checkpoints.Handler) string { return h.Metadata().Name })
	addRow("input points", true, func(h *checkpoints.Handler) string {
		return humanize.Comma(int64(h.Metadata().InputCount))
	})
	addRow("output points", true, func(h *checkpoints.Handler) string {
		return humanize.Comma(int64(h.Metadata().OutputCount))
	})
	addRow("layers", true, func(h *checkpoints.Handler) string {
		return fmt.Sprintf("%d + %d", len(h.Metadata().Encoder), len(h.Metadata().Decoder))
	})

	models := make(map[*checkpoints.Handler]*pcn.Model, len(handlers))
	for _, h := range handlers {
		model, err := pcn.LoadModel(h, pcn.WithParallelism(0))
		if err != nil {
			klog.Errorf("%s: %+v", h, err)
			continue
		}
		models[h] = model
	}
	addRow("valid", true, func(h *checkpoints.Handler) string { return strconv.FormatBool(models[h] != nil) })
	addRow("feature dim", true, func(h *checkpoints.Handler) string {
		if models[h] == nil {
			return "-"
		}
		return humanize.Comma(int64(models[h].FeatureDim()))
	})
	addRow("# variables", true, func(h *checkpoints.Handler) string {
		return humanize.Comma(int64(len(h.Metadata().Variables)))
	})
	addRow("# parameters", true, func(h *checkpoints.Handler) string {
		var count int
		for _, v := range h.Metadata().Variables {
			count += v.Shape().Size()
		}
		return humanize.Comma(int64(count))
	})
	addRow("stored as", true, func(h *checkpoints.Handler) string {
		if len(h.Metadata().Variables) == 0 {
			return "-"
		}
		return h.Metadata().Variables[0].DType.String()
	})
	addRow("stored bytes", true, func(h *checkpoints.Handler) string {
		var total int
		for _, v := range h.Metadata().Variables {
			total += v.Length
		}
		return humanize.Bytes(uint64(total))
	})
	addRow("memory (float32)", true, func(h *checkpoints.Handler) string {
		if models[h] == nil {
			return "-"
		}
		return humanize.Bytes(uint64(models[h].Memory()))
	})
	addRow("compression", true, func(h *checkpoints.Handler) string { return h.Metadata().BinFormat })
	fmt.Println(table.Table.Render())
}

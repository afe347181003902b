// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pointcloud

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ReadXYZ reads a point cloud in the plain-text XYZ format: one point per line, with its coordinates
// separated by spaces, tabs or commas. Extra columns (normals, colors, …) are ignored, and empty lines or
// lines starting with '#' are skipped.
func ReadXYZ(r io.Reader) (Cloud, error) {
	var flat []float32
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.FieldsFunc(line, func(r rune) bool {
			return r == ' ' || r == '\t' || r == ','
		})
		if len(fields) < Dim {
			return nil, errors.Errorf("xyz line %d: found %d values, wanted at least %d", lineNum, len(fields), Dim)
		}
		for _, field := range fields[:Dim] {
			v, err := strconv.ParseFloat(field, 32)
			if err != nil {
				return nil, errors.Wrapf(err, "xyz line %d: failed to parse coordinate %q", lineNum, field)
			}
			flat = append(flat, float32(v))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read xyz data")
	}
	return FromFlatUnchecked(flat), nil
}

// WriteXYZ writes the cloud in the plain-text XYZ format, one "x y z" line per point.
func WriteXYZ(w io.Writer, c Cloud) error {
	bw := bufio.NewWriter(w)
	buf := make([]byte, 0, 64)
	for _, point := range c {
		buf = buf[:0]
		for axis, v := range point {
			if axis > 0 {
				buf = append(buf, ' ')
			}
			buf = strconv.AppendFloat(buf, float64(v), 'g', -1, 32)
		}
		buf = append(buf, '\n')
		if _, err := bw.Write(buf); err != nil {
			return errors.Wrap(err, "failed to write xyz data")
		}
	}
	return errors.Wrap(bw.Flush(), "failed to write xyz data")
}

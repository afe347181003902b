// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// PCDHeader holds the header fields of a PCD (Point Cloud Data) file that are needed to decode its points.
type PCDHeader struct {
	Version string
	Fields  []string
	Size    []int
	Type    []string
	Count   []int
	Width   int
	Height  int
	Points  int
	Data    string
}

// recordLayout returns the size of each point record in bytes, and the byte offset of the x, y, z fields.
func (h *PCDHeader) recordLayout() (recordSize int, offsets [Dim]int, err error) {
	offsets = [Dim]int{-1, -1, -1}
	for ii, field := range h.Fields {
		if h.Count[ii] > maxPCDRecordSize/h.Size[ii] || recordSize+h.Size[ii]*h.Count[ii] > maxPCDRecordSize {
			return 0, offsets, errors.Errorf("pcd records larger than %d bytes are not supported", maxPCDRecordSize)
		}
		axis := strings.Index("xyz", field)
		if len(field) == 1 && axis >= 0 {
			if h.Type[ii] != "F" || (h.Size[ii] != 4 && h.Size[ii] != 8) || h.Count[ii] != 1 {
				return 0, offsets, errors.Errorf("pcd field %q must be a single float32 or float64, got TYPE %s SIZE %d COUNT %d",
					field, h.Type[ii], h.Size[ii], h.Count[ii])
			}
			offsets[axis] = recordSize
		}
		recordSize += h.Size[ii] * h.Count[ii]
	}
	for axis, offset := range offsets {
		if offset < 0 {
			return 0, offsets, errors.Errorf("pcd file has no field %q", "xyz"[axis:axis+1])
		}
	}
	return
}

// fieldSize returns the size of the field holding the given axis.
func (h *PCDHeader) fieldSize(axis int) int {
	for ii, field := range h.Fields {
		if field == "xyz"[axis:axis+1] {
			return h.Size[ii]
		}
	}
	return 0
}

func parseInts(values []string) ([]int, error) {
	ints := make([]int, len(values))
	for ii, v := range values {
		var err error
		ints[ii], err = strconv.Atoi(v)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid integer %q", v)
		}
	}
	return ints, nil
}

const (
	// maxPCDRecordSize is the largest size in bytes of one point record accepted.
	maxPCDRecordSize = 1 << 16

	// maxPCDPreallocPoints caps the points preallocated from the POINTS header.
	maxPCDPreallocPoints = 1 << 20
)

// readPCDHeader reads the header lines, up to and including the DATA line.
func readPCDHeader(r *bufio.Reader) (*PCDHeader, error) {
	h := &PCDHeader{Height: 1}
	for {
		line, err := r.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return nil, errors.Wrap(err, "failed to read pcd header")
		}
		err = nil
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Fields(line)
		key, values := strings.ToUpper(parts[0]), parts[1:]
		switch key {
		case "VERSION":
			if len(values) > 0 {
				h.Version = values[0]
			}
		case "FIELDS":
			h.Fields = values
		case "SIZE":
			h.Size, err = parseInts(values)
		case "TYPE":
			h.Type = values
		case "COUNT":
			h.Count, err = parseInts(values)
		case "WIDTH", "HEIGHT", "POINTS":
			if len(values) != 1 {
				return nil, errors.Errorf("pcd header %s wants one value, got %q", key, line)
			}
			var v int
			v, err = strconv.Atoi(values[0])
			switch key {
			case "WIDTH":
				h.Width = v
			case "HEIGHT":
				h.Height = v
			default:
				h.Points = v
			}
		case "VIEWPOINT":
			// Ignored.
		case "DATA":
			if len(values) != 1 {
				return nil, errors.Errorf("pcd header DATA wants one value, got %q", line)
			}
			h.Data = strings.ToLower(values[0])
		default:
			return nil, errors.Errorf("unknown pcd header line %q", line)
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "pcd header line %q", line)
		}
		if key == "DATA" {
			break
		}
	}
	if len(h.Fields) == 0 {
		return nil, errors.New("pcd header has no FIELDS")
	}
	if h.Count == nil {
		h.Count = make([]int, len(h.Fields))
		for ii := range h.Count {
			h.Count[ii] = 1
		}
	}
	if len(h.Size) != len(h.Fields) || len(h.Type) != len(h.Fields) || len(h.Count) != len(h.Fields) {
		return nil, errors.Errorf("pcd header has %d FIELDS, but %d SIZE, %d TYPE and %d COUNT values",
			len(h.Fields), len(h.Size), len(h.Type), len(h.Count))
	}
	for ii, field := range h.Fields {
		if size := h.Size[ii]; size != 1 && size != 2 && size != 4 && size != 8 {
			return nil, errors.Errorf("pcd field %q has invalid SIZE %d, valid values are 1, 2, 4 or 8", field, size)
		}
		if h.Count[ii] <= 0 {
			return nil, errors.Errorf("pcd field %q has invalid COUNT %d", field, h.Count[ii])
		}
	}
	if h.Width < 0 || h.Height < 0 {
		return nil, errors.Errorf("pcd header has invalid WIDTH %d or HEIGHT %d", h.Width, h.Height)
	}
	if h.Points == 0 {
		if h.Height > 0 && h.Width > math.MaxInt32/h.Height {
			return nil, errors.Errorf("pcd header WIDTH %d x HEIGHT %d is too large", h.Width, h.Height)
		}
		h.Points = h.Width * h.Height
	}
	if h.Points < 0 {
		return nil, errors.Errorf("pcd header has invalid number of points %d", h.Points)
	}
	return h, nil
}

// ReadPCD reads a point cloud from a PCD (Point Cloud Data) file, with DATA "ascii" or "binary".
// Only the x, y and z fields are kept, and they must be float32 or float64 values.
func ReadPCD(r io.Reader) (Cloud, *PCDHeader, error) {
	br := bufio.NewReader(r)
	h, err := readPCDHeader(br)
	if err != nil {
		return nil, nil, err
	}
	recordSize, offsets, err := h.recordLayout()
	if err != nil {
		return nil, h, err
	}
	// POINTS comes from the file: the data itself bounds the allocation.
	flat := make([]float32, 0, min(h.Points, maxPCDPreallocPoints)*Dim)
	switch h.Data {
	case "ascii":
		fieldIndex := [Dim]int{}
		for axis := range Dim {
			for ii, field := range h.Fields {
				if field == "xyz"[axis:axis+1] {
					// For ascii data, each value of COUNT takes one column.
					col := 0
					for jj := range ii {
						col += h.Count[jj]
					}
					fieldIndex[axis] = col
				}
			}
		}
		for pointIdx := range h.Points {
			line, err := br.ReadString('\n')
			if err != nil && (err != io.EOF || strings.TrimSpace(line) == "") {
				return nil, h, errors.Wrapf(err, "pcd data ended at point #%d, wanted %d points", pointIdx, h.Points)
			}
			values := strings.Fields(line)
			for axis := range Dim {
				col := fieldIndex[axis]
				if col >= len(values) {
					return nil, h, errors.Errorf("pcd point #%d has %d values, missing %q", pointIdx, len(values), "xyz"[axis:axis+1])
				}
				v, err := strconv.ParseFloat(values[col], 32)
				if err != nil {
					return nil, h, errors.Wrapf(err, "pcd point #%d", pointIdx)
				}
				flat = append(flat, float32(v))
			}
		}
	case "binary":
		record := make([]byte, recordSize)
		for pointIdx := range h.Points {
			if _, err := io.ReadFull(br, record); err != nil {
				return nil, h, errors.Wrapf(err, "pcd data ended at point #%d, wanted %d points", pointIdx, h.Points)
			}
			for axis, offset := range offsets {
				if h.fieldSize(axis) == 8 {
					flat = append(flat, float32(math.Float64frombits(binary.LittleEndian.Uint64(record[offset:]))))
				} else {
					flat = append(flat, math.Float32frombits(binary.LittleEndian.Uint32(record[offset:])))
				}
			}
		}
	default:
		return nil, h, errors.Errorf("pcd DATA %q not supported, only \"ascii\" and \"binary\"", h.Data)
	}
	return FromFlatUnchecked(flat), h, nil
}

// WritePCD writes the cloud as a PCD v0.7 file with fields x, y, z as float32, with DATA "binary" if binary
// is true, or "ascii" otherwise.
func WritePCD(w io.Writer, c Cloud, binaryData bool) error {
	bw := bufio.NewWriter(w)
	data := "ascii"
	if binaryData {
		data = "binary"
	}
	_, err := fmt.Fprintf(bw, "# .PCD v0.7 - Point Cloud Data file format\n"+
		"VERSION 0.7\nFIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\n"+
		"WIDTH %d\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS %d\nDATA %s\n", len(c), len(c), data)
	if err != nil {
		return errors.Wrap(err, "failed to write pcd header")
	}
	if binaryData {
		record := make([]byte, 4*Dim)
		for _, point := range c {
			for axis, v := range point {
				binary.LittleEndian.PutUint32(record[4*axis:], math.Float32bits(v))
			}
			if _, err := bw.Write(record); err != nil {
				return errors.Wrap(err, "failed to write pcd data")
			}
		}
	} else {
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
				return errors.Wrap(err, "failed to write pcd data")
			}
		}
	}
	return errors.Wrap(bw.Flush(), "failed to write pcd data")
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package checkpoints

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/gomlx/pcn/pkg/core/shapes"
	"github.com/gomlx/pcn/pkg/ml/layers"
)

// Metadata is the contents of the JSON file of a checkpoint: the architecture of the network and where
// to find the values of each of its variables in the binary file.
type Metadata struct {
	// ModelID identifies the network across its checkpoints. It's assigned on the first save.
	ModelID string

	// Name of the network variant.
	Name string

	InputCount, OutputCount int

	// Encoder and Decoder describe the layers, without their values.
	Encoder, Decoder []layers.OpLayout

	// Variables in the order they are stored in the binary file.
	Variables []VariableInfo

	// BinFormat describes the format used by the binary file. It is informative.
	// The current valid values are "gzip" and "uncompressed".
	BinFormat string
}

// VariableInfo describes one variable serialized in the binary file.
type VariableInfo struct {
	// ParameterName is the unique name of the variable, see layers.VariableName.
	ParameterName string

	// Dimensions of the shape.
	Dimensions []int

	// DType used in storage: Float32 or Float16. Values are always float32 once loaded.
	DType dtypes.DType

	// Pos, Length in bytes in the (uncompressed) binary data.
	Pos, Length int
}

// Shape of the variable as stored.
func (v VariableInfo) Shape() shapes.Shape {
	return shapes.Shape{DType: v.DType, Dimensions: v.Dimensions}
}

const (
	binHeader     = "pcn_checkpoints"
	lenBinHeader  = len(binHeader)
	gzipHeader    = "gzip"
	lenGzipHeader = uint8(len(gzipHeader))
)

// Format header
//
// --------------------------------------------
// | 0               14 | 15  | 16   15 +len  |
// --------------------------------------------
// |  "pcn_checkpoints" | len |  "gzip"       |
//
// Uncompressed files have no header: they start directly with the values.

// getLoadVarFilesFromReader returns a reader to the decompressed binary variables.
// Files without the header are read as uncompressed.
func getLoadVarFilesFromReader(f io.ReadSeeker) (io.Reader, error) {
	buf := make([]byte, lenBinHeader)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "read header")
	}
	if n < lenBinHeader || string(buf) != binHeader {
		_, err = f.Seek(0, io.SeekStart)
		if err != nil {
			return nil, errors.Wrap(err, "seek header")
		}
		return f, nil
	}
	var headerZipLen uint8
	if err := binary.Read(f, binary.BigEndian, &headerZipLen); err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	buf1 := make([]byte, headerZipLen)
	if _, err = io.ReadFull(f, buf1); err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	if string(buf1) != gzipHeader {
		return nil, errors.Wrapf(ErrUnsupportedCompression, "compression %q", buf1)
	}
	rd, err := gzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrap(err, "read gzip header")
	}
	defer func() { _ = rd.Close() }()
	var rd1 bytes.Buffer
	_, err = rd1.ReadFrom(rd)
	if err != nil {
		return nil, errors.Wrap(err, "read zip")
	}
	return &rd1, nil
}

type flushWriter interface {
	Write([]byte) (int, error)
	Close() error
	Flush() error
}

// bufferedFile flushes the buffer before closing the file.
type bufferedFile struct {
	*bufio.Writer
	f *os.File
}

func (bf *bufferedFile) Close() error {
	if err := bf.Writer.Flush(); err != nil {
		_ = bf.f.Close()
		return err
	}
	return bf.f.Close()
}

// gzipFile closes the gzip stream and then the file.
type gzipFile struct {
	*gzip.Writer
	f *os.File
}

func (gf *gzipFile) Close() error {
	if err := gf.Writer.Close(); err != nil {
		_ = gf.f.Close()
		return err
	}
	return gf.f.Close()
}

// getSaveVarFiles creates a new file at the specified path and returns a writer for the values.
// For BinGZIP it writes the header and returns a gzip writer.
// The caller must Flush and Close the returned writer.
func getSaveVarFiles(path string, bf BinFormat) (flushWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "create file")
	}
	if bf == BinUncompressed {
		return &bufferedFile{Writer: bufio.NewWriter(f), f: f}, nil
	}
	var h []byte
	h = append(h, []byte(binHeader)...)
	h = append(h, byte(lenGzipHeader))
	h = append(h, []byte(gzipHeader)...)
	_, err = f.Write(h)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, "write header")
	}
	return &gzipFile{Writer: gzip.NewWriter(f), f: f}, nil
}

// encodeValues converts the values to their little-endian binary representation in the given dtype.
func encodeValues(values []float32, dtype dtypes.DType) ([]byte, error) {
	switch dtype {
	case dtypes.Float32:
		data := make([]byte, 4*len(values))
		for ii, v := range values {
			binary.LittleEndian.PutUint32(data[4*ii:], math.Float32bits(v))
		}
		return data, nil
	case dtypes.Float16:
		data := make([]byte, 2*len(values))
		for ii, v := range values {
			binary.LittleEndian.PutUint16(data[2*ii:], float16.Fromfloat32(v).Bits())
		}
		return data, nil
	default:
		return nil, errors.Errorf("checkpoint storage dtype %s not supported, use Float32 or Float16", dtype)
	}
}

// decodeValues is the inverse of encodeValues: it fills values from data.
func decodeValues(data []byte, dtype dtypes.DType, values []float32) error {
	switch dtype {
	case dtypes.Float32:
		if len(data) != 4*len(values) {
			return errors.Errorf("%d bytes for %d float32 values", len(data), len(values))
		}
		for ii := range values {
			values[ii] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*ii:]))
		}
	case dtypes.Float16:
		if len(data) != 2*len(values) {
			return errors.Errorf("%d bytes for %d float16 values", len(data), len(values))
		}
		for ii := range values {
			values[ii] = float16.Frombits(binary.LittleEndian.Uint16(data[2*ii:])).Float32()
		}
	default:
		return errors.Errorf("checkpoint storage dtype %s not supported", dtype)
	}
	return nil
}

// bytesPerValue for the supported storage dtypes, 0 if not supported.
func bytesPerValue(dtype dtypes.DType) int {
	switch dtype {
	case dtypes.Float32:
		return 4
	case dtypes.Float16:
		return 2
	default:
		return 0
	}
}

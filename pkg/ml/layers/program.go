// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"math"
	"slices"

	"github.com/gomlx/exceptions"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Program is a compiled Stack, ready to be applied to batches of rows.
//
// It holds its own copy of the parameters, so it is immutable after Compile returns and can be shared
// by any number of goroutines without locking.
type Program struct {
	inputDim, outputDim int
	steps               []step
}

// step is one compiled operation: batch normalization is folded into a per-channel affine (a, c) and
// identity ops are dropped.
type step struct {
	kind Kind

	// KindAffine:
	inDim, outDim int
	weights       blas32.General // outDim x inDim
	bias          []float32

	// KindBatchNorm: z = a*y + c, per channel.
	a, c []float32
}

// Compile validates the stack for inputs of dimension inputDim (see Stack.OutputDim) and returns the
// corresponding Program.
//
// Batch normalization parameters are folded, per channel, into
//
//	a = scale / sqrt(variance + epsilon)
//	c = shift - mean * a
//
// computed in float64, so that z = a*y + c equals scale * (y - mean) / sqrt(variance + epsilon) + shift.
// A variance of 0 is fine as long as epsilon > 0.
func (s Stack) Compile(inputDim int) (*Program, error) {
	outputDim, err := s.OutputDim(inputDim)
	if err != nil {
		return nil, err
	}
	p := &Program{inputDim: inputDim, outputDim: outputDim}
	for _, op := range s {
		switch op.Kind {
		case KindAffine:
			params := op.Affine
			p.steps = append(p.steps, step{
				kind:   KindAffine,
				inDim:  params.InDim,
				outDim: params.OutDim,
				weights: blas32.General{
					Rows:   params.OutDim,
					Cols:   params.InDim,
					Stride: params.InDim,
					Data:   slices.Clone(params.Weights),
				},
				bias: slices.Clone(params.Bias),
			})
		case KindBatchNorm:
			params := op.BatchNorm
			st := step{
				kind: KindBatchNorm,
				a:    make([]float32, params.Dim),
				c:    make([]float32, params.Dim),
			}
			for ch := range params.Dim {
				a := float64(params.Scale[ch]) / math.Sqrt(float64(params.Variance[ch])+params.Epsilon)
				st.a[ch] = float32(a)
				st.c[ch] = float32(float64(params.Shift[ch]) - float64(params.Mean[ch])*a)
			}
			p.steps = append(p.steps, st)
		case KindRelu:
			p.steps = append(p.steps, step{kind: KindRelu})
		default:
			// Identity.
		}
	}
	return p, nil
}

// InputDim returns the dimension of each input row.
func (p *Program) InputDim() int { return p.inputDim }

// OutputDim returns the dimension of each output row.
func (p *Program) OutputDim() int { return p.outputDim }

// Apply the program to rows x InputDim values in x (row-major), and returns the rows x OutputDim results.
//
// The contents of x may be overwritten: pass a copy if it needs to be preserved.
// Rows are transformed independently with the same parameters; each affine layer is a single
// matrix multiplication over all rows.
//
// It panics if len(x) != rows*InputDim.
func (p *Program) Apply(x []float32, rows int) []float32 {
	if rows <= 0 || len(x) != rows*p.inputDim {
		exceptions.Panicf("layers.Program.Apply(): got %d values for %d rows of dimension %d", len(x), rows, p.inputDim)
	}
	for ii := range p.steps {
		st := &p.steps[ii]
		switch st.kind {
		case KindAffine:
			x = st.applyAffine(x, rows)
		case KindBatchNorm:
			applyChannelAffine(x, st.a, st.c)
		case KindRelu:
			applyRelu(x)
		default:
		}
	}
	return x
}

// applyAffine returns y = x·Wᵀ + b for all rows of x.
func (st *step) applyAffine(x []float32, rows int) []float32 {
	y := make([]float32, rows*st.outDim)
	for row := range rows {
		copy(y[row*st.outDim:(row+1)*st.outDim], st.bias)
	}
	blas32.Gemm(blas.NoTrans, blas.Trans, 1,
		blas32.General{Rows: rows, Cols: st.inDim, Stride: st.inDim, Data: x},
		st.weights,
		1,
		blas32.General{Rows: rows, Cols: st.outDim, Stride: st.outDim, Data: y})
	return y
}

// applyChannelAffine in-place, x is rows x len(a).
func applyChannelAffine(x, a, c []float32) {
	dim := len(a)
	for start := 0; start < len(x); start += dim {
		row := x[start : start+dim]
		for ch, v := range row {
			row[ch] = a[ch]*v + c[ch]
		}
	}
}

// applyRelu in-place. NaN values are preserved, and -0 becomes 0.
func applyRelu(x []float32) {
	for ii, v := range x {
		if v <= 0 {
			x[ii] = 0
		}
	}
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"fmt"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/gomlx/pcn/pkg/core/shapes"
)

// Stack is an ordered list of layer operations, applied in sequence.
type Stack []Op

// OutputDim validates the chaining of the layers in the stack for inputs of dimension inputDim, and
// returns the dimension of the output.
//
// It returns an error wrapping shapes.ErrShape at the first inconsistency: a layer whose declared input
// dimension differs from the previous layer's output, or whose parameters don't match its declared
// dimensions.
func (s Stack) OutputDim(inputDim int) (int, error) {
	if inputDim <= 0 {
		return 0, shapes.Errorf("invalid input dimension %d for layers stack", inputDim)
	}
	dim := inputDim
	for ii, op := range s {
		var err error
		dim, err = op.outputDim(dim)
		if err != nil {
			return 0, errors.WithMessagef(err, "layer #%d (%s)", ii, op)
		}
	}
	return dim, nil
}

// Clone returns a deep copy of the stack, including the parameters.
func (s Stack) Clone() Stack {
	if s == nil {
		return nil
	}
	s2 := make(Stack, len(s))
	for ii, op := range s {
		s2[ii] = Op{Kind: op.Kind}
		if op.Affine != nil {
			s2[ii].Affine = op.Affine.Clone()
		}
		if op.BatchNorm != nil {
			s2[ii].BatchNorm = op.BatchNorm.Clone()
		}
	}
	return s2
}

// Variable is a named view of one of the parameter arrays of a Stack.
//
// Values share the underlying storage of the parameters: writing to it changes the parameters.
type Variable struct {
	Name   string
	Shape  shapes.Shape
	Values []float32
}

// VariableName returns the name used for the parameter field of the op at position index in a stack under
// the given scope, e.g. "encoder/01/batch_norm/variance".
func VariableName(scope string, index int, kind Kind, field string) string {
	return fmt.Sprintf("%s/%02d/%s/%s", scope, index, kind, field)
}

// Variables enumerates the parameter arrays of the stack, in order, prefixing their names with scope.
// Ops without parameters (relu, identity) contribute no variables.
//
// The stack is assumed to be valid (see OutputDim).
func (s Stack) Variables(scope string) []Variable {
	var vars []Variable
	add := func(index int, kind Kind, field string, values []float32, dims ...int) {
		vars = append(vars, Variable{
			Name:   VariableName(scope, index, kind, field),
			Shape:  shapes.Make(dtypes.Float32, dims...),
			Values: values,
		})
	}
	for ii, op := range s {
		switch op.Kind {
		case KindAffine:
			p := op.Affine
			add(ii, op.Kind, "weights", p.Weights, p.OutDim, p.InDim)
			add(ii, op.Kind, "bias", p.Bias, p.OutDim)
		case KindBatchNorm:
			p := op.BatchNorm
			add(ii, op.Kind, "scale", p.Scale, p.Dim)
			add(ii, op.Kind, "shift", p.Shift, p.Dim)
			add(ii, op.Kind, "mean", p.Mean, p.Dim)
			add(ii, op.Kind, "variance", p.Variance, p.Dim)
		default:
		}
	}
	return vars
}

// NumParameters returns the total number of scalar parameters in the stack.
func (s Stack) NumParameters() (count int) {
	for _, op := range s {
		switch op.Kind {
		case KindAffine:
			if op.Affine != nil {
				count += len(op.Affine.Weights) + len(op.Affine.Bias)
			}
		case KindBatchNorm:
			if op.BatchNorm != nil {
				count += 4 * op.BatchNorm.Dim
			}
		default:
		}
	}
	return
}

// OpLayout describes an Op without its parameter values. It's what gets serialized as metadata when saving
// a stack, and it's enough to allocate the parameters again with FromLayout.
type OpLayout struct {
	Kind    Kind    `json:"kind"`
	InDim   int     `json:"in_dim,omitempty"`
	OutDim  int     `json:"out_dim,omitempty"`
	Epsilon float64 `json:"epsilon,omitempty"`
}

// Layout returns the structure of the stack, without the parameter values.
func (s Stack) Layout() []OpLayout {
	layout := make([]OpLayout, 0, len(s))
	for _, op := range s {
		l := OpLayout{Kind: op.Kind}
		switch op.Kind {
		case KindAffine:
			l.InDim, l.OutDim = op.Affine.InDim, op.Affine.OutDim
		case KindBatchNorm:
			l.InDim, l.OutDim = op.BatchNorm.Dim, op.BatchNorm.Dim
			l.Epsilon = op.BatchNorm.Epsilon
		default:
		}
		layout = append(layout, l)
	}
	return layout
}

// MaxLayerParameters is the largest number of parameters a single layer described by an OpLayout may hold.
const MaxLayerParameters = 1 << 30

// LayoutOutputDim validates a layout for inputs of dimension inputDim and returns the dimension of the output.
// Nothing is allocated, so it's safe to call on layouts read from untrusted files.
//
// It returns an error wrapping shapes.ErrShape if any dimension is invalid, if the layers don't chain, or
// if a layer would hold more than MaxLayerParameters parameters.
func LayoutOutputDim(layout []OpLayout, inputDim int) (int, error) {
	if inputDim <= 0 {
		return 0, shapes.Errorf("invalid input dimension %d for layout", inputDim)
	}
	dim := inputDim
	for ii, l := range layout {
		switch l.Kind {
		case KindAffine:
			if l.InDim <= 0 || l.OutDim <= 0 {
				return 0, shapes.Errorf("layout #%d: invalid affine dimensions %d->%d", ii, l.InDim, l.OutDim)
			}
			if l.InDim > (MaxLayerParameters-l.OutDim)/l.OutDim {
				return 0, shapes.Errorf("layout #%d: affine %d->%d has more than %d parameters",
					ii, l.InDim, l.OutDim, MaxLayerParameters)
			}
		case KindBatchNorm:
			if l.InDim <= 0 || l.InDim != l.OutDim || l.InDim > MaxLayerParameters/4 {
				return 0, shapes.Errorf("layout #%d: invalid batch_norm dimensions %d->%d", ii, l.InDim, l.OutDim)
			}
			if l.Epsilon < 0 {
				return 0, shapes.Errorf("layout #%d: batch_norm epsilon must be >= 0, got %g", ii, l.Epsilon)
			}
		case KindRelu, KindIdentity:
			continue
		default:
			return 0, shapes.Errorf("layout #%d: unknown layer kind %s", ii, l.Kind)
		}
		if l.InDim != dim {
			return 0, shapes.Errorf("layout #%d: %s takes inputs of dimension %d, but previous layer outputs dimension %d",
				ii, l.Kind, l.InDim, dim)
		}
		dim = l.OutDim
	}
	return dim, nil
}

// LayoutVariables lists the variables a stack built from the layout would have, under the given scope,
// with nil Values. The layout is assumed to be valid (see LayoutOutputDim).
func LayoutVariables(scope string, layout []OpLayout) []Variable {
	var vars []Variable
	add := func(index int, kind Kind, field string, dims ...int) {
		vars = append(vars, Variable{
			Name:  VariableName(scope, index, kind, field),
			Shape: shapes.Make(dtypes.Float32, dims...),
		})
	}
	for ii, l := range layout {
		switch l.Kind {
		case KindAffine:
			add(ii, l.Kind, "weights", l.OutDim, l.InDim)
			add(ii, l.Kind, "bias", l.OutDim)
		case KindBatchNorm:
			for _, field := range []string{"scale", "shift", "mean", "variance"} {
				add(ii, l.Kind, field, l.InDim)
			}
		default:
		}
	}
	return vars
}

// FromLayout allocates a new Stack with the given structure, for inputs of dimension inputDim.
// Affine parameters are zero-initialized and batch normalization starts as identity (see NewBatchNorm).
//
// The layout is validated with LayoutOutputDim before anything is allocated.
func FromLayout(layout []OpLayout, inputDim int) (Stack, error) {
	if _, err := LayoutOutputDim(layout, inputDim); err != nil {
		return nil, err
	}
	s := make(Stack, 0, len(layout))
	for _, l := range layout {
		switch l.Kind {
		case KindAffine:
			s = append(s, Affine(NewAffine(l.InDim, l.OutDim)))
		case KindBatchNorm:
			s = append(s, BatchNorm(NewBatchNorm(l.InDim, l.Epsilon)))
		case KindRelu:
			s = append(s, Relu())
		default:
			s = append(s, Identity())
		}
	}
	return s, nil
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"github.com/pkg/errors"
)

// ErrShape is the error kind for every structural invariant violation: wrong point dimensionality,
// layer dimension mismatch, empty input set, or a final output width that is not a whole number of points.
//
// Errors returned by this module always wrap it, so use errors.Is(err, shapes.ErrShape) to test for it.
var ErrShape = errors.New("shape error")

// Errorf returns a new error wrapping ErrShape with the formatted message and a stack trace.
func Errorf(format string, args ...any) error {
	return errors.Wrapf(ErrShape, format, args...)
}

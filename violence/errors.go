// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package violence

import (
	"fmt"
	"strings"
)

// ShapeMismatchError reports a configuration that leads to incompatible tensor shapes, e.g. a
// hidden width not divisible by the number of attention heads, or a residual whose width differs
// from the stage it is added to. It is fatal and should not be retried.
type ShapeMismatchError struct {
	Where string
	Want  string
	Got   any
}

// Error implements the error interface.
func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch in %s: want %s, got %v", e.Where, e.Want, e.Got)
}

// NumericInstabilityWarning reports non-finite values (NaN or ±Inf) found in the output of a stage
// of the model. It is observational: the scores are still returned, and the caller decides whether
// to reject the batch.
type NumericInstabilityWarning struct {
	Stage string
}

// String implements fmt.Stringer.
func (w NumericInstabilityWarning) String() string {
	return fmt.Sprintf("non-finite values found after stage %q", w.Stage)
}

// NumericInstabilityError is returned by Scorer.ScoreStrict when warnings were raised.
type NumericInstabilityError struct {
	Warnings []NumericInstabilityWarning
}

// Error implements the error interface.
func (e *NumericInstabilityError) Error() string {
	stages := make([]string, len(e.Warnings))
	for i, w := range e.Warnings {
		stages[i] = w.Stage
	}
	return fmt.Sprintf("numeric instability: non-finite values after stages [%s]", strings.Join(stages, ", "))
}

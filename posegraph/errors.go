// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package posegraph

import "fmt"

// ValidationReason enumerates why a batch of graphs was rejected.
type ValidationReason string

const (
	ReasonEmptyBatch          ValidationReason = "empty batch"
	ReasonEmptyGraph          ValidationReason = "graph without nodes"
	ReasonEdgeOutOfRange      ValidationReason = "edge index out of range"
	ReasonChannelMismatch     ValidationReason = "mismatched coordinate width"
	ReasonBatchVectorMismatch ValidationReason = "batch vector inconsistent with nodes"
)

// ValidationError is returned when a GraphBatch (or the graphs used to build it) is malformed.
// It is always returned before any computation takes place.
//
// Graph is the index of the offending graph within the batch, or -1 if the error is not
// attributable to a single graph.
type ValidationError struct {
	Reason ValidationReason
	Graph  int
	Detail string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Graph < 0 {
		return fmt.Sprintf("invalid graph batch: %s: %s", e.Reason, e.Detail)
	}
	return fmt.Sprintf("invalid graph batch: graph #%d: %s: %s", e.Graph, e.Reason, e.Detail)
}

func newValidationError(reason ValidationReason, graph int, format string, args ...any) *ValidationError {
	return &ValidationError{Reason: reason, Graph: graph, Detail: fmt.Sprintf(format, args...)}
}

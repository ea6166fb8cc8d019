// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package violence

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/posegnn/gnn"
)

// ClassificationHead maps graph embeddings [batchSize, Hidden] to violence probabilities [batchSize, 1]:
// Dense(h/2) → ReLU → Dropout → Dense(1) → Sigmoid.
type ClassificationHead struct {
	Hidden  int
	Dropout float64
}

// Apply returns the probabilities, in [0, 1].
func (h *ClassificationHead) Apply(ctx *context.Context, mode gnn.ExecutionMode, x *Node) *Node {
	ctx = ctx.In("head")
	x = layers.Dense(ctx.In("0"), x, true, h.Hidden/2)
	x = activations.Relu(x)
	x = gnn.Dropout(ctx, mode, x, h.Dropout)
	x = layers.Dense(ctx.In("1"), x, true, 1)
	return Sigmoid(x)
}

// projectEmbedding maps the pooled multi-level descriptors [batchSize, 3h] to the working width h.
func projectEmbedding(ctx *context.Context, x *Node, hidden int) *Node {
	return layers.Dense(ctx.In("projection"), x, true, hidden)
}

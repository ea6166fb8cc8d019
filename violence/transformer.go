// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package violence

import (
	"fmt"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/attention"
	"github.com/gomlx/posegnn/gnn"
)

// SequenceTransformer contextualizes the graph embeddings with a stack of post-norm transformer
// encoder layers. Each graph embedding is treated as a sequence of length 1:
//
//	x = LayerNorm(x + Dropout(SelfAttention(x)))
//	x = LayerNorm(x + Dropout(FeedForward(x))), FeedForward = Dense(4h) → ReLU → Dropout → Dense(h)
type SequenceTransformer struct {
	Hidden, Heads, Layers int
	Dropout               float64
	LayerNormEpsilon      float64
}

// Apply transforms x shaped [batchSize, Hidden] and returns the same shape.
func (t *SequenceTransformer) Apply(ctx *context.Context, mode gnn.ExecutionMode, x *Node) *Node {
	if t.Heads <= 0 || t.Hidden%t.Heads != 0 {
		exceptions.Panicf("transformer hidden size %d must be divisible by the number of heads %d", t.Hidden, t.Heads)
	}
	if x.Rank() != 2 || x.Shape().Dimensions[1] != t.Hidden {
		exceptions.Panicf("transformer input shaped %s, expected [batchSize, %d]", x.Shape(), t.Hidden)
	}
	ctx = ctx.In("transformer")
	g := x.Graph()
	batchSize := x.Shape().Dimensions[0]

	// [batchSize, 1, hidden] plus the learned embedding of the single position.
	x = InsertAxes(x, 1)
	posEmbed := ctx.VariableWithShape("positional_embedding", shapes.Make(x.DType(), 1, 1, t.Hidden)).ValueGraph(g)
	x = Add(x, posEmbed)

	for layer := range t.Layers {
		x = t.encoderLayer(ctx.In(fmt.Sprintf("layer_%d", layer)), mode, x)
	}
	return Reshape(x, batchSize, t.Hidden)
}

func (t *SequenceTransformer) encoderLayer(ctx *context.Context, mode gnn.ExecutionMode, x *Node) *Node {
	mha := attention.SelfAttention(ctx, x, t.Heads, t.Hidden/t.Heads).WithOutputDim(t.Hidden)
	if mode == gnn.Train && t.Dropout > 0 {
		mha = mha.WithDropout(Scalar(x.Graph(), x.DType(), t.Dropout))
	}
	attended := gnn.Dropout(ctx.In("attention"), mode, mha.Done(), t.Dropout)
	x = layers.LayerNormalization(ctx.In("attention_norm"), Add(x, attended), -1).Epsilon(t.LayerNormEpsilon).Done()

	ffCtx := ctx.In("feed_forward")
	ff := layers.Dense(ffCtx.In("0"), x, true, 4*t.Hidden)
	ff = activations.Relu(ff)
	ff = gnn.Dropout(ffCtx, mode, ff, t.Dropout)
	ff = layers.Dense(ffCtx.In("1"), ff, true, t.Hidden)
	ff = gnn.Dropout(ctx.In("feed_forward_output"), mode, ff, t.Dropout)
	return layers.LayerNormalization(ctx.In("feed_forward_norm"), Add(x, ff), -1).Epsilon(t.LayerNormEpsilon).Done()
}

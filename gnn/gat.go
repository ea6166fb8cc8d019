// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gnn

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
)

// GAT is the multi-head graph attention stage. Each of the Heads produces Hidden/Heads features,
// concatenated back to Hidden:
//
//	e_ij = LeakyReLU(a_src · W x_j + a_dst · W x_i)
//	α_ij = softmax of e_ij over the incoming edges of i (per head)
//	x'_i = Σ_j α_ij W x_j + b
//
// followed by BatchNorm → ReLU → Dropout.
type GAT struct {
	Hidden, Heads int
	Dropout       float64
	Normalization Normalization

	// NegativeSlope of the LeakyReLU applied to the attention logits. Default is 0.2.
	NegativeSlope float64
}

var _ GraphEncoderStage = (*GAT)(nil)

// Name implements GraphEncoderStage.
func (s *GAT) Name() string { return "gat" }

// Encode implements GraphEncoderStage.
func (s *GAT) Encode(ctx *context.Context, mode ExecutionMode, state State, edges *Edges) State {
	ctx = ctx.In(s.Name())
	x := s.Attention(ctx, state.Nodes, edges)
	x = s.Normalization.Apply(ctx, x)
	x = activations.Relu(x)
	x = Dropout(ctx, mode, x, s.Dropout)
	return State{Nodes: x, Residual: state.Residual}
}

// Attention returns the attention-weighted aggregation (with bias, before normalization), shaped [numNodes, Hidden].
func (s *GAT) Attention(ctx *context.Context, x *Node, edges *Edges) *Node {
	x, _ = s.attention(ctx, x, edges)
	return x
}

// AttentionWeights returns the per-edge per-head attention weights, shaped [numEdges, Heads].
// It uses the same variables as Attention.
func (s *GAT) AttentionWeights(ctx *context.Context, x *Node, edges *Edges) *Node {
	_, weights := s.attention(ctx, x, edges)
	return weights
}

func (s *GAT) attention(ctx *context.Context, x *Node, edges *Edges) (output, weights *Node) {
	if s.Heads <= 0 || s.Hidden%s.Heads != 0 {
		exceptions.Panicf("GAT hidden size %d must be divisible by the number of heads %d", s.Hidden, s.Heads)
	}
	g := x.Graph()
	dtype := x.DType()
	headDim := s.Hidden / s.Heads
	numNodes := x.Shape().Dimensions[0]
	slope := s.NegativeSlope
	if slope == 0 {
		slope = 0.2
	}

	projected := layers.Dense(ctx, x, false, s.Heads, headDim) // [numNodes, heads, headDim]
	attnSource := ctx.VariableWithShape("attention_source", shapes.Make(dtype, 1, s.Heads, headDim)).ValueGraph(g)
	attnTarget := ctx.VariableWithShape("attention_target", shapes.Make(dtype, 1, s.Heads, headDim)).ValueGraph(g)
	alphaSource := ReduceSum(Mul(projected, attnSource), -1) // [numNodes, heads]
	alphaTarget := ReduceSum(Mul(projected, attnTarget), -1)

	logits := Add(edges.GatherSources(alphaSource), edges.GatherTargets(alphaTarget)) // [numEdges, heads]
	logits = activations.LeakyReluWith(logits, slope)
	weights = EdgeSoftmax(logits, edges)

	messages := Mul(edges.GatherSources(projected), InsertAxes(weights, -1)) // [numEdges, heads, headDim]
	output = edges.SumAggregate(messages)
	output = Reshape(output, numNodes, s.Hidden)
	output = addBias(ctx, output)
	return
}

// EdgeSoftmax normalizes logits shaped [numEdges, heads] with a softmax over the incoming edges
// of each target node, independently per head. For every target with at least one incoming edge
// the returned weights sum to 1.
func EdgeSoftmax(logits *Node, edges *Edges) *Node {
	g := logits.Graph()
	dtype := logits.DType()
	numHeads := logits.Shape().Dimensions[1]
	lowest := BroadcastToDims(Infinity(g, dtype, -1), edges.NumNodes, numHeads)
	maxPerTarget := StopGradient(ScatterMax(lowest, edges.Targets, logits, false, false))
	expLogits := Exp(Sub(logits, edges.GatherTargets(maxPerTarget)))
	sumPerTarget := edges.SumAggregate(expLogits)
	return Div(expLogits, edges.GatherTargets(sumPerTarget))
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gnn

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
)

// GCN is the spectral graph convolution stage:
//
//	Dropout(ReLU(BatchNorm(Â · X · W + b)))
//
// where Â = D^{-1/2} (A+I) D^{-1/2} is the symmetrically normalized adjacency with self-loops.
//
// Its output is also stored as the State.Residual.
type GCN struct {
	Hidden        int
	Dropout       float64
	Normalization Normalization
}

var _ GraphEncoderStage = (*GCN)(nil)

// Name implements GraphEncoderStage.
func (s *GCN) Name() string { return "gcn" }

// Encode implements GraphEncoderStage.
func (s *GCN) Encode(ctx *context.Context, mode ExecutionMode, state State, edges *Edges) State {
	ctx = ctx.In(s.Name())
	x := layers.Dense(ctx, state.Nodes, false, s.Hidden)
	x = NormalizedAdjacency(x, edges)
	x = addBias(ctx, x)
	x = s.Normalization.Apply(ctx, x)
	x = activations.Relu(x)
	x = Dropout(ctx, mode, x, s.Dropout)
	return State{Nodes: x, Residual: x}
}

// NormalizedAdjacency computes Â · x, with Â = D^{-1/2} (A+I) D^{-1/2}.
//
// The edges must include the self-loops, so every degree is >= 1, and the self term of node i
// is x_i / deg_i.
func NormalizedAdjacency(x *Node, edges *Edges) *Node {
	invSqrtDegree := Rsqrt(edges.InDegree(x.DType())) // [numNodes, 1]
	edgeWeights := Mul(edges.GatherSources(invSqrtDegree), edges.GatherTargets(invSqrtDegree))
	messages := Mul(edges.GatherSources(x), edgeWeights) // [numEdges, features]
	return edges.SumAggregate(messages)
}

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

// ResidualPlacement selects where GIN adds the residual carried in State.Residual.
type ResidualPlacement string

const (
	// ResidualAfterMLP adds the residual to the output of the GIN perceptron, before the stage's
	// BatchNorm and ReLU. This is the default.
	ResidualAfterMLP ResidualPlacement = "after_mlp"

	// ResidualBeforeMLP adds the residual to the aggregated sum, before the GIN perceptron.
	ResidualBeforeMLP ResidualPlacement = "before_mlp"
)

// GIN is the injective (sum) aggregation stage:
//
//	h_i = MLP(x_i + Σ_{j ∈ N(i)} x_j), with MLP = Linear(h,2h) → BatchNorm → ReLU → Linear(2h,h)
//	x'_i = ReLU(BatchNorm(h_i + residual_i))
//
// The residual is taken from State.Residual (if set) and consumed: the returned state has no residual.
// No dropout is applied in this stage.
type GIN struct {
	Hidden        int
	Normalization Normalization
	Placement     ResidualPlacement

	// OnResidualMismatch is called when the residual shape differs from the node states it is
	// added to. It must panic. If nil, it panics with a plain error message.
	OnResidualMismatch func(want, got shapes.Shape)
}

var _ GraphEncoderStage = (*GIN)(nil)

// Name implements GraphEncoderStage.
func (s *GIN) Name() string { return "gin" }

// Encode implements GraphEncoderStage.
func (s *GIN) Encode(ctx *context.Context, _ ExecutionMode, state State, edges *Edges) State {
	ctx = ctx.In(s.Name())
	x := state.Nodes
	residual := state.Residual

	// Self-loops are part of the edges, so this is x_i + Σ_j x_j (GIN with eps=0).
	x = edges.SumAggregate(edges.GatherSources(x))
	if residual != nil && s.Placement == ResidualBeforeMLP {
		x = s.addResidual(x, residual)
	}

	mlpCtx := ctx.In("mlp")
	x = layers.Dense(mlpCtx.In("0"), x, true, 2*s.Hidden)
	x = s.Normalization.Apply(mlpCtx, x)
	x = activations.Relu(x)
	x = layers.Dense(mlpCtx.In("1"), x, true, s.Hidden)

	if residual != nil && s.Placement != ResidualBeforeMLP {
		x = s.addResidual(x, residual)
	}
	x = s.Normalization.Apply(ctx, x)
	x = activations.Relu(x)
	return State{Nodes: x}
}

func (s *GIN) addResidual(x, residual *Node) *Node {
	if !residual.Shape().Equal(x.Shape()) {
		if s.OnResidualMismatch != nil {
			s.OnResidualMismatch(x.Shape(), residual.Shape())
		}
		exceptions.Panicf("GIN residual shaped %s doesn't match the node states shaped %s", residual.Shape(), x.Shape())
	}
	return Add(x, residual)
}

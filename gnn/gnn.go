// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package gnn implements the graph encoder stages used to model pose graphs: a normalized graph
// convolution (GCN), multi-head graph attention (GAT) and sum aggregation with an MLP (GIN),
// plus the multi-level fusion and multi-scale pooling that turn node states into per-graph
// descriptors.
//
// Graphs are given as flattened node features `[numNodes, features]` and a list of directed
// message edges (sources and targets shaped `[numEdges, 1]`), which must already include one
// self-loop per node (see posegraph.Batch.MessageEdges). Messages are gathered from the
// sources and scattered (summed, max-ed, ...) into the targets.
//
// All stages take an explicit ExecutionMode: dropout is only applied in Train mode, and batch
// normalization uses batch statistics only in Train mode.
package gnn

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
)

// ExecutionMode selects between training and inference behavior of dropout and batch normalization.
type ExecutionMode int

const (
	// Eval disables dropout and normalizes with the moving averages collected during training.
	Eval ExecutionMode = iota

	// Train enables dropout and normalizes with the batch statistics, updating the moving averages.
	Train
)

// String implements fmt.Stringer.
func (m ExecutionMode) String() string {
	switch m {
	case Eval:
		return "Eval"
	case Train:
		return "Train"
	default:
		return fmt.Sprintf("ExecutionMode(%d)", int(m))
	}
}

// Apply sets the context training flag for graph g to match the mode.
//
// It must be called once at the start of a graph building function: GoMLX layers (batch
// normalization, dropout) consult the context's flag, and this keeps them in agreement with
// the mode passed explicitly to the stages.
func (m ExecutionMode) Apply(ctx *context.Context, g *Graph) {
	ctx.SetTraining(g, m == Train)
}

// ModeOf returns the ExecutionMode matching the context training flag for graph g.
// Used when the graph is built by a trainer, which sets the flag itself.
func ModeOf(ctx *context.Context, g *Graph) ExecutionMode {
	if ctx.IsTraining(g) {
		return Train
	}
	return Eval
}

// Edges are the directed message edges of a batch of graphs, including one self-loop per node.
type Edges struct {
	// Sources and Targets are int32 shaped [numEdges, 1].
	Sources, Targets *Node

	// NumNodes is the total number of nodes in the batch.
	NumNodes int

	inDegree *Node
}

// NewEdges creates the Edges for a batch with numNodes nodes.
func NewEdges(sources, targets *Node, numNodes int) *Edges {
	if !sources.Shape().Equal(targets.Shape()) || sources.Rank() != 2 || sources.Shape().Dimensions[1] != 1 {
		exceptions.Panicf("edges sources (%s) and targets (%s) must both be shaped [numEdges, 1]", sources.Shape(), targets.Shape())
	}
	return &Edges{Sources: sources, Targets: targets, NumNodes: numNodes}
}

// NumEdges returns the number of directed message edges, self-loops included.
func (e *Edges) NumEdges() int { return e.Sources.Shape().Dimensions[0] }

// InDegree returns the number of incoming message edges of each node, shaped [NumNodes, 1].
// Since self-loops are included, it is always >= 1.
func (e *Edges) InDegree(dtype dtypes.DType) *Node {
	if e.inDegree == nil || e.inDegree.DType() != dtype {
		g := e.Targets.Graph()
		ones := Ones(g, shapes.Make(dtype, e.NumEdges(), 1))
		e.inDegree = Scatter(e.Targets, ones, shapes.Make(dtype, e.NumNodes, 1), false, false)
	}
	return e.inDegree
}

// SumAggregate sums the messages of the incoming edges of each target node.
// messages are shaped [numEdges, ...] and the output [NumNodes, ...].
func (e *Edges) SumAggregate(messages *Node) *Node {
	dims := messages.Shape().Dimensions
	if dims[0] != e.NumEdges() {
		exceptions.Panicf("messages (%s) must have one entry per edge (%d edges)", messages.Shape(), e.NumEdges())
	}
	outDims := append([]int{e.NumNodes}, dims[1:]...)
	return Scatter(e.Targets, messages, shapes.Make(messages.DType(), outDims...), false, false)
}

// GatherSources returns the features of the source node of each edge, shaped [numEdges, ...].
func (e *Edges) GatherSources(x *Node) *Node { return Gather(x, e.Sources) }

// GatherTargets returns the features of the target node of each edge, shaped [numEdges, ...].
func (e *Edges) GatherTargets(x *Node) *Node { return Gather(x, e.Targets) }

// State is the hidden state carried between encoder stages.
type State struct {
	// Nodes are the node features, shaped [numNodes, hidden].
	Nodes *Node

	// Residual is the side-channel representation produced by an early stage to be
	// re-injected by a later one (GCN sets it, GIN consumes it). It may be nil.
	Residual *Node
}

// GraphEncoderStage is one message-passing stage: it maps node features to new node features,
// using its own aggregation algorithm. Each stage creates its variables under its own scope.
type GraphEncoderStage interface {
	// Name is used as the variables scope of the stage.
	Name() string

	// Encode returns the new State. It never changes the state passed in.
	Encode(ctx *context.Context, mode ExecutionMode, state State, edges *Edges) State
}

// Normalization configures the batch normalization applied by the stages over the node axis.
type Normalization struct {
	Momentum, Epsilon float64
}

// DefaultNormalization matches the usual PyTorch defaults (momentum 0.1 there is 0.9 here, since
// GoMLX uses the weight of the previous average).
var DefaultNormalization = Normalization{Momentum: 0.9, Epsilon: 1e-5}

// Apply batch-normalizes x [numNodes, features] over the nodes, creating the variables under ctx.
func (n Normalization) Apply(ctx *context.Context, x *Node) *Node {
	return batchnorm.New(ctx, x, -1).Momentum(n.Momentum).Epsilon(n.Epsilon).UseBackendInference(false).Done()
}

// Dropout applies dropout with the given rate under the "dropout" scope. It is an identity unless mode is Train.
func Dropout(ctx *context.Context, mode ExecutionMode, x *Node, rate float64) *Node {
	if mode != Train || rate <= 0 {
		return x
	}
	return layers.DropoutNormalize(ctx.In("dropout"), x, Scalar(x.Graph(), x.DType(), rate), true)
}

// addBias adds a zero-initialized learned bias over the last axis of x.
func addBias(ctx *context.Context, x *Node) *Node {
	dims := x.Shape().Dimensions
	lastDim := dims[len(dims)-1]
	biasVar := ctx.WithInitializer(initializers.Zero).VariableWithShape("bias", shapes.Make(x.DType(), lastDim))
	bias := biasVar.ValueGraph(x.Graph())
	expandedDims := make([]int, len(dims))
	for i := range expandedDims {
		expandedDims[i] = 1
	}
	expandedDims[len(dims)-1] = lastDim
	return Add(x, Reshape(bias, expandedDims...))
}

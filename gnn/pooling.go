// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gnn

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
)

// JumpingKnowledge fuses the node states of several stages by concatenating them along the
// feature axis. It has no parameters.
func JumpingKnowledge(states ...*Node) *Node {
	if len(states) == 0 {
		exceptions.Panicf("JumpingKnowledge requires at least one state")
	}
	numNodes := states[0].Shape().Dimensions[0]
	for i, s := range states {
		if s.Rank() != 2 || s.Shape().Dimensions[0] != numNodes {
			exceptions.Panicf("JumpingKnowledge state #%d shaped %s, expected [%d, features]", i, s.Shape(), numNodes)
		}
	}
	return Concatenate(states, -1)
}

// MultiScalePool reduces node features x [numNodes, features] to one descriptor per graph,
// shaped [numGraphs, features]: the element-wise average of the mean, max and sum of the
// features of the nodes of each graph.
//
// batch [numNodes, 1] (int32) holds the graph index of each node, and graphSizes [numGraphs]
// the number of nodes of each graph (all > 0). The result doesn't depend on the order of the
// nodes within a graph.
func MultiScalePool(x, batch, graphSizes *Node) *Node {
	g := x.Graph()
	dtype := x.DType()
	numGraphs := graphSizes.Shape().Dimensions[0]
	numFeatures := x.Shape().Dimensions[1]
	pooledShape := shapes.Make(dtype, numGraphs, numFeatures)

	sum := Scatter(batch, x, pooledShape, true, false)
	counts := InsertAxes(ConvertDType(graphSizes, dtype), -1) // [numGraphs, 1]
	mean := Div(sum, counts)
	lowest := BroadcastToDims(Infinity(g, dtype, -1), numGraphs, numFeatures)
	maximum := ScatterMax(lowest, batch, x, true, false)
	return DivScalar(Add(Add(mean, maximum), sum), 3)
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package posegraph

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// SkeletonGraph is one pose: keypoints (nodes) plus the anatomical edges between them.
//
// Edges are stored as given, but they are treated as undirected: both directions contribute
// to the aggregation.
type SkeletonGraph struct {
	Nodes []Keypoint
	Edges [][2]int
}

// NumNodes returns the number of keypoints in the graph.
func (g SkeletonGraph) NumNodes() int { return len(g.Nodes) }

// Batch is a disjoint union of SkeletonGraph flattened into one arena of nodes.
//
// Graph k owns the node range [Offsets[k], Offsets[k]+GraphSizes[k]), and BatchIndex maps each
// node back to its graph, so BatchIndex is non-decreasing.
//
// Sources and Targets hold the edges re-based to the arena numbering. NewBatch stores both
// directions of every undirected edge, without duplicates or self-loops. A hand-assembled Batch
// may store them in any form: MessageEdges treats them as undirected regardless.
type Batch struct {
	NumGraphs, TotalNodes, InChannels int

	// X is the node features matrix shaped [TotalNodes, InChannels], in row-major order.
	X []float32

	Sources, Targets []int32
	BatchIndex       []int32
	GraphSizes       []int32
	Offsets          []int32
}

// NewBatch validates and flattens the graphs into one Batch.
//
// It returns a *ValidationError (wrapped with a stack) for an empty list of graphs, a graph without
// nodes, an edge index out of range, or mismatched coordinate width. No partial batch is
// returned on error.
func NewBatch(graphs []SkeletonGraph) (*Batch, error) {
	if len(graphs) == 0 {
		return nil, errors.WithStack(newValidationError(ReasonEmptyBatch, -1, "no graphs given"))
	}
	inChannels := -1
	totalNodes := 0
	for gIdx, graph := range graphs {
		if len(graph.Nodes) == 0 {
			return nil, errors.WithStack(newValidationError(ReasonEmptyGraph, gIdx, "graph has 0 nodes"))
		}
		for nIdx, node := range graph.Nodes {
			if inChannels < 0 {
				inChannels = node.Dim()
			}
			if node.Dim() != inChannels || inChannels == 0 {
				return nil, errors.WithStack(newValidationError(ReasonChannelMismatch, gIdx,
					"node #%d has %d coordinates, expected %d", nIdx, node.Dim(), inChannels))
			}
		}
		for eIdx, edge := range graph.Edges {
			if edge[0] < 0 || edge[0] >= len(graph.Nodes) || edge[1] < 0 || edge[1] >= len(graph.Nodes) {
				return nil, errors.WithStack(newValidationError(ReasonEdgeOutOfRange, gIdx,
					"edge #%d (%d, %d) not in [0, %d)", eIdx, edge[0], edge[1], len(graph.Nodes)))
			}
		}
		totalNodes += len(graph.Nodes)
	}

	b := &Batch{
		NumGraphs:  len(graphs),
		TotalNodes: totalNodes,
		InChannels: inChannels,
		X:          make([]float32, 0, totalNodes*inChannels),
		BatchIndex: make([]int32, 0, totalNodes),
		GraphSizes: make([]int32, len(graphs)),
		Offsets:    make([]int32, len(graphs)),
	}
	offset := 0
	for gIdx, graph := range graphs {
		b.Offsets[gIdx] = int32(offset)
		b.GraphSizes[gIdx] = int32(len(graph.Nodes))
		for _, node := range graph.Nodes {
			b.X = node.appendTo(b.X)
			b.BatchIndex = append(b.BatchIndex, int32(gIdx))
		}
		seen := make(map[[2]int]bool, 2*len(graph.Edges))
		for _, edge := range graph.Edges {
			if edge[0] == edge[1] {
				// Self-loops are added uniformly by MessageEdges.
				continue
			}
			for _, directed := range [2][2]int{{edge[0], edge[1]}, {edge[1], edge[0]}} {
				if seen[directed] {
					continue
				}
				seen[directed] = true
				b.Sources = append(b.Sources, int32(directed[0]+offset))
				b.Targets = append(b.Targets, int32(directed[1]+offset))
			}
		}
		offset += len(graph.Nodes)
	}
	return b, nil
}

// NumEdges returns the number of directed edges, not counting self-loops.
func (b *Batch) NumEdges() int { return len(b.Sources) }

// Validate checks the consistency of a Batch, in particular of one assembled by hand:
// the batch vector must have one entry per node, be non-decreasing, and cover every graph;
// edges must be within the node range and the features matrix must match the dimensions.
func (b *Batch) Validate() error {
	if b.NumGraphs <= 0 {
		return errors.WithStack(newValidationError(ReasonEmptyBatch, -1, "batch has %d graphs", b.NumGraphs))
	}
	if b.InChannels <= 0 || len(b.X) != b.TotalNodes*b.InChannels {
		return errors.WithStack(newValidationError(ReasonChannelMismatch, -1,
			"features have %d values, expected %d nodes x %d channels", len(b.X), b.TotalNodes, b.InChannels))
	}
	if len(b.BatchIndex) != b.TotalNodes {
		return errors.WithStack(newValidationError(ReasonBatchVectorMismatch, -1,
			"batch vector has length %d, but there are %d nodes", len(b.BatchIndex), b.TotalNodes))
	}
	if len(b.GraphSizes) != b.NumGraphs {
		return errors.WithStack(newValidationError(ReasonBatchVectorMismatch, -1,
			"%d graph sizes given for %d graphs", len(b.GraphSizes), b.NumGraphs))
	}
	counts := make([]int32, b.NumGraphs)
	for i, gIdx := range b.BatchIndex {
		if gIdx < 0 || int(gIdx) >= b.NumGraphs {
			return errors.WithStack(newValidationError(ReasonBatchVectorMismatch, -1,
				"node #%d assigned to graph %d, not in [0, %d)", i, gIdx, b.NumGraphs))
		}
		if i > 0 && gIdx < b.BatchIndex[i-1] {
			return errors.WithStack(newValidationError(ReasonBatchVectorMismatch, int(gIdx),
				"batch vector decreases at node #%d", i))
		}
		counts[gIdx]++
	}
	for gIdx, count := range counts {
		if count == 0 {
			return errors.WithStack(newValidationError(ReasonEmptyGraph, gIdx, "graph has 0 nodes"))
		}
		if count != b.GraphSizes[gIdx] {
			return errors.WithStack(newValidationError(ReasonBatchVectorMismatch, gIdx,
				"batch vector assigns %d nodes, graph size is %d", count, b.GraphSizes[gIdx]))
		}
	}
	if len(b.Sources) != len(b.Targets) {
		return errors.WithStack(newValidationError(ReasonEdgeOutOfRange, -1,
			"%d edge sources but %d edge targets", len(b.Sources), len(b.Targets)))
	}
	for eIdx := range b.Sources {
		src, tgt := b.Sources[eIdx], b.Targets[eIdx]
		if src < 0 || int(src) >= b.TotalNodes || tgt < 0 || int(tgt) >= b.TotalNodes {
			return errors.WithStack(newValidationError(ReasonEdgeOutOfRange, -1,
				"edge #%d (%d, %d) not in [0, %d)", eIdx, src, tgt, b.TotalNodes))
		}
		if b.BatchIndex[src] != b.BatchIndex[tgt] {
			return errors.WithStack(newValidationError(ReasonEdgeOutOfRange, int(b.BatchIndex[src]),
				"edge #%d (%d, %d) crosses into graph %d", eIdx, src, tgt, b.BatchIndex[tgt]))
		}
	}
	return nil
}

// MessageEdges returns the directed edges used for message passing, that is the adjacency A+I:
// both directions of every stored edge, each once and in order of first appearance, followed by
// one self-loop per node. Stored self-loops and duplicates are dropped.
//
// Since every node has at least its self-loop, the list is never empty, even for graphs without edges.
func (b *Batch) MessageEdges() (sources, targets []int32) {
	numEdges := 2*len(b.Sources) + b.TotalNodes
	sources = make([]int32, 0, numEdges)
	targets = make([]int32, 0, numEdges)
	seen := make(map[[2]int32]bool, 2*len(b.Sources))
	for eIdx, src := range b.Sources {
		tgt := b.Targets[eIdx]
		if src == tgt {
			continue
		}
		for _, directed := range [2][2]int32{{src, tgt}, {tgt, src}} {
			if seen[directed] {
				continue
			}
			seen[directed] = true
			sources = append(sources, directed[0])
			targets = append(targets, directed[1])
		}
	}
	for node := range int32(b.TotalNodes) {
		sources = append(sources, node)
		targets = append(targets, node)
	}
	return
}

// Tensors returns the model inputs for this batch, in this order:
//
//   - x: float32 [TotalNodes, InChannels].
//   - sources: int32 [NumMessageEdges, 1], see MessageEdges.
//   - targets: int32 [NumMessageEdges, 1].
//   - batch: int32 [TotalNodes, 1], the graph index of each node.
//   - graphSizes: float32 [NumGraphs], number of nodes per graph.
func (b *Batch) Tensors() []*tensors.Tensor {
	sources, targets := b.MessageEdges()
	sizes := make([]float32, b.NumGraphs)
	for i, s := range b.GraphSizes {
		sizes[i] = float32(s)
	}
	return []*tensors.Tensor{
		tensors.FromFlatDataAndDimensions(b.X, b.TotalNodes, b.InChannels),
		tensors.FromFlatDataAndDimensions(sources, len(sources), 1),
		tensors.FromFlatDataAndDimensions(targets, len(targets), 1),
		tensors.FromFlatDataAndDimensions(b.BatchIndex, b.TotalNodes, 1),
		tensors.FromFlatDataAndDimensions(sizes, b.NumGraphs),
	}
}

// NumInputs is the number of tensors returned by Batch.Tensors.
const NumInputs = 5

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package posegraph holds the data model of pose keypoint graphs: keypoints, skeleton topologies,
// single skeleton graphs and the flattened batches fed to the GNN models.
//
// A batch is laid out as an arena: the nodes of all graphs are stored contiguously, each graph
// owning a contiguous range of node indices, and a batch vector maps every node back to the
// graph that owns it. Edges are re-based to the arena numbering.
package posegraph

import "slices"

// Keypoint is one pose landmark: a fixed-size coordinate vector (e.g. x, y, and optionally a
// confidence score or a z coordinate).
//
// Keypoint is immutable: the constructor copies the coordinates and Coords returns a copy.
type Keypoint struct {
	coords []float32
}

// NewKeypoint creates a Keypoint with a copy of the given coordinates.
func NewKeypoint(coords ...float32) Keypoint {
	return Keypoint{coords: slices.Clone(coords)}
}

// NewKeypointFromFloat64 creates a Keypoint converting the coordinates to float32.
func NewKeypointFromFloat64(coords []float64) Keypoint {
	c := make([]float32, len(coords))
	for i, v := range coords {
		c[i] = float32(v)
	}
	return Keypoint{coords: c}
}

// Dim returns the number of coordinates, the in_channels of the node features.
func (k Keypoint) Dim() int { return len(k.coords) }

// Coords returns a copy of the coordinates.
func (k Keypoint) Coords() []float32 { return slices.Clone(k.coords) }

// At returns the i-th coordinate.
func (k Keypoint) At(i int) float32 { return k.coords[i] }

// appendTo appends the coordinates to buf, used when flattening a batch.
func (k Keypoint) appendTo(buf []float32) []float32 { return append(buf, k.coords...) }

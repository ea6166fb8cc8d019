// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package posegraph

import (
	"os"
	"slices"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Skeleton is a fixed pose topology: the names of the keypoints (in the order the pose estimator
// emits them) and the anatomical adjacency between them.
type Skeleton struct {
	Name      string   `yaml:"name"`
	Keypoints []string `yaml:"keypoints"`
	Edges     [][2]int `yaml:"edges"`
}

// COCOKeypoints are the 17 keypoints of the COCO body layout, as emitted by MMPose body models.
var COCOKeypoints = []string{
	"nose", "left_eye", "right_eye", "left_ear", "right_ear",
	"left_shoulder", "right_shoulder", "left_elbow", "right_elbow", "left_wrist", "right_wrist",
	"left_hip", "right_hip", "left_knee", "right_knee", "left_ankle", "right_ankle",
}

// COCO17 returns the COCO-17 skeleton connected as a tree (16 edges): the face hangs from the nose,
// the nose connects to both shoulders, arms hang from the shoulders and each leg from the hip
// connected to the shoulder on the same side.
func COCO17() *Skeleton {
	return &Skeleton{
		Name:      "coco17",
		Keypoints: COCOKeypoints,
		Edges: [][2]int{
			{0, 1}, {0, 2}, {1, 3}, {2, 4}, // Face.
			{0, 5}, {0, 6}, // Neck.
			{5, 7}, {7, 9}, {6, 8}, {8, 10}, // Arms.
			{5, 11}, {6, 12}, // Torso.
			{11, 13}, {13, 15}, {12, 14}, {14, 16}, // Legs.
		},
	}
}

// NumKeypoints returns the number of nodes of every graph built with this skeleton.
func (s *Skeleton) NumKeypoints() int { return len(s.Keypoints) }

// Validate checks that the skeleton has keypoints and that all edges refer to them.
func (s *Skeleton) Validate() error {
	if len(s.Keypoints) == 0 {
		return errors.Errorf("skeleton %q has no keypoints", s.Name)
	}
	for i, e := range s.Edges {
		for _, idx := range e {
			if idx < 0 || idx >= len(s.Keypoints) {
				return errors.Errorf("skeleton %q edge #%d (%d, %d) refers to keypoint out of range [0, %d)",
					s.Name, i, e[0], e[1], len(s.Keypoints))
			}
		}
	}
	return nil
}

// Graph builds a SkeletonGraph from the coordinates of each keypoint, given in the skeleton order.
func (s *Skeleton) Graph(coords [][]float64) (SkeletonGraph, error) {
	if len(coords) != len(s.Keypoints) {
		return SkeletonGraph{}, errors.Errorf("skeleton %q expects %d keypoints, got %d",
			s.Name, len(s.Keypoints), len(coords))
	}
	nodes := make([]Keypoint, len(coords))
	for i, c := range coords {
		nodes[i] = NewKeypointFromFloat64(c)
	}
	return SkeletonGraph{Nodes: nodes, Edges: slices.Clone(s.Edges)}, nil
}

// LoadSkeleton reads a skeleton topology from a YAML file, e.g.:
//
//	name: upper_body
//	keypoints: [nose, left_shoulder, right_shoulder, left_elbow, right_elbow]
//	edges: [[0, 1], [0, 2], [1, 3], [2, 4]]
func LoadSkeleton(path string) (*Skeleton, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read skeleton from %q", path)
	}
	return ParseSkeleton(contents)
}

// ParseSkeleton parses a YAML skeleton definition. See LoadSkeleton.
func ParseSkeleton(contents []byte) (*Skeleton, error) {
	s := &Skeleton{}
	if err := yaml.Unmarshal(contents, s); err != nil {
		return nil, errors.Wrap(err, "failed to parse skeleton YAML")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package posegraph

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// mmposeResults is the subset of the MMPose inferencer JSON output that we read.
type mmposeResults struct {
	InstanceInfo []struct {
		FrameID   int `json:"frame_id"`
		Instances []struct {
			Keypoints      [][]float64 `json:"keypoints"`
			KeypointScores []float64   `json:"keypoint_scores"`
		} `json:"instances"`
	} `json:"instance_info"`
}

// ParseMMPose converts MMPose results into one SkeletonGraph per detected person instance, in every frame.
//
// Instances without keypoints are ignored. Instances whose number of keypoints doesn't match
// the skeleton are skipped with a warning.
func ParseMMPose(contents []byte, skeleton *Skeleton) ([]SkeletonGraph, error) {
	var results mmposeResults
	if err := json.Unmarshal(contents, &results); err != nil {
		return nil, errors.Wrap(err, "failed to parse MMPose JSON")
	}
	var graphs []SkeletonGraph
	for _, frame := range results.InstanceInfo {
		for instanceIdx, instance := range frame.Instances {
			if len(instance.Keypoints) == 0 {
				continue
			}
			graph, err := skeleton.Graph(instance.Keypoints)
			if err != nil {
				klog.Warningf("Skipping frame %d instance %d: %v", frame.FrameID, instanceIdx, err)
				continue
			}
			graphs = append(graphs, graph)
		}
	}
	return graphs, nil
}

// LoadMMPoseFile reads one MMPose JSON results file. See ParseMMPose.
func LoadMMPoseFile(path string, skeleton *Skeleton) ([]SkeletonGraph, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read MMPose results")
	}
	graphs, err := ParseMMPose(contents, skeleton)
	if err != nil {
		return nil, errors.WithMessagef(err, "file %q", path)
	}
	return graphs, nil
}

// ErrNoPoseFiles is returned (wrapped) when a directory has no MMPose results files.
var ErrNoPoseFiles = errors.New("no JSON files found")

// ListJSONFiles returns the sorted list of "*.json" files in dir, limited to samplePercentage (1 to 100)
// percent of them, and at least one file.
//
// It returns an error if samplePercentage is out of range, or one wrapping ErrNoPoseFiles if there
// are no JSON files in dir.
func ListJSONFiles(dir string, samplePercentage int) ([]string, error) {
	if samplePercentage < 1 || samplePercentage > 100 {
		return nil, errors.Errorf("sample percentage must be between 1 and 100, got %d", samplePercentage)
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list JSON files in %q", dir)
	}
	if len(files) == 0 {
		return nil, errors.Wrapf(ErrNoPoseFiles, "directory %q", dir)
	}
	slices.Sort(files)
	n := max(1, len(files)*samplePercentage/100)
	return files[:n], nil
}

// LoadMMPoseDir loads the graphs of all MMPose results files in dir. See ListJSONFiles for samplePercentage.
func LoadMMPoseDir(dir string, skeleton *Skeleton, samplePercentage int) ([]SkeletonGraph, error) {
	files, err := ListJSONFiles(dir, samplePercentage)
	if err != nil {
		return nil, err
	}
	var graphs []SkeletonGraph
	for _, file := range files {
		fileGraphs, err := LoadMMPoseFile(file, skeleton)
		if err != nil {
			return nil, err
		}
		graphs = append(graphs, fileGraphs...)
	}
	klog.V(1).Infof("Loaded %d graphs from %d files in %q", len(graphs), len(files), dir)
	return graphs, nil
}

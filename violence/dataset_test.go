package violence

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/posegnn/posegraph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syntheticExamples creates numViolent + numNonViolent examples, the first coordinate of each
// node holding the example index, so examples can be told apart.
func syntheticExamples(t *testing.T, numViolent, numNonViolent int) []Example {
	skeleton := &posegraph.Skeleton{
		Name:      "line",
		Keypoints: []string{"a", "b", "c"},
		Edges:     [][2]int{{0, 1}, {1, 2}},
	}
	examples := make([]Example, 0, numViolent+numNonViolent)
	for i := range numViolent + numNonViolent {
		g, err := skeleton.Graph([][]float64{{float64(i), 0}, {float64(i), 1}, {float64(i), 2}})
		require.NoError(t, err)
		label := LabelNonViolent
		if i < numViolent {
			label = LabelViolent
		}
		examples = append(examples, Example{Graph: g, Label: label})
	}
	return examples
}

func exampleID(e Example) int { return int(e.Graph.Nodes[0].At(0)) }

func TestSplit(t *testing.T) {
	examples := syntheticExamples(t, 20, 10)

	rest, held, err := SplitExamples(examples, 0.2, 42)
	require.NoError(t, err)
	require.Len(t, held, 6)
	require.Len(t, rest, 24)
	assert.Equal(t, 4, countLabel(held, LabelViolent))
	assert.Equal(t, 2, countLabel(held, LabelNonViolent))

	// Disjoint and complete.
	seen := make(map[int]bool)
	for _, e := range append(rest, held...) {
		id := exampleID(e)
		require.False(t, seen[id], "example %d repeated", id)
		seen[id] = true
	}
	require.Len(t, seen, len(examples))

	// Deterministic for the same seed.
	rest2, held2, err := SplitExamples(examples, 0.2, 42)
	require.NoError(t, err)
	assert.Equal(t, rest, rest2)
	assert.Equal(t, held, held2)

	// The held count is rounded up, and the extra example goes to the label with the largest remainder.
	rest, held, err = SplitExamples(syntheticExamples(t, 9, 1), 0.15, 42)
	require.NoError(t, err)
	require.Len(t, held, 2)
	assert.Equal(t, 2, countLabel(held, LabelViolent))
	require.Len(t, rest, 8)
	assert.Equal(t, 1, countLabel(rest, LabelNonViolent))

	for _, fraction := range []float64{0, 1, -0.5} {
		_, _, err = SplitExamples(examples, fraction, 42)
		assert.Error(t, err, "fraction %g", fraction)
	}
	_, _, err = SplitExamples(examples[:1], 0.2, 42)
	assert.Error(t, err)
}

func TestSplitFromContext(t *testing.T) {
	examples := syntheticExamples(t, 40, 40)
	ctx := CreateDefaultContext()
	splits, err := SplitFromContext(ctx, examples)
	require.NoError(t, err)
	assert.Len(t, splits.Test, 16)
	assert.Len(t, splits.Validation, 16)
	assert.Len(t, splits.Train, 48)
	for _, split := range [][]Example{splits.Train, splits.Validation, splits.Test} {
		assert.Equal(t, len(split)/2, countLabel(split, LabelViolent))
	}
}

func yieldIDs(t *testing.T, ds *Dataset) (batches [][]int, err error) {
	for range 100 {
		var inputs, labels []*tensors.Tensor
		_, inputs, labels, err = ds.Yield()
		if err != nil {
			return
		}
		require.Len(t, inputs, posegraph.NumInputs)
		require.Len(t, labels, 1)
		batchSize := labels[0].Shape().Dimensions[0]
		require.NoError(t, labels[0].Shape().CheckDims(batchSize, 1))
		require.NoError(t, inputs[4].Shape().CheckDims(batchSize))
		x := tensors.MustCopyFlatData[float32](inputs[0])
		ids := make([]int, batchSize)
		for i := range ids {
			// 3 nodes with 2 coordinates per example.
			ids[i] = int(x[i*6])
		}
		batches = append(batches, ids)
	}
	return
}

func TestDataset(t *testing.T) {
	examples := syntheticExamples(t, 3, 2)

	t.Run("in order", func(t *testing.T) {
		ds := NewDataset("test", examples, 2)
		assert.Equal(t, "test", ds.Name())
		assert.Equal(t, 5, ds.Len())
		batches, err := yieldIDs(t, ds)
		require.ErrorIs(t, err, io.EOF)
		assert.Equal(t, [][]int{{0, 1}, {2, 3}, {4}}, batches)

		// Exhausted until Reset.
		_, _, _, err = ds.Yield()
		require.ErrorIs(t, err, io.EOF)
		ds.Reset()
		batches, err = yieldIDs(t, ds)
		require.ErrorIs(t, err, io.EOF)
		assert.Len(t, batches, 3)
	})

	t.Run("labels", func(t *testing.T) {
		ds := NewDataset("labels", examples, 5)
		_, _, labels, err := ds.Yield()
		require.NoError(t, err)
		assert.Equal(t, []float32{1, 1, 1, 0, 0}, tensors.MustCopyFlatData[float32](labels[0]))
	})

	t.Run("drop incomplete", func(t *testing.T) {
		ds := NewDataset("drop", examples, 2).DropIncompleteBatch(true)
		batches, err := yieldIDs(t, ds)
		require.ErrorIs(t, err, io.EOF)
		assert.Equal(t, [][]int{{0, 1}, {2, 3}}, batches)
	})

	t.Run("shuffled", func(t *testing.T) {
		ds := NewDataset("shuffled", examples, 5).Shuffle(1)
		batches, err := yieldIDs(t, ds)
		require.ErrorIs(t, err, io.EOF)
		require.Len(t, batches, 1)
		assert.ElementsMatch(t, []int{0, 1, 2, 3, 4}, batches[0])
	})

	t.Run("infinite", func(t *testing.T) {
		ds := NewDataset("infinite", examples, 2).Infinite(true).DropIncompleteBatch(true)
		batches, err := yieldIDs(t, ds)
		require.NoError(t, err)
		require.Len(t, batches, 100)
		for _, batch := range batches {
			require.Len(t, batch, 2)
		}
		assert.Equal(t, []int{0, 1}, batches[2])
	})

	t.Run("empty", func(t *testing.T) {
		ds := NewDataset("empty", nil, 2).Infinite(true)
		_, _, _, err := ds.Yield()
		require.ErrorIs(t, err, io.EOF)
	})
}

func TestLoadLabeled(t *testing.T) {
	violentDir, nonViolentDir := t.TempDir(), t.TempDir()
	rng := rand.New(rand.NewSource(1))
	writePoses := func(dir string, numFiles, numPeople int) {
		for i := range numFiles {
			writeMMPoseFile(t, dir, fmt.Sprintf("frame_%03d.json", i), rng, numPeople)
		}
	}
	writePoses(violentDir, 3, 2)
	writePoses(nonViolentDir, 2, 1)

	examples, err := LoadLabeled([]string{violentDir}, []string{nonViolentDir}, posegraph.COCO17(), 100)
	require.NoError(t, err)
	require.Len(t, examples, 8)
	assert.Equal(t, 6, countLabel(examples, LabelViolent))
	for _, e := range examples {
		assert.Len(t, e.Graph.Nodes, 17)
	}

	// An existing second camera directory without results is skipped.
	examples, err = LoadLabeled([]string{violentDir, t.TempDir()}, []string{nonViolentDir}, posegraph.COCO17(), 100)
	require.NoError(t, err)
	require.Len(t, examples, 8)

	_, err = LoadLabeled(nil, []string{t.TempDir()}, posegraph.COCO17(), 100)
	require.Error(t, err)
}

// writeMMPoseFile writes an MMPose results file with one frame of numPeople random COCO-17 poses.
func writeMMPoseFile(t *testing.T, dir, name string, rng *rand.Rand, numPeople int) {
	type instance struct {
		Keypoints      [][]float64 `json:"keypoints"`
		KeypointScores []float64   `json:"keypoint_scores"`
	}
	instances := make([]instance, numPeople)
	for i := range instances {
		for range 17 {
			instances[i].Keypoints = append(instances[i].Keypoints, []float64{rng.Float64() * 640, rng.Float64() * 480})
			instances[i].KeypointScores = append(instances[i].KeypointScores, rng.Float64())
		}
	}
	contents, err := json.Marshal(map[string]any{
		"instance_info": []map[string]any{{"frame_id": 0, "instances": instances}},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), contents, 0o644))
}

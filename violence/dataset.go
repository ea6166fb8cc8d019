// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package violence

import (
	"io"
	"math"
	"math/rand"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/posegnn/posegraph"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Labels of the examples.
const (
	LabelNonViolent float32 = 0
	LabelViolent    float32 = 1
)

// Example is one labeled skeleton graph.
type Example struct {
	Graph posegraph.SkeletonGraph
	Label float32
}

// LoadLabeled loads the MMPose results of the given directories: poses found in violentDirs are
// labeled LabelViolent and the ones in nonViolentDirs LabelNonViolent.
//
// samplePercentage (from 1 to 100) limits the number of files read from each directory, see
// posegraph.ListJSONFiles. Directories without results files are skipped with a warning, and it
// only fails if no pose is found at all.
func LoadLabeled(violentDirs, nonViolentDirs []string, skeleton *posegraph.Skeleton, samplePercentage int) ([]Example, error) {
	var examples []Example
	for _, group := range []struct {
		dirs  []string
		label float32
	}{{violentDirs, LabelViolent}, {nonViolentDirs, LabelNonViolent}} {
		for _, dir := range group.dirs {
			graphs, err := posegraph.LoadMMPoseDir(dir, skeleton, samplePercentage)
			if errors.Is(err, posegraph.ErrNoPoseFiles) {
				klog.Warningf("skipping %q: %v", dir, err)
				continue
			}
			if err != nil {
				return nil, err
			}
			for _, g := range graphs {
				examples = append(examples, Example{Graph: g, Label: group.label})
			}
		}
	}
	if len(examples) == 0 {
		return nil, errors.New("no poses found in the given directories")
	}
	klog.V(1).Infof("loaded %d labeled poses (%d violent)", len(examples), countLabel(examples, LabelViolent))
	return examples, nil
}

func countLabel(examples []Example, label float32) int {
	var count int
	for _, e := range examples {
		if e.Label == label {
			count++
		}
	}
	return count
}

// SplitExamples splits the examples in two, stratified by label: held gets ceil(fraction*n) of the
// n examples, allocated to the labels in proportion to their counts, and rest the others. Each label
// first gets the floor of its share, and the remaining held examples go to the labels with the
// largest fractional parts, the first label seen winning ties. The result is deterministic for a
// given seed.
//
// It returns an error if fraction is not in (0, 1), or if one of the sides would be empty.
func SplitExamples(examples []Example, fraction float64, seed int64) (rest, held []Example, err error) {
	if fraction <= 0 || fraction >= 1 {
		return nil, nil, errors.Errorf("split fraction must be in (0, 1), got %g", fraction)
	}
	rng := rand.New(rand.NewSource(seed))
	byLabel := make(map[float32][]int)
	var labels []float32
	for i, e := range examples {
		if _, found := byLabel[e.Label]; !found {
			labels = append(labels, e.Label)
		}
		byLabel[e.Label] = append(byLabel[e.Label], i)
	}

	// Tolerance so that e.g. 0.2*30 holds 6 examples and not 7.
	numHeld := int(math.Ceil(fraction*float64(len(examples)) - 1e-9))
	heldPerLabel := make([]int, len(labels))
	remainders := make([]float64, len(labels))
	for i, label := range labels {
		share := fraction * float64(len(byLabel[label]))
		heldPerLabel[i] = int(math.Floor(share + 1e-9))
		remainders[i] = share - float64(heldPerLabel[i])
		numHeld -= heldPerLabel[i]
	}
	for ; numHeld > 0; numHeld-- {
		best := -1
		for i, r := range remainders {
			if heldPerLabel[i] < len(byLabel[labels[i]]) && (best < 0 || r > remainders[best]) {
				best = i
			}
		}
		if best < 0 {
			break
		}
		heldPerLabel[best]++
		remainders[best] = -1
	}

	for l, label := range labels {
		indices := byLabel[label]
		rng.Shuffle(len(indices), func(i, j int) { indices[i], indices[j] = indices[j], indices[i] })
		for _, idx := range indices[:heldPerLabel[l]] {
			held = append(held, examples[idx])
		}
		for _, idx := range indices[heldPerLabel[l]:] {
			rest = append(rest, examples[idx])
		}
	}
	if len(rest) == 0 || len(held) == 0 {
		return nil, nil, errors.Errorf("splitting %d examples with fraction %g leaves one side empty", len(examples), fraction)
	}
	return rest, held, nil
}

// Dataset implements train.Dataset over labeled skeleton graphs.
//
// Each Yield returns the tensors of posegraph.Batch.Tensors as inputs, and the labels shaped
// [batchSize, 1] (float32).
type Dataset struct {
	name      string
	examples  []Example
	batchSize int

	shuffle        *rand.Rand
	dropIncomplete bool
	infinite       bool

	mu       sync.Mutex
	order    []int
	position int
}

var _ train.Dataset = (*Dataset)(nil)

// NewDataset creates a Dataset yielding the examples in order, in batches of batchSize.
func NewDataset(name string, examples []Example, batchSize int) *Dataset {
	if batchSize <= 0 {
		batchSize = 1
	}
	ds := &Dataset{name: name, examples: examples, batchSize: batchSize}
	ds.Reset()
	return ds
}

// Shuffle the examples at every epoch, with a random generator seeded with seed.
func (ds *Dataset) Shuffle(seed int64) *Dataset {
	ds.mu.Lock()
	ds.shuffle = rand.New(rand.NewSource(seed))
	ds.mu.Unlock()
	ds.Reset()
	return ds
}

// DropIncompleteBatch configures the Dataset to skip the last batch of an epoch if it has less than
// batchSize examples.
func (ds *Dataset) DropIncompleteBatch(drop bool) *Dataset {
	ds.dropIncomplete = drop
	return ds
}

// Infinite configures the Dataset to loop over the examples indefinitely, reshuffling them (if
// enabled) at every epoch. Use it with train.Loop.RunSteps.
func (ds *Dataset) Infinite(infinite bool) *Dataset {
	ds.infinite = infinite
	return ds
}

// Len returns the number of examples.
func (ds *Dataset) Len() int { return len(ds.examples) }

// Examples returns the examples of the dataset, in their original order.
func (ds *Dataset) Examples() []Example { return ds.examples }

// Name implements train.Dataset.
func (ds *Dataset) Name() string { return ds.name }

// Reset implements train.Dataset.
func (ds *Dataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.resetLocked()
}

func (ds *Dataset) resetLocked() {
	ds.position = 0
	if ds.shuffle != nil {
		ds.order = ds.shuffle.Perm(len(ds.examples))
		return
	}
	ds.order = make([]int, len(ds.examples))
	for i := range ds.order {
		ds.order[i] = i
	}
}

// Yield implements train.Dataset.
func (ds *Dataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	remaining := ds.remainingLocked()
	exhausted := func() bool { return remaining == 0 || (ds.dropIncomplete && remaining < ds.batchSize) }
	if exhausted() && ds.infinite {
		ds.resetLocked()
		remaining = ds.remainingLocked()
	}
	if exhausted() {
		return nil, nil, nil, io.EOF
	}
	end := ds.position + min(ds.batchSize, remaining)
	indices := ds.order[ds.position:end]
	ds.position = end

	graphs := make([]posegraph.SkeletonGraph, len(indices))
	batchLabels := make([]float32, len(indices))
	for i, idx := range indices {
		graphs[i] = ds.examples[idx].Graph
		batchLabels[i] = ds.examples[idx].Label
	}
	batch, err := posegraph.NewBatch(graphs)
	if err != nil {
		return nil, nil, nil, errors.WithMessagef(err, "dataset %q", ds.name)
	}
	inputs = batch.Tensors()
	labels = []*tensors.Tensor{tensors.FromFlatDataAndDimensions(batchLabels, len(indices), 1)}
	return nil, inputs, labels, nil
}

func (ds *Dataset) remainingLocked() int { return len(ds.order) - ds.position }

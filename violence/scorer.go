// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package violence

import (
	"sync"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/posegnn/gnn"
	"github.com/gomlx/posegnn/posegraph"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Scorer computes violence scores for batches of skeleton graphs.
//
// It is safe for concurrent use. Scoring in gnn.Train mode updates the batch normalization moving
// averages and is serialized. A Scorer must not be used while a Train call shares its context.
type Scorer struct {
	backend backends.Backend

	// ctx is scoped in "model".
	ctx       *context.Context
	config    Config
	threshold float64
	metrics   *ScorerMetrics

	mu        sync.Mutex
	execs     map[gnn.ExecutionMode]*context.Exec
	trainMode sync.Mutex
}

// ScorerOption configures optional features of a Scorer.
type ScorerOption func(s *Scorer)

// WithMetrics makes the Scorer record its activity in m.
func WithMetrics(m *ScorerMetrics) ScorerOption {
	return func(s *Scorer) { s.metrics = m }
}

// NewScorer creates a Scorer for the model configured in ctx (see CreateDefaultContext).
//
// If ctx is marked for reuse (e.g., after loading a checkpoint), every model variable must already
// exist. Otherwise, missing variables are created with their initializers when first used.
func NewScorer(backend backends.Backend, ctx *context.Context, options ...ScorerOption) (*Scorer, error) {
	config, err := ConfigFromContext(ctx)
	if err != nil {
		return nil, err
	}
	modelCtx := ctx.In("model")
	if !modelCtx.IsReuse() {
		// Each execution mode builds its own graph over the same variables.
		modelCtx = modelCtx.Checked(false)
	}
	s := &Scorer{
		backend:   backend,
		ctx:       modelCtx,
		config:    config,
		threshold: context.GetParamOr(ctx, ParamDecisionThreshold, 0.5),
		execs:     make(map[gnn.ExecutionMode]*context.Exec),
	}
	for _, option := range options {
		option(s)
	}
	return s, nil
}

// LoadScorer creates a Scorer from the model saved in checkpointDir. The hyperparameters and the
// decision threshold are read from the checkpoint as well.
func LoadScorer(backend backends.Backend, checkpointDir string, options ...ScorerOption) (*Scorer, error) {
	ctx := CreateDefaultContext()
	_, err := checkpoints.Load(ctx).Dir(checkpointDir).Done()
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to load model from %q", checkpointDir)
	}
	klog.V(1).Infof("loaded model from %q", checkpointDir)
	return NewScorer(backend, ctx.Reuse(), options...)
}

// Config returns the model configuration.
func (s *Scorer) Config() Config { return s.config }

// Threshold returns the decision threshold used by Classify.
func (s *Scorer) Threshold() float64 { return s.threshold }

// SetThreshold changes the decision threshold used by Classify.
func (s *Scorer) SetThreshold(threshold float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threshold = threshold
}

func (s *Scorer) exec(mode gnn.ExecutionMode) (*context.Exec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, found := s.execs[mode]; found {
		return e, nil
	}
	config := s.config
	e, err := context.NewExec(s.backend, s.ctx, func(ctx *context.Context, inputs []*Node) []*Node {
		scores, finite := BuildGraph(ctx, config, mode, inputs)
		return append([]*Node{scores}, finite...)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create the %s model executor", mode)
	}
	s.execs[mode] = e
	return e, nil
}

// Score returns one score in [0, 1] per graph of the batch, in batch order.
//
// Non-finite intermediate values don't fail the call: they are reported as warnings, one per
// affected stage, and the scores are returned as computed. See ScoreStrict.
//
// A *posegraph.ValidationError is returned for a malformed batch, before anything is computed, and
// a *ShapeMismatchError for incompatible model shapes. No partial result is returned on error.
func (s *Scorer) Score(mode gnn.ExecutionMode, batch *posegraph.Batch) ([]float32, []NumericInstabilityWarning, error) {
	if batch == nil {
		return nil, nil, errors.New("nil batch")
	}
	if err := batch.Validate(); err != nil {
		return nil, nil, err
	}
	start := time.Now()
	scores, warnings, err := s.score(mode, batch)
	s.metrics.observeBatch(mode.String(), batch.NumGraphs, err == nil, time.Since(start).Seconds())
	if err != nil {
		return nil, nil, err
	}
	if len(warnings) > 0 {
		s.metrics.observeWarnings(warnings)
		for _, w := range warnings {
			klog.Warningf("scoring %d graphs: %s", batch.NumGraphs, w)
		}
	}
	return scores, warnings, nil
}

func (s *Scorer) score(mode gnn.ExecutionMode, batch *posegraph.Batch) (scores []float32, warnings []NumericInstabilityWarning, err error) {
	e, err := s.exec(mode)
	if err != nil {
		return nil, nil, err
	}
	if mode == gnn.Train {
		s.trainMode.Lock()
		defer s.trainMode.Unlock()
	}
	inputs := batch.Tensors()
	args := make([]any, len(inputs))
	for i, t := range inputs {
		args[i] = t
	}
	var outputs []*tensors.Tensor
	err = exceptions.TryCatch[error](func() { outputs = e.MustExec(args...) })
	for _, t := range inputs {
		t.MustFinalizeAll()
	}
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		for _, t := range outputs {
			t.MustFinalizeAll()
		}
	}()
	if len(outputs) != 1+len(Stages) {
		return nil, nil, errors.Errorf("model returned %d outputs, expected %d", len(outputs), 1+len(Stages))
	}
	if err = outputs[0].Shape().CheckDims(batch.NumGraphs, 1); err != nil {
		return nil, nil, errors.WithStack(&ShapeMismatchError{
			Where: "model output", Want: "one score per graph", Got: outputs[0].Shape()})
	}
	scores = tensors.MustCopyFlatData[float32](outputs[0])
	for i, stage := range Stages {
		if !tensors.ToScalar[bool](outputs[1+i]) {
			warnings = append(warnings, NumericInstabilityWarning{Stage: stage})
		}
	}
	return scores, warnings, nil
}

// ScoreStrict is like Score, but returns a *NumericInstabilityError instead of scores if any
// non-finite value was found.
func (s *Scorer) ScoreStrict(mode gnn.ExecutionMode, batch *posegraph.Batch) ([]float32, error) {
	scores, warnings, err := s.Score(mode, batch)
	if err != nil {
		return nil, err
	}
	if len(warnings) > 0 {
		return nil, errors.WithStack(&NumericInstabilityError{Warnings: warnings})
	}
	return scores, nil
}

// ScoreGraphs batches the graphs with posegraph.NewBatch and scores them.
func (s *Scorer) ScoreGraphs(mode gnn.ExecutionMode, graphs []posegraph.SkeletonGraph) ([]float32, []NumericInstabilityWarning, error) {
	batch, err := posegraph.NewBatch(graphs)
	if err != nil {
		return nil, nil, err
	}
	return s.Score(mode, batch)
}

// Classify scores the batch in gnn.Eval mode and reports, for each graph, whether its score
// reaches the decision threshold. Batches with non-finite values are rejected.
func (s *Scorer) Classify(batch *posegraph.Batch) (violent []bool, scores []float32, err error) {
	scores, err = s.ScoreStrict(gnn.Eval, batch)
	if err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	threshold := s.threshold
	s.mu.Unlock()
	violent = make([]bool, len(scores))
	for i, score := range scores {
		violent[i] = float64(score) >= threshold
	}
	return violent, scores, nil
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package violence

import (
	"math"
	"slices"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/posegnn/evaluation"
	"github.com/gomlx/posegnn/gnn"
	"github.com/gomlx/posegnn/posegraph"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ParamsExcludedFromSaving are parameters (see CreateDefaultContext) that are not saved with the
// checkpoints, and may be changed in further training sessions.
var ParamsExcludedFromSaving = []string{
	ParamTrainSteps, ParamNumEpochs, ParamNumCheckpoints, ParamCheckpointFrequency, ParamSamplePercentage,
}

// Splits of the labeled examples.
type Splits struct {
	Train, Validation, Test []Example
}

// SplitFromContext splits the examples into train, validation and test sets, stratified by label,
// using the fractions and seed configured in ctx: first the test fraction of all examples is held,
// then the validation fraction of the remaining ones.
func SplitFromContext(ctx *context.Context, examples []Example) (Splits, error) {
	seed := int64(context.GetParamOr(ctx, ParamSeed, 42))
	rest, test, err := SplitExamples(examples, context.GetParamOr(ctx, ParamTestSplit, 0.2), seed)
	if err != nil {
		return Splits{}, errors.WithMessage(err, "test split")
	}
	trainSet, validation, err := SplitExamples(rest, context.GetParamOr(ctx, ParamValidationSplit, 0.25), seed)
	if err != nil {
		return Splits{}, errors.WithMessage(err, "validation split")
	}
	return Splits{Train: trainSet, Validation: validation, Test: test}, nil
}

// TrainOptions configure Train.
type TrainOptions struct {
	// CheckpointDir where to save the model. If a checkpoint already exists there, training continues
	// from it. If empty, nothing is saved.
	CheckpointDir string

	// ParamsSet are the parameters set by the user, excluded from the saved checkpoint so they
	// can be changed when training continues.
	ParamsSet []string

	// ProgressBar attaches a progress bar to the training loop.
	ProgressBar bool
}

// EpochReport holds the validation results after one training epoch.
type EpochReport struct {
	Epoch, GlobalStep int
	ValidationLoss    float64
	ValidationAUC     float64
}

// EvaluationReport holds the evaluation of a model over a set of examples.
type EvaluationReport struct {
	NumExamples int
	Loss, AUC   float64

	// Threshold maximizing Youden's J statistic, and the metrics at that threshold.
	Threshold float64
	Metrics   evaluation.ThresholdMetrics

	// Warnings of numeric instability, one per affected batch and stage.
	Warnings []NumericInstabilityWarning
}

// TrainReport is returned by Train.
type TrainReport struct {
	Epochs []EpochReport
	Test   EvaluationReport
}

// Train trains the model configured in ctx with binary cross-entropy on the train split, reporting
// the validation loss and AUC after every epoch. At the end it evaluates the model on the test
// split and stores the optimal decision threshold in ctx (ParamDecisionThreshold), saved with the
// final checkpoint.
//
// If ParamTrainSteps is > 0 it trains for that number of steps (counting those of a restored
// checkpoint), otherwise for ParamNumEpochs epochs.
func Train(backend backends.Backend, ctx *context.Context, splits Splits, options TrainOptions) (report TrainReport, err error) {
	if len(splits.Train) == 0 || len(splits.Test) == 0 {
		return report, errors.Errorf("train (%d examples) and test (%d examples) splits must not be empty",
			len(splits.Train), len(splits.Test))
	}

	var checkpoint *checkpoints.Handler
	if options.CheckpointDir != "" {
		checkpoint, err = checkpoints.Build(ctx).
			Dir(options.CheckpointDir).
			Keep(context.GetParamOr(ctx, ParamNumCheckpoints, 3)).
			ExcludeParams(append(options.ParamsSet, ParamsExcludedFromSaving...)...).
			Done()
		if err != nil {
			return report, errors.WithMessagef(err, "failed to create checkpoint in %q", options.CheckpointDir)
		}
		klog.Infof("checkpointing model to %q", checkpoint.Dir())
	}
	if _, err = ConfigFromContext(ctx); err != nil {
		return report, err
	}

	err = exceptions.TryCatch[error](func() {
		report.Epochs = mustTrainLoop(backend, ctx, splits, checkpoint, options)
	})
	if err != nil {
		return report, err
	}

	report.Test, err = Evaluate(backend, ctx, splits.Test)
	if err != nil {
		return report, errors.WithMessage(err, "test evaluation")
	}
	ctx.SetParam(ParamDecisionThreshold, StorableThreshold(report.Test.Threshold))
	if checkpoint != nil {
		if err = checkpoint.Save(); err != nil {
			return report, err
		}
	}
	return report, nil
}

// mustTrainLoop runs the training loop, and panics on errors.
func mustTrainLoop(backend backends.Backend, ctx *context.Context, splits Splits, checkpoint *checkpoints.Handler,
	options TrainOptions) (epochs []EpochReport) {
	batchSize := context.GetParamOr(ctx, ParamBatchSize, 32)
	if batchSize <= 0 {
		exceptions.Panicf("%s must be > 0, got %d", ParamBatchSize, batchSize)
	}
	seed := int64(context.GetParamOr(ctx, ParamSeed, 42))
	trainSteps := context.GetParamOr(ctx, ParamTrainSteps, 0)
	trainDS := NewDataset("train", splits.Train, batchSize).Shuffle(seed).Infinite(trainSteps > 0)
	trainEvalDS := NewDataset("train-eval", splits.Train, batchSize)

	modelCtx := ctx.In("model")
	trainer := train.NewTrainer(backend, modelCtx, ModelGraph,
		losses.BinaryCrossentropy,
		optimizers.FromContext(modelCtx),
		[]metrics.Interface{metrics.NewMovingAverageBinaryAccuracy("Moving Average Accuracy", "~acc", 0.01)},
		[]metrics.Interface{metrics.NewMeanBinaryAccuracy("Mean Accuracy", "#acc")})
	globalStep := int(optimizers.GetGlobalStep(modelCtx))
	if globalStep > 0 {
		trainer.SetContext(modelCtx.Reuse())
		klog.Infof("continuing training from global step %d", globalStep)
	}

	loop := train.NewLoop(trainer)
	if options.ProgressBar {
		commandline.AttachProgressBar(loop)
	}
	if checkpoint != nil {
		period, err := time.ParseDuration(context.GetParamOr(ctx, ParamCheckpointFrequency, "1m"))
		if err != nil {
			panic(errors.Wrapf(err, "invalid %s", ParamCheckpointFrequency))
		}
		train.PeriodicCallback(loop, period, true, "saving checkpoint", 100,
			func(loop *train.Loop, metrics []*tensors.Tensor) error {
				return checkpoint.Save()
			})
	}

	if trainSteps > 0 {
		if globalStep < trainSteps {
			_, err := loop.RunSteps(trainDS, trainSteps-globalStep)
			if err != nil {
				panic(err)
			}
		} else {
			klog.Infof("%s=%d already reached (global step %d)", ParamTrainSteps, trainSteps, globalStep)
		}
	} else {
		numEpochs := context.GetParamOr(ctx, ParamNumEpochs, 2)
		for epoch := range numEpochs {
			if _, err := loop.RunEpochs(trainDS, 1); err != nil {
				panic(err)
			}
			if len(splits.Validation) == 0 {
				continue
			}
			validation, err := Evaluate(backend, ctx, splits.Validation)
			if err != nil {
				panic(errors.WithMessagef(err, "validation after epoch %d", epoch+1))
			}
			epochReport := EpochReport{
				Epoch:          epoch + 1,
				GlobalStep:     int(optimizers.GetGlobalStep(modelCtx)),
				ValidationLoss: validation.Loss,
				ValidationAUC:  validation.AUC,
			}
			klog.Infof("epoch %d/%d: validation loss %.4f, AUC %.4f",
				epochReport.Epoch, numEpochs, epochReport.ValidationLoss, epochReport.ValidationAUC)
			epochs = append(epochs, epochReport)
		}
	}

	// Batch normalization moving averages over the whole train split.
	updated, err := batchnorm.UpdateAverages(trainer, trainEvalDS)
	if err != nil {
		panic(err)
	}
	if updated {
		klog.V(1).Infof("updated batch normalization averages")
		if checkpoint != nil {
			if err := checkpoint.Save(); err != nil {
				panic(err)
			}
		}
	}
	return epochs
}

// Evaluate scores the examples with the model in ctx (in gnn.Eval mode), and returns the mean
// binary cross-entropy, the ROC AUC and the optimal decision threshold. It doesn't change ctx.
//
// Both labels must be present in examples.
func Evaluate(backend backends.Backend, ctx *context.Context, examples []Example) (EvaluationReport, error) {
	report := EvaluationReport{NumExamples: len(examples)}
	scorer, err := NewScorer(backend, ctx.Reuse())
	if err != nil {
		return report, err
	}
	batchSize := max(context.GetParamOr(ctx, ParamBatchSize, 32), 1)
	scores := make([]float64, 0, len(examples))
	labels := make([]bool, 0, len(examples))
	for batch := range slices.Chunk(examples, batchSize) {
		graphs := make([]posegraph.SkeletonGraph, len(batch))
		for i, e := range batch {
			graphs[i] = e.Graph
			labels = append(labels, e.Label == LabelViolent)
		}
		batchScores, warnings, err := scorer.ScoreGraphs(gnn.Eval, graphs)
		if err != nil {
			return report, err
		}
		report.Warnings = append(report.Warnings, warnings...)
		for _, s := range batchScores {
			scores = append(scores, float64(s))
		}
	}
	if report.Loss, err = evaluation.BinaryCrossEntropy(labels, scores); err != nil {
		return report, err
	}
	if report.AUC, err = evaluation.AUC(labels, scores); err != nil {
		return report, err
	}
	report.Threshold, report.Metrics, err = evaluation.FindOptimalThreshold(labels, scores)
	return report, err
}

// StorableThreshold maps an infinite threshold (nothing classified as violent) to the smallest
// value above any score, so it can be saved in a checkpoint.
func StorableThreshold(threshold float64) float64 {
	if math.IsInf(threshold, 1) {
		return math.Nextafter(1, 2)
	}
	return threshold
}

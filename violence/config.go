// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package violence

import (
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/posegnn/gnn"
	"github.com/pkg/errors"
)

// Hyperparameters of the model, stored in the context (see CreateDefaultContext).
const (
	// ParamHiddenChannels is the working width of the model: the width of the node states
	// and of the graph embedding. Default is 64.
	ParamHiddenChannels = "hidden_channels"

	// ParamGATHeads is the number of attention heads of the GAT stage. hidden_channels must be
	// divisible by it. Default is 4.
	ParamGATHeads = "gat_heads"

	// ParamTransformerHeads is the number of self-attention heads of the sequence transformer.
	// hidden_channels must be divisible by it. Default is 4.
	ParamTransformerHeads = "transformer_heads"

	// ParamTransformerLayers is the number of encoder layers of the sequence transformer. Default is 2.
	ParamTransformerLayers = "transformer_layers"

	// ParamGCNDropout, ParamGATDropout, ParamTransformerDropout and ParamHeadDropout are the dropout
	// rates of the respective components, only applied during training.
	ParamGCNDropout         = "gcn_dropout"
	ParamGATDropout         = "gat_dropout"
	ParamTransformerDropout = "transformer_dropout"
	ParamHeadDropout        = "head_dropout"

	// ParamBatchNormMomentum is the weight of the previous moving average of the batch normalization
	// statistics. Default is 0.9.
	ParamBatchNormMomentum = "batchnorm_momentum"

	// ParamBatchNormEpsilon is added to the variance by batch normalization. Default is 1e-5.
	ParamBatchNormEpsilon = "batchnorm_epsilon"

	// ParamLayerNormEpsilon is added to the variance by the transformer layer normalization. Default is 1e-5.
	ParamLayerNormEpsilon = "layernorm_epsilon"

	// ParamResidualPlacement is where the GIN stage adds the GCN residual: "after_mlp" (default)
	// or "before_mlp".
	ParamResidualPlacement = "residual_placement"

	// ParamDecisionThreshold is the score above which a pose is classified as violent.
	// It is set by the evaluation (optimal threshold) and saved with the checkpoint. Default is 0.5.
	ParamDecisionThreshold = "decision_threshold"
)

// Training parameters, also stored in the context.
const (
	ParamBatchSize           = "batch_size"
	ParamTrainSteps          = "train_steps"
	ParamNumEpochs           = "num_epochs"
	ParamNumCheckpoints      = "num_checkpoints"
	ParamCheckpointFrequency = "checkpoint_frequency"
	ParamSamplePercentage    = "sample_percentage"
	ParamTestSplit           = "test_split"
	ParamValidationSplit     = "validation_split"
	ParamSeed                = "seed"
)

// CreateDefaultContext returns a context with the default hyperparameters set.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		// Model.
		ParamHiddenChannels:     64,
		ParamGATHeads:           4,
		ParamTransformerHeads:   4,
		ParamTransformerLayers:  2,
		ParamGCNDropout:         0.2,
		ParamGATDropout:         0.2,
		ParamTransformerDropout: 0.1,
		ParamHeadDropout:        0.3,
		ParamBatchNormMomentum:  gnn.DefaultNormalization.Momentum,
		ParamBatchNormEpsilon:   gnn.DefaultNormalization.Epsilon,
		ParamLayerNormEpsilon:   1e-5,
		ParamResidualPlacement:  string(gnn.ResidualAfterMLP),
		ParamDecisionThreshold:  0.5,

		// Reproducible initialization of the variables.
		context.ParamInitialSeed: int64(42),

		// Training.
		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: 0.001,
		ParamBatchSize:               32,
		ParamTrainSteps:              0, // If > 0, train for this number of steps instead of num_epochs.
		ParamNumEpochs:               2,
		ParamNumCheckpoints:          3,
		ParamCheckpointFrequency:     "1m",

		// Data.
		ParamSamplePercentage: 100,
		ParamTestSplit:        0.2,
		ParamValidationSplit:  0.25,
		ParamSeed:             42,
	})
	return ctx
}

// Config holds the model hyperparameters. Use ConfigFromContext to read them from a context.
type Config struct {
	Hidden            int
	GATHeads          int
	TransformerHeads  int
	TransformerLayers int

	GCNDropout, GATDropout, TransformerDropout, HeadDropout float64

	Normalization     gnn.Normalization
	LayerNormEpsilon  float64
	ResidualPlacement gnn.ResidualPlacement
}

// DefaultConfig returns the configuration matching CreateDefaultContext.
func DefaultConfig() Config {
	c, err := ConfigFromContext(CreateDefaultContext())
	if err != nil {
		panic(err)
	}
	return c
}

// NewConfig returns the default configuration with the given widths, validated.
func NewConfig(hidden, gatHeads, transformerHeads int) (Config, error) {
	c := DefaultConfig()
	c.Hidden, c.GATHeads, c.TransformerHeads = hidden, gatHeads, transformerHeads
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// ConfigFromContext reads the model hyperparameters from the context and validates them.
// See Config.Validate for the errors returned.
func ConfigFromContext(ctx *context.Context) (Config, error) {
	c := Config{
		Hidden:             context.GetParamOr(ctx, ParamHiddenChannels, 64),
		GATHeads:           context.GetParamOr(ctx, ParamGATHeads, 4),
		TransformerHeads:   context.GetParamOr(ctx, ParamTransformerHeads, 4),
		TransformerLayers:  context.GetParamOr(ctx, ParamTransformerLayers, 2),
		GCNDropout:         context.GetParamOr(ctx, ParamGCNDropout, 0.2),
		GATDropout:         context.GetParamOr(ctx, ParamGATDropout, 0.2),
		TransformerDropout: context.GetParamOr(ctx, ParamTransformerDropout, 0.1),
		HeadDropout:        context.GetParamOr(ctx, ParamHeadDropout, 0.3),
		Normalization: gnn.Normalization{
			Momentum: context.GetParamOr(ctx, ParamBatchNormMomentum, gnn.DefaultNormalization.Momentum),
			Epsilon:  context.GetParamOr(ctx, ParamBatchNormEpsilon, gnn.DefaultNormalization.Epsilon),
		},
		LayerNormEpsilon:  context.GetParamOr(ctx, ParamLayerNormEpsilon, 1e-5),
		ResidualPlacement: gnn.ResidualPlacement(context.GetParamOr(ctx, ParamResidualPlacement, string(gnn.ResidualAfterMLP))),
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// SetParams writes the configuration into the context parameters, the inverse of ConfigFromContext.
func (c Config) SetParams(ctx *context.Context) {
	ctx.SetParams(map[string]any{
		ParamHiddenChannels:     c.Hidden,
		ParamGATHeads:           c.GATHeads,
		ParamTransformerHeads:   c.TransformerHeads,
		ParamTransformerLayers:  c.TransformerLayers,
		ParamGCNDropout:         c.GCNDropout,
		ParamGATDropout:         c.GATDropout,
		ParamTransformerDropout: c.TransformerDropout,
		ParamHeadDropout:        c.HeadDropout,
		ParamBatchNormMomentum:  c.Normalization.Momentum,
		ParamBatchNormEpsilon:   c.Normalization.Epsilon,
		ParamLayerNormEpsilon:   c.LayerNormEpsilon,
		ParamResidualPlacement:  string(c.ResidualPlacement),
	})
}

// Validate checks the configuration for values that would lead to mismatched shapes.
//
// It returns a *ShapeMismatchError if the hidden width is not divisible by the number of
// attention heads (GAT or transformer), or if it is too small for the classification head.
// Other invalid values return a plain error.
func (c Config) Validate() error {
	if c.Hidden < 2 {
		return errors.WithStack(&ShapeMismatchError{
			Where: "classification head", Want: "hidden_channels >= 2", Got: c.Hidden})
	}
	for _, heads := range []struct {
		name  string
		value int
	}{{"GAT", c.GATHeads}, {"transformer", c.TransformerHeads}} {
		if heads.value <= 0 {
			return errors.Errorf("number of %s heads must be > 0, got %d", heads.name, heads.value)
		}
		if c.Hidden%heads.value != 0 {
			return errors.WithStack(&ShapeMismatchError{
				Where: heads.name + " heads",
				Want:  "hidden_channels divisible by the number of heads",
				Got:   []int{c.Hidden, heads.value},
			})
		}
	}
	if c.TransformerLayers < 0 {
		return errors.Errorf("transformer_layers must be >= 0, got %d", c.TransformerLayers)
	}
	for name, rate := range map[string]float64{
		ParamGCNDropout: c.GCNDropout, ParamGATDropout: c.GATDropout,
		ParamTransformerDropout: c.TransformerDropout, ParamHeadDropout: c.HeadDropout,
	} {
		if rate < 0 || rate >= 1 {
			return errors.Errorf("%s must be in [0, 1), got %g", name, rate)
		}
	}
	switch c.ResidualPlacement {
	case gnn.ResidualAfterMLP, gnn.ResidualBeforeMLP:
	default:
		return errors.Errorf("invalid %s %q, valid values are %q or %q", ParamResidualPlacement,
			c.ResidualPlacement, gnn.ResidualAfterMLP, gnn.ResidualBeforeMLP)
	}
	return nil
}

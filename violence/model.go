// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package violence scores batches of skeleton graphs with the likelihood, in [0, 1], of each pose
// depicting violence.
//
// The model is a graph encoder (GCN → GAT → GIN with a residual from the GCN stage), whose three
// node states are fused (jumping knowledge) and pooled per graph (mean, max and sum). The graph
// embedding is projected, contextualized by a small transformer and classified by a sigmoid head.
//
// Hyperparameters are stored in a GoMLX context (see CreateDefaultContext and ConfigFromContext),
// and the model variables under its "model" scope. Use Scorer for inference, and Train to train
// a model from MMPose keypoint files.
package violence

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/posegnn/gnn"
	"github.com/gomlx/posegnn/posegraph"
	"github.com/pkg/errors"
)

// DType of the model parameters and features.
var DType = dtypes.Float32

// Stages where non-finite values are checked, in order.
const (
	StageGCN         = "gcn"
	StageGAT         = "gat"
	StageGIN         = "gin"
	StagePool        = "pool"
	StageTransformer = "transformer"
	StageScore       = "score"
)

// Stages lists the checked stages in the order of the outputs of BuildGraph.
var Stages = []string{StageGCN, StageGAT, StageGIN, StagePool, StageTransformer, StageScore}

// EncoderStages returns the graph encoder stages of the model.
func (c Config) EncoderStages() []gnn.GraphEncoderStage {
	return []gnn.GraphEncoderStage{
		&gnn.GCN{Hidden: c.Hidden, Dropout: c.GCNDropout, Normalization: c.Normalization},
		&gnn.GAT{Hidden: c.Hidden, Heads: c.GATHeads, Dropout: c.GATDropout, Normalization: c.Normalization},
		&gnn.GIN{
			Hidden:        c.Hidden,
			Normalization: c.Normalization,
			Placement:     c.ResidualPlacement,
			OnResidualMismatch: func(want, got shapes.Shape) {
				panic(errors.WithStack(&ShapeMismatchError{Where: "GIN residual", Want: want.String(), Got: got}))
			},
		},
	}
}

// BuildGraph builds the model for the inputs given by posegraph.Batch.Tensors: node features,
// message edge sources and targets (self-loops included), batch index and graph sizes.
//
// It returns the scores shaped [numGraphs, 1], and one boolean scalar per entry of Stages,
// true if all the values after that stage are finite.
//
// mode is applied to the context before any layer is created.
func BuildGraph(ctx *context.Context, c Config, mode gnn.ExecutionMode, inputs []*Node) (scores *Node, finite []*Node) {
	if len(inputs) != posegraph.NumInputs {
		panic(errors.Errorf("model expects %d inputs (see posegraph.Batch.Tensors), got %d", posegraph.NumInputs, len(inputs)))
	}
	g := inputs[0].Graph()
	mode.Apply(ctx, g)
	x, sources, targets, batchIndex, graphSizes := inputs[0], inputs[1], inputs[2], inputs[3], inputs[4]
	x = ConvertDType(x, DType)
	edges := gnn.NewEdges(sources, targets, x.Shape().Dimensions[0])

	checkFinite := func(v *Node) { finite = append(finite, LogicalAll(IsFinite(v))) }
	state := gnn.State{Nodes: x}
	levels := make([]*Node, 0, 3)
	for _, stage := range c.EncoderStages() {
		state = stage.Encode(ctx, mode, state, edges)
		levels = append(levels, state.Nodes)
		checkFinite(state.Nodes)
	}

	pooled := gnn.MultiScalePool(gnn.JumpingKnowledge(levels...), batchIndex, graphSizes)
	checkFinite(pooled)
	embedding := projectEmbedding(ctx, pooled, c.Hidden)
	transformer := &SequenceTransformer{
		Hidden: c.Hidden, Heads: c.TransformerHeads, Layers: c.TransformerLayers,
		Dropout: c.TransformerDropout, LayerNormEpsilon: c.LayerNormEpsilon,
	}
	embedding = transformer.Apply(ctx, mode, embedding)
	checkFinite(embedding)
	head := &ClassificationHead{Hidden: c.Hidden, Dropout: c.HeadDropout}
	scores = head.Apply(ctx, mode, embedding)
	checkFinite(scores)
	return
}

// ModelGraph implements train.ModelFn: it reads the Config from the context and returns the scores
// only. The execution mode follows the context training flag, set by the trainer.
func ModelGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	_ = spec
	c, err := ConfigFromContext(ctx)
	if err != nil {
		panic(err)
	}
	mode := gnn.ModeOf(ctx, inputs[0].Graph())
	scores, _ := BuildGraph(ctx, c, mode, inputs)
	return []*Node{scores}
}

var _ train.ModelFn = ModelGraph

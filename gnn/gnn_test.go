package gnn

import (
	"math"
	"testing"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/simplego"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) backends.Backend {
	backend, err := backends.NewWithConfig("go")
	require.NoError(t, err)
	return backend
}

// pathEdges returns the message edges of the path graph 0-1-2, with self-loops.
func pathEdges(g *Graph) *Edges {
	sources := Const(g, [][]int32{{0}, {1}, {1}, {2}, {0}, {1}, {2}})
	targets := Const(g, [][]int32{{1}, {0}, {2}, {1}, {0}, {1}, {2}})
	return NewEdges(sources, targets, 3)
}

func TestNormalizedAdjacency(t *testing.T) {
	backend := newTestBackend(t)
	graphtest.RunTestGraphFnWithBackend(t, "NormalizedAdjacency()", backend,
		func(g *Graph) (inputs, outputs []*Node) {
			edges := pathEdges(g)
			x := Const(g, [][]float32{{1, 0}, {2, 1}, {4, 0}})
			inputs = []*Node{x}
			outputs = []*Node{edges.InDegree(x.DType()), NormalizedAdjacency(x, edges)}
			return
		}, []any{
			[][]float32{{2}, {3}, {2}},
			[][]float32{
				{0.5 + 2/float32(math.Sqrt(6)), 1 / float32(math.Sqrt(6))},
				{2.0/3 + 5/float32(math.Sqrt(6)), 1.0 / 3},
				{2 + 2/float32(math.Sqrt(6)), 1 / float32(math.Sqrt(6))},
			},
		}, 1e-4)

	// Without edges, only self-loops: degrees are 1 and the propagation is the identity.
	graphtest.RunTestGraphFnWithBackend(t, "NormalizedAdjacency() without edges", backend,
		func(g *Graph) (inputs, outputs []*Node) {
			loops := Const(g, [][]int32{{0}, {1}})
			edges := NewEdges(loops, loops, 2)
			x := Const(g, [][]float32{{3, -1}, {0, 7}})
			inputs = []*Node{x}
			outputs = []*Node{NormalizedAdjacency(x, edges)}
			return
		}, []any{
			[][]float32{{3, -1}, {0, 7}},
		}, 1e-6)
}

func TestEdgeSoftmax(t *testing.T) {
	backend := newTestBackend(t)
	graphtest.RunTestGraphFnWithBackend(t, "EdgeSoftmax()", backend,
		func(g *Graph) (inputs, outputs []*Node) {
			edges := pathEdges(g)
			logits := Const(g, [][]float32{{1, -3}, {2, 0}, {0.5, 10}, {-1, 1}, {3, 2}, {0, 0}, {100, -100}})
			uniform := ZerosLike(logits)
			inputs = []*Node{logits}
			outputs = []*Node{
				edges.SumAggregate(EdgeSoftmax(logits, edges)),
				EdgeSoftmax(uniform, edges),
			}
			return
		}, []any{
			[][]float32{{1, 1}, {1, 1}, {1, 1}},
			// With uniform logits each edge gets 1/in-degree of its target.
			[][]float32{
				{1.0 / 3, 1.0 / 3}, {0.5, 0.5}, {0.5, 0.5}, {1.0 / 3, 1.0 / 3},
				{0.5, 0.5}, {1.0 / 3, 1.0 / 3}, {0.5, 0.5}},
		}, 1e-5)
}

func TestMultiScalePool(t *testing.T) {
	backend := newTestBackend(t)
	want := []any{[][]float32{{11.0 / 3, -13.0 / 3}, {65.0 / 3, 10.0 / 3}}}
	pool := func(x [][]float32) func(g *Graph) (inputs, outputs []*Node) {
		return func(g *Graph) (inputs, outputs []*Node) {
			xNode := Const(g, x)
			batch := Const(g, [][]int32{{0}, {0}, {0}, {1}, {1}})
			sizes := Const(g, []float32{3, 2})
			inputs = []*Node{xNode}
			outputs = []*Node{MultiScalePool(xNode, batch, sizes)}
			return
		}
	}
	graphtest.RunTestGraphFnWithBackend(t, "MultiScalePool()", backend,
		pool([][]float32{{1, -1}, {2, -2}, {3, -6}, {10, 0}, {20, 4}}), want, 1e-5)
	// Nodes of each graph permuted.
	graphtest.RunTestGraphFnWithBackend(t, "MultiScalePool() permuted", backend,
		pool([][]float32{{3, -6}, {1, -1}, {2, -2}, {20, 4}, {10, 0}}), want, 1e-5)
}

func TestJumpingKnowledge(t *testing.T) {
	backend := newTestBackend(t)
	graphtest.RunTestGraphFnWithBackend(t, "JumpingKnowledge()", backend,
		func(g *Graph) (inputs, outputs []*Node) {
			a := Const(g, [][]float32{{1}, {2}})
			b := Const(g, [][]float32{{3, 4}, {5, 6}})
			inputs = []*Node{a, b}
			outputs = []*Node{JumpingKnowledge(a, b, a)}
			return
		}, []any{
			[][]float32{{1, 3, 4, 1}, {2, 5, 6, 2}},
		}, -1)
	require.Panics(t, func() {
		_ = MustExecOnce(backend, func(a, b *Node) *Node { return JumpingKnowledge(a, b) },
			[][]float32{{1}, {2}}, [][]float32{{1}})
	})
}

// encodeAll runs GCN → GAT → GIN on the path graph with 2D features and returns the three states.
func encodeAll(t *testing.T, backend backends.Backend, ctx *context.Context, mode ExecutionMode, x [][]float32) []*tensors.Tensor {
	const hidden = 8
	norm := DefaultNormalization
	stages := []GraphEncoderStage{
		&GCN{Hidden: hidden, Dropout: 0.2, Normalization: norm},
		&GAT{Hidden: hidden, Heads: 4, Dropout: 0.2, Normalization: norm},
		&GIN{Hidden: hidden, Normalization: norm, Placement: ResidualAfterMLP},
	}
	exec, err := context.NewExec(backend, ctx, func(ctx *context.Context, x *Node) []*Node {
		g := x.Graph()
		mode.Apply(ctx, g)
		edges := pathEdges(g)
		state := State{Nodes: x}
		var outputs []*Node
		for _, stage := range stages {
			state = stage.Encode(ctx, mode, state, edges)
			outputs = append(outputs, state.Nodes)
		}
		require.Nil(t, state.Residual, "GIN should consume the residual")
		return outputs
	})
	require.NoError(t, err)
	outputs, err := exec.Exec(x)
	require.NoError(t, err)
	return outputs
}

func TestStages(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.New()
	x := [][]float32{{0.1, 0.2}, {0.3, -0.5}, {1.0, 0.7}}
	outputs := encodeAll(t, backend, ctx, Eval, x)
	require.Len(t, outputs, 3)
	for i, output := range outputs {
		require.NoError(t, output.Shape().CheckDims(3, 8), "stage #%d", i)
		for _, v := range tensors.MustCopyFlatData[float32](output) {
			require.False(t, math.IsNaN(float64(v)) || math.IsInf(float64(v), 0))
			// All stages end with a ReLU.
			require.GreaterOrEqual(t, v, float32(0))
		}
	}

	// Variables are created under each stage scope.
	assert.NotNil(t, ctx.GetVariableByScopeAndName("/gcn/dense", "weights"))
	assert.NotNil(t, ctx.GetVariableByScopeAndName("/gcn", "bias"))
	assert.NotNil(t, ctx.GetVariableByScopeAndName("/gat", "attention_source"))
	assert.NotNil(t, ctx.GetVariableByScopeAndName("/gin/mlp/0/dense", "weights"))
	assert.NotNil(t, ctx.GetVariableByScopeAndName("/gin/mlp/batch_normalization", "mean"))

	// Eval mode is deterministic.
	again := encodeAll(t, backend, ctx.Reuse(), Eval, x)
	for i := range outputs {
		assert.Equal(t, outputs[i].Value(), again[i].Value(), "stage #%d", i)
	}
}

func TestGATAttentionWeights(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.New()
	gat := &GAT{Hidden: 8, Heads: 4, Normalization: DefaultNormalization}
	sums, err := context.ExecOnce(backend, ctx, func(ctx *context.Context, x *Node) *Node {
		edges := pathEdges(x.Graph())
		return edges.SumAggregate(gat.AttentionWeights(ctx, x, edges))
	}, [][]float32{{0.1, 0.2}, {0.3, -0.5}, {1.0, 0.7}})
	require.NoError(t, err)
	require.NoError(t, sums.Shape().CheckDims(3, 4))
	for _, v := range tensors.MustCopyFlatData[float32](sums) {
		assert.InDelta(t, 1.0, v, 1e-5)
	}

	require.Panics(t, func() {
		_ = context.MustExecOnce(backend, context.New(), func(ctx *context.Context, x *Node) *Node {
			return (&GAT{Hidden: 6, Heads: 4}).Attention(ctx, x, pathEdges(x.Graph()))
		}, [][]float32{{0}, {1}, {2}})
	})
}

func TestGINResidualMismatch(t *testing.T) {
	backend := newTestBackend(t)
	var called bool
	require.Panics(t, func() {
		_ = context.MustExecOnce(backend, context.New(), func(ctx *context.Context, x *Node) *Node {
			gin := &GIN{Hidden: 4, Normalization: DefaultNormalization,
				OnResidualMismatch: func(_, _ shapes.Shape) { called = true; panic(errors.New("mismatch")) }}
			residual := Zeros(x.Graph(), shapes.Make(x.DType(), 3, 5))
			return gin.Encode(ctx, Eval, State{Nodes: x, Residual: residual}, pathEdges(x.Graph())).Nodes
		}, [][]float32{{0, 1, 2, 3}, {1, 2, 3, 4}, {2, 3, 4, 5}})
	})
	assert.True(t, called)
}

package violence

import (
	"testing"

	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/posegnn/gnn"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, 64, c.Hidden)
	assert.Equal(t, 4, c.GATHeads)
	assert.Equal(t, 4, c.TransformerHeads)
	assert.Equal(t, 2, c.TransformerLayers)
	assert.Equal(t, 0.2, c.GCNDropout)
	assert.Equal(t, 0.2, c.GATDropout)
	assert.Equal(t, 0.1, c.TransformerDropout)
	assert.Equal(t, 0.3, c.HeadDropout)
	assert.Equal(t, gnn.DefaultNormalization, c.Normalization)
	assert.Equal(t, gnn.ResidualAfterMLP, c.ResidualPlacement)
}

func TestNewConfig(t *testing.T) {
	c, err := NewConfig(32, 4, 8)
	require.NoError(t, err)
	assert.Equal(t, 32, c.Hidden)
	assert.Equal(t, 8, c.TransformerHeads)

	for _, tc := range []struct {
		name                           string
		hidden, gatHeads, transformers int
	}{
		{"gat heads", 6, 4, 2},
		{"transformer heads", 64, 4, 3},
		{"hidden too small", 1, 1, 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewConfig(tc.hidden, tc.gatHeads, tc.transformers)
			require.Error(t, err)
			var shapeErr *ShapeMismatchError
			require.True(t, errors.As(err, &shapeErr), "expected a ShapeMismatchError, got %v", err)
		})
	}

	_, err = NewConfig(64, 0, 4)
	require.Error(t, err)
}

func TestConfigFromContext(t *testing.T) {
	ctx := CreateDefaultContext()
	_, err := commandline.ParseContextSettings(ctx, "hidden_channels=32;transformer_layers=1;residual_placement=before_mlp")
	require.NoError(t, err)
	c, err := ConfigFromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, 32, c.Hidden)
	assert.Equal(t, 1, c.TransformerLayers)
	assert.Equal(t, gnn.ResidualBeforeMLP, c.ResidualPlacement)

	// Round trip through SetParams.
	c.GCNDropout = 0.5
	other := CreateDefaultContext()
	c.SetParams(other)
	c2, err := ConfigFromContext(other)
	require.NoError(t, err)
	assert.Equal(t, c, c2)

	ctx.SetParam(ParamResidualPlacement, "nowhere")
	_, err = ConfigFromContext(ctx)
	require.Error(t, err)

	ctx = CreateDefaultContext()
	ctx.SetParam(ParamHeadDropout, 1.0)
	_, err = ConfigFromContext(ctx)
	require.Error(t, err)
}

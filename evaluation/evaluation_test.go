package evaluation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestROC(t *testing.T) {
	labels := []bool{false, true, false, true}
	scores := []float64{0.1, 0.9, 0.4, 0.7}
	curve, err := ROC(labels, scores)
	require.NoError(t, err)
	require.Len(t, curve.Thresholds, 5)
	assert.True(t, math.IsInf(curve.Thresholds[0], 1))
	assert.Equal(t, 0.0, curve.TPR[0])
	assert.Equal(t, 0.0, curve.FPR[0])
	assert.Equal(t, 1.0, curve.TPR[len(curve.TPR)-1])
	assert.Equal(t, 1.0, curve.FPR[len(curve.FPR)-1])
	assert.InDelta(t, 1.0, curve.AUC(), 1e-9)

	// Inverted scores.
	auc, err := AUC(labels, []float64{0.9, 0.1, 0.7, 0.4})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, auc, 1e-9)

	// All scores tied.
	auc, err = AUC(labels, []float64{0.5, 0.5, 0.5, 0.5})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, auc, 1e-9)
}

func TestInputErrors(t *testing.T) {
	for _, tc := range []struct {
		name   string
		labels []bool
		scores []float64
	}{
		{"empty", nil, nil},
		{"length mismatch", []bool{true, false}, []float64{0.5}},
		{"single class", []bool{true, true}, []float64{0.2, 0.8}},
		{"NaN", []bool{true, false}, []float64{math.NaN(), 0.8}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := AUC(tc.labels, tc.scores)
			assert.Error(t, err)
			_, _, err = FindOptimalThreshold(tc.labels, tc.scores)
			assert.Error(t, err)
		})
	}
}

func TestConfusion(t *testing.T) {
	labels := []bool{true, true, false, false, true}
	scores := []float64{0.9, 0.3, 0.6, 0.1, 0.5}
	c := Confusion(labels, scores, 0.5)
	assert.Equal(t, ConfusionMatrix{TP: 2, FP: 1, TN: 1, FN: 1}, c)
	assert.InDelta(t, 2.0/3.0, c.Sensitivity(), 1e-9)
	assert.InDelta(t, 0.5, c.Specificity(), 1e-9)
	assert.InDelta(t, 2.0/3.0, c.Precision(), 1e-9)
	assert.InDelta(t, 2.0/3.0, c.F1(), 1e-9)

	// Nothing classified as positive.
	c = Confusion(labels, scores, 1.5)
	assert.Equal(t, 0.0, c.Precision())
	assert.Equal(t, 0.0, c.F1())
	assert.Equal(t, 1.0, c.Specificity())
}

func TestFindOptimalThreshold(t *testing.T) {
	t.Run("separable", func(t *testing.T) {
		labels := []bool{false, false, true, true}
		scores := []float64{0.1, 0.4, 0.7, 0.9}
		threshold, metrics, err := FindOptimalThreshold(labels, scores)
		require.NoError(t, err)
		assert.Equal(t, 0.7, threshold)
		assert.Equal(t, 0.7, metrics.ThresholdJ)
		assert.Equal(t, 0.7, metrics.ThresholdDistance)
		assert.Equal(t, 0.7, metrics.ThresholdF1)
		assert.Equal(t, 1.0, metrics.YoudensJ)
		assert.Equal(t, 1.0, metrics.Sensitivity)
		assert.Equal(t, 1.0, metrics.Specificity)
		assert.Equal(t, 1.0, metrics.F1)
		assert.Equal(t, ConfusionMatrix{TP: 2, TN: 2}, metrics.Confusion)
	})

	t.Run("overlapping", func(t *testing.T) {
		labels := []bool{true, false, false, true, true, false}
		scores := []float64{0.2, 0.3, 0.35, 0.6, 0.8, 0.9}
		threshold, metrics, err := FindOptimalThreshold(labels, scores)
		require.NoError(t, err)
		// At 0.6: 2 of 3 positives and 1 of 3 negatives are above the threshold.
		assert.Equal(t, 0.6, threshold)
		assert.InDelta(t, 1.0/3.0, metrics.YoudensJ, 1e-9)
		assert.Equal(t, ConfusionMatrix{TP: 2, FP: 1, TN: 2, FN: 1}, metrics.Confusion)
	})

	t.Run("uninformative scores", func(t *testing.T) {
		threshold, metrics, err := FindOptimalThreshold([]bool{true, false}, []float64{0.5, 0.5})
		require.NoError(t, err)
		// No point is better than classifying nothing as positive.
		assert.True(t, math.IsInf(threshold, 1))
		assert.Equal(t, 0.0, metrics.YoudensJ)
		assert.Equal(t, 0.5, metrics.ThresholdF1)
	})
}

func TestBinaryCrossEntropy(t *testing.T) {
	loss, err := BinaryCrossEntropy([]bool{true, false}, []float64{0.5, 0.5})
	require.NoError(t, err)
	assert.InDelta(t, math.Ln2, loss, 1e-9)

	loss, err = BinaryCrossEntropy([]bool{true, false}, []float64{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, loss, 1e-6)

	// Clipped, so it stays finite.
	loss, err = BinaryCrossEntropy([]bool{true}, []float64{0})
	require.NoError(t, err)
	assert.InDelta(t, -math.Log(1e-7), loss, 1e-6)

	_, err = BinaryCrossEntropy(nil, nil)
	assert.Error(t, err)
	_, err = BinaryCrossEntropy([]bool{true}, []float64{0.1, 0.2})
	assert.Error(t, err)
}

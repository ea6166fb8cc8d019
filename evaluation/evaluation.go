// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package evaluation computes binary classification quality measures from scores: the ROC curve
// and its area, confusion matrices, and the selection of a decision threshold.
//
// A score is classified as positive when it is greater or equal to the threshold.
package evaluation

import (
	"math"
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// ROCCurve holds the points of a receiver operating characteristic curve, ordered by increasing
// false positive rate. TPR[i] and FPR[i] are the rates when classifying scores >= Thresholds[i].
// The first threshold is +Inf, where nothing is classified as positive.
type ROCCurve struct {
	FPR, TPR, Thresholds []float64
}

func checkInputs(labels []bool, scores []float64) error {
	if len(labels) == 0 {
		return errors.New("no examples to evaluate")
	}
	if len(labels) != len(scores) {
		return errors.Errorf("got %d labels but %d scores", len(labels), len(scores))
	}
	var numPositives int
	for _, l := range labels {
		if l {
			numPositives++
		}
	}
	if numPositives == 0 || numPositives == len(labels) {
		return errors.Errorf("both classes must be present to evaluate, got %d positives out of %d examples",
			numPositives, len(labels))
	}
	for i, s := range scores {
		if math.IsNaN(s) {
			return errors.Errorf("score #%d is NaN", i)
		}
	}
	return nil
}

// ROC returns the ROC curve of the scores, with one point per distinct score.
// Both classes must be present in labels.
func ROC(labels []bool, scores []float64) (ROCCurve, error) {
	if err := checkInputs(labels, scores); err != nil {
		return ROCCurve{}, err
	}
	y := slices.Clone(scores)
	classes := slices.Clone(labels)
	stat.SortWeightedLabeled(y, classes, nil)
	tpr, fpr, thresholds := stat.ROC(nil, y, classes, nil)
	return ROCCurve{FPR: fpr, TPR: tpr, Thresholds: thresholds}, nil
}

// AUC returns the area under the curve.
func (c ROCCurve) AUC() float64 {
	return integrate.Trapezoidal(c.FPR, c.TPR)
}

// AUC returns the area under the ROC curve of the scores.
func AUC(labels []bool, scores []float64) (float64, error) {
	curve, err := ROC(labels, scores)
	if err != nil {
		return 0, err
	}
	return curve.AUC(), nil
}

// ConfusionMatrix counts the classification outcomes at a threshold.
type ConfusionMatrix struct {
	TP, FP, TN, FN int
}

// Confusion classifies scores >= threshold as positive and counts the outcomes.
func Confusion(labels []bool, scores []float64, threshold float64) ConfusionMatrix {
	var c ConfusionMatrix
	for i, label := range labels {
		predicted := scores[i] >= threshold
		switch {
		case predicted && label:
			c.TP++
		case predicted && !label:
			c.FP++
		case !predicted && label:
			c.FN++
		default:
			c.TN++
		}
	}
	return c
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// Sensitivity (recall, true positive rate), or 0 if there are no positives.
func (c ConfusionMatrix) Sensitivity() float64 { return ratio(c.TP, c.TP+c.FN) }

// Specificity (true negative rate), or 0 if there are no negatives.
func (c ConfusionMatrix) Specificity() float64 { return ratio(c.TN, c.TN+c.FP) }

// Precision, or 0 if nothing was classified as positive.
func (c ConfusionMatrix) Precision() float64 { return ratio(c.TP, c.TP+c.FP) }

// F1 is the harmonic mean of precision and sensitivity, or 0 if there are no true positives.
func (c ConfusionMatrix) F1() float64 { return ratio(2*c.TP, 2*c.TP+c.FP+c.FN) }

// ThresholdMetrics describes the candidate thresholds and the classification quality at the chosen one.
type ThresholdMetrics struct {
	// ThresholdJ maximizes Youden's J statistic (sensitivity + specificity - 1). It is the chosen threshold.
	ThresholdJ float64

	// ThresholdDistance minimizes the distance to the perfect classifier, the (0, 1) point of the ROC curve.
	ThresholdDistance float64

	// ThresholdF1 maximizes the F1 score.
	ThresholdF1 float64

	// Measures at the chosen threshold.
	Confusion                                         ConfusionMatrix
	Sensitivity, Specificity, Precision, F1, YoudensJ float64
}

// FindOptimalThreshold selects a decision threshold among the points of the ROC curve of the scores.
//
// The returned threshold maximizes Youden's J statistic. Ties go to the first point of the curve,
// the one with the highest threshold. The thresholds selected by the distance to (0, 1) and by the F1
// score are reported in the metrics for comparison.
func FindOptimalThreshold(labels []bool, scores []float64) (float64, ThresholdMetrics, error) {
	curve, err := ROC(labels, scores)
	if err != nil {
		return 0, ThresholdMetrics{}, err
	}
	n := len(curve.Thresholds)
	youden := make([]float64, n)
	distances := make([]float64, n)
	f1Scores := make([]float64, n)
	for i, threshold := range curve.Thresholds {
		youden[i] = curve.TPR[i] - curve.FPR[i]
		distances[i] = math.Hypot(1-curve.TPR[i], curve.FPR[i])
		f1Scores[i] = Confusion(labels, scores, threshold).F1()
	}
	bestJ := floats.MaxIdx(youden)
	threshold := curve.Thresholds[bestJ]
	confusion := Confusion(labels, scores, threshold)
	metrics := ThresholdMetrics{
		ThresholdJ:        threshold,
		ThresholdDistance: curve.Thresholds[floats.MinIdx(distances)],
		ThresholdF1:       curve.Thresholds[floats.MaxIdx(f1Scores)],
		Confusion:         confusion,
		Sensitivity:       confusion.Sensitivity(),
		Specificity:       confusion.Specificity(),
		Precision:         confusion.Precision(),
		F1:                f1Scores[bestJ],
		YoudensJ:          youden[bestJ],
	}
	return threshold, metrics, nil
}

// BinaryCrossEntropy returns the mean binary cross-entropy of the scores (probabilities). Scores are
// clipped away from 0 and 1 by epsilon, to keep the loss finite.
func BinaryCrossEntropy(labels []bool, scores []float64) (float64, error) {
	if len(labels) == 0 || len(labels) != len(scores) {
		return 0, errors.Errorf("got %d labels and %d scores, need the same non-zero number", len(labels), len(scores))
	}
	const epsilon = 1e-7
	losses := make([]float64, len(scores))
	for i, s := range scores {
		s = min(max(s, epsilon), 1-epsilon)
		if labels[i] {
			losses[i] = -math.Log(s)
		} else {
			losses[i] = -math.Log(1 - s)
		}
	}
	return stat.Mean(losses, nil), nil
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/posegnn/violence"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
	violentRowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "9", Dark: "9"}).
			Bold(true).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 0, 4)
)

// highlightTable is a table where selected rows are highlighted.
type highlightTable struct {
	*lgtable.Table
	numRows   int
	highlight map[int]bool
}

// newTable creates a table with the given headers (if any) and per-column alignment. The last
// alignment is used for the remaining columns.
func newTable(headers []string, alignments ...lipgloss.Position) *highlightTable {
	t := &highlightTable{highlight: make(map[int]bool)}
	t.Table = lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			switch {
			case row < 0:
				return headerRowStyle
			case t.highlight[row]:
				s = violentRowStyle
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			alignment := lipgloss.Left
			if col < len(alignments) {
				alignment = alignments[col]
			} else if len(alignments) > 0 {
				alignment = alignments[len(alignments)-1]
			}
			return s.Align(alignment)
		})
	if len(headers) > 0 {
		t.Headers(headers...)
	}
	return t
}

// Row adds a row, highlighted if requested.
func (t *highlightTable) Row(highlight bool, cells ...string) {
	if highlight {
		t.highlight[t.numRows] = true
	}
	t.Table.Row(cells...)
	t.numRows++
}

func printTitle(title string) { fmt.Println(titleStyle.Render(title)) }

func printModelSummary(ctx *context.Context, elapsed time.Duration) {
	modelCtx := ctx.In("model")
	printTitle("Model")
	table := newTable(nil, lipgloss.Right, lipgloss.Left)
	table.Row(false, "checkpoint", *flagCheckpoint)
	table.Row(false, "global step", humanize.Comma(optimizers.GetGlobalStep(modelCtx)))
	table.Row(false, "# variables", humanize.Comma(int64(modelCtx.NumVariables())))
	table.Row(false, "# parameters", humanize.Comma(int64(modelCtx.NumParameters())))
	table.Row(false, "memory", humanize.Bytes(uint64(modelCtx.Memory())))
	table.Row(false, "decision threshold", fmt.Sprintf("%.4f",
		context.GetParamOr(ctx, violence.ParamDecisionThreshold, 0.5)))
	table.Row(false, "elapsed", commandline.FormatDuration(elapsed))
	fmt.Println(table.Render())
}

func printEpochs(epochs []violence.EpochReport) {
	if len(epochs) == 0 {
		return
	}
	printTitle("Validation")
	table := newTable([]string{"Epoch", "Global step", "Loss", "ROC AUC"}, lipgloss.Right)
	for _, epoch := range epochs {
		table.Row(false, fmt.Sprint(epoch.Epoch), humanize.Comma(int64(epoch.GlobalStep)),
			fmt.Sprintf("%.4f", epoch.ValidationLoss), fmt.Sprintf("%.4f", epoch.ValidationAUC))
	}
	fmt.Println(table.Render())
}

func printEvaluation(name string, report violence.EvaluationReport) {
	printTitle(fmt.Sprintf("%s evaluation", name))
	m := report.Metrics
	table := newTable(nil, lipgloss.Right, lipgloss.Left)
	table.Row(false, "examples", humanize.Comma(int64(report.NumExamples)))
	table.Row(false, "loss", fmt.Sprintf("%.4f", report.Loss))
	table.Row(false, "ROC AUC", fmt.Sprintf("%.4f", report.AUC))
	table.Row(false, "threshold (Youden's J)", fmt.Sprintf("%.4f", m.ThresholdJ))
	table.Row(false, "threshold (distance to (0,1))", fmt.Sprintf("%.4f", m.ThresholdDistance))
	table.Row(false, "threshold (F1)", fmt.Sprintf("%.4f", m.ThresholdF1))
	table.Row(false, "sensitivity", fmt.Sprintf("%.4f", m.Sensitivity))
	table.Row(false, "specificity", fmt.Sprintf("%.4f", m.Specificity))
	table.Row(false, "precision", fmt.Sprintf("%.4f", m.Precision))
	table.Row(false, "F1", fmt.Sprintf("%.4f", m.F1))
	table.Row(false, "Youden's J", fmt.Sprintf("%.4f", m.YoudensJ))
	table.Row(false, "TP / FP / TN / FN", fmt.Sprintf("%d / %d / %d / %d",
		m.Confusion.TP, m.Confusion.FP, m.Confusion.TN, m.Confusion.FN))
	table.Row(len(report.Warnings) > 0, "numeric warnings", humanize.Comma(int64(len(report.Warnings))))
	fmt.Println(table.Render())
}

// poseScore is the result of one pose of a scored file.
type poseScore struct {
	File    string
	Pose    int
	Score   float32
	Violent bool
}

func printScores(scores []poseScore) {
	table := newTable([]string{"File", "Pose", "Score", "Violent"}, lipgloss.Left, lipgloss.Right)
	for _, s := range scores {
		table.Row(s.Violent, s.File, fmt.Sprint(s.Pose), fmt.Sprintf("%.4f", s.Score), fmt.Sprint(s.Violent))
	}
	fmt.Println(table.Render())
}

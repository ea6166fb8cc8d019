// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// violence_gnn trains the pose-graph violence classifier on MMPose results, evaluates it, and
// scores new pose files with a trained model.
//
// Commands:
//
//	violence_gnn -checkpoint=DIR -violent=DIRS -non_violent=DIRS [-set=SETTINGS] train
//	violence_gnn -checkpoint=DIR -violent=DIRS -non_violent=DIRS eval
//	violence_gnn -checkpoint=DIR score FILE...
//	violence_gnn -checkpoint=DIR watch DIR
//
// Hyperparameters are changed with -set, e.g. -set="hidden_channels=32;num_epochs=10".
// Run with -help to see them all.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/posegnn/posegraph"
	"github.com/gomlx/posegnn/violence"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"k8s.io/klog/v2"
)

var (
	flagCheckpoint = flag.String("checkpoint", "",
		"Directory where the model checkpoints are saved and loaded from. Required.")
	flagViolent = flag.String("violent", "",
		"Comma-separated directories with MMPose JSON results of violent scenes.")
	flagNonViolent = flag.String("non_violent", "",
		"Comma-separated directories with MMPose JSON results of non-violent scenes.")
	flagViolentCam2 = flag.String("violent_cam2", "",
		"Optional directory with violent scenes from a second camera. Ignored with a warning if it doesn't exist.")
	flagNonViolentCam2 = flag.String("non_violent_cam2", "",
		"Optional directory with non-violent scenes from a second camera. Ignored with a warning if it doesn't exist.")
	flagSkeleton = flag.String("skeleton", "",
		"YAML file with the skeleton topology of the poses. If empty, the COCO-17 keypoints are used.")
	flagMetricsAddr = flag.String("metrics_addr", "",
		"If set, Prometheus metrics of the scorer are served on this address (e.g. \":9090\") while scoring.")
	flagProgress = flag.Bool("progress", true, "Display progress bars.")
	flagSettle   = flag.Duration("settle", time.Second,
		"In watch mode, how long a file must go without changes before it is scored.")
)

func usage() {
	out := flag.CommandLine.Output()
	_, _ = fmt.Fprintf(out, "Usage: %s [flags] train|eval|score FILE...|watch DIR\n\nFlags:\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	ctx := violence.CreateDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if *flagCheckpoint == "" {
		klog.Exitf("-checkpoint must be set")
	}
	paramsSet := must.M1(commandline.ParseContextSettings(ctx, *settings))
	backend := backends.MustNew()
	klog.V(1).Infof("backend: %s", backend.Description())

	switch command := args[0]; command {
	case "train":
		runTrain(backend, ctx, paramsSet)
	case "eval":
		runEval(backend, ctx, paramsSet)
	case "score":
		if len(args) < 2 {
			klog.Exitf("score requires the MMPose JSON files to score")
		}
		runScore(backend, ctx, paramsSet, args[1:])
	case "watch":
		if len(args) != 2 {
			klog.Exitf("watch requires exactly one directory to watch")
		}
		runWatch(backend, ctx, paramsSet, args[1])
	default:
		klog.Exitf("unknown command %q, use one of train, eval, score or watch", command)
	}
}

// dataDirs splits the comma-separated list of directories and appends the second camera one if it exists.
func dataDirs(list, secondCamera string) []string {
	var dirs []string
	for _, dir := range strings.Split(list, ",") {
		if dir = strings.TrimSpace(dir); dir != "" {
			dirs = append(dirs, dir)
		}
	}
	if secondCamera != "" {
		if info, err := os.Stat(secondCamera); err == nil && info.IsDir() {
			dirs = append(dirs, secondCamera)
		} else {
			klog.Warningf("second camera directory %q not found, ignoring it", secondCamera)
		}
	}
	return dirs
}

func loadSkeleton() *posegraph.Skeleton {
	if *flagSkeleton == "" {
		return posegraph.COCO17()
	}
	return must.M1(posegraph.LoadSkeleton(*flagSkeleton))
}

// loadSplits loads the labeled poses and splits them in train, validation and test sets.
func loadSplits(ctx *context.Context) violence.Splits {
	violentDirs := dataDirs(*flagViolent, *flagViolentCam2)
	nonViolentDirs := dataDirs(*flagNonViolent, *flagNonViolentCam2)
	if len(violentDirs) == 0 || len(nonViolentDirs) == 0 {
		klog.Exitf("both -violent and -non_violent directories must be given")
	}
	start := time.Now()
	examples := must.M1(violence.LoadLabeled(violentDirs, nonViolentDirs, loadSkeleton(),
		context.GetParamOr(ctx, violence.ParamSamplePercentage, 100)))
	splits := must.M1(violence.SplitFromContext(ctx, examples))
	klog.Infof("loaded %s poses in %s: %s train, %s validation, %s test",
		humanize.Comma(int64(len(examples))), commandline.FormatDuration(time.Since(start)),
		humanize.Comma(int64(len(splits.Train))), humanize.Comma(int64(len(splits.Validation))),
		humanize.Comma(int64(len(splits.Test))))
	return splits
}

func runTrain(backend backends.Backend, ctx *context.Context, paramsSet []string) {
	splits := loadSplits(ctx)
	if len(paramsSet) > 0 {
		fmt.Println(commandline.SprintModifiedContextSettings(ctx, paramsSet))
	}
	start := time.Now()
	report, err := violence.Train(backend, ctx, splits, violence.TrainOptions{
		CheckpointDir: *flagCheckpoint,
		ParamsSet:     paramsSet,
		ProgressBar:   *flagProgress,
	})
	if err != nil {
		klog.Exitf("training failed: %+v", err)
	}
	printModelSummary(ctx, time.Since(start))
	printEpochs(report.Epochs)
	printEvaluation("Test", report.Test)
}

func runEval(backend backends.Backend, ctx *context.Context, paramsSet []string) {
	_, err := checkpoints.Load(ctx).
		Dir(*flagCheckpoint).
		ExcludeParams(append(paramsSet, violence.ParamsExcludedFromSaving...)...).
		Done()
	if err != nil {
		klog.Exitf("failed to load model: %+v", err)
	}
	splits := loadSplits(ctx)
	start := time.Now()
	for _, split := range []struct {
		name     string
		examples []violence.Example
	}{{"Validation", splits.Validation}, {"Test", splits.Test}} {
		if len(split.examples) == 0 {
			continue
		}
		report, err := violence.Evaluate(backend, ctx, split.examples)
		if err != nil {
			klog.Exitf("%s evaluation failed: %+v", split.name, err)
		}
		printEvaluation(split.name, report)
	}
	printModelSummary(ctx, time.Since(start))
}

// newScorer loads the model and, if -metrics_addr is set, serves its metrics.
func newScorer(backend backends.Backend, ctx *context.Context, paramsSet []string) *violence.Scorer {
	var metrics *violence.ScorerMetrics
	if *flagMetricsAddr != "" {
		registry := prom.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = must.M1(violence.NewScorerMetrics(registry))
		server := &http.Server{
			Addr:              *flagMetricsAddr,
			Handler:           violence.MetricsHandler(registry),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				klog.Errorf("metrics server on %q: %v", *flagMetricsAddr, err)
			}
		}()
		klog.Infof("serving metrics on http://%s/metrics", *flagMetricsAddr)
	}
	scorer, err := violence.LoadScorer(backend, *flagCheckpoint, violence.WithMetrics(metrics))
	if err != nil {
		klog.Exitf("%+v", err)
	}
	for _, param := range paramsSet {
		if param == violence.ParamDecisionThreshold {
			scorer.SetThreshold(context.GetParamOr(ctx, violence.ParamDecisionThreshold, scorer.Threshold()))
		}
	}
	klog.Infof("decision threshold: %.4f", scorer.Threshold())
	return scorer
}

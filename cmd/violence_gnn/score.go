// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	stdcontext "context"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/posegnn/posegraph"
	"github.com/gomlx/posegnn/violence"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// scoreFile classifies every pose of an MMPose results file, in batches of batchSize.
func scoreFile(scorer *violence.Scorer, skeleton *posegraph.Skeleton, path string, batchSize int) ([]poseScore, error) {
	graphs, err := posegraph.LoadMMPoseFile(path, skeleton)
	if err != nil {
		return nil, err
	}
	results := make([]poseScore, 0, len(graphs))
	for chunk := range slices.Chunk(graphs, max(batchSize, 1)) {
		batch, err := posegraph.NewBatch(chunk)
		if err != nil {
			return nil, errors.WithMessagef(err, "file %q", path)
		}
		violent, scores, err := scorer.Classify(batch)
		if err != nil {
			return nil, errors.WithMessagef(err, "file %q", path)
		}
		for i, score := range scores {
			results = append(results, poseScore{File: path, Pose: len(results), Score: score, Violent: violent[i]})
		}
	}
	return results, nil
}

func runScore(backend backends.Backend, ctx *context.Context, paramsSet []string, files []string) {
	scorer := newScorer(backend, ctx, paramsSet)
	skeleton := loadSkeleton()
	batchSize := context.GetParamOr(ctx, violence.ParamBatchSize, 32)
	var bar *progressbar.ProgressBar
	if *flagProgress && len(files) > 1 {
		bar = progressbar.Default(int64(len(files)), "scoring")
	}
	var results []poseScore
	var numFailed int
	for _, file := range files {
		fileResults, err := scoreFile(scorer, skeleton, file, batchSize)
		if err != nil {
			klog.Errorf("%+v", err)
			numFailed++
		}
		results = append(results, fileResults...)
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
	printScores(results)
	if numFailed > 0 {
		klog.Exitf("failed to score %d of %d files", numFailed, len(files))
	}
}

// runWatch scores the MMPose results files written to dir, until interrupted. A file is scored
// once it has not changed for -settle.
func runWatch(backend backends.Backend, ctx *context.Context, paramsSet []string, dir string) {
	scorer := newScorer(backend, ctx, paramsSet)
	skeleton := loadSkeleton()
	batchSize := context.GetParamOr(ctx, violence.ParamBatchSize, 32)

	watcher := must.M1(fsnotify.NewWatcher())
	defer func() { _ = watcher.Close() }()
	must.M(watcher.Add(dir))
	signalCtx, stop := signal.NotifyContext(stdcontext.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	changed := make(map[string]bool)
	settleTimer := time.NewTimer(*flagSettle)
	settleTimer.Stop()
	klog.Infof("watching %q for MMPose results (Ctrl+C to stop)", dir)
	for {
		select {
		case <-signalCtx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 || filepath.Ext(event.Name) != ".json" {
				continue
			}
			changed[event.Name] = true
			settleTimer.Reset(*flagSettle)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			klog.Errorf("watching %q: %v", dir, err)

		case <-settleTimer.C:
			files := make([]string, 0, len(changed))
			for file := range changed {
				files = append(files, file)
			}
			slices.Sort(files)
			clear(changed)
			for _, file := range files {
				results, err := scoreFile(scorer, skeleton, file, batchSize)
				if err != nil {
					klog.Warningf("skipping %q: %v", file, err)
					continue
				}
				printScores(results)
			}
		}
	}
}

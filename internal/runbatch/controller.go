// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package runbatch drives a batch of subject files through an ordered
// pipeline of external tools. Failures are isolated per file: a failed or
// unproducible phase stops that file's sequence and the batch carries on
// with the next file. Only definition validation is fatal.
package runbatch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/matt-FFFFFF/neurobatch/internal/config"
	"github.com/matt-FFFFFF/neurobatch/internal/ctxlog"
	"github.com/matt-FFFFFF/neurobatch/internal/outparse"
	"github.com/matt-FFFFFF/neurobatch/internal/pipeline"
	"github.com/matt-FFFFFF/neurobatch/internal/progress"
	"github.com/spf13/afero"
)

const (
	scratchPrefixFormat = "dl_processing_%d_"
	sidecarName         = "result.json"
)

// Controller coordinates one batch run: per-file scratch directories, the
// phase sequence for each file, progress aggregation and the event stream.
type Controller struct {
	def       *config.JobDefinition
	pipe      *pipeline.Pipeline
	reporter  progress.Reporter
	agg       *progress.Aggregator
	canceller *Canceller
	jobID     string
}

// NewController validates and assembles a batch run. Definition errors
// surface here, before anything starts.
func NewController(jobID string, def *config.JobDefinition, reporter progress.Reporter) (*Controller, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	pipe, err := def.BuildPipeline()
	if err != nil {
		return nil, err
	}

	agg, err := progress.NewAggregator(len(def.Files), pipe.Weights())
	if err != nil {
		return nil, err
	}

	if reporter == nil {
		reporter = progress.NopReporter{}
	}

	return &Controller{
		def:       def,
		pipe:      pipe,
		reporter:  reporter,
		agg:       agg,
		canceller: NewCanceller(def.Grace()),
		jobID:     jobID,
	}, nil
}

// Canceller returns the run's cancellation coordinator.
func (c *Controller) Canceller() *Canceller {
	return c.canceller
}

// Run processes every file in order and returns the batch result. It always
// emits one final batch-completed event, after all other events. The error
// return aggregates per-file failures; it is nil when every file succeeded.
func (c *Controller) Run(ctx context.Context) (*BatchResult, error) {
	logger := ctxlog.Logger(ctx).With("jobId", c.jobID).With("pipeline", c.pipe.Name)
	logger.Info("batch started", "files", len(c.def.Files))

	result := &BatchResult{
		JobID:    c.jobID,
		JobName:  c.def.Name,
		Pipeline: c.pipe.Name,
		Started:  time.Now(),
	}

	fs := FsFactory()
	options := c.def.ResolvedOptions()

	runner := &PhaseRunner{
		JobID:       c.jobID,
		Classifier:  outparse.DefaultClassifier{},
		Reporter:    c.reporter,
		Aggregator:  c.agg,
		Canceller:   c.canceller,
		ToolPaths:   c.def.ToolPaths,
		Deadline:    c.def.PhaseTimeout,
		Grace:       c.def.Grace(),
		TotalFiles:  len(c.def.Files),
		TotalPhases: len(c.pipe.Phases),
	}

	seq := &Sequencer{Runner: runner, Pipeline: c.pipe}

	for i, source := range c.def.Files {
		if c.canceller.Cancelled() {
			result.Cancelled = true

			result.Files = append(result.Files, FileResult{
				FileIndex: i,
				FilePath:  source,
				Cancelled: true,
			})

			c.reportFile(result.Files[len(result.Files)-1])

			continue
		}

		workDir, err := scratchDir(fs, c.def.WorkspaceDir, i)
		if err != nil {
			logger.Error("could not create scratch directory", "file", source, "error", err)

			fr := FileResult{
				FileIndex: i,
				FilePath:  source,
				Phases: []PhaseResult{{
					Reason:   ReasonWriteError,
					ExitCode: -1,
					Err:      err,
				}},
			}

			result.Files = append(result.Files, fr)
			c.reportFile(fr)

			continue
		}

		fileRes := seq.Run(ctx, FileContext{
			Index:    i,
			Source:   source,
			WorkDir:  workDir,
			BaseName: pipeline.BaseName(source),
			Options:  options,
		})

		if fileRes.Cancelled {
			result.Cancelled = true
		}

		writeSidecar(ctx, fs, workDir, fileRes)

		result.Files = append(result.Files, fileRes)
		c.reportFile(fileRes)

		logger.Info("file finished",
			"file", source, "succeeded", fileRes.Succeeded(), "duration", fileRes.Duration)
	}

	result.Finished = time.Now()

	succeeded, failed := result.Counts()
	logger.Info("batch finished",
		"succeeded", succeeded, "failed", failed, "cancelled", result.Cancelled)

	c.reporter.Report(progress.Event{
		Type:    progress.EventBatchCompleted,
		JobID:   c.jobID,
		Percent: c.agg.Last(),
		Failed:  failed > 0 || result.Cancelled,
	})

	return result, result.Err()
}

func (c *Controller) reportFile(fr FileResult) {
	var err error
	if p := fr.FailedPhase(); p != nil {
		err = p.Err
	}

	c.reporter.Report(progress.Event{
		Type:      progress.EventFileCompleted,
		JobID:     c.jobID,
		FileIndex: fr.FileIndex,
		FilePath:  fr.FilePath,
		Percent:   c.agg.Last(),
		Failed:    !fr.Succeeded(),
		Err:       err,
	})
}

// scratchDir creates the per-file working directory under the configured
// workspace, or the system temp directory when none is set.
func scratchDir(fs afero.Fs, workspace string, fileIndex int) (string, error) {
	if workspace == "" {
		workspace = os.TempDir()
	}

	if err := fs.MkdirAll(workspace, 0o755); err != nil {
		return "", err
	}

	return afero.TempDir(fs, workspace, fmt.Sprintf(scratchPrefixFormat, fileIndex))
}

// writeSidecar records the file's outcome as JSON next to its artifacts.
// Sidecar failures are logged, never fatal.
func writeSidecar(ctx context.Context, fs afero.Fs, workDir string, fr FileResult) {
	data, err := json.MarshalIndent(fr, "", "  ")
	if err != nil {
		ctxlog.Logger(ctx).Warn("could not marshal result sidecar", "error", err)
		return
	}

	path := filepath.Join(workDir, sidecarName)
	if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
		ctxlog.Logger(ctx).Warn("could not write result sidecar", "path", path, "error", err)
	}
}

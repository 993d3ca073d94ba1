// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package runbatch

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/matt-FFFFFF/neurobatch/internal/ctxlog"
	"github.com/matt-FFFFFF/neurobatch/internal/outparse"
	"github.com/matt-FFFFFF/neurobatch/internal/pipeline"
	"github.com/matt-FFFFFF/neurobatch/internal/progress"
	"github.com/matt-FFFFFF/neurobatch/internal/supervise"
	"github.com/spf13/afero"
)

const lastLineMax = 200

// FsFactory returns the filesystem used for scratch directories and
// artifact verification. Tests substitute a memory filesystem.
var FsFactory = func() afero.Fs {
	return afero.NewOsFs()
}

// FileContext carries the per-file values a phase invocation needs.
type FileContext struct {
	Index    int
	Source   string
	WorkDir  string
	BaseName string
	Options  map[string]string
}

// PhaseRunner executes a single pipeline phase for a subject file: it
// expands the argument template, supervises the tool process, classifies
// its output lines into progress, and verifies the expected artifact after
// a clean exit.
type PhaseRunner struct {
	JobID       string
	Classifier  outparse.Classifier
	Reporter    progress.Reporter
	Aggregator  *progress.Aggregator
	Canceller   *Canceller
	ToolPaths   map[string]string // executable name -> path override
	Deadline    time.Duration     // optional per-process deadline
	Grace       time.Duration
	TotalFiles  int
	TotalPhases int
}

// Run executes one phase. input is the primary artifact of the previous
// phase, or the source file for the first phase. The returned result is
// never fatal to the batch; callers decide what to do with a failure.
func (r *PhaseRunner) Run(ctx context.Context, file FileContext, ph pipeline.Phase, input string) PhaseResult {
	started := time.Now()

	res := PhaseResult{
		PhaseIndex: ph.Index,
		PhaseName:  ph.Name,
		ExitCode:   -1,
	}

	logger := ctxlog.Logger(ctx).With("file", file.Source).With("phase", ph.Name)

	r.report(progress.Event{
		Type:       progress.EventPhaseStarted,
		JobID:      r.JobID,
		FileIndex:  file.Index,
		FilePath:   file.Source,
		PhaseIndex: ph.Index,
		PhaseName:  ph.Name,
		Status:     r.statusLabel(file, ph),
	})
	r.reportPercent(file, ph, r.Aggregator.Update(ph.Index, 0))

	fs := FsFactory()
	outDir := ph.Output.Dir(file.WorkDir)

	if err := fs.MkdirAll(outDir, 0o755); err != nil {
		return r.finish(file, ph, fail(res, ReasonWriteError, err, started))
	}

	args, err := pipeline.ExpandArgs(ph.Args, pipeline.ExpandContext{
		Source:   file.Source,
		Input:    input,
		WorkDir:  file.WorkDir,
		BaseName: file.BaseName,
		Output:   ph.Output.PrimaryPath(file.WorkDir, file.BaseName),
		OutDir:   outDir,
		Options:  file.Options,
	})
	if err != nil {
		return r.finish(file, ph, fail(res, ReasonStartFailed, err, started))
	}

	path := ph.Executable
	if override, ok := r.ToolPaths[ph.Executable]; ok {
		path = override
	}

	sup := newSupervisor(supervise.Spec{
		Path:     path,
		Args:     args,
		Dir:      file.WorkDir,
		Deadline: r.Deadline,
		Grace:    r.Grace,
	})

	if alreadyCancelled := r.Canceller.setActive(sup); alreadyCancelled {
		r.Canceller.clearActive(sup)

		return r.finish(file, ph, fail(res, ReasonCancelled, ErrCancelled, started))
	}

	defer r.Canceller.clearActive(sup)

	if err := sup.Start(ctx); err != nil {
		logger.Error("phase start failed", "error", err)

		outcome := sup.Wait(ctx)
		res.Err = outcome.Err
		res.Reason = reasonFromOutcome(outcome)
		res.Duration = time.Since(started)

		return r.finish(file, ph, res)
	}

	logger.Debug("phase started", "executable", path, "args", args)

	missingSeen := r.consume(file, ph, sup)

	outcome := sup.Wait(ctx)

	res.ExitCode = outcome.Code
	res.Err = outcome.Err
	res.Reason = reasonFromOutcome(outcome)
	res.LastLine = sup.Output().LastLine(lastLineMax)

	if res.Reason == ReasonNone {
		switch {
		case missingSeen:
			res.Reason = ReasonMissingOutput
		default:
			artifact, verifyErr := verifyArtifact(fs, ph.Output, file.WorkDir, file.BaseName)
			if verifyErr != nil {
				res.Reason = ReasonMissingOutput
				res.Err = verifyErr
			} else {
				res.ArtifactPath = artifact
			}
		}
	}

	res.Duration = time.Since(started)

	if res.Succeeded() {
		r.reportPercent(file, ph, r.Aggregator.CompletePhase(ph.Index))
		logger.Debug("phase completed", "artifact", res.ArtifactPath, "duration", res.Duration)
	} else {
		r.Aggregator.AbandonFile()
		logger.Warn("phase failed",
			"reason", res.Reason.String(), "exitCode", res.ExitCode, "error", res.Err)
	}

	return r.finish(file, ph, res)
}

// consume drains the process output, forwarding every line as a log event
// and folding recognized markers into progress. It reports whether the tool
// announced a missing output file.
func (r *PhaseRunner) consume(file FileContext, ph pipeline.Phase, sup processHandle) bool {
	missing := false

	for line := range sup.Lines() {
		marker := r.Classifier.Classify(line)

		r.report(progress.Event{
			Type:       progress.EventLogLine,
			JobID:      r.JobID,
			FileIndex:  file.Index,
			FilePath:   file.Source,
			PhaseIndex: ph.Index,
			PhaseName:  ph.Name,
			Line:       line,
		})

		switch marker.Kind {
		case outparse.KindPercent:
			r.reportPercent(file, ph, r.Aggregator.Update(ph.Index, float64(marker.Percent)/100))
		case outparse.KindStatus, outparse.KindPhaseMarker:
			text := marker.Text
			if marker.Kind == outparse.KindPhaseMarker {
				text = marker.Phase
			}

			r.report(progress.Event{
				Type:       progress.EventProgress,
				JobID:      r.JobID,
				FileIndex:  file.Index,
				FilePath:   file.Source,
				PhaseIndex: ph.Index,
				PhaseName:  ph.Name,
				Percent:    r.Aggregator.Last(),
				Status:     text,
			})
		case outparse.KindMissingOutput:
			missing = true
		case outparse.KindUnrecognized:
		}
	}

	return missing
}

func (r *PhaseRunner) finish(file FileContext, ph pipeline.Phase, res PhaseResult) PhaseResult {
	r.report(progress.Event{
		Type:       progress.EventPhaseCompleted,
		JobID:      r.JobID,
		FileIndex:  file.Index,
		FilePath:   file.Source,
		PhaseIndex: ph.Index,
		PhaseName:  ph.Name,
		Failed:     !res.Succeeded(),
		Err:        res.Err,
	})

	return res
}

// statusLabel renders the "File i/N, Phase j/M" position string shown to
// users alongside numeric progress.
func (r *PhaseRunner) statusLabel(file FileContext, ph pipeline.Phase) string {
	totalFiles := max(r.TotalFiles, file.Index+1)
	totalPhases := max(r.TotalPhases, ph.Index+1)

	return fmt.Sprintf("File %d/%d, Phase %d/%d: %s",
		file.Index+1, totalFiles, ph.Index+1, totalPhases, ph.Title)
}

func (r *PhaseRunner) report(e progress.Event) {
	if r.Reporter != nil {
		r.Reporter.Report(e)
	}
}

func (r *PhaseRunner) reportPercent(file FileContext, ph pipeline.Phase, pct int) {
	r.report(progress.Event{
		Type:       progress.EventProgress,
		JobID:      r.JobID,
		FileIndex:  file.Index,
		FilePath:   file.Source,
		PhaseIndex: ph.Index,
		PhaseName:  ph.Name,
		Percent:    pct,
	})
}

func fail(res PhaseResult, reason FailureReason, err error, started time.Time) PhaseResult {
	res.Reason = reason
	res.Err = err
	res.Duration = time.Since(started)

	return res
}

// verifyArtifact checks that the phase left its expected artifact behind
// and returns the primary artifact path. A zero exit code without the
// artifact is a failure; tools are not trusted on exit code alone.
func verifyArtifact(fs afero.Fs, spec pipeline.OutputSpec, workDir, base string) (string, error) {
	if spec.Suffix != "" {
		path := spec.PrimaryPath(workDir, base)

		if _, err := fs.Stat(path); err != nil {
			return "", &MissingArtifactError{Path: path}
		}

		return path, nil
	}

	matches, err := afero.Glob(fs, filepath.Join(spec.Dir(workDir), spec.Glob))
	if err != nil {
		return "", err
	}

	if len(matches) == 0 {
		return "", &MissingArtifactError{Path: filepath.Join(spec.Dir(workDir), spec.Glob)}
	}

	sort.Strings(matches)

	return matches[0], nil
}

// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package runbatch

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matt-FFFFFF/neurobatch/internal/config"
	"github.com/matt-FFFFFF/neurobatch/internal/pipeline"
	"github.com/matt-FFFFFF/neurobatch/internal/progress"
	"github.com/matt-FFFFFF/neurobatch/internal/supervise"
	"github.com/prashantv/gostub"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeProcess scripts one supervised tool invocation without spawning a
// real process.
type fakeProcess struct {
	spec  supervise.Spec
	fs    afero.Fs
	lines []string
	exit  supervise.ExitOutcome
	touch string // artifact to create before exiting
	block bool   // hold the process open until Cancel

	ch         chan string
	buf        *supervise.LineBuffer
	cancelCh   chan struct{}
	cancelOnce sync.Once

	mu        sync.Mutex
	cancelled bool
}

func newFakeProcess(spec supervise.Spec, fs afero.Fs) *fakeProcess {
	return &fakeProcess{
		spec:     spec,
		fs:       fs,
		ch:       make(chan string),
		buf:      supervise.NewLineBuffer(0),
		cancelCh: make(chan struct{}),
		exit:     supervise.ExitOutcome{Class: supervise.ClassCompleted},
	}
}

func (f *fakeProcess) Start(context.Context) error {
	go func() {
		for _, l := range f.lines {
			f.buf.Append(l)
			f.ch <- l
		}

		if f.touch != "" {
			_ = afero.WriteFile(f.fs, f.touch, []byte("artifact"), 0o644)
		}

		if f.block {
			<-f.cancelCh
		}

		close(f.ch)
	}()

	return nil
}

func (f *fakeProcess) Lines() <-chan string { return f.ch }

func (f *fakeProcess) Output() *supervise.LineBuffer { return f.buf }

func (f *fakeProcess) Wait(context.Context) supervise.ExitOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cancelled {
		return supervise.ExitOutcome{
			Class: supervise.ClassCancelled,
			Code:  -1,
			Err:   supervise.ErrCancelled,
		}
	}

	return f.exit
}

func (f *fakeProcess) Cancel(_ time.Duration) {
	f.mu.Lock()
	f.cancelled = true
	f.mu.Unlock()

	f.cancelOnce.Do(func() { close(f.cancelCh) })
}

// argAfter returns the argument following flag, or "".
func argAfter(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}

	return ""
}

func skullStripDef(files ...string) *config.JobDefinition {
	return &config.JobDefinition{
		Name:         "test-batch",
		Pipeline:     pipeline.SkullStripName,
		Tool:         pipeline.ToolSynthStrip,
		Files:        files,
		WorkspaceDir: "/work",
	}
}

// runBatch runs a controller to completion, collecting every event.
func runBatch(t *testing.T, def *config.JobDefinition) (*BatchResult, error, []progress.Event) {
	t.Helper()

	reporter := progress.NewChannelReporter(16)

	ctrl, err := NewController("job-1", def, reporter)
	require.NoError(t, err)

	var (
		events []progress.Event
		wg     sync.WaitGroup
	)

	wg.Add(1)

	go func() {
		defer wg.Done()

		for e := range reporter.Events() {
			events = append(events, e)
		}
	}()

	res, runErr := ctrl.Run(context.Background())
	reporter.Close()
	wg.Wait()

	return res, runErr, events
}

func TestControllerAllFilesSucceed(t *testing.T) {
	fs := afero.NewMemMapFs()

	stubs := gostub.Stub(&FsFactory, func() afero.Fs { return fs })
	stubs.Stub(&newSupervisor, func(spec supervise.Spec) processHandle {
		f := newFakeProcess(spec, fs)
		f.lines = []string{"10%", "STATUS: stripping", "90%"}
		f.touch = argAfter(spec.Args, "-o")

		return f
	})
	defer stubs.Reset()

	res, err, events := runBatch(t, skullStripDef("/data/sub-01.nii.gz", "/data/sub-02.nii.gz"))

	require.NoError(t, err)

	succeeded, failed := res.Counts()
	assert.Equal(t, 2, succeeded)
	assert.Equal(t, 0, failed)
	assert.False(t, res.Cancelled)

	require.NotEmpty(t, events)
	assert.Equal(t, progress.EventBatchCompleted, events[len(events)-1].Type)

	batchCompleted := 0
	fileCompleted := 0
	lastPercent := 0

	var startedStatuses []string

	for _, e := range events {
		switch e.Type {
		case progress.EventBatchCompleted:
			batchCompleted++
			assert.False(t, e.Failed)
		case progress.EventFileCompleted:
			fileCompleted++
			assert.False(t, e.Failed)
		case progress.EventPhaseStarted:
			startedStatuses = append(startedStatuses, e.Status)
		case progress.EventProgress:
			assert.GreaterOrEqual(t, e.Percent, lastPercent, "progress must never move backwards")
			lastPercent = e.Percent
		}
	}

	assert.Contains(t, startedStatuses, "File 1/2, Phase 1/1: Skull strip (SynthStrip)")
	assert.Contains(t, startedStatuses, "File 2/2, Phase 1/1: Skull strip (SynthStrip)")

	assert.Equal(t, 1, batchCompleted)
	assert.Equal(t, 2, fileCompleted)
	assert.Equal(t, 100, lastPercent)

	// Artifact and sidecar were written into the scratch directory.
	first := res.Files[0]
	assert.True(t, strings.HasPrefix(filepath.Base(first.WorkDir), "dl_processing_0_"))

	exists, statErr := afero.Exists(fs, filepath.Join(first.WorkDir, "result.json"))
	require.NoError(t, statErr)
	assert.True(t, exists)

	require.Len(t, first.Phases, 1)
	assert.Equal(t, filepath.Join(first.WorkDir, "sub-01_skull_stripped.nii.gz"), first.Phases[0].ArtifactPath)
}

func TestControllerFailureIsolation(t *testing.T) {
	fs := afero.NewMemMapFs()

	stubs := gostub.Stub(&FsFactory, func() afero.Fs { return fs })
	stubs.Stub(&newSupervisor, func(spec supervise.Spec) processHandle {
		f := newFakeProcess(spec, fs)

		if strings.Contains(argAfter(spec.Args, "-i"), "sub-02") {
			f.lines = []string{"ERROR: registration diverged"}
			f.exit = supervise.ExitOutcome{Class: supervise.ClassCompleted, Code: 2}

			return f
		}

		f.touch = argAfter(spec.Args, "-o")

		return f
	})
	defer stubs.Reset()

	res, err, events := runBatch(t,
		skullStripDef("/data/sub-01.nii.gz", "/data/sub-02.nii.gz", "/data/sub-03.nii.gz"))

	require.Error(t, err)

	var fileErr *FileError
	require.ErrorAs(t, err, &fileErr)
	assert.Equal(t, "/data/sub-02.nii.gz", fileErr.Result.FilePath)
	assert.Equal(t, ReasonNonZeroExit, fileErr.Reason)

	succeeded, failed := res.Counts()
	assert.Equal(t, 2, succeeded)
	assert.Equal(t, 1, failed)

	// The failure is recorded with the tool's last output line.
	failedPhase := res.Files[1].FailedPhase()
	require.NotNil(t, failedPhase)
	assert.Equal(t, 2, failedPhase.ExitCode)
	assert.Contains(t, failedPhase.LastLine, "registration diverged")

	// The batch carried on: the third file ran and succeeded.
	assert.True(t, res.Files[2].Succeeded())

	last := events[len(events)-1]
	assert.Equal(t, progress.EventBatchCompleted, last.Type)
	assert.True(t, last.Failed)
}

func TestControllerMissingArtifact(t *testing.T) {
	fs := afero.NewMemMapFs()

	stubs := gostub.Stub(&FsFactory, func() afero.Fs { return fs })
	stubs.Stub(&newSupervisor, func(spec supervise.Spec) processHandle {
		// Clean exit, but nothing written.
		return newFakeProcess(spec, fs)
	})
	defer stubs.Reset()

	res, err, _ := runBatch(t, skullStripDef("/data/sub-01.nii.gz"))

	require.Error(t, err)

	p := res.Files[0].FailedPhase()
	require.NotNil(t, p)
	assert.Equal(t, ReasonMissingOutput, p.Reason)

	var missing *MissingArtifactError
	assert.ErrorAs(t, p.Err, &missing)
}

func TestControllerMissingOutputAnnounced(t *testing.T) {
	fs := afero.NewMemMapFs()

	stubs := gostub.Stub(&FsFactory, func() afero.Fs { return fs })
	stubs.Stub(&newSupervisor, func(spec supervise.Spec) processHandle {
		f := newFakeProcess(spec, fs)

		// The tool reports the problem itself even though it exits zero and
		// leaves a stale artifact behind.
		f.lines = []string{"No skull-stripped output file found"}
		f.touch = argAfter(spec.Args, "-o")

		return f
	})
	defer stubs.Reset()

	res, err, _ := runBatch(t, skullStripDef("/data/sub-01.nii.gz"))

	require.Error(t, err)

	p := res.Files[0].FailedPhase()
	require.NotNil(t, p)
	assert.Equal(t, ReasonMissingOutput, p.Reason)
}

func TestControllerCancellation(t *testing.T) {
	fs := afero.NewMemMapFs()

	stubs := gostub.Stub(&FsFactory, func() afero.Fs { return fs })
	stubs.Stub(&newSupervisor, func(spec supervise.Spec) processHandle {
		f := newFakeProcess(spec, fs)
		f.block = true

		return f
	})
	defer stubs.Reset()

	reporter := progress.NewChannelReporter(16)

	ctrl, err := NewController("job-1", reporterDef(), reporter)
	require.NoError(t, err)

	var (
		events []progress.Event
		wg     sync.WaitGroup
	)

	wg.Add(1)

	go func() {
		defer wg.Done()

		cancelled := false

		for e := range reporter.Events() {
			events = append(events, e)

			if e.Type == progress.EventPhaseStarted && !cancelled {
				cancelled = true

				ctrl.Canceller().Cancel()
			}
		}
	}()

	res, runErr := ctrl.Run(context.Background())
	reporter.Close()
	wg.Wait()

	require.Error(t, runErr)
	assert.True(t, res.Cancelled)

	// The in-flight file was stopped, the remaining files never ran.
	require.Len(t, res.Files, 3)
	assert.True(t, res.Files[0].Cancelled)
	assert.True(t, res.Files[1].Cancelled)
	assert.Empty(t, res.Files[1].Phases)
	assert.True(t, res.Files[2].Cancelled)

	batchCompleted := 0
	for _, e := range events {
		if e.Type == progress.EventBatchCompleted {
			batchCompleted++
		}
	}

	assert.Equal(t, 1, batchCompleted)
	assert.Equal(t, progress.EventBatchCompleted, events[len(events)-1].Type)
}

func reporterDef() *config.JobDefinition {
	return skullStripDef("/data/sub-01.nii.gz", "/data/sub-02.nii.gz", "/data/sub-03.nii.gz")
}

func TestSequencerStopsAtFirstFailure(t *testing.T) {
	fs := afero.NewMemMapFs()

	var calls []string

	stubs := gostub.Stub(&FsFactory, func() afero.Fs { return fs })
	stubs.Stub(&newSupervisor, func(spec supervise.Spec) processHandle {
		f := newFakeProcess(spec, fs)
		calls = append(calls, spec.Path)

		switch {
		case spec.Path == "nipreps-synthstrip":
			f.touch = argAfter(spec.Args, "-o")
		case strings.Contains(spec.Args[0], "coregistration.py"):
			f.exit = supervise.ExitOutcome{Class: supervise.ClassCompleted, Code: 1}
		}

		return f
	})
	defer stubs.Reset()

	def := &config.JobDefinition{
		Pipeline:     pipeline.InferenceName,
		Files:        []string{"/data/sub-01.nii.gz"},
		WorkspaceDir: "/work",
	}

	res, err, _ := runBatch(t, def)

	require.Error(t, err)

	// Only the first two of the six phases ran.
	require.Len(t, res.Files[0].Phases, 2)
	assert.True(t, res.Files[0].Phases[0].Succeeded())
	assert.Equal(t, ReasonNonZeroExit, res.Files[0].Phases[1].Reason)
	assert.Len(t, calls, 2)
}

func TestControllerRejectsInvalidDefinition(t *testing.T) {
	_, err := NewController("job-1", &config.JobDefinition{}, progress.NopReporter{})
	assert.ErrorIs(t, err, config.ErrEmptyFileList)

	_, err = NewController("job-1", &config.JobDefinition{
		Files:    []string{"a.nii.gz"},
		Pipeline: "no-such-pipeline",
	}, progress.NopReporter{})
	assert.ErrorIs(t, err, config.ErrUnknownPipeline)
}

func TestFileErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	fe := &FileError{
		Result: FileResult{FilePath: "f", Phases: []PhaseResult{{PhaseName: "p", Reason: ReasonCrashed}}},
		Reason: ReasonCrashed,
		Inner:  inner,
	}

	assert.ErrorIs(t, fe, inner)
	assert.Contains(t, fe.Error(), "crashed")
}

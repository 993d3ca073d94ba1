// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package runbatch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/matt-FFFFFF/neurobatch/internal/supervise"
)

// FailureReason classifies why a phase did not succeed. ReasonNone marks a
// successful phase.
type FailureReason int

const (
	// ReasonNone means the phase succeeded.
	ReasonNone FailureReason = iota
	// ReasonStartFailed means the tool could not be launched at all.
	ReasonStartFailed
	// ReasonNonZeroExit means the tool ran but exited with a non-zero code.
	ReasonNonZeroExit
	// ReasonCrashed means the tool was terminated by a signal it did not request.
	ReasonCrashed
	// ReasonTimedOut means the tool exceeded its deadline and was terminated.
	ReasonTimedOut
	// ReasonCancelled means the tool was terminated by a cancellation request.
	ReasonCancelled
	// ReasonReadError means the tool's output could not be read.
	ReasonReadError
	// ReasonWriteError means the tool's input/output plumbing could not be set up.
	ReasonWriteError
	// ReasonMissingOutput means the tool exited cleanly but its required
	// artifact was not produced. This is terminal and never retried.
	ReasonMissingOutput
	// ReasonUnknownError covers process failures with no more specific class.
	ReasonUnknownError
)

// String returns a stable name for the failure reason.
func (r FailureReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonStartFailed:
		return "start-failed"
	case ReasonNonZeroExit:
		return "non-zero-exit"
	case ReasonCrashed:
		return "crashed"
	case ReasonTimedOut:
		return "timed-out"
	case ReasonCancelled:
		return "cancelled"
	case ReasonReadError:
		return "read-error"
	case ReasonWriteError:
		return "write-error"
	case ReasonMissingOutput:
		return "missing-output"
	case ReasonUnknownError:
		return "unknown-error"
	}

	return "unknown"
}

// MarshalJSON encodes the reason as its stable name.
func (r FailureReason) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON decodes a reason from its stable name.
func (r *FailureReason) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}

	for candidate := ReasonNone; candidate <= ReasonUnknownError; candidate++ {
		if candidate.String() == name {
			*r = candidate
			return nil
		}
	}

	return fmt.Errorf("unknown failure reason %q", name)
}

// reasonFromOutcome maps a supervised process outcome onto the phase
// failure taxonomy.
func reasonFromOutcome(o supervise.ExitOutcome) FailureReason {
	switch o.Class {
	case supervise.ClassCompleted:
		if o.Code == 0 {
			return ReasonNone
		}

		return ReasonNonZeroExit
	case supervise.ClassStartFailed:
		return ReasonStartFailed
	case supervise.ClassCrashed:
		return ReasonCrashed
	case supervise.ClassTimedOut:
		return ReasonTimedOut
	case supervise.ClassCancelled:
		return ReasonCancelled
	case supervise.ClassReadError:
		return ReasonReadError
	case supervise.ClassWriteError:
		return ReasonWriteError
	}

	return ReasonUnknownError
}

// PhaseResult is the outcome of one phase invocation for one file.
type PhaseResult struct {
	PhaseIndex   int           `json:"phase_index"`
	PhaseName    string        `json:"phase_name"`
	Reason       FailureReason `json:"reason"`
	ExitCode     int           `json:"exit_code"`
	Err          error         `json:"-"`
	LastLine     string        `json:"last_line,omitempty"`
	ArtifactPath string        `json:"artifact_path,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
}

// Succeeded reports whether the phase completed with its artifact present.
func (p PhaseResult) Succeeded() bool {
	return p.Reason == ReasonNone
}

// FileResult is the outcome of running the pipeline over one subject file.
type FileResult struct {
	FileIndex int           `json:"file_index"`
	FilePath  string        `json:"file_path"`
	WorkDir   string        `json:"work_dir,omitempty"`
	Phases    []PhaseResult `json:"phases"`
	Cancelled bool          `json:"cancelled"`
	Duration  time.Duration `json:"duration_ns"`
}

// Succeeded reports whether every phase of the file's sequence succeeded.
func (f FileResult) Succeeded() bool {
	if f.Cancelled || len(f.Phases) == 0 {
		return false
	}

	for _, p := range f.Phases {
		if !p.Succeeded() {
			return false
		}
	}

	return true
}

// FailedPhase returns the first phase that did not succeed, or nil.
func (f FileResult) FailedPhase() *PhaseResult {
	for i := range f.Phases {
		if !f.Phases[i].Succeeded() {
			return &f.Phases[i]
		}
	}

	return nil
}

// BatchResult is the outcome of one submitted job.
type BatchResult struct {
	JobID     string       `json:"job_id"`
	JobName   string       `json:"job_name,omitempty"`
	Pipeline  string       `json:"pipeline"`
	Files     []FileResult `json:"files"`
	Cancelled bool         `json:"cancelled"`
	Started   time.Time    `json:"started"`
	Finished  time.Time    `json:"finished"`
}

// Counts returns the number of succeeded and failed files. Cancelled files
// count as failed.
func (b *BatchResult) Counts() (succeeded, failed int) {
	for _, f := range b.Files {
		if f.Succeeded() {
			succeeded++
		} else {
			failed++
		}
	}

	return succeeded, failed
}

// Err returns an aggregated error for every file that did not succeed, or
// nil when the whole batch succeeded.
func (b *BatchResult) Err() error {
	var result *multierror.Error

	for _, f := range b.Files {
		if f.Succeeded() {
			continue
		}

		if f.Cancelled {
			result = multierror.Append(result, &FileError{Result: f, Reason: ReasonCancelled})
			continue
		}

		reason := ReasonUnknownError

		var phaseErr error

		if p := f.FailedPhase(); p != nil {
			reason = p.Reason
			phaseErr = p.Err
		}

		result = multierror.Append(result, &FileError{Result: f, Reason: reason, Inner: phaseErr})
	}

	return result.ErrorOrNil()
}

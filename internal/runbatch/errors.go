// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package runbatch

import (
	"errors"
	"fmt"
)

var (
	// ErrJobAlreadyRunning is returned by Submit while another job is active.
	ErrJobAlreadyRunning = errors.New("a job is already running")
	// ErrCancelled marks files and batches stopped by a cancellation request.
	ErrCancelled = errors.New("batch cancelled")
)

// MissingArtifactError reports a phase that exited cleanly without
// producing its expected output.
type MissingArtifactError struct {
	Path string
}

// Error implements the error interface.
func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("expected output not found: %s", e.Path)
}

// FileError reports one subject file that did not complete its pipeline.
type FileError struct {
	Result FileResult
	Reason FailureReason
	Inner  error
}

// Error implements the error interface.
func (e *FileError) Error() string {
	if p := e.Result.FailedPhase(); p != nil {
		return fmt.Sprintf("%s: phase %q failed: %s", e.Result.FilePath, p.PhaseName, e.Reason)
	}

	return fmt.Sprintf("%s: %s", e.Result.FilePath, e.Reason)
}

// Unwrap returns the underlying process error, if any.
func (e *FileError) Unwrap() error {
	return e.Inner
}

// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package runbatch

import (
	"context"
	"time"

	"github.com/matt-FFFFFF/neurobatch/internal/ctxlog"
	"github.com/matt-FFFFFF/neurobatch/internal/pipeline"
)

// Sequencer runs a pipeline's phases in order for one subject file,
// stopping at the first phase that fails. Later phases of a failed file are
// never attempted; the failure is recorded and the batch moves on.
type Sequencer struct {
	Runner   *PhaseRunner
	Pipeline *pipeline.Pipeline
}

// Run executes the full phase sequence for one file.
func (s *Sequencer) Run(ctx context.Context, file FileContext) FileResult {
	started := time.Now()

	result := FileResult{
		FileIndex: file.Index,
		FilePath:  file.Source,
		WorkDir:   file.WorkDir,
	}

	input := file.Source

	for _, ph := range s.Pipeline.Phases {
		if s.Runner.Canceller.Cancelled() {
			result.Cancelled = true
			break
		}

		phaseRes := s.Runner.Run(ctx, file, ph, input)
		result.Phases = append(result.Phases, phaseRes)

		if !phaseRes.Succeeded() {
			if phaseRes.Reason == ReasonCancelled {
				result.Cancelled = true
			}

			ctxlog.Logger(ctx).Info("stopping file after failed phase",
				"file", file.Source, "phase", ph.Name, "reason", phaseRes.Reason.String())

			break
		}

		// The primary artifact feeds the next phase's ${input}.
		if phaseRes.ArtifactPath != "" {
			input = phaseRes.ArtifactPath
		}
	}

	result.Duration = time.Since(started)

	return result
}

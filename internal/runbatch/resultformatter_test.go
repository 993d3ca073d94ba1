// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package runbatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatResult(t *testing.T) {
	res := &BatchResult{
		JobID:    "job-1",
		JobName:  "nightly",
		Pipeline: "inference",
		Started:  time.Now(),
		Finished: time.Now().Add(3 * time.Second),
		Files: []FileResult{
			{
				FilePath: "/data/sub-01.nii.gz",
				WorkDir:  "/tmp/dl_processing_0_123",
				Phases: []PhaseResult{
					{PhaseName: "synthstrip", Reason: ReasonNone},
				},
				Duration: time.Second,
			},
			{
				FilePath:  "/data/sub-02.nii.gz",
				FileIndex: 1,
				Phases: []PhaseResult{
					{
						PhaseName: "coregistration",
						Reason:    ReasonNonZeroExit,
						ExitCode:  2,
						LastLine:  "registration diverged",
					},
				},
			},
			{FilePath: "/data/sub-03.nii.gz", FileIndex: 2, Cancelled: true},
		},
		Cancelled: true,
	}

	out := FormatResult(res)

	assert.Contains(t, out, `Batch "nightly"`)
	assert.Contains(t, out, "/data/sub-01.nii.gz")
	assert.Contains(t, out, "reason=non-zero-exit")
	assert.Contains(t, out, "exit=2")
	assert.Contains(t, out, "registration diverged")
	assert.Contains(t, out, "1 succeeded, 2 failed")
	assert.Contains(t, out, "cancelled")
}

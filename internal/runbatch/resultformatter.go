// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package runbatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/matt-FFFFFF/neurobatch/internal/color"
)

// FormatResult renders a human readable batch summary for the terminal.
func FormatResult(res *BatchResult) string {
	sb := &strings.Builder{}

	title := fmt.Sprintf("Batch %s", res.JobID)
	if res.JobName != "" {
		title = fmt.Sprintf("Batch %q", res.JobName)
	}

	fmt.Fprintf(sb, "%s (%s pipeline, %d files)\n",
		color.Colorize(title, color.Bold), res.Pipeline, len(res.Files))

	for _, f := range res.Files {
		fmt.Fprintf(sb, "  %s %s", fileBadge(f), f.FilePath)

		switch {
		case f.Succeeded():
			fmt.Fprintf(sb, " (%s)", f.Duration.Round(time.Millisecond))
		case f.Cancelled:
		default:
			if p := f.FailedPhase(); p != nil {
				fmt.Fprintf(sb, " phase=%s reason=%s", p.PhaseName, p.Reason)

				if p.ExitCode >= 0 {
					fmt.Fprintf(sb, " exit=%d", p.ExitCode)
				}

				if p.LastLine != "" {
					fmt.Fprintf(sb, "\n      %s", color.Colorize(p.LastLine, color.Faint))
				}
			}
		}

		sb.WriteByte('\n')

		if f.WorkDir != "" {
			fmt.Fprintf(sb, "      %s\n", color.Colorize(f.WorkDir, color.FgHiBlack))
		}
	}

	succeeded, failed := res.Counts()

	summary := fmt.Sprintf("%d succeeded, %d failed", succeeded, failed)

	switch {
	case res.Cancelled:
		summary = color.Colorize(summary+" (cancelled)", color.FgYellow, color.Bold)
	case failed > 0:
		summary = color.Colorize(summary, color.FgRed, color.Bold)
	default:
		summary = color.Colorize(summary, color.FgGreen, color.Bold)
	}

	fmt.Fprintf(sb, "%s in %s\n", summary, res.Finished.Sub(res.Started).Round(time.Millisecond))

	return sb.String()
}

func fileBadge(f FileResult) string {
	switch {
	case f.Succeeded():
		return color.Colorize("OK  ", color.FgGreen, color.Bold)
	case f.Cancelled:
		return color.Colorize("STOP", color.FgYellow, color.Bold)
	default:
		return color.Colorize("FAIL", color.FgRed, color.Bold)
	}
}

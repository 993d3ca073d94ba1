// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package outparse classifies the unstructured standard-output lines of
// external pipeline tools into a small set of recognized markers. The
// classifier is decoupled from process supervision so it can be tested
// against recorded output fixtures without spawning real processes.
package outparse

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind identifies the type of marker recognized on an output line.
type Kind int

const (
	// KindUnrecognized is any line that matches no marker. It is forwarded
	// verbatim as a log event and does not affect progress.
	KindUnrecognized Kind = iota
	// KindPhaseMarker is a structured "phase started" line (e.g. "PHASE 2: Coregistration").
	KindPhaseMarker
	// KindPercent is a numeric percentage marker of the form "<int>%".
	KindPercent
	// KindStatus is a free-text status line intended for the progress display.
	KindStatus
	// KindMissingOutput indicates the tool reported a required output file as absent.
	KindMissingOutput
)

// String implements the Stringer interface for Kind.
func (k Kind) String() string {
	switch k {
	case KindPhaseMarker:
		return "phase"
	case KindPercent:
		return "percent"
	case KindStatus:
		return "status"
	case KindMissingOutput:
		return "missing-output"
	case KindUnrecognized:
		return "unrecognized"
	default:
		return "unknown"
	}
}

// Marker is the tagged result of classifying one output line.
type Marker struct {
	Kind    Kind
	Percent int    // valid when Kind == KindPercent, clamped to [0,100]
	Phase   string // valid when Kind == KindPhaseMarker
	Text    string // the line with the marker prefix stripped, or the raw line
}

// Classifier turns raw output lines into markers. Implementations must be
// safe for reuse across lines but need not be safe for concurrent use.
type Classifier interface {
	Classify(line string) Marker
}

var (
	percentRe = regexp.MustCompile(`(\d{1,3})\s*%`)
	phaseRe   = regexp.MustCompile(`^(?:PHASE\s+\d+:|===\s*)\s*(.+?)\s*(?:===)?\s*$`)
	missingRe = regexp.MustCompile(`(?i)(no .+ file found|output file .*(missing|not found)|missing output)`)
)

// DefaultClassifier recognizes the marker conventions of the bundled
// pipeline tools: "PHASE n: <name>" or "=== <name> ===" phase markers,
// "<int>%" percentage markers, "STATUS: <text>" status lines, and
// missing-output reports.
type DefaultClassifier struct{}

var _ Classifier = (*DefaultClassifier)(nil)

// Classify implements the Classifier interface.
func (DefaultClassifier) Classify(line string) Marker {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Marker{Kind: KindUnrecognized, Text: line}
	}

	if strings.HasPrefix(trimmed, "PHASE") || strings.HasPrefix(trimmed, "===") {
		if m := phaseRe.FindStringSubmatch(trimmed); m != nil {
			return Marker{Kind: KindPhaseMarker, Phase: m[1], Text: trimmed}
		}
	}

	if rest, ok := strings.CutPrefix(trimmed, "STATUS:"); ok {
		return Marker{Kind: KindStatus, Text: strings.TrimSpace(rest)}
	}

	if missingRe.MatchString(trimmed) {
		return Marker{Kind: KindMissingOutput, Text: trimmed}
	}

	if m := percentRe.FindStringSubmatch(trimmed); m != nil {
		pct, err := strconv.Atoi(m[1])
		if err == nil {
			if pct > 100 {
				pct = 100
			}

			return Marker{Kind: KindPercent, Percent: pct, Text: trimmed}
		}
	}

	return Marker{Kind: KindUnrecognized, Text: line}
}

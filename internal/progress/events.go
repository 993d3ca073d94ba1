// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package progress defines the event stream emitted while a batch runs and
// the aggregation of per-phase tool output into a single batch percentage.
package progress

import "time"

// EventType discriminates the events emitted during a batch run.
type EventType int

const (
	// EventPhaseStarted is emitted when a phase begins for a file.
	EventPhaseStarted EventType = iota
	// EventProgress carries an updated overall batch percentage.
	EventProgress
	// EventLogLine carries one line of tool output.
	EventLogLine
	// EventPhaseCompleted is emitted when a phase finishes, pass or fail.
	EventPhaseCompleted
	// EventFileCompleted is emitted when all phases for a file have finished
	// or the file's sequence was stopped by a failure.
	EventFileCompleted
	// EventBatchCompleted is the final event of a run. It is emitted exactly
	// once, after every other event.
	EventBatchCompleted
)

// String returns a stable name for the event type.
func (t EventType) String() string {
	switch t {
	case EventPhaseStarted:
		return "phase-started"
	case EventProgress:
		return "progress"
	case EventLogLine:
		return "log-line"
	case EventPhaseCompleted:
		return "phase-completed"
	case EventFileCompleted:
		return "file-completed"
	case EventBatchCompleted:
		return "batch-completed"
	}

	return "unknown"
}

// Event is a single occurrence in a batch run. Only the fields relevant to
// the Type are populated.
type Event struct {
	Type      EventType
	Timestamp time.Time

	JobID     string
	FileIndex int    // zero-based position within the batch
	FilePath  string // source file the event relates to

	PhaseIndex int
	PhaseName  string

	Percent int    // overall batch percentage, EventProgress only
	Line    string // tool output, EventLogLine only
	Status  string // human readable status text, when the tool reported one

	Failed bool  // EventPhaseCompleted and EventFileCompleted
	Err    error // populated when Failed is true
}

// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package supervise

// State is the lifecycle state of a supervised process handle.
type State int

const (
	// StateStarting is the state before the OS process exists.
	StateStarting State = iota
	// StateRunning is the state while the OS process is alive.
	StateRunning
	// StateCompleted is the state after a natural exit.
	StateCompleted
	// StateKilled is the state after a forced or signalled termination.
	StateKilled
	// StateStartFailed is the state when the process could not be launched.
	StateStartFailed
)

// String implements the Stringer interface for State.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateKilled:
		return "killed"
	case StateStartFailed:
		return "start-failed"
	default:
		return "unknown"
	}
}

// Class is the terminal classification of a supervised process run.
type Class int

const (
	// ClassCompleted means the process exited on its own; Code carries the exit code.
	ClassCompleted Class = iota
	// ClassCrashed means the process was terminated by a signal not sent by the supervisor.
	ClassCrashed
	// ClassTimedOut means the per-process deadline elapsed and the supervisor terminated it.
	ClassTimedOut
	// ClassCancelled means the supervisor terminated the process on request.
	ClassCancelled
	// ClassReadError means output could not be read from the process's pipes.
	ClassReadError
	// ClassWriteError means the process's communication pipes could not be set up or written.
	ClassWriteError
	// ClassStartFailed means the executable could not be launched at all.
	ClassStartFailed
)

// String implements the Stringer interface for Class.
func (c Class) String() string {
	switch c {
	case ClassCompleted:
		return "completed"
	case ClassCrashed:
		return "crashed"
	case ClassTimedOut:
		return "timed-out"
	case ClassCancelled:
		return "cancelled"
	case ClassReadError:
		return "read-error"
	case ClassWriteError:
		return "write-error"
	case ClassStartFailed:
		return "start-failed"
	default:
		return "unknown"
	}
}

// ExitOutcome is the terminal result of one supervised process.
type ExitOutcome struct {
	Class Class
	Code  int // exit code; -1 unless Class == ClassCompleted
	Err   error
}

// Success reports whether the process exited naturally with code zero.
func (o ExitOutcome) Success() bool {
	return o.Class == ClassCompleted && o.Code == 0
}

// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package runbatch

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/matt-FFFFFF/neurobatch/internal/config"
	"github.com/matt-FFFFFF/neurobatch/internal/progress"
)

const eventBuffer = 256

// Engine accepts job submissions and runs them one at a time. Submitting
// while a job is active fails with ErrJobAlreadyRunning rather than
// queueing.
type Engine struct {
	mu     sync.Mutex
	active *Handle
}

// NewEngine creates an idle engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Submit validates the definition, starts the batch in the background and
// returns a handle for observing and controlling it. The returned handle's
// event stream must be drained; it is closed after the final
// batch-completed event.
func (e *Engine) Submit(ctx context.Context, def *config.JobDefinition) (*Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active != nil && !e.active.finished() {
		return nil, ErrJobAlreadyRunning
	}

	reporter := progress.NewChannelReporter(eventBuffer)

	h := &Handle{
		ID:       uuid.NewString(),
		reporter: reporter,
		done:     make(chan struct{}),
	}

	ctrl, err := NewController(h.ID, def, reporter)
	if err != nil {
		return nil, err
	}

	h.canceller = ctrl.Canceller()
	e.active = h

	go func() {
		h.result, h.err = ctrl.Run(ctx)

		reporter.Close()
		close(h.done)
	}()

	return h, nil
}

// Handle observes and controls one submitted job.
type Handle struct {
	ID string

	reporter  *progress.ChannelReporter
	canceller *Canceller
	done      chan struct{}

	result *BatchResult
	err    error
}

// Events returns the ordered event stream for the job. The channel closes
// after the batch-completed event, which is always last.
func (h *Handle) Events() <-chan progress.Event {
	return h.reporter.Events()
}

// Cancel requests cooperative cancellation of the job. It is idempotent.
func (h *Handle) Cancel() {
	h.canceller.Cancel()
}

// Wait blocks until the job finishes or the context is done. The batch
// result is available once the event stream has closed.
func (h *Handle) Wait(ctx context.Context) (*BatchResult, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Handle) finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

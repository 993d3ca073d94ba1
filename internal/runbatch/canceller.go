// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package runbatch

import (
	"context"
	"sync"
	"time"

	"github.com/matt-FFFFFF/neurobatch/internal/supervise"
)

// processHandle is the slice of the supervisor surface the batch machinery
// depends on. Tests substitute fakes through the newSupervisor factory.
type processHandle interface {
	Start(ctx context.Context) error
	Lines() <-chan string
	Wait(ctx context.Context) supervise.ExitOutcome
	Cancel(grace time.Duration)
	Output() *supervise.LineBuffer
}

// newSupervisor creates the process handle for one phase invocation.
var newSupervisor = func(spec supervise.Spec) processHandle {
	return supervise.New(spec)
}

// Canceller coordinates cooperative batch cancellation: a sticky flag the
// sequencing loops consult between steps, plus a reference to the currently
// running process so an in-flight phase is terminated promptly rather than
// left to finish.
type Canceller struct {
	mu        sync.Mutex
	cancelled bool
	active    processHandle
	grace     time.Duration
}

// NewCanceller creates a canceller using the given grace period for
// terminating an in-flight process.
func NewCanceller(grace time.Duration) *Canceller {
	return &Canceller{grace: grace}
}

// Cancel sets the cancellation flag and terminates the active process, if
// any. It is idempotent and safe to call from any goroutine; it blocks for
// at most the grace period plus a short kill allowance.
func (c *Canceller) Cancel() {
	c.mu.Lock()
	c.cancelled = true
	active := c.active
	c.mu.Unlock()

	if active != nil {
		active.Cancel(c.grace)
	}
}

// Cancelled reports whether cancellation has been requested. The flag is
// sticky: once set it never clears for the lifetime of the batch.
func (c *Canceller) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cancelled
}

// setActive registers the process currently being supervised. It returns
// true when cancellation was already requested, in which case the caller
// must terminate the process itself.
func (c *Canceller) setActive(h processHandle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.active = h

	return c.cancelled
}

// clearActive removes the registration if h is still the active process.
func (c *Canceller) clearActive(h processHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == h {
		c.active = nil
	}
}

// Grace returns the configured cancellation grace period.
func (c *Canceller) Grace() time.Duration {
	return c.grace
}

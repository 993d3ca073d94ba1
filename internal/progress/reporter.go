// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package progress

import (
	"sync"
	"time"
)

// Reporter receives events as a batch run produces them.
type Reporter interface {
	Report(Event)
}

// ChannelReporter delivers events over a channel in the order they were
// reported. Report blocks when the channel is full rather than dropping, so
// consumers see every event and see them in order.
type ChannelReporter struct {
	ch        chan Event
	closeOnce sync.Once
}

// NewChannelReporter creates a reporter with the given channel buffer size.
func NewChannelReporter(buffer int) *ChannelReporter {
	if buffer < 0 {
		buffer = 0
	}

	return &ChannelReporter{
		ch: make(chan Event, buffer),
	}
}

// Report delivers the event, stamping it if the producer did not.
func (r *ChannelReporter) Report(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	r.ch <- e
}

// Events returns the receive side of the stream. The channel is closed by
// Close once no more events will be reported.
func (r *ChannelReporter) Events() <-chan Event {
	return r.ch
}

// Close closes the event stream. It is safe to call more than once but must
// only be called after the last Report.
func (r *ChannelReporter) Close() {
	r.closeOnce.Do(func() {
		close(r.ch)
	})
}

// NopReporter discards every event.
type NopReporter struct{}

// Report implements Reporter.
func (NopReporter) Report(Event) {}

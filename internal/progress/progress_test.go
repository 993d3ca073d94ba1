// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregatorEqualWeights(t *testing.T) {
	a, err := NewAggregator(2, []float64{1, 1, 1})
	require.NoError(t, err)

	assert.Equal(t, 0, a.Update(0, 0))
	assert.Equal(t, 17, a.CompletePhase(0))
	assert.Equal(t, 33, a.CompletePhase(1))
	assert.Equal(t, 50, a.CompletePhase(2))

	// Second file.
	assert.Equal(t, 58, a.Update(0, 0.5))
	assert.Equal(t, 67, a.CompletePhase(0))
	a.CompletePhase(1)
	assert.Equal(t, 100, a.CompletePhase(2))
}

func TestAggregatorWeighted(t *testing.T) {
	// The heavy phase dominates the file's share of the bar.
	a, err := NewAggregator(1, []float64{1, 8, 1})
	require.NoError(t, err)

	assert.Equal(t, 10, a.CompletePhase(0))
	assert.Equal(t, 50, a.Update(1, 0.5))
	assert.Equal(t, 90, a.CompletePhase(1))
}

func TestAggregatorMonotonic(t *testing.T) {
	a, err := NewAggregator(1, []float64{1, 1})
	require.NoError(t, err)

	assert.Equal(t, 50, a.CompletePhase(0))
	assert.Equal(t, 75, a.Update(1, 0.5))

	// A tool re-reporting a lower percentage must not move the bar backwards.
	assert.Equal(t, 75, a.Update(1, 0.2))
	assert.Equal(t, 75, a.Last())

	assert.Equal(t, 100, a.CompletePhase(1))
}

func TestAggregatorInFlightNeverReads100(t *testing.T) {
	a, err := NewAggregator(1, []float64{1})
	require.NoError(t, err)

	// Even a 100% self-report keeps the bar below full until the phase
	// completes with its artifact verified.
	assert.Equal(t, 99, a.Update(0, 1))
	assert.Equal(t, 100, a.CompletePhase(0))
}

func TestAggregatorFailedFileNeverEarnsWeight(t *testing.T) {
	a, err := NewAggregator(2, []float64{1, 1})
	require.NoError(t, err)

	// File one fails mid-way through its second phase.
	a.CompletePhase(0)
	a.Update(1, 0.8)
	assert.Equal(t, 45, a.AbandonFile())

	// File two succeeds fully, but the batch still finishes below 100.
	a.CompletePhase(0)
	assert.Equal(t, 75, a.CompletePhase(1))
	assert.Equal(t, 75, a.Last())
}

func TestAggregatorClampsInputs(t *testing.T) {
	a, err := NewAggregator(1, []float64{1})
	require.NoError(t, err)

	assert.Equal(t, 0, a.Update(-1, -0.5))
	assert.Equal(t, 99, a.Update(9, 2))
}

func TestAggregatorValidation(t *testing.T) {
	_, err := NewAggregator(0, []float64{1})
	assert.ErrorIs(t, err, ErrNoFiles)

	_, err = NewAggregator(1, nil)
	assert.ErrorIs(t, err, ErrNoWeights)

	_, err = NewAggregator(1, []float64{1, 0})
	assert.ErrorIs(t, err, ErrInvalidWeight)
}

func TestChannelReporterOrderAndClose(t *testing.T) {
	r := NewChannelReporter(8)

	r.Report(Event{Type: EventPhaseStarted, PhaseName: "first"})
	r.Report(Event{Type: EventPhaseCompleted, PhaseName: "first"})
	r.Report(Event{Type: EventBatchCompleted})
	r.Close()
	r.Close() // idempotent

	var got []EventType
	for e := range r.Events() {
		assert.False(t, e.Timestamp.IsZero())
		got = append(got, e.Type)
	}

	assert.Equal(t, []EventType{EventPhaseStarted, EventPhaseCompleted, EventBatchCompleted}, got)
}

func TestChannelReporterBlocksInsteadOfDropping(t *testing.T) {
	r := NewChannelReporter(1)

	done := make(chan struct{})

	go func() {
		defer close(done)
		r.Report(Event{Type: EventLogLine, Line: "one"})
		r.Report(Event{Type: EventLogLine, Line: "two"})
		r.Close()
	}()

	var lines []string
	for e := range r.Events() {
		lines = append(lines, e.Line)
	}

	<-done
	assert.Equal(t, []string{"one", "two"}, lines)
}

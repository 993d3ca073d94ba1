// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package progress

import (
	"errors"
	"sync"
)

var (
	// ErrNoFiles is returned when an aggregator is created for an empty batch.
	ErrNoFiles = errors.New("batch has no files")
	// ErrNoWeights is returned when an aggregator is created with no phase weights.
	ErrNoWeights = errors.New("pipeline has no phase weights")
	// ErrInvalidWeight is returned when a phase weight is not positive.
	ErrInvalidWeight = errors.New("phase weight must be positive")
)

// maxInFlightPercent caps the percentage while a phase is still running.
// Full credit is only given by CompletePhase, after artifact verification,
// so the bar reads 100 exactly when every phase of every file succeeded.
const maxInFlightPercent = 99

// Aggregator folds per-phase positions into one overall batch percentage.
// Weight is earned: a phase contributes fully only once it has verifiably
// completed, and the weight of skipped or failed phases is never earned, so
// a batch with any failure finishes below 100. The emitted percentage never
// decreases, even when a tool re-reports a lower number.
type Aggregator struct {
	mu        sync.Mutex
	weights   []float64
	total     float64 // totalFiles * per-file weight
	committed float64 // weight of completed phases across all files
	inflight  float64 // partial weight of the phase currently running
	last      int
}

// NewAggregator creates an aggregator for totalFiles files, each running the
// given per-phase weights.
func NewAggregator(totalFiles int, weights []float64) (*Aggregator, error) {
	if totalFiles <= 0 {
		return nil, ErrNoFiles
	}

	if len(weights) == 0 {
		return nil, ErrNoWeights
	}

	perFile := 0.0

	for _, w := range weights {
		if w <= 0 {
			return nil, ErrInvalidWeight
		}

		perFile += w
	}

	return &Aggregator{
		weights: weights,
		total:   float64(totalFiles) * perFile,
	}, nil
}

// Update records the running phase's self-reported fraction in [0, 1] and
// returns the overall percentage. Out of range inputs are clamped; a value
// behind the high-water mark returns the previous percentage.
func (a *Aggregator) Update(phaseIndex int, fraction float64) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if phaseIndex < 0 {
		phaseIndex = 0
	}

	if phaseIndex >= len(a.weights) {
		phaseIndex = len(a.weights) - 1
	}

	if fraction < 0 {
		fraction = 0
	}

	if fraction > 1 {
		fraction = 1
	}

	a.inflight = fraction * a.weights[phaseIndex]

	pct := a.percentLocked()
	if pct > maxInFlightPercent {
		pct = maxInFlightPercent
	}

	return a.clampLocked(pct)
}

// CompletePhase commits the phase's full weight after its artifact has been
// verified and returns the overall percentage.
func (a *Aggregator) CompletePhase(phaseIndex int) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if phaseIndex < 0 || phaseIndex >= len(a.weights) {
		return a.last
	}

	a.committed += a.weights[phaseIndex]
	a.inflight = 0

	return a.clampLocked(a.percentLocked())
}

// AbandonFile drops the in-flight contribution of a failed or cancelled
// phase. The skipped weight is never earned.
func (a *Aggregator) AbandonFile() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.inflight = 0

	return a.last
}

// Last returns the high-water mark without recording anything.
func (a *Aggregator) Last() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.last
}

func (a *Aggregator) percentLocked() int {
	return int((a.committed+a.inflight)/a.total*100 + 0.5)
}

func (a *Aggregator) clampLocked(pct int) int {
	if pct > 100 {
		pct = 100
	}

	if pct < a.last {
		return a.last
	}

	a.last = pct

	return pct
}

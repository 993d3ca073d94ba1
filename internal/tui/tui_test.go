// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	pg "github.com/matt-FFFFFF/neurobatch/internal/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func applyEvent(t *testing.T, m Model, e pg.Event) (Model, tea.Cmd) {
	t.Helper()

	next, cmd := m.Update(EventMsg{Event: e})

	model, ok := next.(Model)
	require.True(t, ok)

	return model, cmd
}

func TestModelTracksPhaseAndProgress(t *testing.T) {
	m := NewModel(2, nil)

	m, _ = applyEvent(t, m, pg.Event{
		Type:      pg.EventPhaseStarted,
		FileIndex: 1,
		FilePath:  "/data/sub-02.nii.gz",
		PhaseName: "coregistration",
	})
	m, _ = applyEvent(t, m, pg.Event{Type: pg.EventProgress, Percent: 42, Status: "aligning"})

	view := m.View()
	assert.Contains(t, view, "file 2/2: /data/sub-02.nii.gz")
	assert.Contains(t, view, "coregistration")
	assert.Contains(t, view, "42%")
	assert.Contains(t, view, "aligning")
}

func TestModelKeepsLogTail(t *testing.T) {
	m := NewModel(1, nil)

	for i := 0; i < logTail+5; i++ {
		m, _ = applyEvent(t, m, pg.Event{Type: pg.EventLogLine, Line: "line"})
	}

	assert.Len(t, m.logs, logTail)
}

func TestModelQuitsOnBatchCompleted(t *testing.T) {
	m := NewModel(1, nil)

	m, cmd := applyEvent(t, m, pg.Event{Type: pg.EventBatchCompleted, Percent: 100, Failed: true})

	require.NotNil(t, cmd)
	assert.True(t, m.done)
	assert.Contains(t, m.View(), "failures")
}

func TestModelCancelKeyRequestsStopOnce(t *testing.T) {
	calls := 0
	m := NewModel(1, func() { calls++ })

	key := tea.KeyMsg{Type: tea.KeyCtrlC}

	next, _ := m.Update(key)
	m = next.(Model)
	next, _ = m.Update(key)
	m = next.(Model)

	assert.Equal(t, 1, calls)
	assert.Contains(t, m.View(), "cancelling")
}

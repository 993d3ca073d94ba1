// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package tui renders a live batch view in the terminal: a weighted
// progress bar, the phase currently running, and a short tail of tool
// output. The program quits itself when the batch-completed event arrives.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	pg "github.com/matt-FFFFFF/neurobatch/internal/progress"
)

const (
	logTail      = 8
	maxBarWidth  = 60
	minBarWidth  = 10
	viewPadWidth = 6
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	phaseStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("5"))
	logStyle    = lipgloss.NewStyle().Faint(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	helpStyle   = lipgloss.NewStyle().Faint(true)
)

// EventMsg wraps one batch event for delivery into the program.
type EventMsg struct {
	Event pg.Event
}

// Model is the terminal view of one running batch.
type Model struct {
	bar        progress.Model
	cancel     func()
	totalFiles int

	percent    int
	fileIndex  int
	filePath   string
	phaseName  string
	status     string
	logs       []string
	width      int
	cancelling bool
	done       bool
	failed     bool
}

// NewModel creates the view for a batch of totalFiles files. cancel is
// invoked when the user requests a stop.
func NewModel(totalFiles int, cancel func()) Model {
	return Model{
		bar:        progress.New(progress.WithDefaultGradient()),
		cancel:     cancel,
		totalFiles: totalFiles,
	}
}

// NewProgram wraps the model in a bubbletea program.
func NewProgram(totalFiles int, cancel func(), opts ...tea.ProgramOption) *tea.Program {
	return tea.NewProgram(NewModel(totalFiles, cancel), opts...)
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width

		w := msg.Width - viewPadWidth
		if w > maxBarWidth {
			w = maxBarWidth
		}

		if w < minBarWidth {
			w = minBarWidth
		}

		m.bar.Width = w

		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if !m.cancelling {
				m.cancelling = true

				if m.cancel != nil {
					m.cancel()
				}
			}
		}

		return m, nil

	case EventMsg:
		return m.apply(msg.Event)
	}

	return m, nil
}

func (m Model) apply(e pg.Event) (tea.Model, tea.Cmd) {
	switch e.Type {
	case pg.EventPhaseStarted:
		m.fileIndex = e.FileIndex
		m.filePath = e.FilePath
		m.phaseName = e.PhaseName
		m.status = e.Status

	case pg.EventProgress:
		m.percent = e.Percent

		if e.Status != "" {
			m.status = e.Status
		}

	case pg.EventLogLine:
		m.logs = append(m.logs, e.Line)

		if len(m.logs) > logTail {
			m.logs = m.logs[len(m.logs)-logTail:]
		}

	case pg.EventFileCompleted:
		m.percent = e.Percent

	case pg.EventBatchCompleted:
		m.done = true
		m.failed = e.Failed
		m.percent = e.Percent

		return m, tea.Quit

	case pg.EventPhaseCompleted:
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	sb := &strings.Builder{}

	sb.WriteString(titleStyle.Render("neurobatch"))
	sb.WriteByte('\n')

	if m.filePath != "" {
		fmt.Fprintf(sb, "file %d/%d: %s\n", m.fileIndex+1, m.totalFiles, m.filePath)
	}

	if m.phaseName != "" {
		sb.WriteString(phaseStyle.Render(m.phaseName))
		sb.WriteByte('\n')
	}

	sb.WriteString(m.bar.ViewAs(float64(m.percent) / 100))
	fmt.Fprintf(sb, " %d%%\n", m.percent)

	if m.status != "" {
		sb.WriteString(statusStyle.Render(m.status))
		sb.WriteByte('\n')
	}

	for _, l := range m.logs {
		sb.WriteString(logStyle.Render(l))
		sb.WriteByte('\n')
	}

	switch {
	case m.done && m.failed:
		sb.WriteString(failStyle.Render("batch finished with failures"))
		sb.WriteByte('\n')
	case m.done:
		sb.WriteString(okStyle.Render("batch complete"))
		sb.WriteByte('\n')
	case m.cancelling:
		sb.WriteString(failStyle.Render("cancelling, waiting for the current tool to stop..."))
		sb.WriteByte('\n')
	default:
		sb.WriteString(helpStyle.Render("press q to cancel"))
		sb.WriteByte('\n')
	}

	return sb.String()
}

//go:build windows

// Package tui is an optional interactive status view for the
// conductor: the running target's phase and a scrolling tail of the
// conductor's log lines. It shows no tick counter of its own. It is not part of the
// harness's functional surface — the conductor runs identically with
// or without it attached.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"tasharness/conductor"
)

const maxLogLines = 20

var (
	phaseStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	logStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

type tickMsg time.Time

// logLineMsg is one line read off a ChannelWriter's Lines channel.
type logLineMsg string

// Model renders a live status view of a running conductor.
type Model struct {
	c     *conductor.Conductor
	lines chan string
	tail  []string
}

// New returns a Model watching c, fed log lines read from lines (the
// Lines() channel of a ChannelWriter passed as the conductor's logger
// output).
func New(c *conductor.Conductor, lines chan string) Model {
	return Model{c: c, lines: lines}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(), waitForLine(m.lines))
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func waitForLine(lines chan string) tea.Cmd {
	return func() tea.Msg {
		line, ok := <-lines
		if !ok {
			return nil
		}
		return logLineMsg(line)
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	case tickMsg:
		return m, tick()
	case logLineMsg:
		m.tail = append(m.tail, string(msg))
		if len(m.tail) > maxLogLines {
			m.tail = m.tail[len(m.tail)-maxLogLines:]
		}
		return m, waitForLine(m.lines)
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(phaseStyle.Render(fmt.Sprintf("phase: %s", m.c.Phase())))
	b.WriteString("\n\n")
	b.WriteString(logStyle.Render(strings.Join(m.tail, "\n")))
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("press q to quit"))
	b.WriteString("\n")
	return b.String()
}

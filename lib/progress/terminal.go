// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
)

// defaultWidth is used until the terminal reports its size.
const defaultWidth = 80

// Terminal draws run progress on a terminal. The bubbletea program runs
// from NewTerminal until Close; it never reads input.
type Terminal struct {
	output  io.Writer
	program *tea.Program
	done    chan struct{}
	err     error

	closed    atomic.Bool
	closeOnce sync.Once
	writeLock sync.Mutex
}

// NewTerminal starts a progress display on output.
func NewTerminal(output io.Writer) *Terminal {
	renderer := lipgloss.NewRenderer(output, termenv.WithColorCache(true))
	t := &Terminal{
		output: output,
		done:   make(chan struct{}),
	}
	t.program = tea.NewProgram(newModel(renderer),
		tea.WithOutput(output),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)
	go func() {
		defer close(t.done)
		_, t.err = t.program.Run()
	}()
	return t
}

func (t *Terminal) StartPhase(name string, total int) {
	t.send(phaseMsg{name: name, total: total})
}

func (t *Terminal) Step(detail string) {
	t.send(stepMsg{detail: detail})
}

func (t *Terminal) EndPhase() {
	t.send(endPhaseMsg{})
}

// Close stops the display and waits for the program to restore the
// terminal. Log records written after Close go straight to the output.
func (t *Terminal) Close() error {
	t.closeOnce.Do(func() {
		t.send(quitMsg{})
		<-t.done
		t.closed.Store(true)
	})
	if t.err != nil {
		return fmt.Errorf("progress: %w", t.err)
	}
	return nil
}

func (t *Terminal) send(msg tea.Msg) {
	if t.closed.Load() {
		return
	}
	t.program.Send(msg)
}

// println prints a line above the progress bar, or directly once the
// display has stopped.
func (t *Terminal) println(line string) {
	line = strings.TrimRight(line, "\n")
	if t.closed.Load() {
		t.writeLock.Lock()
		defer t.writeLock.Unlock()
		fmt.Fprintln(t.output, line)
		return
	}
	t.program.Println(line)
}

type (
	phaseMsg struct {
		name  string
		total int
	}
	stepMsg struct {
		detail string
	}
	endPhaseMsg struct{}
	quitMsg     struct{}
)

// model is the bubbletea model of the display: the name of the current
// phase, a bar, a step counter, and the item being worked on.
type model struct {
	bar    progress.Model
	width  int
	phase  string
	total  int
	steps  int
	detail string

	phaseStyle  lipgloss.Style
	detailStyle lipgloss.Style
	doneStyle   lipgloss.Style
}

func newModel(renderer *lipgloss.Renderer) model {
	return model{
		bar:         progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		width:       defaultWidth,
		phaseStyle:  renderer.NewStyle().Bold(true),
		detailStyle: renderer.NewStyle().Faint(true),
		doneStyle:   renderer.NewStyle().Foreground(lipgloss.Color("2")),
	}
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case phaseMsg:
		m.phase = msg.name
		m.total = msg.total
		m.steps = 0
		m.detail = ""
	case stepMsg:
		m.steps++
		m.detail = msg.detail
	case endPhaseMsg:
		if m.phase == "" {
			return m, nil
		}
		line := m.doneStyle.Render("done") + " " + m.phase + fmt.Sprintf(" (%d/%d)", m.steps, m.total)
		m.phase = ""
		m.detail = ""
		return m, tea.Println(line)
	case quitMsg:
		m.phase = ""
		return m, tea.Quit
	}
	return m, nil
}

// completed is the fraction of the phase that has finished. A step is
// reported when it starts, so the last one counts once the phase ends.
func (m model) completed() float64 {
	if m.total <= 0 {
		return 0
	}
	finished := max(m.steps-1, 0)
	return min(float64(finished)/float64(m.total), 1)
}

func (m model) View() string {
	if m.phase == "" {
		return ""
	}
	counter := fmt.Sprintf(" %d/%d", m.steps, m.total)
	header := m.phaseStyle.Render(m.phase) + " "
	m.bar.Width = max(m.width-ansi.StringWidth(header)-len(counter), 10)
	line := header + m.bar.ViewAs(m.completed()) + counter
	if m.detail == "" {
		return line
	}
	return line + "\n" + m.detailStyle.Render(ansi.Truncate(m.detail, m.width, "…"))
}

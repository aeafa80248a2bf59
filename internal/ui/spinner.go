package ui

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Spinner shows progress while canopy waits on a subprocess.
//
// On a terminal it animates with bubbletea; on any other writer it prints the
// title once. Stop always waits for the render goroutine to exit, so a
// stopped spinner never writes again. Start and Stop are safe to call more
// than once.
type Spinner struct {
	out   io.Writer
	title string

	startOnce sync.Once
	stopOnce  sync.Once
	program   *tea.Program
	done      chan struct{}
}

// NewSpinner creates a stopped spinner writing to out.
func NewSpinner(out io.Writer, title string) *Spinner {
	return &Spinner{out: out, title: title}
}

// Start begins rendering.
func (s *Spinner) Start() {
	s.startOnce.Do(func() {
		if !IsTerminal(s.out) {
			fmt.Fprintf(s.out, "%s...\n", s.title)
			return
		}

		sp := spinner.New()
		sp.Spinner = spinner.Dot
		sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#2E8B57"))

		s.done = make(chan struct{})
		s.program = tea.NewProgram(spinnerModel{spin: sp, title: s.title},
			tea.WithOutput(s.out),
			tea.WithInput(nil),
			tea.WithoutSignalHandler(),
		)
		go func() {
			defer close(s.done)
			_, _ = s.program.Run()
		}()
	})
}

// Stop ends rendering and clears the spinner line.
func (s *Spinner) Stop() {
	s.startOnce.Do(func() {})
	s.stopOnce.Do(func() {
		if s.program == nil {
			return
		}
		s.program.Send(stopMsg{})
		<-s.done
	})
}

// stopMsg lets the model render an empty final frame before quitting.
type stopMsg struct{}

type spinnerModel struct {
	spin     spinner.Model
	title    string
	quitting bool
}

func (m spinnerModel) Init() tea.Cmd {
	return m.spin.Tick
}

func (m spinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stopMsg:
		m.quitting = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m spinnerModel) View() string {
	if m.quitting {
		return ""
	}
	return m.spin.View() + " " + m.title
}

// Package tui renders scan progress as a bubbletea program: a spinner, a
// progress bar, running counts and the latest probe events.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/hazz-dev/linkprobe/internal/dispatcher"
)

const maxLines = 10

type lineKind int

const (
	kindInfo lineKind = iota
	kindSuccess
	kindWarning
	kindError
)

type lineMsg struct {
	kind lineKind
	text string
}

type progressMsg struct{ p dispatcher.Progress }

type doneMsg struct{ rep dispatcher.Report }

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	footerStyle  = lipgloss.NewStyle().Faint(true)
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// Model is the bubbletea model of a running scan.
type Model struct {
	total   int
	cancel  context.CancelFunc
	started time.Time

	spin spinner.Model
	prog progress.Model

	progress   dispatcher.Progress
	lines      []lineMsg
	done       bool
	cancelling bool
	finishedAt time.Time
}

// NewModel creates the model for a scan of total URLs. cancel is called when
// the user presses q or ctrl+c; the program keeps running until the scan
// reports completion.
func NewModel(total int, cancel context.CancelFunc) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return &Model{
		total:    total,
		cancel:   cancel,
		started:  time.Now(),
		spin:     s,
		prog:     progress.New(progress.WithDefaultGradient()),
		progress: dispatcher.Progress{Total: total},
	}
}

func (m *Model) Init() tea.Cmd {
	return m.spin.Tick
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.done {
				return m, tea.Quit
			}
			if !m.cancelling {
				m.cancelling = true
				if m.cancel != nil {
					m.cancel()
				}
				m.addLine(lineMsg{kind: kindWarning, text: "Cancelling, waiting for in-flight probes..."})
			}
			return m, nil
		}
	case tea.WindowSizeMsg:
		m.prog.Width = max(msg.Width-4, 10)
		return m, nil
	case lineMsg:
		m.addLine(msg)
		return m, nil
	case progressMsg:
		m.progress = msg.p
		return m, nil
	case doneMsg:
		m.done = true
		m.finishedAt = time.Now()
		m.progress.Done = msg.rep.Total
		m.progress.Total = msg.rep.Total
		m.progress.Active = len(msg.rep.Active)
		m.progress.Inactive = len(msg.rep.Inactive)
		m.progress.Failed = msg.rep.Failed
		m.progress.Cancelled = msg.rep.Cancelled
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.spin, cmd = m.spin.Update(msg)
	return m, cmd
}

func (m *Model) addLine(l lineMsg) {
	m.lines = append(m.lines, l)
	if len(m.lines) > maxLines {
		m.lines = m.lines[len(m.lines)-maxLines:]
	}
}

func (m *Model) percent() float64 {
	if m.progress.Total == 0 {
		return 0
	}
	return float64(m.progress.Done) / float64(m.progress.Total)
}

func (m *Model) View() string {
	header := headerStyle.Render(fmt.Sprintf(" Probing %d URLs ", m.total))

	p := m.progress
	stats := fmt.Sprintf("%d/%d  active:%d  inactive:%d", p.Done, p.Total, p.Active, p.Inactive)
	if p.Failed > 0 {
		stats += fmt.Sprintf("  failed:%d", p.Failed)
	}
	if p.Cancelled > 0 {
		stats += fmt.Sprintf("  cancelled:%d", p.Cancelled)
	}

	var status string
	switch {
	case m.done:
		status = fmt.Sprintf("Done in %s  %s", m.finishedAt.Sub(m.started).Truncate(time.Millisecond), stats)
	case m.cancelling:
		status = fmt.Sprintf("%s cancelling  %s", m.spin.View(), stats)
	default:
		status = fmt.Sprintf("%s %s", m.spin.View(), stats)
	}

	body := make([]string, 0, len(m.lines))
	for _, l := range m.lines {
		body = append(body, styleFor(l.kind).Render(l.text))
	}

	footer := footerStyle.Render("Controls: [q] cancel")
	parts := []string{header, status, m.prog.ViewAs(m.percent()), ""}
	parts = append(parts, body...)
	parts = append(parts, footer)
	return lipgloss.NewStyle().Padding(1).Render(strings.Join(parts, "\n"))
}

func styleFor(k lineKind) lipgloss.Style {
	switch k {
	case kindSuccess:
		return successStyle
	case kindWarning:
		return warningStyle
	case kindError:
		return errorStyle
	default:
		return infoStyle
	}
}

// Program drives a Model from the scan goroutines. Its methods are safe for
// concurrent use.
type Program struct {
	p *tea.Program
}

// NewProgram wraps a Model in a tea.Program.
func NewProgram(m *Model, opts ...tea.ProgramOption) *Program {
	return &Program{p: tea.NewProgram(m, opts...)}
}

// Run blocks until the scan reported completion through Done.
func (p *Program) Run() error {
	_, err := p.p.Run()
	return err
}

// Progress forwards a dispatcher progress event.
func (p *Program) Progress(pr dispatcher.Progress) {
	p.p.Send(progressMsg{p: pr})
}

// Done marks the scan as finished and ends the program.
func (p *Program) Done(rep dispatcher.Report) {
	p.p.Send(doneMsg{rep: rep})
}

func (p *Program) Info(msg string)    { p.p.Send(lineMsg{kind: kindInfo, text: msg}) }
func (p *Program) Success(msg string) { p.p.Send(lineMsg{kind: kindSuccess, text: msg}) }
func (p *Program) Warning(msg string) { p.p.Send(lineMsg{kind: kindWarning, text: msg}) }
func (p *Program) Error(msg string)   { p.p.Send(lineMsg{kind: kindError, text: msg}) }

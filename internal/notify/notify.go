// Package notify delivers human-readable progress messages from the probing
// engine. Nothing in the engine depends on a message being delivered.
package notify

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Observer receives progress messages at four levels.
type Observer interface {
	Info(msg string)
	Success(msg string)
	Warning(msg string)
	Error(msg string)
}

// Nop discards every message.
var Nop Observer = nopObserver{}

type nopObserver struct{}

func (nopObserver) Info(string)    {}
func (nopObserver) Success(string) {}
func (nopObserver) Warning(string) {}
func (nopObserver) Error(string)   {}

// LogObserver forwards messages to a slog.Logger. Success is logged at info
// level with an outcome attribute.
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver creates a LogObserver. Pass nil logger to use the default logger.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger}
}

func (o *LogObserver) Info(msg string)    { o.logger.Info(msg) }
func (o *LogObserver) Success(msg string) { o.logger.Info(msg, "outcome", "success") }
func (o *LogObserver) Warning(msg string) { o.logger.Warn(msg) }
func (o *LogObserver) Error(msg string)   { o.logger.Error(msg) }

// Console writes one coloured line per message. Colours are dropped when the
// writer is not a terminal.
type Console struct {
	mu      sync.Mutex
	out     io.Writer
	info    lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	err     lipgloss.Style
}

// NewConsole creates a Console writing to out.
func NewConsole(out io.Writer) *Console {
	r := lipgloss.NewRenderer(out)
	return &Console{
		out:     out,
		info:    r.NewStyle().Foreground(lipgloss.Color("6")),
		success: r.NewStyle().Foreground(lipgloss.Color("2")),
		warning: r.NewStyle().Foreground(lipgloss.Color("3")),
		err:     r.NewStyle().Foreground(lipgloss.Color("1")),
	}
}

func (c *Console) Info(msg string)    { c.write(c.info, msg) }
func (c *Console) Success(msg string) { c.write(c.success, msg) }
func (c *Console) Warning(msg string) { c.write(c.warning, msg) }
func (c *Console) Error(msg string)   { c.write(c.err, msg) }

func (c *Console) write(style lipgloss.Style, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, style.Render(msg))
}

type multi []Observer

// Multi fans every message out to each observer in order. Nil entries are skipped.
func Multi(observers ...Observer) Observer {
	var m multi
	for _, o := range observers {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}

func (m multi) Info(msg string) {
	for _, o := range m {
		o.Info(msg)
	}
}

func (m multi) Success(msg string) {
	for _, o := range m {
		o.Success(msg)
	}
}

func (m multi) Warning(msg string) {
	for _, o := range m {
		o.Warning(msg)
	}
}

func (m multi) Error(msg string) {
	for _, o := range m {
		o.Error(msg)
	}
}

// Package printer renders CLI output: colored status lines, the signal
// indicator, board notices and formatted errors.
package printer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/dyluth/beacon/pkg/protocol"
	"github.com/fatih/color"
)

func init() {
	// Force color output even when not connected to TTY
	// Users can disable with NO_COLOR environment variable
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)

	signalColors = map[protocol.Signal]*color.Color{
		protocol.SignalRed:   color.New(color.BgRed, color.FgWhite, color.Bold),
		protocol.SignalGreen: color.New(color.BgGreen, color.FgBlack, color.Bold),
		protocol.SignalBlue:  color.New(color.BgBlue, color.FgWhite, color.Bold),
	}
)

// Printer writes to an output and an error stream. Methods may be called from
// any goroutine.
type Printer struct {
	mu  sync.Mutex
	out io.Writer
	err io.Writer
}

// New returns a printer writing to out and errOut.
func New(out, errOut io.Writer) *Printer {
	return &Printer{out: out, err: errOut}
}

var std = New(os.Stdout, os.Stderr)

// Default is the printer bound to stdout and stderr.
func Default() *Printer {
	return std
}

// Success prints a success message in green with a checkmark prefix
func (p *Printer) Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	green.Fprint(p.out, msg)
}

// Info prints an informational message in the default color
func (p *Printer) Info(format string, a ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, a...)
}

// Warning prints a warning message in yellow with a warning emoji prefix
func (p *Printer) Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		msg = "⚠️  " + msg
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	yellow.Fprint(p.out, msg)
}

// Step prints a step message with emphasis
func (p *Printer) Step(format string, a ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cyan.Fprintf(p.out, "→ %s", fmt.Sprintf(format, a...))
}

// Notice shows a transient board notice such as a rejected move.
func (p *Printer) Notice(msg string) {
	p.Warning("%s\n", msg)
}

// Signal draws the indicator as a colored block followed by detail.
func (p *Printer) Signal(state protocol.Signal, detail string) {
	c, ok := signalColors[state]
	if !ok {
		c = color.New(color.Reset)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	c.Fprintf(p.out, " %-5s ", state)
	if detail != "" {
		fmt.Fprintf(p.out, " %s", detail)
	}
	fmt.Fprintln(p.out)
}

// Error prints title, explanation and suggestions to the error stream and
// returns an error carrying only the title, for Cobra (SilenceErrors is set)
func (p *Printer) Error(title string, explanation string, suggestions []string) error {
	return p.ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext is Error with key/value details, printed in key order
func (p *Printer) ErrorWithContext(title string, explanation string, context map[string]string, suggestions []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	red.Fprintf(p.err, "%s\n\n", title)
	if explanation != "" {
		fmt.Fprintf(p.err, "%s\n", explanation)
	}

	if len(context) > 0 {
		keys := make([]string, 0, len(context))
		for k := range context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(p.err, "\n")
		for _, k := range keys {
			fmt.Fprintf(p.err, "  %s: %s\n", k, context[k])
		}
	}

	if len(suggestions) > 0 {
		fmt.Fprintf(p.err, "\n")
		if len(suggestions) == 1 {
			fmt.Fprintf(p.err, "%s\n", suggestions[0])
		} else {
			fmt.Fprintf(p.err, "Either:\n")
			for i, suggestion := range suggestions {
				fmt.Fprintf(p.err, "  %d. %s\n", i+1, suggestion)
			}
		}
	}

	return fmt.Errorf("%s", title)
}

// Package-level helpers write through Default.

func Success(format string, a ...any) { std.Success(format, a...) }
func Info(format string, a ...any)    { std.Info(format, a...) }
func Warning(format string, a ...any) { std.Warning(format, a...) }
func Step(format string, a ...any)    { std.Step(format, a...) }

func Error(title string, explanation string, suggestions []string) error {
	return std.Error(title, explanation, suggestions)
}

func ErrorWithContext(title string, explanation string, context map[string]string, suggestions []string) error {
	return std.ErrorWithContext(title, explanation, context, suggestions)
}

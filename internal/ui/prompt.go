// Package ui holds canopy's interactive surfaces: prompts, the progress
// spinner and the terminal styles used by command output.
//
// Prompts render with charmbracelet/huh when stdin and stderr are terminals.
// Otherwise a plain line-oriented prompter reads answers from the input
// stream, which keeps canopy usable from scripts and in tests.
package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// ErrCancelled is returned when the operator aborts a prompt (Ctrl-C in a
// form, or end of input in line mode).
var ErrCancelled = errors.New("prompt cancelled")

// Option is one choice of a Select prompt.
type Option struct {
	Label string
	Value string
}

// Prompter asks the operator questions.
type Prompter interface {
	// Input asks for free text. The answer is returned exactly as typed,
	// without trimming, so callers can compare it verbatim.
	Input(ctx context.Context, title, description string) (string, error)

	// Select asks for one of options and returns its Value.
	Select(ctx context.Context, title string, options []Option) (string, error)

	// Confirm asks a yes/no question.
	Confirm(ctx context.Context, title, description string) (bool, error)
}

// NewPrompter returns a huh-backed prompter when both in and out are
// terminals, and a LinePrompter otherwise.
func NewPrompter(in io.Reader, out io.Writer) Prompter {
	if IsTerminal(in) && IsTerminal(out) {
		return &FormPrompter{In: in, Out: out}
	}
	return NewLinePrompter(in, out)
}

// IsTerminal reports whether v is an *os.File attached to a terminal.
func IsTerminal(v any) bool {
	f, ok := v.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func huhTheme() *huh.Theme {
	t := *huh.ThemeCharm()
	t.Focused.FocusedButton = t.Focused.FocusedButton.Background(lipgloss.Color("#2E8B57"))
	t.Focused.Next = t.Focused.FocusedButton
	return &t
}

// FormPrompter renders prompts as huh forms.
type FormPrompter struct {
	In  io.Reader
	Out io.Writer
}

func (p *FormPrompter) run(ctx context.Context, field huh.Field) error {
	err := huh.NewForm(huh.NewGroup(field)).
		WithTheme(huhTheme()).
		WithShowHelp(false).
		WithInput(p.In).
		WithOutput(p.Out).
		RunWithContext(ctx)
	if errors.Is(err, huh.ErrUserAborted) {
		return ErrCancelled
	}
	return err
}

func (p *FormPrompter) Input(ctx context.Context, title, description string) (string, error) {
	var value string
	field := huh.NewInput().
		Title(title).
		Description(description).
		Value(&value)
	if err := p.run(ctx, field); err != nil {
		return "", err
	}
	return value, nil
}

func (p *FormPrompter) Select(ctx context.Context, title string, options []Option) (string, error) {
	var value string
	opts := make([]huh.Option[string], 0, len(options))
	for _, o := range options {
		opts = append(opts, huh.NewOption(o.Label, o.Value))
	}
	field := huh.NewSelect[string]().
		Title(title).
		Options(opts...).
		Value(&value)
	if err := p.run(ctx, field); err != nil {
		return "", err
	}
	return value, nil
}

func (p *FormPrompter) Confirm(ctx context.Context, title, description string) (bool, error) {
	var value bool
	field := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&value)
	if err := p.run(ctx, field); err != nil {
		return false, err
	}
	return value, nil
}

// LinePrompter reads one line per answer.
type LinePrompter struct {
	in  *bufio.Reader
	out io.Writer

	// pending holds a read abandoned by a cancelled prompt. The next prompt
	// takes its result instead of starting a second concurrent read.
	pending chan lineRead
}

type lineRead struct {
	line string
	err  error
}

// NewLinePrompter creates a LinePrompter reading from in and writing
// questions to out.
func NewLinePrompter(in io.Reader, out io.Writer) *LinePrompter {
	return &LinePrompter{in: bufio.NewReader(in), out: out}
}

// readLine returns the next line without its line terminator. Cancelling
// ctx returns immediately, even while the read is blocked.
func (p *LinePrompter) readLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.pending == nil {
		ch := make(chan lineRead, 1)
		go func() {
			line, err := p.in.ReadString('\n')
			ch <- lineRead{line: line, err: err}
		}()
		p.pending = ch
	}

	var r lineRead
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r = <-p.pending:
		p.pending = nil
	}
	if r.err != nil && (r.line == "" || !errors.Is(r.err, io.EOF)) {
		if errors.Is(r.err, io.EOF) {
			return "", ErrCancelled
		}
		return "", r.err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return strings.TrimRight(r.line, "\r\n"), nil
}

func (p *LinePrompter) Input(ctx context.Context, title, description string) (string, error) {
	if description != "" {
		fmt.Fprintln(p.out, description)
	}
	fmt.Fprintf(p.out, "%s ", title)
	return p.readLine(ctx)
}

// Select accepts either the option number or its value.
func (p *LinePrompter) Select(ctx context.Context, title string, options []Option) (string, error) {
	fmt.Fprintln(p.out, title)
	for i, o := range options {
		fmt.Fprintf(p.out, "  %d) %s\n", i+1, o.Label)
	}
	for {
		fmt.Fprint(p.out, "> ")
		answer, err := p.readLine(ctx)
		if err != nil {
			return "", err
		}
		answer = strings.TrimSpace(answer)
		if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(options) {
			return options[n-1].Value, nil
		}
		for _, o := range options {
			if strings.EqualFold(answer, o.Value) {
				return o.Value, nil
			}
		}
		fmt.Fprintf(p.out, "choose 1-%d\n", len(options))
	}
}

func (p *LinePrompter) Confirm(ctx context.Context, title, description string) (bool, error) {
	if description != "" {
		fmt.Fprintln(p.out, description)
	}
	fmt.Fprintf(p.out, "%s [y/N] ", title)
	answer, err := p.readLine(ctx)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

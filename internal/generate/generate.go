// Package generate drafts a setup hook for a worktree that has none.
//
// The draft comes from an external generator command (by default
// `claude -p`) that receives a fixed instruction as its last argument and
// must print a bash script on stdout. The operator reviews the draft and
// chooses to accept it, edit it in $EDITOR, regenerate it or quit. An
// accepted draft is written to <worktree>/.canopy/setup with mode 0755.
//
// The generator runs in its own process group so that cancelling canopy
// also kills any helpers it spawned. The spinner shown while it runs is
// stopped on every exit path, and the review file is always deleted.
package generate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/shinji-kodama/canopy/internal/hooks"
	"github.com/shinji-kodama/canopy/internal/logging"
	"github.com/shinji-kodama/canopy/internal/model"
	"github.com/shinji-kodama/canopy/internal/process"
	"github.com/shinji-kodama/canopy/internal/ui"
)

const (
	// Marker is the line every generated script must start with.
	Marker = "#!/usr/bin/env bash"

	// CommandEnv overrides the generator command line.
	CommandEnv = "CANOPY_GENERATOR"

	// DefaultCommand is used when CommandEnv is unset.
	DefaultCommand = "claude -p"

	defaultEditor = "vi"
)

// Instruction is passed to the generator as its final argument.
const Instruction = `Write a bash script that prepares a freshly created git worktree of this ` +
	`repository for development. The script runs with the worktree as its working ` +
	`directory. $CANOPY_ROOT holds the path of the primary checkout, from which ` +
	`untracked files such as .env may be copied. Install dependencies the project ` +
	`needs and do nothing destructive. Print only the script, starting with the ` +
	`line ` + Marker + `, with no surrounding prose or code fences.`

// Choices offered after a draft is shown.
const (
	ChoiceAccept     = "accept"
	ChoiceEdit       = "edit"
	ChoiceRegenerate = "regenerate"
	ChoiceQuit       = "quit"
)

var reviewOptions = []ui.Option{
	{Label: "Accept and run", Value: ChoiceAccept},
	{Label: "Edit in $EDITOR", Value: ChoiceEdit},
	{Label: "Regenerate", Value: ChoiceRegenerate},
	{Label: "Quit without a setup script", Value: ChoiceQuit},
}

// ErrNoMarker is returned for output that does not start with Marker.
var ErrNoMarker = errors.New("generator output does not start with " + Marker)

// Generator drafts setup scripts.
type Generator struct {
	Command  []string
	Editor   []string
	Prompter ui.Prompter

	// Out receives the draft preview and the spinner.
	Out io.Writer

	// Stdin, Stdout and Stderr are attached to the editor.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	log *logging.Logger
}

// New builds a Generator from CANOPY_GENERATOR and EDITOR.
func New(prompter ui.Prompter, out io.Writer, log *logging.Logger) *Generator {
	command := strings.TrimSpace(os.Getenv(CommandEnv))
	if command == "" {
		command = DefaultCommand
	}
	editor := strings.TrimSpace(os.Getenv("VISUAL"))
	if editor == "" {
		editor = strings.TrimSpace(os.Getenv("EDITOR"))
	}
	if editor == "" {
		editor = defaultEditor
	}
	return &Generator{
		Command:  strings.Fields(command),
		Editor:   strings.Fields(editor),
		Prompter: prompter,
		Out:      out,
		Stdin:    os.Stdin,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
		log:      log.Named("generate"),
	}
}

// Offer asks whether to generate a setup script for worktree and, if the
// operator agrees, runs the review loop. It returns the hook to run, or
// false when no script was accepted.
func (g *Generator) Offer(ctx context.Context, worktree string) (hooks.Hook, bool, error) {
	ok, err := g.Prompter.Confirm(ctx, "No setup script found. Generate one?",
		fmt.Sprintf("The draft comes from `%s` and is shown before anything runs.", strings.Join(g.Command, " ")))
	if err != nil {
		return hooks.Hook{}, false, promptError(err)
	}
	if !ok {
		return hooks.Hook{}, false, nil
	}
	return g.Generate(ctx, worktree)
}

// Generate runs the draft-review loop without asking first.
func (g *Generator) Generate(ctx context.Context, worktree string) (hooks.Hook, bool, error) {
	review, err := os.CreateTemp("", "canopy-setup-*.sh")
	if err != nil {
		return hooks.Hook{}, false, fmt.Errorf("failed to create review file: %w", err)
	}
	review.Close()
	defer os.Remove(review.Name())

	var script []byte
	regenerate := true
	for {
		if regenerate {
			script, err = g.draft(ctx, worktree)
			if err != nil {
				if !errors.Is(err, ErrNoMarker) {
					return hooks.Hook{}, false, err
				}
				fmt.Fprintf(g.Out, "%s\n", ui.WarnStyle.Render(err.Error()))
				retry, perr := g.Prompter.Confirm(ctx, "Try again?", "")
				if perr != nil {
					return hooks.Hook{}, false, promptError(perr)
				}
				if !retry {
					return hooks.Hook{}, false, nil
				}
				continue
			}
			regenerate = false
		}

		if err := os.WriteFile(review.Name(), script, 0o600); err != nil {
			return hooks.Hook{}, false, fmt.Errorf("failed to write review file: %w", err)
		}
		fmt.Fprintf(g.Out, "\n%s\n%s\n", ui.HeaderStyle.Render("Proposed setup script:"), script)

		choice, err := g.Prompter.Select(ctx, "What would you like to do?", reviewOptions)
		if err != nil {
			return hooks.Hook{}, false, promptError(err)
		}
		g.log.Debug("review choice", "choice", choice)

		switch choice {
		case ChoiceAccept:
			if err := Validate(script); err != nil {
				fmt.Fprintf(g.Out, "%s\n", ui.WarnStyle.Render(err.Error()))
				continue
			}
			h, err := install(worktree, script)
			return h, err == nil, err
		case ChoiceEdit:
			edited, err := g.edit(ctx, review.Name())
			if err != nil {
				return hooks.Hook{}, false, err
			}
			if err := Validate(edited); err != nil {
				fmt.Fprintf(g.Out, "%s\n", ui.WarnStyle.Render(err.Error()))
			}
			script = edited
		case ChoiceRegenerate:
			regenerate = true
		default:
			return hooks.Hook{}, false, nil
		}
	}
}

// draft runs the generator once with a spinner and returns validated output.
// Partial output from a cancelled run is discarded.
func (g *Generator) draft(ctx context.Context, worktree string) ([]byte, error) {
	if len(g.Command) == 0 {
		return nil, model.NewCLIError(model.ExitGeneralError, "no generator command configured").
			WithHint("set %s", CommandEnv)
	}

	spin := ui.NewSpinner(g.Out, "Generating setup script")
	spin.Start()
	res, err := func() (process.Result, error) {
		defer spin.Stop()
		return process.Run(ctx, process.Cmd{
			Name:  g.Command[0],
			Args:  append(append([]string{}, g.Command[1:]...), Instruction),
			Dir:   worktree,
			Group: true,
		})
	}()

	switch {
	case err == nil:
	case process.IsInterrupted(err):
		return nil, model.WrapCLIError(model.ExitInterrupted, "setup generation interrupted", err)
	default:
		msg := strings.TrimSpace(string(res.Stderr))
		if msg == "" {
			msg = err.Error()
		}
		return nil, model.WrapCLIError(model.ExitGeneralError,
			fmt.Sprintf("setup generator failed: %s", msg), err).
			WithHint("check %s (currently %q)", CommandEnv, strings.Join(g.Command, " "))
	}

	out := bytes.TrimLeft(res.Stdout, " \t\r\n")
	if err := Validate(out); err != nil {
		return nil, err
	}
	return out, nil
}

// edit opens path in the editor and returns the saved content.
func (g *Generator) edit(ctx context.Context, path string) ([]byte, error) {
	if len(g.Editor) == 0 {
		return nil, model.NewCLIError(model.ExitGeneralError, "no editor configured").WithHint("set EDITOR")
	}
	_, err := process.Run(ctx, process.Cmd{
		Name:   g.Editor[0],
		Args:   append(append([]string{}, g.Editor[1:]...), path),
		Stdin:  g.Stdin,
		Stdout: g.Stdout,
		Stderr: g.Stderr,
	})
	if err != nil {
		if process.IsInterrupted(err) {
			return nil, model.WrapCLIError(model.ExitInterrupted, "editor interrupted", err)
		}
		return nil, model.WrapCLIError(model.ExitGeneralError, "editor failed", err)
	}
	return os.ReadFile(path)
}

// Validate checks that script starts with the marker line.
func Validate(script []byte) error {
	first, _, _ := bytes.Cut(script, []byte("\n"))
	if strings.TrimRight(string(first), " \t\r") != Marker {
		return ErrNoMarker
	}
	return nil
}

// install writes script as the worktree's setup hook.
func install(worktree string, script []byte) (hooks.Hook, error) {
	path := hooks.Path(worktree, hooks.Setup)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return hooks.Hook{}, fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, script, 0o755); err != nil {
		return hooks.Hook{}, fmt.Errorf("failed to write setup script: %w", err)
	}
	// WriteFile keeps the mode of an existing file; make sure it is executable.
	if err := os.Chmod(path, 0o755); err != nil {
		return hooks.Hook{}, err
	}
	return hooks.Hook{Kind: hooks.Setup, Path: path}, nil
}

func promptError(err error) error {
	if errors.Is(err, ui.ErrCancelled) {
		return model.WrapCLIError(model.ExitUserCancelled, "cancelled", err)
	}
	if errors.Is(err, context.Canceled) {
		return model.WrapCLIError(model.ExitInterrupted, "interrupted", err)
	}
	return err
}

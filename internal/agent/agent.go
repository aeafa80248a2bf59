// Package agent launches the coding agent inside a worktree.
package agent

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shinji-kodama/canopy/internal/logging"
	"github.com/shinji-kodama/canopy/internal/model"
	"github.com/shinji-kodama/canopy/internal/process"
)

const (
	// CommandEnv overrides the agent command line.
	CommandEnv = "CANOPY_AGENT"

	// DefaultCommand is used when CommandEnv is unset.
	DefaultCommand = "claude"

	resumeFlag = "--continue"
)

// Options control one launch.
type Options struct {
	// Resume continues the agent's previous conversation in the worktree.
	Resume bool

	// Prompt is passed as the final argument when non-empty.
	Prompt string
}

// Launcher runs the agent with stdio attached.
type Launcher struct {
	Command []string
	Stdin   io.Reader
	Stdout  io.Writer
	Stderr  io.Writer

	log *logging.Logger
}

// New builds a Launcher from CANOPY_AGENT.
func New(log *logging.Logger) *Launcher {
	command := strings.TrimSpace(os.Getenv(CommandEnv))
	if command == "" {
		command = DefaultCommand
	}
	return &Launcher{
		Command: strings.Fields(command),
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		log:     log.Named("agent"),
	}
}

// Args returns the argument list (without the program name) for opts.
func (l *Launcher) Args(opts Options) []string {
	var args []string
	if len(l.Command) > 1 {
		args = append(args, l.Command[1:]...)
	}
	if opts.Resume {
		args = append(args, resumeFlag)
	}
	if opts.Prompt != "" {
		args = append(args, opts.Prompt)
	}
	return args
}

// Launch runs the agent in dir and waits for it to exit.
//
// The agent is an interactive foreground program: the terminal delivers
// Ctrl-C to it directly, and it decides what an interrupt means. Launch
// therefore detaches the child from ctx's cancellation instead of killing
// the session on the first SIGINT.
func (l *Launcher) Launch(ctx context.Context, dir string, opts Options) error {
	if len(l.Command) == 0 {
		return model.NewCLIError(model.ExitGeneralError, "no agent command configured").
			WithHint("set %s", CommandEnv)
	}

	args := l.Args(opts)
	l.log.Debug("launching agent", "dir", dir, "command", l.Command[0], "resume", opts.Resume)
	res, err := process.Run(context.WithoutCancel(ctx), process.Cmd{
		Name:   l.Command[0],
		Args:   args,
		Dir:    dir,
		Stdin:  l.Stdin,
		Stdout: l.Stdout,
		Stderr: l.Stderr,
	})
	if err != nil {
		if res.ExitCode < 0 {
			return model.WrapCLIError(model.ExitGeneralError,
				fmt.Sprintf("failed to start agent %q", l.Command[0]), err).
				WithHint("install it or set %s, or pass --no-agent", CommandEnv)
		}
		return model.WrapCLIError(model.ExitGeneralError,
			fmt.Sprintf("agent exited with status %d", res.ExitCode), err)
	}
	return nil
}

// Package hooks finds and runs per-worktree lifecycle scripts.
//
// A hook is an executable file named after its kind inside a .canopy
// directory. The worktree's own copy wins over the repository root's copy,
// so a branch can carry a modified setup script. Hooks run with the worktree
// as their working directory, receive no arguments and communicate only
// through their exit status. Stdio is attached to canopy's own, since setup
// scripts commonly prompt or print progress.
//
// Cancellation kills everything a hook started, not just the script. When
// stdin is not a terminal the hook gets its own process group and the group
// is killed. A hook reading a terminal stays in canopy's foreground group
// instead, so it can read without being stopped, and the terminal's SIGINT
// reaches all of its descendants.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"

	"github.com/shinji-kodama/canopy/internal/logging"
	"github.com/shinji-kodama/canopy/internal/model"
	"github.com/shinji-kodama/canopy/internal/process"
)

// Kind names a lifecycle point.
type Kind string

const (
	Setup    Kind = "setup"
	Teardown Kind = "teardown"
)

// dirName is the directory holding hook scripts.
const dirName = ".canopy"

// Hook is a resolved hook script.
type Hook struct {
	Kind Kind
	Path string
}

// ErrNotExecutable is returned for a hook file that lacks execute permission.
var ErrNotExecutable = errors.New("hook is not executable")

// Path returns where a hook of kind lives under dir.
func Path(dir string, kind Kind) string {
	return filepath.Join(dir, dirName, string(kind))
}

// Find returns the hook of kind for worktree, falling back to root.
func Find(kind Kind, worktree, root string) (Hook, bool) {
	for _, dir := range []string{worktree, root} {
		p := Path(dir, kind)
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return Hook{Kind: kind, Path: p}, true
		}
	}
	return Hook{}, false
}

// Runner executes hooks.
type Runner struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	log *logging.Logger
}

// NewRunner returns a Runner attached to the process's own stdio.
func NewRunner(log *logging.Logger) *Runner {
	return &Runner{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr, log: log.Named("hooks")}
}

// Run executes h inside worktree. The hook sees CANOPY_ROOT, CANOPY_BRANCH
// and CANOPY_WORKTREE in its environment.
//
// Errors are *model.CLIError: ExitHookFailed for a non-executable file or a
// non-zero exit, ExitInterrupted when ctx is cancelled. A non-executable
// file additionally matches ErrNotExecutable.
func (r *Runner) Run(ctx context.Context, h Hook, worktree, root, branch string) error {
	info, err := os.Stat(h.Path)
	if err != nil {
		return model.WrapCLIError(model.ExitHookFailed, fmt.Sprintf("%s hook not readable", h.Kind), err)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return model.WrapCLIError(model.ExitHookFailed,
			fmt.Sprintf("%s hook %s is not executable", h.Kind, h.Path), ErrNotExecutable).
			WithHint("chmod +x %s", h.Path)
	}

	r.log.Debug("running hook", "kind", h.Kind, "path", h.Path, "worktree", worktree)
	res, err := process.Run(ctx, process.Cmd{
		Name:   h.Path,
		Dir:    worktree,
		Env:    []string{"CANOPY_ROOT=" + root, "CANOPY_BRANCH=" + branch, "CANOPY_WORKTREE=" + worktree},
		Stdin:  r.Stdin,
		Stdout: r.Stdout,
		Stderr: r.Stderr,
		Group:  !isTerminal(r.Stdin),
	})
	switch {
	case err == nil:
		return nil
	case process.IsInterrupted(err):
		return model.WrapCLIError(model.ExitInterrupted, fmt.Sprintf("%s hook interrupted", h.Kind), err)
	default:
		return model.WrapCLIError(model.ExitHookFailed,
			fmt.Sprintf("%s hook exited with status %d", h.Kind, res.ExitCode), err).
			WithHint("fix %s and rerun it from %s", h.Path, worktree)
	}
}

func isTerminal(in io.Reader) bool {
	f, ok := in.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

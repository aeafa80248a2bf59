// Package process runs child processes bound to a context.
//
// Every child started here is killed and reaped when its context is
// cancelled, and Run does not return until the child has been waited for.
// With Group set the child is placed in its own process group and the whole
// group is killed, which matters for generators that fork helpers of their
// own. SpawnDetached is the one exception: it starts a child in a new
// session and deliberately forgets it.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// waitDelay bounds how long Run waits for output pipes after the child has
// been killed. A grandchild that inherited the pipes would otherwise keep
// Wait blocked indefinitely.
const waitDelay = 2 * time.Second

// Cmd describes a child process.
type Cmd struct {
	Name string
	Args []string
	Dir  string

	// Env entries are appended to the parent environment.
	Env []string

	Stdin io.Reader

	// Stdout and Stderr stream output when set; otherwise output is captured
	// into the Result.
	Stdout io.Writer
	Stderr io.Writer

	// Group runs the child in its own process group and kills the group on
	// cancellation.
	Group bool
}

// Result holds captured output and the exit status.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// ErrInterrupted wraps the context error of a cancelled child.
var ErrInterrupted = errors.New("interrupted")

// Run starts c and waits for it. The error is nil on exit status 0, wraps
// ErrInterrupted (and the context error) when ctx was cancelled, and is an
// *exec.ExitError otherwise. Captured output is returned in every case.
func Run(ctx context.Context, c Cmd) (Result, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.Stdin = c.Stdin
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	if c.Stdout != nil {
		cmd.Stdout = c.Stdout
	}
	cmd.Stderr = &stderr
	if c.Stderr != nil {
		cmd.Stderr = c.Stderr
	}

	if c.Group {
		startGroup(cmd)
	}

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitCode: exitCode(cmd, err)}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("%s: %w: %w", c.Name, ErrInterrupted, ctxErr)
	}
	return res, err
}

// Output runs c and returns trimmed stdout. A non-zero exit is
// reported with the child's stderr in the message.
func Output(ctx context.Context, c Cmd) (string, error) {
	res, err := Run(ctx, c)
	if err != nil {
		if errors.Is(err, ErrInterrupted) {
			return "", err
		}
		if msg := string(bytes.TrimSpace(res.Stderr)); msg != "" {
			return "", fmt.Errorf("%s: %s: %w", c.Name, msg, err)
		}
		return "", fmt.Errorf("%s: %w", c.Name, err)
	}
	return string(bytes.TrimSpace(res.Stdout)), nil
}

// SpawnDetached starts c in a new session with stdio on the null device and
// returns without waiting. The child outlives the parent.
func SpawnDetached(c Cmd) error {
	cmd := exec.Command(c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	detach(cmd)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to spawn %s: %w", c.Name, err)
	}
	return cmd.Process.Release()
}

// IsInterrupted reports whether err came from a cancelled child.
func IsInterrupted(err error) bool {
	return errors.Is(err, ErrInterrupted) || errors.Is(err, context.Canceled)
}

func exitCode(cmd *exec.Cmd, err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return -1
}

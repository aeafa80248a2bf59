//go:build unix

package process

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_CapturesOutput(t *testing.T) {
	res, err := Run(context.Background(), Cmd{
		Name: "sh",
		Args: []string{"-c", "echo out; echo err >&2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "out\n", string(res.Stdout))
	assert.Equal(t, "err\n", string(res.Stderr))
	assert.Equal(t, 0, res.ExitCode)
}

func TestRun_DirEnvAndStreams(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	_, err := Run(context.Background(), Cmd{
		Name:   "sh",
		Args:   []string{"-c", `pwd; printf %s "$CANOPY_TEST_VAR"`},
		Dir:    dir,
		Env:    []string{"CANOPY_TEST_VAR=hello"},
		Stdout: &out,
	})
	require.NoError(t, err)

	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	lines := strings.Split(out.String(), "\n")
	assert.Equal(t, resolved, lines[0])
	assert.Equal(t, "hello", lines[1])
}

func TestRun_ExitStatus(t *testing.T) {
	res, err := Run(context.Background(), Cmd{Name: "sh", Args: []string{"-c", "exit 3"}})
	require.Error(t, err)

	var exitErr *exec.ExitError
	assert.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, IsInterrupted(err))
}

// TestRun_Cancellation verifies the child is killed and the error reports an
// interruption rather than a normal failure.
func TestRun_Cancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Run(ctx, Cmd{Name: "sleep", Args: []string{"30"}})
	require.Error(t, err)
	assert.True(t, IsInterrupted(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)
}

// TestRun_GroupCancellation verifies a grandchild holding the output pipe does
// not keep Run blocked after cancellation.
func TestRun_GroupCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Run(ctx, Cmd{
		Name:  "sh",
		Args:  []string{"-c", "sleep 30 & wait"},
		Group: true,
	})
	require.Error(t, err)
	assert.True(t, IsInterrupted(err))
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestOutput(t *testing.T) {
	out, err := Output(context.Background(), Cmd{Name: "sh", Args: []string{"-c", "echo '  padded  '"}})
	require.NoError(t, err)
	assert.Equal(t, "padded", out)

	_, err = Output(context.Background(), Cmd{Name: "sh", Args: []string{"-c", "echo broken >&2; exit 1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestSpawnDetached(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "spawned")
	require.NoError(t, SpawnDetached(Cmd{Name: "sh", Args: []string{"-c", "touch " + marker}}))

	assert.Eventually(t, func() bool {
		_, err := os.Stat(marker)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	assert.Error(t, SpawnDetached(Cmd{Name: "canopy-definitely-missing-binary"}))
}

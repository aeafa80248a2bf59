package worktree

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/shinji-kodama/canopy/internal/config"
	"github.com/shinji-kodama/canopy/internal/hooks"
	"github.com/shinji-kodama/canopy/internal/logging"
	"github.com/shinji-kodama/canopy/internal/model"
)

var ctx = context.Background()

// TestCreate_NewBranch verifies a new worktree is registered under the
// nested layout, entered, and excluded from the root's status.
func TestCreate_NewBranch(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.m.Create(ctx, "auth")
	require.NoError(t, err)

	want := filepath.Join(env.root, ".worktrees", "auth")
	assert.Equal(t, want, res.Path)
	assert.True(t, res.Created)
	assert.Equal(t, model.LayoutNested, res.Layout)
	assert.Empty(t, res.Setup)
	assert.Equal(t, want, env.loc.cwd)
	assert.Equal(t, []string{"add auth"}, env.reg.mutations)
	assert.Equal(t, []string{"/.worktrees/"}, env.reg.excludes)
}

// TestCreate_Idempotent verifies a second Create of the same branch makes
// zero registry mutations and does not rerun setup.
func TestCreate_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	writeHook(t, env.root, hooks.Setup)

	first, err := env.m.Create(ctx, "auth")
	require.NoError(t, err)
	require.Len(t, env.hooks.runs, 1)

	env.loc.cwd = env.root
	second, err := env.m.Create(ctx, "auth")
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.Equal(t, first.Path, second.Path)
	assert.Equal(t, []string{"add auth"}, env.reg.mutations)
	assert.Len(t, env.hooks.runs, 1)
	assert.Equal(t, first.Path, env.loc.cwd)
}

func TestCreate_Layouts(t *testing.T) {
	tests := []struct {
		layout  model.Layout
		rel     string
		baseRel string
	}{
		{model.LayoutNested, "app/.worktrees/feature-foo", "app/.worktrees"},
		{model.LayoutOuterNested, "app.worktrees/feature-foo", "app.worktrees"},
		{model.LayoutSibling, "app-feature-foo", ""},
	}

	for _, tt := range tests {
		t.Run(tt.layout.String(), func(t *testing.T) {
			env := newTestEnv(t)
			env.settings.project = tt.layout
			parent := filepath.Dir(env.root)

			res, err := env.m.Create(ctx, "feature/foo")
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(parent, tt.rel), res.Path)
			assert.DirExists(t, res.Path)
			if tt.baseRel != "" {
				assert.DirExists(t, filepath.Join(parent, tt.baseRel))
			}
			if tt.layout != model.LayoutNested {
				assert.Empty(t, env.reg.excludes)
			}
		})
	}
}

// TestCreate_CollisionOtherBranch verifies that lossy sanitization is caught
// by the registry: "feature-foo" must not reuse the worktree of
// "feature/foo".
func TestCreate_CollisionOtherBranch(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.m.Create(ctx, "feature/foo")
	require.NoError(t, err)

	_, err = env.m.Create(ctx, "feature-foo")
	require.Error(t, err)
	assert.Equal(t, model.ExitCollision, model.CodeOf(err))
	assert.Contains(t, err.Error(), "feature/foo")
	assert.Equal(t, []string{"add feature/foo"}, env.reg.mutations)
}

func TestCreate_CollisionUnregisteredDirectory(t *testing.T) {
	env := newTestEnv(t)
	stray := filepath.Join(env.root, ".worktrees", "stray")
	require.NoError(t, os.MkdirAll(stray, 0o755))

	_, err := env.m.Create(ctx, "stray")
	require.Error(t, err)
	assert.Equal(t, model.ExitCollision, model.CodeOf(err))

	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Contains(t, cliErr.Hint, stray)
	assert.Empty(t, env.reg.mutations)
}

// TestCreate_AddFailure verifies git's failure is returned unchanged and the
// freshly created base directory is cleaned up.
func TestCreate_AddFailure(t *testing.T) {
	env := newTestEnv(t)
	env.reg.failAdd = model.NewCLIError(model.ExitGitError, "git worktree add failed: invalid reference")

	_, err := env.m.Create(ctx, "bad..name")
	require.Error(t, err)
	assert.Equal(t, model.ExitGitError, model.CodeOf(err))
	assert.NoDirExists(t, filepath.Join(env.root, ".worktrees"))
	assert.Equal(t, env.root, env.loc.cwd)
}

func TestCreate_EmptyBranch(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.m.Create(ctx, "  ")
	assert.Error(t, err)
	assert.Empty(t, env.reg.mutations)
}

// TestCreate_SetupHook verifies the root's setup hook runs inside the new
// worktree.
func TestCreate_SetupHook(t *testing.T) {
	env := newTestEnv(t)
	hookPath := writeHook(t, env.root, hooks.Setup)

	res, err := env.m.Create(ctx, "auth")
	require.NoError(t, err)
	assert.Equal(t, hookPath, res.Setup)
	assert.Equal(t, []string{"setup " + res.Path}, env.hooks.runs)
}

// TestCreate_SetupFailureKeepsWorktree verifies setup failure is fatal but
// does not roll back the registration.
func TestCreate_SetupFailureKeepsWorktree(t *testing.T) {
	env := newTestEnv(t)
	writeHook(t, env.root, hooks.Setup)
	env.hooks.fail = map[hooks.Kind]error{hooks.Setup: model.NewCLIError(model.ExitHookFailed, "setup hook exited with status 1")}

	res, err := env.m.Create(ctx, "auth")
	require.Error(t, err)
	assert.Equal(t, model.ExitHookFailed, model.CodeOf(err))
	assert.True(t, res.Created)
	assert.DirExists(t, res.Path)
	assert.Equal(t, []string{"add auth"}, env.reg.mutations)
}

func TestCreate_GeneratorOffered(t *testing.T) {
	env := newTestEnv(t)
	gen := &fakeGenerator{accept: true}
	env.rebuild(gen)

	res, err := env.m.Create(ctx, "auth")
	require.NoError(t, err)
	assert.Equal(t, 1, gen.offered)
	assert.Equal(t, hooks.Path(res.Path, hooks.Setup), res.Setup)
	assert.Equal(t, []string{"setup " + res.Path}, env.hooks.runs)
}

func TestCreate_GeneratorNotOfferedWhenHookExists(t *testing.T) {
	env := newTestEnv(t)
	writeHook(t, env.root, hooks.Setup)
	gen := &fakeGenerator{accept: true}
	env.rebuild(gen)

	_, err := env.m.Create(ctx, "auth")
	require.NoError(t, err)
	assert.Equal(t, 0, gen.offered)
}

func TestCreate_GeneratorOutcomes(t *testing.T) {
	t.Run("declined", func(t *testing.T) {
		env := newTestEnv(t)
		env.rebuild(&fakeGenerator{accept: false})
		res, err := env.m.Create(ctx, "auth")
		require.NoError(t, err)
		assert.Empty(t, res.Setup)
		assert.Empty(t, env.hooks.runs)
	})

	t.Run("cancelled", func(t *testing.T) {
		env := newTestEnv(t)
		env.rebuild(&fakeGenerator{err: model.NewCLIError(model.ExitUserCancelled, "cancelled")})
		_, err := env.m.Create(ctx, "auth")
		assert.NoError(t, err)
	})

	t.Run("generator failed", func(t *testing.T) {
		env := newTestEnv(t)
		env.rebuild(&fakeGenerator{err: errors.New("quota exceeded")})
		res, err := env.m.Create(ctx, "auth")
		assert.NoError(t, err)
		assert.True(t, res.Created)
	})

	t.Run("interrupted", func(t *testing.T) {
		env := newTestEnv(t)
		env.rebuild(&fakeGenerator{err: model.NewCLIError(model.ExitInterrupted, "setup generation interrupted")})
		_, err := env.m.Create(ctx, "auth")
		assert.Equal(t, model.ExitInterrupted, model.CodeOf(err))
	})
}

func TestStart(t *testing.T) {
	env := newTestEnv(t)
	writeHook(t, env.root, hooks.Setup)
	created, err := env.m.Create(ctx, "auth")
	require.NoError(t, err)
	env.loc.cwd = env.root

	res, err := env.m.Start(ctx, "auth")
	require.NoError(t, err)
	assert.Equal(t, created.Path, res.Path)
	assert.Equal(t, created.Path, env.loc.cwd)
	assert.Len(t, env.hooks.runs, 1, "setup is not rerun")
}

func TestStart_NotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.m.Start(ctx, "missing")
	assert.Equal(t, model.ExitNotFound, model.CodeOf(err))
}

// TestStart_LossyName verifies Start does not enter a worktree that only
// shares the sanitized directory name.
func TestStart_LossyName(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.m.Create(ctx, "feature/foo")
	require.NoError(t, err)
	env.loc.cwd = env.root

	_, err = env.m.Start(ctx, "feature-foo")
	assert.Equal(t, model.ExitNotFound, model.CodeOf(err))
	assert.Equal(t, env.root, env.loc.cwd)
}

func TestDetect(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.m.Create(ctx, "feature/auth")
	require.NoError(t, err)

	deep := filepath.Join(res.Path, "pkg", "api")
	require.NoError(t, os.MkdirAll(deep, 0o755))

	for _, loc := range []string{res.Path, deep} {
		wt, err := env.m.Detect(ctx, loc)
		require.NoError(t, err, loc)
		assert.Equal(t, "feature/auth", wt.Branch)
		assert.Equal(t, res.Path, wt.Path)
	}
}

func TestDetect_NotFound(t *testing.T) {
	env := newTestEnv(t)
	stray := filepath.Join(env.root, ".worktrees", "stray")
	require.NoError(t, os.MkdirAll(stray, 0o755))
	detached := filepath.Join(env.root, ".worktrees", "detached")
	require.NoError(t, os.MkdirAll(detached, 0o755))
	env.reg.entries = append(env.reg.entries, model.Worktree{Path: detached, HEAD: "ddd", Detached: true})

	for _, loc := range []string{env.root, filepath.Join(env.root, "pkg"), stray, detached, t.TempDir()} {
		_, err := env.m.Detect(ctx, loc)
		assert.Equal(t, model.ExitNotFound, model.CodeOf(err), loc)
	}
}

// TestDetect_SymlinkedLocation verifies locations reached through a symlink
// are resolved before matching.
func TestDetect_SymlinkedLocation(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.m.Create(ctx, "auth")
	require.NoError(t, err)

	link := filepath.Join(t.TempDir(), "shortcut")
	require.NoError(t, os.Symlink(res.Path, link))

	wt, err := env.m.Detect(ctx, link)
	require.NoError(t, err)
	assert.Equal(t, "auth", wt.Branch)
}

// TestLayoutChangeDoesNotMigrate verifies worktrees created under one layout
// are neither moved nor found once the layout changes.
func TestLayoutChangeDoesNotMigrate(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.m.Create(ctx, "auth")
	require.NoError(t, err)

	env.settings.project = model.LayoutSibling

	_, err = env.m.Detect(ctx, res.Path)
	assert.Equal(t, model.ExitNotFound, model.CodeOf(err))
	_, err = env.m.Start(ctx, "auth")
	assert.Equal(t, model.ExitNotFound, model.CodeOf(err))
	assert.DirExists(t, res.Path)

	list, err := env.m.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list.Worktrees)
	assert.Equal(t, 1, list.Unmanaged)
}

func TestMerge(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.m.Create(ctx, "auth")
	require.NoError(t, err)

	res, err := env.m.Merge(ctx, "auth", true)
	require.NoError(t, err)
	assert.Equal(t, MergeResult{Branch: "auth", Into: "main", Squash: true}, res)
	assert.Contains(t, env.reg.mutations, "merge auth squash=true")
}

// TestMerge_Preconditions verifies the order NotFound, DirtyState,
// SelfMerge, and that no failed precondition reaches the merge primitive.
func TestMerge_Preconditions(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.m.Merge(ctx, "missing", false)
		assert.Equal(t, model.ExitNotFound, model.CodeOf(err))
	})

	t.Run("dirty before self-merge", func(t *testing.T) {
		env := newTestEnv(t)
		res, err := env.m.Create(ctx, "auth")
		require.NoError(t, err)
		env.reg.dirty[res.Path] = true
		env.reg.current = "auth"

		_, err = env.m.Merge(ctx, "auth", false)
		assert.Equal(t, model.ExitDirtyState, model.CodeOf(err))
		assert.NotContains(t, env.reg.mutations, "merge auth squash=false")
	})

	t.Run("self merge", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.m.Create(ctx, "auth")
		require.NoError(t, err)
		env.reg.current = "auth"

		_, err = env.m.Merge(ctx, "auth", false)
		assert.Equal(t, model.ExitSelfMerge, model.CodeOf(err))
		assert.Equal(t, []string{"add auth"}, env.reg.mutations)
	})
}

func TestMerge_DetectsBranch(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.m.Create(ctx, "auth")
	require.NoError(t, err)

	res, err := env.m.Merge(ctx, "", false)
	require.NoError(t, err)
	assert.Equal(t, "auth", res.Branch)
}

// TestRemove_ByDetection verifies removal from inside the worktree relocates
// to the root first.
func TestRemove_ByDetection(t *testing.T) {
	env := newTestEnv(t)
	created, err := env.m.Create(ctx, "auth")
	require.NoError(t, err)
	env.loc.cwd = filepath.Join(created.Path, "sub")
	require.NoError(t, os.MkdirAll(env.loc.cwd, 0o755))

	res, err := env.m.Remove(ctx, "", false)
	require.NoError(t, err)
	assert.True(t, res.Relocated)
	assert.True(t, res.BranchDeleted)
	assert.Equal(t, env.root, env.loc.cwd)
	assert.NoDirExists(t, created.Path)
	assert.Equal(t, []string{"add auth", "remove auth force=false", "delete-branch auth"}, env.reg.mutations)
}

// TestRemove_DirtyRefusedBeforeTeardown verifies an unforced removal of a
// dirty worktree changes nothing and runs no hook.
func TestRemove_DirtyRefusedBeforeTeardown(t *testing.T) {
	env := newTestEnv(t)
	writeHook(t, env.root, hooks.Teardown)
	created, err := env.m.Create(ctx, "auth")
	require.NoError(t, err)
	env.reg.dirty[created.Path] = true

	_, err = env.m.Remove(ctx, "auth", false)
	require.Error(t, err)
	assert.Equal(t, model.ExitDirtyState, model.CodeOf(err))
	assert.Empty(t, env.hooks.runs)
	assert.Equal(t, []string{"add auth"}, env.reg.mutations)

	res, err := env.m.Remove(ctx, "auth", true)
	require.NoError(t, err)
	assert.Equal(t, created.Path, res.Path)
	assert.Contains(t, env.reg.mutations, "remove auth force=true")
	assert.Equal(t, []string{"teardown " + created.Path}, env.hooks.runs)
}

func TestRemove_TeardownFailureIsBestEffort(t *testing.T) {
	env := newTestEnv(t)
	writeHook(t, env.root, hooks.Teardown)
	env.hooks.fail = map[hooks.Kind]error{hooks.Teardown: model.NewCLIError(model.ExitHookFailed, "teardown hook exited with status 2")}
	created, err := env.m.Create(ctx, "auth")
	require.NoError(t, err)

	res, err := env.m.Remove(ctx, "auth", false)
	require.NoError(t, err)
	assert.True(t, res.TeardownFailed)
	assert.NoDirExists(t, created.Path)
}

func TestRemove_TeardownInterruptedAborts(t *testing.T) {
	env := newTestEnv(t)
	writeHook(t, env.root, hooks.Teardown)
	env.hooks.fail = map[hooks.Kind]error{hooks.Teardown: model.NewCLIError(model.ExitInterrupted, "teardown hook interrupted")}
	created, err := env.m.Create(ctx, "auth")
	require.NoError(t, err)

	_, err = env.m.Remove(ctx, "auth", false)
	assert.Equal(t, model.ExitInterrupted, model.CodeOf(err))
	assert.DirExists(t, created.Path)
}

// TestMergeThenRemove verifies the branch is deleted after a merge and kept
// when removed unmerged.
func TestMergeThenRemove(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.m.Create(ctx, "merged")
	require.NoError(t, err)
	env.reg.unmerged["merged"] = true
	_, err = env.m.Merge(ctx, "merged", false)
	require.NoError(t, err)
	res, err := env.m.Remove(ctx, "merged", false)
	require.NoError(t, err)
	assert.True(t, res.BranchDeleted)

	_, err = env.m.Create(ctx, "unmerged")
	require.NoError(t, err)
	env.reg.unmerged["unmerged"] = true
	res, err = env.m.Remove(ctx, "unmerged", false)
	require.NoError(t, err, "a kept branch is not an error")
	assert.False(t, res.BranchDeleted)
	assert.Contains(t, res.BranchKept, "not fully merged")
}

func TestRemove_NotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.m.Remove(ctx, "missing", true)
	assert.Equal(t, model.ExitNotFound, model.CodeOf(err))

	_, err = env.m.Remove(ctx, "", true)
	assert.Equal(t, model.ExitNotFound, model.CodeOf(err), "root is not a managed worktree")
}

func TestList(t *testing.T) {
	env := newTestEnv(t)
	auth, err := env.m.Create(ctx, "auth")
	require.NoError(t, err)
	_, err = env.m.Create(ctx, "billing")
	require.NoError(t, err)
	env.reg.register(t, filepath.Join(t.TempDir(), "elsewhere"), "manual")
	env.loc.cwd = auth.Path

	res, err := env.m.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.LayoutNested, res.Layout)
	assert.Equal(t, config.ScopeDefault, res.LayoutScope)
	require.Len(t, res.Worktrees, 2)
	assert.Equal(t, "auth", res.Worktrees[0].Branch)
	assert.True(t, res.Worktrees[0].Current)
	assert.False(t, res.Worktrees[1].Current)
	assert.Equal(t, 1, res.Unmanaged)
}

func TestSetLayout(t *testing.T) {
	env := newTestEnv(t)
	created, err := env.m.Create(ctx, "auth")
	require.NoError(t, err)

	res, err := env.m.SetLayout(ctx, config.ScopeProject, "sibling")
	require.NoError(t, err)
	assert.Equal(t, model.LayoutNested, res.Previous)
	assert.Equal(t, model.LayoutSibling, res.Effective)
	require.Len(t, res.Stranded, 1)
	assert.Equal(t, created.Path, res.Stranded[0].Path)

	res, err = env.m.SetLayout(ctx, config.ScopeProject, "sibling")
	require.NoError(t, err)
	assert.Empty(t, res.Stranded)
}

// TestSetLayout_OverriddenGlobal verifies a global change hidden by a project
// setting does not change the effective layout.
func TestSetLayout_OverriddenGlobal(t *testing.T) {
	env := newTestEnv(t)
	env.settings.project = model.LayoutNested
	_, err := env.m.Create(ctx, "auth")
	require.NoError(t, err)

	res, err := env.m.SetLayout(ctx, config.ScopeGlobal, "outer-nested")
	require.NoError(t, err)
	assert.Equal(t, model.LayoutOuterNested, res.Layout)
	assert.Equal(t, model.LayoutNested, res.Effective)
	assert.Empty(t, res.Stranded)
}

// warnCountingSettings records how many warnings had been logged when Set
// was called.
type warnCountingSettings struct {
	*fakeSettings
	logs         *observer.ObservedLogs
	warnsAtWrite int
}

func (s *warnCountingSettings) Set(scope config.Scope, value string) (model.Layout, error) {
	s.warnsAtWrite = s.logs.FilterLevelExact(zapcore.WarnLevel).Len()
	return s.fakeSettings.Set(scope, value)
}

// TestSetLayout_WarnsBeforeWriting verifies the stranded-worktree warning is
// emitted before the new value is stored.
func TestSetLayout_WarnsBeforeWriting(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.m.Create(ctx, "auth")
	require.NoError(t, err)

	core, logs := observer.New(zapcore.WarnLevel)
	settings := &warnCountingSettings{fakeSettings: env.settings, logs: logs}
	m := NewManager(Deps{
		Repo:     model.Repository{Root: env.root, CommonDir: filepath.Join(env.root, ".git")},
		Registry: env.reg,
		Settings: settings,
		Hooks:    env.hooks,
		Prompter: env.prompt,
		Location: env.loc,
		Log:      logging.NewWithCore(core),
	})

	res, err := m.SetLayout(ctx, config.ScopeProject, "sibling")
	require.NoError(t, err)
	assert.Len(t, res.Stranded, 1)
	assert.Equal(t, 1, settings.warnsAtWrite)
	assert.Equal(t, model.LayoutSibling, env.settings.project)
}

func TestSetLayout_Invalid(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.m.SetLayout(ctx, config.ScopeProject, "flat")
	assert.Equal(t, model.ExitConfigInvalid, model.CodeOf(err))
}

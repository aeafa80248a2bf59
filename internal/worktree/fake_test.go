package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/canopy/internal/config"
	"github.com/shinji-kodama/canopy/internal/hooks"
	"github.com/shinji-kodama/canopy/internal/logging"
	"github.com/shinji-kodama/canopy/internal/model"
	"github.com/shinji-kodama/canopy/internal/ui"
)

// fakeRegistry is an in-memory worktree registry. Add and Remove also create
// and delete the directory so path-based checks behave as with git.
type fakeRegistry struct {
	root      string
	entries   []model.Worktree
	dirty     map[string]bool
	unmerged  map[string]bool
	current   string
	failAdd   error
	failRm    map[string]error
	mutations []string
	excludes  []string
}

func newFakeRegistry(root string) *fakeRegistry {
	return &fakeRegistry{
		root:     root,
		entries:  []model.Worktree{{Path: root, Branch: "main", HEAD: "aaa"}},
		dirty:    map[string]bool{},
		unmerged: map[string]bool{},
		failRm:   map[string]error{},
		current:  "main",
	}
}

func (r *fakeRegistry) List(context.Context) ([]model.Worktree, error) {
	return append([]model.Worktree(nil), r.entries...), nil
}

func (r *fakeRegistry) Add(_ context.Context, path, branch string) error {
	if r.failAdd != nil {
		return r.failAdd
	}
	for _, e := range r.entries {
		if e.Branch == branch {
			return model.NewCLIError(model.ExitGitError, fmt.Sprintf("git worktree add failed: '%s' is already checked out", branch))
		}
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}
	r.entries = append(r.entries, model.Worktree{Path: path, Branch: branch, HEAD: "bbb"})
	r.mutations = append(r.mutations, "add "+branch)
	return nil
}

func (r *fakeRegistry) Remove(_ context.Context, path string, force bool) error {
	if err := r.failRm[path]; err != nil {
		return err
	}
	if r.dirty[path] && !force {
		return model.NewCLIError(model.ExitGitError, "git worktree remove failed: contains modified or untracked files")
	}
	for i, e := range r.entries {
		if e.Path == path {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			r.mutations = append(r.mutations, fmt.Sprintf("remove %s force=%v", e.Branch, force))
			return os.RemoveAll(path)
		}
	}
	return model.NewCLIError(model.ExitGitError, "git worktree remove failed: not a working tree")
}

func (r *fakeRegistry) DeleteBranch(_ context.Context, branch string) error {
	if r.unmerged[branch] {
		return model.NewCLIError(model.ExitGitError, fmt.Sprintf("git branch -d %s failed: the branch is not fully merged", branch))
	}
	r.mutations = append(r.mutations, "delete-branch "+branch)
	return nil
}

func (r *fakeRegistry) IsDirty(_ context.Context, path string) (bool, error) {
	return r.dirty[path], nil
}

func (r *fakeRegistry) Merge(_ context.Context, branch string, squash bool) error {
	r.mutations = append(r.mutations, fmt.Sprintf("merge %s squash=%v", branch, squash))
	delete(r.unmerged, branch)
	return nil
}

func (r *fakeRegistry) CurrentBranch(context.Context) (string, error) {
	return r.current, nil
}

func (r *fakeRegistry) Exclude(pattern string) error {
	r.excludes = append(r.excludes, pattern)
	return nil
}

// register adds an entry for an existing directory without recording a
// mutation, for test setup.
func (r *fakeRegistry) register(t *testing.T, path, branch string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(path, 0o755))
	r.entries = append(r.entries, model.Worktree{Path: path, Branch: branch, HEAD: "ccc"})
}

// fakeSettings is a layout setting held in memory.
type fakeSettings struct {
	project, global model.Layout
}

func (s *fakeSettings) Get() (model.Layout, config.Scope) {
	switch {
	case s.project != "":
		return s.project, config.ScopeProject
	case s.global != "":
		return s.global, config.ScopeGlobal
	default:
		return model.DefaultLayout, config.ScopeDefault
	}
}

func (s *fakeSettings) Set(scope config.Scope, value string) (model.Layout, error) {
	l, err := model.ParseLayout(value)
	if err != nil {
		return "", model.WrapCLIError(model.ExitConfigInvalid, "invalid layout value", err)
	}
	if scope == config.ScopeGlobal {
		s.global = l
	} else {
		s.project = l
	}
	return l, nil
}

// fakeHooks records hook runs and fails the kinds listed in fail.
type fakeHooks struct {
	runs []string
	fail map[hooks.Kind]error
}

func (h *fakeHooks) Run(_ context.Context, hk hooks.Hook, worktree, _, _ string) error {
	h.runs = append(h.runs, fmt.Sprintf("%s %s", hk.Kind, worktree))
	if h.fail != nil {
		return h.fail[hk.Kind]
	}
	return nil
}

// fakeLocation is a working directory that never touches the process.
type fakeLocation struct {
	cwd string
}

func (l *fakeLocation) Getwd() (string, error) { return l.cwd, nil }
func (l *fakeLocation) Chdir(dir string) error { l.cwd = dir; return nil }

// scriptedPrompter answers Input prompts from a queue and records what it
// was asked.
type scriptedPrompter struct {
	answers []string
	asked   []string
}

func (p *scriptedPrompter) Input(_ context.Context, title, description string) (string, error) {
	p.asked = append(p.asked, title+"\n"+description)
	if len(p.answers) == 0 {
		return "", ui.ErrCancelled
	}
	a := p.answers[0]
	p.answers = p.answers[1:]
	return a, nil
}

func (p *scriptedPrompter) Select(context.Context, string, []ui.Option) (string, error) {
	return "", ui.ErrCancelled
}

func (p *scriptedPrompter) Confirm(context.Context, string, string) (bool, error) {
	return false, ui.ErrCancelled
}

// fakeGenerator returns a fixed hook, or err.
type fakeGenerator struct {
	offered int
	hook    hooks.Hook
	accept  bool
	err     error
}

func (g *fakeGenerator) Offer(_ context.Context, worktree string) (hooks.Hook, bool, error) {
	g.offered++
	if g.err != nil || !g.accept {
		return hooks.Hook{}, false, g.err
	}
	h := g.hook
	if h.Path == "" {
		h = hooks.Hook{Kind: hooks.Setup, Path: hooks.Path(worktree, hooks.Setup)}
	}
	return h, true, nil
}

// testEnv bundles a Manager with its fakes.
type testEnv struct {
	root     string
	reg      *fakeRegistry
	settings *fakeSettings
	hooks    *fakeHooks
	loc      *fakeLocation
	prompt   *scriptedPrompter
	gen      *fakeGenerator
	m        *Manager
}

// newTestEnv builds a Manager around fakes for a repository at <tmp>/app.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	base, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	root := filepath.Join(base, "app")
	require.NoError(t, os.Mkdir(root, 0o755))

	env := &testEnv{
		root:     root,
		reg:      newFakeRegistry(root),
		settings: &fakeSettings{},
		hooks:    &fakeHooks{},
		loc:      &fakeLocation{cwd: root},
		prompt:   &scriptedPrompter{},
	}
	env.rebuild(nil)
	return env
}

// rebuild recreates the Manager, optionally with a generator.
func (e *testEnv) rebuild(gen *fakeGenerator) {
	e.gen = gen
	d := Deps{
		Repo:     model.Repository{Root: e.root, CommonDir: filepath.Join(e.root, ".git")},
		Registry: e.reg,
		Settings: e.settings,
		Hooks:    e.hooks,
		Prompter: e.prompt,
		Location: e.loc,
		Log:      logging.Nop(),
	}
	if gen != nil {
		d.Generator = gen
	}
	e.m = NewManager(d)
}

// writeHook creates an executable hook file of kind under dir.
func writeHook(t *testing.T, dir string, kind hooks.Kind) string {
	t.Helper()
	p := hooks.Path(dir, kind)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\nexit 0\n"), 0o755))
	return p
}

package worktree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shinji-kodama/canopy/internal/config"
	"github.com/shinji-kodama/canopy/internal/hooks"
	"github.com/shinji-kodama/canopy/internal/layout"
	"github.com/shinji-kodama/canopy/internal/logging"
	"github.com/shinji-kodama/canopy/internal/model"
	"github.com/shinji-kodama/canopy/internal/process"
	"github.com/shinji-kodama/canopy/internal/ui"
)

// Registry is the git worktree registry as seen by the engine.
type Registry interface {
	List(ctx context.Context) ([]model.Worktree, error)
	Add(ctx context.Context, path, branch string) error
	Remove(ctx context.Context, path string, force bool) error
	DeleteBranch(ctx context.Context, branch string) error
	IsDirty(ctx context.Context, path string) (bool, error)
	Merge(ctx context.Context, branch string, squash bool) error

	// CurrentBranch returns the branch checked out in the primary checkout,
	// or "" when its HEAD is detached.
	CurrentBranch(ctx context.Context) (string, error)

	// Exclude adds a pattern to the repository's local ignore list.
	Exclude(pattern string) error
}

// Settings is the layered layout setting.
type Settings interface {
	Get() (model.Layout, config.Scope)
	Set(scope config.Scope, value string) (model.Layout, error)
}

// HookRunner executes a resolved hook.
type HookRunner interface {
	Run(ctx context.Context, h hooks.Hook, worktree, root, branch string) error
}

// SetupGenerator offers to draft a setup hook for a worktree without one.
type SetupGenerator interface {
	Offer(ctx context.Context, worktree string) (hooks.Hook, bool, error)
}

// Location is the process's current directory.
type Location interface {
	Getwd() (string, error)
	Chdir(dir string) error
}

// OSLocation is the real working directory.
type OSLocation struct{}

func (OSLocation) Getwd() (string, error) { return os.Getwd() }
func (OSLocation) Chdir(dir string) error { return os.Chdir(dir) }

// Deps are the collaborators of a Manager. Generator and Prompter may be nil:
// without a generator no setup script is offered, and without a prompter
// bulk removal cannot be confirmed.
type Deps struct {
	Repo      model.Repository
	Registry  Registry
	Settings  Settings
	Hooks     HookRunner
	Generator SetupGenerator
	Prompter  ui.Prompter
	Location  Location
	Log       *logging.Logger
}

// Manager runs lifecycle operations for one repository.
type Manager struct {
	repo     model.Repository
	root     string
	reg      Registry
	settings Settings
	hooks    HookRunner
	gen      SetupGenerator
	prompt   ui.Prompter
	loc      Location
	log      *logging.Logger
}

// NewManager creates a Manager from d.
func NewManager(d Deps) *Manager {
	if d.Location == nil {
		d.Location = OSLocation{}
	}
	if d.Log == nil {
		d.Log = logging.Nop()
	}
	return &Manager{
		repo:     d.Repo,
		root:     layout.Canonical(d.Repo.Root),
		reg:      d.Registry,
		settings: d.Settings,
		hooks:    d.Hooks,
		gen:      d.Generator,
		prompt:   d.Prompter,
		loc:      d.Location,
		log:      d.Log.Named("worktree"),
	}
}

// nestedExclude keeps nested worktrees out of the primary checkout's status.
const nestedExclude = "/.worktrees/"

// CreateResult describes the outcome of Create.
type CreateResult struct {
	Branch string       `json:"branch" yaml:"branch"`
	Path   string       `json:"path" yaml:"path"`
	Layout model.Layout `json:"layout" yaml:"layout"`

	// Created is false when the worktree already existed.
	Created bool `json:"created" yaml:"created"`

	// Setup is the path of the setup hook that ran, if any.
	Setup string `json:"setup,omitempty" yaml:"setup,omitempty"`
}

// Create registers a worktree for branch under the active layout, enters it
// and runs its setup hook.
//
// Create is idempotent: when the directory already exists and the registry
// binds it to branch, it only re-enters the directory. A directory that
// exists but belongs to another branch, or to no registered worktree, is a
// collision and nothing is changed.
//
// A failing setup hook is returned as an error with the result filled in;
// the worktree stays registered and can be rolled back with Remove.
//
// Parameters:
//   - ctx: cancels git and the setup hook; an interrupted hook is reported
//     with ExitInterrupted
//   - branch: the branch to create or check out, surrounding space trimmed
func (m *Manager) Create(ctx context.Context, branch string) (CreateResult, error) {
	branch = strings.TrimSpace(branch)
	if branch == "" {
		return CreateResult{}, model.NewCLIError(model.ExitGeneralError, "branch name is required")
	}

	l, strat := m.strategy()
	dir := strat.WorktreeDir(m.root, branch)
	res := CreateResult{Branch: branch, Path: dir, Layout: l}
	log := m.log.With("branch", branch, "path", dir)

	entries, err := m.reg.List(ctx)
	if err != nil {
		return res, err
	}

	if layout.Exists(dir) {
		entry, ok := findByPath(entries, dir)
		switch {
		case ok && entry.Branch == branch:
			log.Debug("worktree already exists")
			return res, m.enter(dir)
		case ok && entry.Branch != "":
			return res, model.NewCLIError(model.ExitCollision,
				fmt.Sprintf("%s is already the worktree of branch %q", dir, entry.Branch)).
				WithHint("branch names %q and %q map to the same directory; pick a different name", branch, entry.Branch)
		default:
			return res, model.NewCLIError(model.ExitCollision,
				fmt.Sprintf("%s exists but is not a worktree of branch %q", dir, branch)).
				WithHint("move or delete %s, or pick a different branch name", dir)
		}
	}

	createdBase := false
	if strat.HasBase() {
		base := strat.BaseDir(m.root)
		if !layout.Exists(base) {
			if err := os.MkdirAll(base, 0o755); err != nil {
				return res, fmt.Errorf("failed to create %s: %w", base, err)
			}
			createdBase = true
		}
		if l == model.LayoutNested {
			if err := m.reg.Exclude(nestedExclude); err != nil {
				log.Warn("could not add worktree directory to info/exclude", "error", err)
			}
		}
	}

	if err := m.reg.Add(ctx, dir, branch); err != nil {
		if createdBase {
			// Only removes the directory when git left it empty.
			_ = os.Remove(strat.BaseDir(m.root))
		}
		return res, err
	}
	res.Created = true
	log.Info("worktree created", "layout", l)

	if err := m.enter(dir); err != nil {
		return res, err
	}

	setup, err := m.setup(ctx, dir, branch)
	res.Setup = setup
	return res, err
}

// setup runs the worktree's setup hook, or offers to generate one.
func (m *Manager) setup(ctx context.Context, dir, branch string) (string, error) {
	h, ok := hooks.Find(hooks.Setup, dir, m.root)
	if !ok && m.gen != nil {
		generated, accepted, err := m.gen.Offer(ctx, dir)
		switch {
		case err == nil:
			h, ok = generated, accepted
		case model.HasCode(err, model.ExitInterrupted):
			return "", err
		case model.HasCode(err, model.ExitUserCancelled):
			m.log.Debug("setup generation skipped", "path", dir)
		default:
			m.log.Warn("setup generation failed", "path", dir, "error", err)
		}
	}
	if !ok {
		return "", nil
	}

	if err := m.hooks.Run(ctx, h, dir, m.root, branch); err != nil {
		return h.Path, err
	}
	return h.Path, nil
}

// StartResult describes the outcome of Start.
type StartResult struct {
	Branch string `json:"branch" yaml:"branch"`
	Path   string `json:"path" yaml:"path"`
}

// Start enters the existing worktree of branch. The setup hook is not rerun.
func (m *Manager) Start(ctx context.Context, branch string) (StartResult, error) {
	wt, err := m.lookup(ctx, branch)
	if err != nil {
		return StartResult{}, err
	}
	return StartResult{Branch: wt.Branch, Path: wt.Path}, m.enter(wt.Path)
}

// MergeResult describes the outcome of Merge.
type MergeResult struct {
	Branch string `json:"branch" yaml:"branch"`
	Into   string `json:"into" yaml:"into"`
	Squash bool   `json:"squash" yaml:"squash"`
}

// Merge merges branch into the primary checkout's current branch.
//
// Preconditions are checked in order: the worktree exists, it has no
// uncommitted changes, and branch is not the branch checked out in the
// primary checkout. A squash merge stages the result without committing.
// An empty branch means the worktree containing the current location.
func (m *Manager) Merge(ctx context.Context, branch string, squash bool) (MergeResult, error) {
	wt, err := m.lookupOrDetect(ctx, branch)
	if err != nil {
		return MergeResult{}, err
	}
	res := MergeResult{Branch: wt.Branch, Squash: squash}

	dirty, err := m.reg.IsDirty(ctx, wt.Path)
	if err != nil {
		return res, err
	}
	if dirty {
		return res, model.NewCLIError(model.ExitDirtyState,
			fmt.Sprintf("worktree of %q has uncommitted changes", wt.Branch)).
			WithHint("commit or stash the changes in %s first", wt.Path)
	}

	current, err := m.reg.CurrentBranch(ctx)
	if err != nil {
		return res, err
	}
	res.Into = current
	if current == wt.Branch {
		return res, model.NewCLIError(model.ExitSelfMerge,
			fmt.Sprintf("cannot merge %q into itself", wt.Branch)).
			WithHint("check out the target branch in %s first", m.root)
	}

	if err := m.reg.Merge(ctx, wt.Branch, squash); err != nil {
		return res, err
	}
	m.log.Info("branch merged", "branch", wt.Branch, "into", current, "squash", squash)
	return res, nil
}

// RemoveResult describes the outcome of Remove.
type RemoveResult struct {
	Branch string `json:"branch" yaml:"branch"`
	Path   string `json:"path" yaml:"path"`

	// BranchDeleted is false when git refused the safe delete, typically
	// because the branch has unmerged commits.
	BranchDeleted bool   `json:"branchDeleted" yaml:"branchDeleted"`
	BranchKept    string `json:"branchKept,omitempty" yaml:"branchKept,omitempty"`

	TeardownFailed bool `json:"teardownFailed,omitempty" yaml:"teardownFailed,omitempty"`

	// Relocated is true when the current location was inside the worktree
	// and has been moved to the repository root.
	Relocated bool `json:"relocated,omitempty" yaml:"relocated,omitempty"`
}

// Remove tears down the worktree of branch, unregisters it and safe-deletes
// the branch. An empty branch means the worktree containing the current
// location.
//
// Without force, a worktree with uncommitted changes is refused before any
// hook runs. The teardown hook is best-effort. A branch that git refuses to
// delete is kept and reported, not treated as an error.
func (m *Manager) Remove(ctx context.Context, branch string, force bool) (RemoveResult, error) {
	wt, err := m.lookupOrDetect(ctx, branch)
	if err != nil {
		return RemoveResult{}, err
	}
	res := RemoveResult{Branch: wt.Branch, Path: wt.Path}

	if !force {
		dirty, err := m.reg.IsDirty(ctx, wt.Path)
		if err != nil {
			return res, err
		}
		if dirty {
			return res, model.NewCLIError(model.ExitDirtyState,
				fmt.Sprintf("worktree of %q has uncommitted changes", wt.Branch)).
				WithHint("commit or stash them, or rerun with --force to discard them")
		}
	}

	if err := m.teardown(ctx, wt); err != nil {
		if model.HasCode(err, model.ExitInterrupted) {
			return res, err
		}
		res.TeardownFailed = true
	}

	relocated, err := m.relocate(wt.Path)
	if err != nil {
		return res, err
	}
	res.Relocated = relocated

	if err := m.reg.Remove(ctx, wt.Path, force); err != nil {
		return res, err
	}
	m.log.Info("worktree removed", "branch", wt.Branch, "path", wt.Path, "force", force)

	res.BranchDeleted, res.BranchKept = m.deleteBranch(ctx, wt.Branch)
	return res, nil
}

// teardown runs the teardown hook if there is one. Failures are logged and
// returned so callers can report them, but never abort a removal; only an
// interruption does.
func (m *Manager) teardown(ctx context.Context, wt model.Worktree) error {
	h, ok := hooks.Find(hooks.Teardown, wt.Path, m.root)
	if !ok {
		return nil
	}
	err := m.hooks.Run(ctx, h, wt.Path, m.root, wt.Branch)
	if err != nil && !model.HasCode(err, model.ExitInterrupted) {
		m.log.Warn("teardown hook failed", "branch", wt.Branch, "hook", h.Path, "error", err)
	}
	return err
}

// deleteBranch safe-deletes branch and reports why it was kept otherwise.
func (m *Manager) deleteBranch(ctx context.Context, branch string) (bool, string) {
	if branch == "" {
		return false, "detached HEAD"
	}
	if err := m.reg.DeleteBranch(ctx, branch); err != nil {
		m.log.Info("branch kept", "branch", branch, "reason", err)
		return false, err.Error()
	}
	return true, ""
}

// relocate moves the current location to the root when it is inside dir.
func (m *Manager) relocate(dir string) (bool, error) {
	cwd, err := m.loc.Getwd()
	if err != nil {
		// A deleted working directory cannot be inside a live worktree.
		return false, nil
	}
	if !layout.IsWithin(layout.Canonical(dir), layout.Canonical(cwd)) {
		return false, nil
	}
	if err := m.loc.Chdir(m.root); err != nil {
		return false, fmt.Errorf("failed to leave %s: %w", dir, err)
	}
	m.log.Debug("relocated to repository root", "from", cwd)
	return true, nil
}

func (m *Manager) enter(dir string) error {
	if err := m.loc.Chdir(dir); err != nil {
		return fmt.Errorf("failed to enter %s: %w", dir, err)
	}
	return nil
}

// strategy reads the layout setting once and returns its strategy.
func (m *Manager) strategy() (model.Layout, layout.Strategy) {
	l, _ := m.settings.Get()
	s, err := layout.For(l)
	if err != nil {
		l = model.DefaultLayout
		s = layout.MustFor(l)
	}
	return l, s
}

// isInterrupted reports whether err came from cancellation.
func isInterrupted(err error) bool {
	return model.HasCode(err, model.ExitInterrupted) || errors.Is(err, context.Canceled) || process.IsInterrupted(err)
}

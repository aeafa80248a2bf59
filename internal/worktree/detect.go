package worktree

import (
	"context"
	"fmt"

	"github.com/shinji-kodama/canopy/internal/layout"
	"github.com/shinji-kodama/canopy/internal/model"
)

// Detect returns the managed worktree containing location.
//
// The active layout proposes a candidate directory from the path alone;
// the registry then confirms it. A location outside the layout's pattern, an
// unregistered candidate and a detached worktree all report NotFound.
func (m *Manager) Detect(ctx context.Context, location string) (model.Worktree, error) {
	_, strat := m.strategy()

	loc := layout.Canonical(location)
	candidate, ok := strat.Match(m.root, loc)
	if !ok {
		return model.Worktree{}, notInWorktree(location)
	}

	entries, err := m.reg.List(ctx)
	if err != nil {
		return model.Worktree{}, err
	}
	wt, ok := findByPath(entries, candidate)
	if !ok || wt.Detached || wt.Branch == "" {
		return model.Worktree{}, notInWorktree(location)
	}
	return wt, nil
}

// DetectCurrent is Detect for the current location.
func (m *Manager) DetectCurrent(ctx context.Context) (model.Worktree, error) {
	cwd, err := m.loc.Getwd()
	if err != nil {
		return model.Worktree{}, fmt.Errorf("cannot determine current directory: %w", err)
	}
	return m.Detect(ctx, cwd)
}

func notInWorktree(location string) error {
	return model.NewCLIError(model.ExitNotFound,
		fmt.Sprintf("%s is not inside a managed worktree", location)).
		WithHint("pass a branch name, or run from inside a worktree")
}

// lookup returns the registered worktree of branch under the active layout.
// The computed directory must exist and the registry must bind it to
// exactly this branch.
func (m *Manager) lookup(ctx context.Context, branch string) (model.Worktree, error) {
	_, strat := m.strategy()
	dir := strat.WorktreeDir(m.root, branch)

	if !layout.Exists(dir) {
		return model.Worktree{}, model.NewCLIError(model.ExitNotFound,
			fmt.Sprintf("no worktree for branch %q", branch)).
			WithHint("create it with: canopy create %s", branch)
	}

	entries, err := m.reg.List(ctx)
	if err != nil {
		return model.Worktree{}, err
	}
	wt, ok := findByPath(entries, dir)
	if !ok || wt.Branch != branch {
		return model.Worktree{}, model.NewCLIError(model.ExitNotFound,
			fmt.Sprintf("%s is not the worktree of branch %q", dir, branch)).
			WithHint("run canopy list to see managed worktrees")
	}
	return wt, nil
}

// lookupOrDetect resolves an explicit branch, or detects it from the
// current location when branch is empty.
func (m *Manager) lookupOrDetect(ctx context.Context, branch string) (model.Worktree, error) {
	if branch != "" {
		return m.lookup(ctx, branch)
	}
	return m.DetectCurrent(ctx)
}

// findByPath returns the registry entry at dir, comparing canonical paths.
// The returned entry carries the canonical path.
func findByPath(entries []model.Worktree, dir string) (model.Worktree, bool) {
	want := layout.Canonical(dir)
	for _, e := range entries {
		if layout.Canonical(e.Path) == want {
			e.Path = want
			return e, true
		}
	}
	return model.Worktree{}, false
}

// managed returns the registry entries that are top-level directories of
// the strategy's pattern, never the primary checkout itself.
func (m *Manager) managed(entries []model.Worktree, strat layout.Strategy) []model.Worktree {
	var out []model.Worktree
	for _, e := range entries {
		if e.Bare {
			continue
		}
		p := layout.Canonical(e.Path)
		if p == m.root {
			continue
		}
		if top, ok := strat.Match(m.root, p); ok && top == p {
			e.Path = p
			out = append(out, e)
		}
	}
	return out
}

package worktree

import (
	"context"

	"github.com/shinji-kodama/canopy/internal/config"
	"github.com/shinji-kodama/canopy/internal/layout"
	"github.com/shinji-kodama/canopy/internal/model"
)

// Entry is one row of List.
type Entry struct {
	Branch   string `json:"branch,omitempty" yaml:"branch,omitempty"`
	Path     string `json:"path" yaml:"path"`
	HEAD     string `json:"head,omitempty" yaml:"head,omitempty"`
	Detached bool   `json:"detached,omitempty" yaml:"detached,omitempty"`
	Current  bool   `json:"current" yaml:"current"`
}

// ListResult is the managed view of the registry.
type ListResult struct {
	Root        string       `json:"root" yaml:"root"`
	Layout      model.Layout `json:"layout" yaml:"layout"`
	LayoutScope config.Scope `json:"layoutScope" yaml:"layoutScope"`
	Worktrees   []Entry      `json:"worktrees" yaml:"worktrees"`

	// Unmanaged counts registry entries outside the active layout, such as
	// worktrees created by hand or under a previous layout.
	Unmanaged int `json:"unmanaged" yaml:"unmanaged"`
}

// List returns the managed worktrees of the active layout and marks the one
// containing the current location.
func (m *Manager) List(ctx context.Context) (ListResult, error) {
	l, scope := m.settings.Get()
	strat, err := layout.For(l)
	if err != nil {
		l, strat = model.DefaultLayout, layout.MustFor(model.DefaultLayout)
	}

	entries, err := m.reg.List(ctx)
	if err != nil {
		return ListResult{}, err
	}

	res := ListResult{Root: m.root, Layout: l, LayoutScope: scope, Worktrees: []Entry{}}
	cwd, _ := m.loc.Getwd()
	cwd = layout.Canonical(cwd)

	managed := m.managed(entries, strat)
	for _, wt := range managed {
		res.Worktrees = append(res.Worktrees, Entry{
			Branch:   wt.Branch,
			Path:     wt.Path,
			HEAD:     wt.HEAD,
			Detached: wt.Detached,
			Current:  layout.IsWithin(wt.Path, cwd),
		})
	}

	for _, e := range entries {
		if !e.Bare && layout.Canonical(e.Path) != m.root {
			res.Unmanaged++
		}
	}
	res.Unmanaged -= len(managed)
	return res, nil
}

// LayoutResult describes the outcome of SetLayout.
type LayoutResult struct {
	Scope    config.Scope `json:"scope" yaml:"scope"`
	Layout   model.Layout `json:"layout" yaml:"layout"`
	Previous model.Layout `json:"previous" yaml:"previous"`

	// Effective is the layout now in force, which differs from Layout when
	// a project setting overrides a new global one.
	Effective model.Layout `json:"effective" yaml:"effective"`

	// Stranded lists worktrees of the previous effective layout that the new
	// one no longer finds. They are not moved.
	Stranded []model.Worktree `json:"stranded,omitempty" yaml:"stranded,omitempty"`
}

// SetLayout stores value in scope. If the change would take effect while
// worktrees exist under the old layout, a warning is logged before anything
// is written and the worktrees are listed in the result. Nothing is
// migrated.
func (m *Manager) SetLayout(ctx context.Context, scope config.Scope, value string) (LayoutResult, error) {
	before, beforeScope := m.settings.Get()

	var stranded []model.Worktree
	next, parseErr := model.ParseLayout(value)
	// A global value is shadowed by an existing project value.
	shadowed := scope == config.ScopeGlobal && beforeScope == config.ScopeProject
	if parseErr == nil && next != before && !shadowed {
		if strat, err := layout.For(before); err == nil {
			entries, err := m.reg.List(ctx)
			if err != nil {
				m.log.Debug("could not list worktrees before layout change", "error", err)
			} else {
				stranded = m.managed(entries, strat)
			}
		}
		if len(stranded) > 0 {
			m.log.Warn("existing worktrees are not moved by a layout change",
				"previous", before, "layout", next, "count", len(stranded))
		}
	}

	stored, err := m.settings.Set(scope, value)
	if err != nil {
		return LayoutResult{}, err
	}
	after, _ := m.settings.Get()
	res := LayoutResult{Scope: scope, Layout: stored, Previous: before, Effective: after}
	if before != after {
		res.Stranded = stranded
	}
	return res, nil
}

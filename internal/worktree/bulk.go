package worktree

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shinji-kodama/canopy/internal/model"
	"github.com/shinji-kodama/canopy/internal/ui"
)

// ConfirmationPhrase is the exact text the operator must type to remove n
// worktrees at once.
func ConfirmationPhrase(n int) string {
	return fmt.Sprintf("DELETE %d WORKTREES", n)
}

// BulkItem is the outcome for one worktree of a bulk removal.
type BulkItem struct {
	Branch        string `json:"branch,omitempty" yaml:"branch,omitempty"`
	Path          string `json:"path" yaml:"path"`
	Removed       bool   `json:"removed" yaml:"removed"`
	BranchDeleted bool   `json:"branchDeleted" yaml:"branchDeleted"`
	Error         string `json:"error,omitempty" yaml:"error,omitempty"`
}

// BulkResult summarizes a bulk removal.
type BulkResult struct {
	Items     []BulkItem `json:"items" yaml:"items"`
	Succeeded int        `json:"succeeded" yaml:"succeeded"`
	Failed    int        `json:"failed" yaml:"failed"`
	Relocated bool       `json:"relocated,omitempty" yaml:"relocated,omitempty"`
}

// RemoveAll removes every managed worktree of the active layout after the
// operator types ConfirmationPhrase for their count.
//
// With nothing to remove no prompt is shown. Any answer other than the exact
// phrase aborts before anything is changed. Once confirmed, each worktree is
// torn down (best-effort), force-removed and has its branch safe-deleted.
// A failure is recorded and the batch moves on; the returned error carries
// ExitPartialFailure when any item failed.
func (m *Manager) RemoveAll(ctx context.Context) (BulkResult, error) {
	_, strat := m.strategy()

	entries, err := m.reg.List(ctx)
	if err != nil {
		return BulkResult{}, err
	}
	targets := m.managed(entries, strat)
	if len(targets) == 0 {
		return BulkResult{}, nil
	}

	if err := m.confirm(ctx, targets); err != nil {
		return BulkResult{}, err
	}

	var res BulkResult
	for _, wt := range targets {
		relocated, err := m.relocate(wt.Path)
		if err != nil {
			return res, err
		}
		res.Relocated = res.Relocated || relocated
	}

	for _, wt := range targets {
		if err := ctx.Err(); err != nil {
			return res, model.WrapCLIError(model.ExitInterrupted, "bulk removal interrupted", err)
		}

		item := BulkItem{Branch: wt.Branch, Path: wt.Path}
		if err := m.teardown(ctx, wt); err != nil && isInterrupted(err) {
			return res, err
		}

		if err := m.reg.Remove(ctx, wt.Path, true); err != nil {
			if isInterrupted(err) {
				return res, err
			}
			item.Error = err.Error()
			res.Failed++
			m.log.Warn("bulk removal item failed", "branch", wt.Branch, "path", wt.Path, "error", err)
			res.Items = append(res.Items, item)
			continue
		}
		item.Removed = true
		item.BranchDeleted, _ = m.deleteBranch(ctx, wt.Branch)
		res.Succeeded++
		res.Items = append(res.Items, item)
	}

	m.log.Info("bulk removal finished", "succeeded", res.Succeeded, "failed", res.Failed)
	if res.Failed > 0 {
		return res, model.NewCLIError(model.ExitPartialFailure,
			fmt.Sprintf("%d of %d worktrees could not be removed", res.Failed, len(targets)))
	}
	return res, nil
}

// confirm shows the targets and requires the exact phrase.
func (m *Manager) confirm(ctx context.Context, targets []model.Worktree) error {
	if m.prompt == nil {
		return model.NewCLIError(model.ExitUserCancelled, "bulk removal needs interactive confirmation")
	}

	phrase := ConfirmationPhrase(len(targets))
	var b strings.Builder
	fmt.Fprintf(&b, "The following %d worktrees will be removed:\n", len(targets))
	for _, wt := range targets {
		name := wt.Branch
		if name == "" {
			name = "(detached)"
		}
		fmt.Fprintf(&b, "  %s  %s\n", name, wt.Path)
	}
	b.WriteString("Uncommitted changes in them will be lost.")

	answer, err := m.prompt.Input(ctx, fmt.Sprintf("Type %q to confirm:", phrase), b.String())
	switch {
	case err == nil:
	case errors.Is(err, ui.ErrCancelled):
		return model.WrapCLIError(model.ExitUserCancelled, "bulk removal cancelled", err)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return model.WrapCLIError(model.ExitInterrupted, "bulk removal interrupted", err)
	default:
		return err
	}

	if answer != phrase {
		return model.NewCLIError(model.ExitUserCancelled, "confirmation did not match; nothing was removed").
			WithHint("type exactly: %s", phrase)
	}
	return nil
}

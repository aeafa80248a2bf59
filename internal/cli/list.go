// list.go implements "canopy list" and "canopy current".
//
// list shows the managed worktrees of the active layout as a text table or
// a structured document. current prints the branch of the worktree that
// contains the working directory, for use in shell prompts and scripts.

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/canopy/internal/ui"
	"github.com/shinji-kodama/canopy/internal/worktree"
)

// NewListCommand creates the "list" cobra command.
func NewListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List managed worktrees",
		Long: `List the worktrees of the active layout with their branch and path.
The worktree containing the current directory is marked with "*".

Worktrees outside the active layout (created by hand, or under a previous
layout) are counted but not listed.

Examples:
  canopy list
  canopy list --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			res, err := s.manager.List(cmd.Context())
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), currentFormat(), res, func(w io.Writer) {
				printListText(w, res)
			})
		},
	}
	return cmd
}

// printListText outputs the list as an aligned table:
//
//	  BRANCH          PATH
//	* feature/auth    /src/app/.worktrees/feature-auth
//	  bugfix/login    /src/app/.worktrees/bugfix-login
func printListText(w io.Writer, res worktree.ListResult) {
	fmt.Fprintf(w, "%s %s (%s)\n", ui.MutedStyle.Render("layout:"), res.Layout, res.LayoutScope)
	if len(res.Worktrees) == 0 {
		fmt.Fprintln(w, "No managed worktrees.")
	} else {
		width := branchColumnWidth(res.Worktrees)
		fmt.Fprintf(w, "  %s %s\n", ui.HeaderStyle.Render(pad("BRANCH", width)), ui.HeaderStyle.Render("PATH"))
		for _, e := range res.Worktrees {
			marker := " "
			if e.Current {
				marker = "*"
			}
			fmt.Fprintf(w, "%s %s %s\n", marker, ui.BranchStyle.Render(pad(DisplayBranch(e), width)), ui.PathStyle.Render(e.Path))
		}
	}
	if res.Unmanaged > 0 {
		fmt.Fprintln(w, ui.MutedStyle.Render(fmt.Sprintf("%d worktree(s) outside the %s layout not shown", res.Unmanaged, res.Layout)))
	}
}

// DisplayBranch returns the branch name of e, or a short HEAD marker for a
// detached worktree.
func DisplayBranch(e worktree.Entry) string {
	if e.Branch != "" {
		return e.Branch
	}
	head := e.HEAD
	if len(head) > 7 {
		head = head[:7]
	}
	if head == "" {
		return "(detached)"
	}
	return "(detached " + head + ")"
}

// branchColumnWidth is the widest branch cell, at least the header width.
func branchColumnWidth(entries []worktree.Entry) int {
	width := len("BRANCH")
	for _, e := range entries {
		if n := len(DisplayBranch(e)); n > width {
			width = n
		}
	}
	return width
}

// pad right-pads s to width. Padding is applied before styling so escape
// sequences do not disturb the alignment.
func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// NewCurrentCommand creates the "current" cobra command.
func NewCurrentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "current",
		Short: "Print the branch of the worktree containing the current directory",
		Long: `Print the branch of the managed worktree that contains the current
directory. Exits with code 2 when the directory is not inside one.`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			wt, err := s.manager.DetectCurrent(cmd.Context())
			if err != nil {
				return err
			}
			out := worktree.Entry{Branch: wt.Branch, Path: wt.Path, HEAD: wt.HEAD, Current: true}
			return render(cmd.OutOrStdout(), currentFormat(), out, func(w io.Writer) {
				fmt.Fprintln(w, wt.Branch)
			})
		},
	}
	return cmd
}

// remove.go implements "canopy merge", "canopy remove" and
// "canopy remove-all".

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/canopy/internal/ui"
	"github.com/shinji-kodama/canopy/internal/worktree"
)

// optionalBranch returns the single positional argument, or "" to detect
// the worktree from the current directory.
func optionalBranch(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// NewMergeCommand creates the "merge" cobra command.
func NewMergeCommand() *cobra.Command {
	var squash bool

	cmd := &cobra.Command{
		Use:   "merge [branch]",
		Short: "Merge a worktree's branch into the primary checkout",
		Long: `Merge <branch> into the branch checked out in the primary checkout.
Without an argument, the worktree containing the current directory is used.

The worktree must have no uncommitted changes, and the branch must differ
from the one checked out in the primary checkout. With --squash the changes
are staged in the primary checkout without a commit.

Examples:
  canopy merge feature/auth
  canopy merge --squash`,

		Args: cobra.MaximumNArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			res, err := s.manager.Merge(cmd.Context(), optionalBranch(args), squash)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), currentFormat(), res, func(w io.Writer) {
				verb := "Merged"
				if res.Squash {
					verb = "Squash-merged"
				}
				fmt.Fprintf(w, "%s %s into %s\n", ui.SuccessStyle.Render(verb),
					ui.BranchStyle.Render(res.Branch), ui.BranchStyle.Render(res.Into))
				if res.Squash {
					fmt.Fprintln(w, ui.MutedStyle.Render("Changes are staged; commit them in the primary checkout."))
				}
			})
		},
	}

	cmd.Flags().BoolVar(&squash, "squash", false, "Stage a squashed merge without committing")
	return cmd
}

// NewRemoveCommand creates the "remove" cobra command.
func NewRemoveCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:     "remove [branch]",
		Aliases: []string{"rm"},
		Short:   "Remove a worktree and safe-delete its branch",
		Long: `Run the teardown hook, remove the worktree of <branch> and delete the
branch if it is fully merged. Without an argument, the worktree containing
the current directory is used.

A worktree with uncommitted changes is refused unless --force is given. A
branch with unmerged commits is always kept.

Examples:
  canopy remove feature/auth
  canopy remove --force`,

		Args: cobra.MaximumNArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			res, err := s.manager.Remove(cmd.Context(), optionalBranch(args), force)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), currentFormat(), res, func(w io.Writer) {
				printRemoveText(w, res)
			})
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Discard uncommitted changes")
	return cmd
}

func printRemoveText(w io.Writer, res worktree.RemoveResult) {
	fmt.Fprintf(w, "%s worktree %s\n", ui.SuccessStyle.Render("Removed"), ui.PathStyle.Render(res.Path))
	if res.TeardownFailed {
		fmt.Fprintln(w, ui.WarnStyle.Render("Teardown hook failed; see the log for details."))
	}
	switch {
	case res.BranchDeleted:
		fmt.Fprintf(w, "Deleted branch %s\n", ui.BranchStyle.Render(res.Branch))
	case res.Branch != "":
		fmt.Fprintf(w, "Kept branch %s: %s\n", ui.BranchStyle.Render(res.Branch), res.BranchKept)
	}
	if res.Relocated {
		fmt.Fprintln(w, ui.MutedStyle.Render("Your shell is still in the removed directory; cd back to the repository root."))
	}
}

// NewRemoveAllCommand creates the "remove-all" cobra command.
func NewRemoveAllCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove-all",
		Short: "Remove every managed worktree after typed confirmation",
		Long: `Remove every worktree of the active layout. The command lists the
targets and asks you to type "DELETE <n> WORKTREES" exactly; any other
answer aborts without changes.

Worktrees are force-removed, so uncommitted changes in them are lost.
Branches are still only deleted when fully merged. A failure on one
worktree does not stop the others; the command then exits with code 10.

The phrase can be piped in for scripted use:
  echo "DELETE 2 WORKTREES" | canopy remove-all`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			res, runErr := s.manager.RemoveAll(cmd.Context())
			if len(res.Items) == 0 && runErr != nil {
				return runErr
			}
			if err := render(cmd.OutOrStdout(), currentFormat(), res, func(w io.Writer) {
				printBulkText(w, res)
			}); err != nil {
				return err
			}
			return runErr
		},
	}
	return cmd
}

func printBulkText(w io.Writer, res worktree.BulkResult) {
	if len(res.Items) == 0 {
		fmt.Fprintln(w, "No managed worktrees to remove.")
		return
	}
	for _, item := range res.Items {
		name := item.Branch
		if name == "" {
			name = "(detached)"
		}
		switch {
		case !item.Removed:
			fmt.Fprintf(w, "%s %s: %s\n", ui.ErrorStyle.Render("failed "), ui.BranchStyle.Render(name), item.Error)
		case item.BranchDeleted:
			fmt.Fprintf(w, "%s %s (branch deleted)\n", ui.SuccessStyle.Render("removed"), ui.BranchStyle.Render(name))
		default:
			fmt.Fprintf(w, "%s %s (branch kept)\n", ui.SuccessStyle.Render("removed"), ui.BranchStyle.Render(name))
		}
	}
	fmt.Fprintf(w, "%d removed, %d failed\n", res.Succeeded, res.Failed)
}

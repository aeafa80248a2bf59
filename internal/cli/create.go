// create.go implements the "canopy create" and "canopy start"
// commands, the two entry points that end in an agent session.

package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/canopy/internal/agent"
	"github.com/shinji-kodama/canopy/internal/logging"
	"github.com/shinji-kodama/canopy/internal/ui"
	"github.com/shinji-kodama/canopy/internal/worktree"
)

// agentFlags are shared by create and start.
type agentFlags struct {
	resume  bool   // --resume: continue the agent's previous conversation
	prompt  string // --prompt: initial prompt for the agent
	noAgent bool   // --no-agent: stop after entering the worktree
}

func (f *agentFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&f.resume, "resume", "r", false, "Continue the agent's previous conversation")
	cmd.Flags().StringVarP(&f.prompt, "prompt", "p", "", "Initial prompt passed to the agent")
	cmd.Flags().BoolVar(&f.noAgent, "no-agent", false, "Do not launch the agent")
}

// launchAgent runs the agent in dir unless disabled. Machine-readable output
// never launches it, so scripts can use create and start as plain
// worktree operations.
func launchAgent(ctx context.Context, log *logging.Logger, dir string, f *agentFlags) error {
	if f.noAgent || IsMachineOutput() {
		return nil
	}
	return agent.New(log).Launch(ctx, dir, agent.Options{Resume: f.resume, Prompt: f.prompt})
}

// NewCreateCommand creates the "create" cobra command.
func NewCreateCommand() *cobra.Command {
	flags := &agentFlags{}

	cmd := &cobra.Command{
		Use:   "create <branch>",
		Short: "Create a worktree for a branch and start the agent in it",
		Long: `Create a git worktree for <branch> under the configured layout, run the
setup hook in it and launch the agent there.

An existing branch is checked out; otherwise a new branch is created from
HEAD. Running create again for the same branch just re-enters the worktree.

The setup hook is <worktree>/.canopy/setup, falling back to
<repo>/.canopy/setup. When neither exists, canopy offers to generate one.

Examples:
  canopy create feature/auth
  canopy create feature/auth --prompt "add OAuth login"
  canopy create feature/auth --no-agent`,

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(cmd, args[0], flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func runCreate(cmd *cobra.Command, branch string, flags *agentFlags) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	res, err := s.manager.Create(cmd.Context(), branch)
	if err != nil {
		if res.Created {
			fmt.Fprintf(cmd.ErrOrStderr(), "worktree kept at %s; remove it with: canopy remove %s\n", res.Path, res.Branch)
		}
		return err
	}

	if err := render(cmd.OutOrStdout(), currentFormat(), res, func(w io.Writer) {
		printCreateText(w, res)
	}); err != nil {
		return err
	}
	return launchAgent(cmd.Context(), s.log, res.Path, flags)
}

func printCreateText(w io.Writer, res worktree.CreateResult) {
	if res.Created {
		fmt.Fprintf(w, "%s worktree for %s at %s\n",
			ui.SuccessStyle.Render("Created"), ui.BranchStyle.Render(res.Branch), ui.PathStyle.Render(res.Path))
	} else {
		fmt.Fprintf(w, "Entering existing worktree for %s at %s\n",
			ui.BranchStyle.Render(res.Branch), ui.PathStyle.Render(res.Path))
	}
	if res.Setup != "" {
		fmt.Fprintf(w, "Ran setup hook %s\n", ui.PathStyle.Render(res.Setup))
	}
}

// NewStartCommand creates the "start" cobra command.
func NewStartCommand() *cobra.Command {
	flags := &agentFlags{}

	cmd := &cobra.Command{
		Use:   "start <branch>",
		Short: "Enter an existing worktree and start the agent in it",
		Long: `Enter the existing worktree of <branch> and launch the agent there.
The setup hook is not rerun.

Examples:
  canopy start feature/auth
  canopy start feature/auth --resume`,

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, args[0], flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func runStart(cmd *cobra.Command, branch string, flags *agentFlags) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	res, err := s.manager.Start(cmd.Context(), branch)
	if err != nil {
		return err
	}
	if err := render(cmd.OutOrStdout(), currentFormat(), res, func(w io.Writer) {
		fmt.Fprintf(w, "Entering worktree for %s at %s\n",
			ui.BranchStyle.Render(res.Branch), ui.PathStyle.Render(res.Path))
	}); err != nil {
		return err
	}
	return launchAgent(cmd.Context(), s.log, res.Path, flags)
}

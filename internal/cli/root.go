// Package cli implements the cobra-based CLI commands for canopy.
//
// Each subcommand lives in its own file within this package. This file
// defines the root command, the global flags and the error-to-exit-code
// mapping used by main.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/shinji-kodama/canopy/internal/config"
	"github.com/shinji-kodama/canopy/internal/model"
	"github.com/shinji-kodama/canopy/internal/ui"
)

// Global flag variables shared across all subcommands.
var (
	// jsonOutput and yamlOutput select a machine-readable output format.
	// When neither is set, output is styled text.
	jsonOutput bool
	yamlOutput bool

	// verbose lowers the console log level to debug.
	verbose bool
)

// Version, Commit and Date are set from main at build time via ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// NewRootCommand creates the root cobra command with every subcommand
// registered.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "canopy",
		Short: "Git worktree manager with agent sessions",
		Long: `canopy creates one git worktree per branch in a predictable place,
runs a per-repository setup hook in it and starts a coding agent there.

Worktrees are laid out according to the "layout" setting:
  nested        <repo>/.worktrees/<branch>
  outer-nested  <parent>/<repo>.worktrees/<branch>
  sibling       <parent>/<repo>-<branch>

Slashes in branch names become hyphens in directory names.`,

		// Errors and usage are printed by Execute in the selected format.
		SilenceUsage:  true,
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&yamlOutput, "yaml", false, "Output in YAML format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.MarkFlagsMutuallyExclusive("json", "yaml")

	rootCmd.AddCommand(NewCreateCommand())
	rootCmd.AddCommand(NewStartCommand())
	rootCmd.AddCommand(NewMergeCommand())
	rootCmd.AddCommand(NewRemoveCommand())
	rootCmd.AddCommand(NewRemoveAllCommand())
	rootCmd.AddCommand(NewListCommand())
	rootCmd.AddCommand(NewCurrentCommand())
	rootCmd.AddCommand(NewConfigCommand())
	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(newUpdateCheckCommand())

	return rootCmd
}

// Execute runs rootCmd under ctx and exits the process with the code carried
// by the returned error. After a successful command it prints the cached
// update notice in text mode and may spawn the background update check.
func Execute(ctx context.Context, rootCmd *cobra.Command) {
	cmd, err := rootCmd.ExecuteContextC(ctx)
	if err == nil {
		if inUpdateCheck {
			return
		}
		// version prints the notice itself.
		if !IsMachineOutput() && cmd.Name() != "version" {
			if home, err := config.Home(); err == nil {
				printUpdateNotice(os.Stderr, home)
			}
		}
		spawnUpdateCheck()
		return
	}

	code := exitCode(ctx, err)
	printError(os.Stderr, currentFormat(), err)
	os.Exit(int(code))
}

// exitCode maps err to the process exit code. A plain error surfacing after
// the context was cancelled is reported as an interruption.
func exitCode(ctx context.Context, err error) model.ExitCode {
	code := model.CodeOf(err)
	if code == model.ExitGeneralError && (ctx.Err() != nil || errors.Is(err, context.Canceled)) {
		return model.ExitInterrupted
	}
	return code
}

// errorPayload is the machine-readable error shape written to stderr.
type errorPayload struct {
	Error errorBody `json:"error" yaml:"error"`
}

type errorBody struct {
	Code    int    `json:"code" yaml:"code"`
	Message string `json:"message" yaml:"message"`
	Hint    string `json:"hint,omitempty" yaml:"hint,omitempty"`
	Detail  string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

func newErrorBody(err error) errorBody {
	body := errorBody{Code: int(model.CodeOf(err)), Message: err.Error()}
	var cliErr *model.CLIError
	if errors.As(err, &cliErr) {
		body.Message = cliErr.Message
		body.Hint = cliErr.Hint
		if cliErr.Err != nil {
			body.Detail = cliErr.Err.Error()
		}
	}
	return body
}

// printError writes err to w. Text output is "Error: <message>" followed by
// an optional "hint: ..." line; stdout stays reserved for results.
func printError(w io.Writer, f format, err error) {
	body := newErrorBody(err)
	switch f {
	case formatJSON:
		data, _ := json.MarshalIndent(errorPayload{Error: body}, "", "  ")
		fmt.Fprintln(w, string(data))
	case formatYAML:
		data, _ := yaml.Marshal(errorPayload{Error: body})
		fmt.Fprint(w, string(data))
	default:
		msg := body.Message
		if body.Detail != "" {
			msg = fmt.Sprintf("%s: %s", msg, body.Detail)
		}
		fmt.Fprintf(w, "%s %s\n", ui.ErrorStyle.Render("Error:"), msg)
		if body.Hint != "" {
			fmt.Fprintf(w, "hint: %s\n", body.Hint)
		}
	}
}

// configcmd.go implements "canopy config get" and
// "canopy config set".

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/canopy/internal/config"
	"github.com/shinji-kodama/canopy/internal/model"
	"github.com/shinji-kodama/canopy/internal/ui"
	"github.com/shinji-kodama/canopy/internal/worktree"
)

// layoutKey is the only settings key.
const layoutKey = "layout"

// NewConfigCommand creates the "config" command group.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change canopy settings",
		Long: `Show or change canopy settings.

Settings are read from <repo>/.canopy/config.json first, then from
~/.canopy/config.json ($CANOPY_HOME overrides the home directory). Both
files may contain comments.`,
	}
	cmd.AddCommand(newConfigGetCommand(), newConfigSetCommand())
	return cmd
}

// configView is the output of config get.
type configView struct {
	Layout      model.Layout `json:"layout" yaml:"layout"`
	Scope       config.Scope `json:"scope" yaml:"scope"`
	ProjectFile string       `json:"projectFile" yaml:"projectFile"`
	GlobalFile  string       `json:"globalFile" yaml:"globalFile"`
}

func checkKey(key string) error {
	if key != layoutKey {
		return model.NewCLIError(model.ExitConfigInvalid, fmt.Sprintf("unknown setting %q", key)).
			WithHint("the only setting is %q", layoutKey)
	}
	return nil
}

func newConfigGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get [layout]",
		Short: "Print the effective layout and where it comes from",
		Args:  cobra.MaximumNArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if err := checkKey(args[0]); err != nil {
					return err
				}
			}
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			l, scope := s.store.Get()
			view := configView{Layout: l, Scope: scope, ProjectFile: s.store.ProjectPath, GlobalFile: s.store.GlobalPath}
			return render(cmd.OutOrStdout(), currentFormat(), view, func(w io.Writer) {
				fmt.Fprintf(w, "layout = %s %s\n", l, ui.MutedStyle.Render("("+string(scope)+")"))
			})
		},
	}
}

func newConfigSetCommand() *cobra.Command {
	var global bool

	cmd := &cobra.Command{
		Use:   "set layout <nested|outer-nested|sibling>",
		Short: "Store the layout in the project or global settings",
		Long: `Store the layout setting. Without --global it is written to the
repository's .canopy/config.json, which takes precedence.

Existing worktrees are not moved. Worktrees created under the previous
layout stop being managed until the layout is changed back.`,

		Args: cobra.ExactArgs(2),

		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkKey(args[0]); err != nil {
				return err
			}
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			scope := config.ScopeProject
			if global {
				scope = config.ScopeGlobal
			}
			res, err := s.manager.SetLayout(cmd.Context(), scope, args[1])
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), currentFormat(), res, func(w io.Writer) {
				printLayoutText(w, res)
			})
		},
	}

	cmd.Flags().BoolVarP(&global, "global", "g", false, "Write the global settings file")
	return cmd
}

func printLayoutText(w io.Writer, res worktree.LayoutResult) {
	fmt.Fprintf(w, "%s layout = %s (%s)\n", ui.SuccessStyle.Render("Set"), res.Layout, res.Scope)
	if res.Effective != res.Layout {
		fmt.Fprintf(w, "%s the effective layout is still %s, set in the project file\n",
			ui.WarnStyle.Render("note:"), res.Effective)
	}
	if len(res.Stranded) > 0 {
		names := make([]string, 0, len(res.Stranded))
		for _, wt := range res.Stranded {
			names = append(names, wt.Branch)
		}
		fmt.Fprintf(w, "%s %d worktree(s) of the %s layout were not moved: %s\n",
			ui.WarnStyle.Render("warning:"), len(res.Stranded), res.Previous, strings.Join(names, ", "))
	}
}

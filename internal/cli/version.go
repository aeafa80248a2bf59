package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/canopy/internal/config"
	"github.com/shinji-kodama/canopy/internal/logging"
	"github.com/shinji-kodama/canopy/internal/ui"
	"github.com/shinji-kodama/canopy/internal/update"
)

// inUpdateCheck is set while the hidden update-check command runs, so it
// does not spawn another check on exit.
var inUpdateCheck bool

type versionView struct {
	Version string `json:"version" yaml:"version"`
	Commit  string `json:"commit" yaml:"commit"`
	Date    string `json:"date" yaml:"date"`
	Latest  string `json:"latest,omitempty" yaml:"latest,omitempty"`
}

// NewVersionCommand creates the "version" cobra command. It reports the
// cached "update available" notice, and never touches the network.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			view := versionView{Version: Version, Commit: Commit, Date: Date}
			var notice string
			if home, err := config.Home(); err == nil {
				checker := update.NewChecker(update.NewStore(home), Version, logging.Nop())
				notice = checker.Notice()
				if notice != "" {
					st, _ := checker.Store.Load()
					view.Latest = st.LatestVersion
				}
			}
			return render(cmd.OutOrStdout(), currentFormat(), view, func(w io.Writer) {
				fmt.Fprintf(w, "canopy %s (commit: %s, built: %s)\n", view.Version, view.Commit, view.Date)
				if notice != "" {
					fmt.Fprintln(w, ui.WarnStyle.Render(notice))
				}
			})
		},
	}
}

// printUpdateNotice writes the cached "update available" notice to w. It
// reads only the state file left by an earlier background check.
func printUpdateNotice(w io.Writer, home string) {
	checker := update.NewChecker(update.NewStore(home), Version, logging.Nop())
	if !checker.Enabled() {
		return
	}
	if notice := checker.Notice(); notice != "" {
		fmt.Fprintln(w, ui.WarnStyle.Render(notice))
	}
}

// newUpdateCheckCommand is the hidden command run by the detached update
// process.
func newUpdateCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:    update.CommandName,
		Hidden: true,
		Args:   cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			inUpdateCheck = true
			home, log, closeLog := openLogger(cmd)
			defer closeLog()
			if home == "" {
				return nil
			}

			checker := update.NewChecker(update.NewStore(home), Version, log)
			if !checker.Enabled() {
				return nil
			}
			err := checker.Run(cmd.Context())
			if errors.Is(err, update.ErrLocked) {
				return nil
			}
			// Failures are recorded in the log only; nobody reads this
			// process's output.
			if err != nil {
				log.Debug("update check failed", "error", err)
			}
			return nil
		},
	}
}

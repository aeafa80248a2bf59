package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/canopy/internal/config"
	"github.com/shinji-kodama/canopy/internal/generate"
	"github.com/shinji-kodama/canopy/internal/git"
	"github.com/shinji-kodama/canopy/internal/hooks"
	"github.com/shinji-kodama/canopy/internal/logging"
	"github.com/shinji-kodama/canopy/internal/model"
	"github.com/shinji-kodama/canopy/internal/ui"
	"github.com/shinji-kodama/canopy/internal/update"
	"github.com/shinji-kodama/canopy/internal/worktree"
)

// logFile is the rotated JSON log, relative to the canopy home.
var logFile = filepath.Join(config.DirName, "logs", "canopy.log")

// session holds the collaborators of one command invocation.
type session struct {
	home     string
	log      *logging.Logger
	closeLog func()

	repo     model.Repository
	store    *config.Store
	prompter ui.Prompter
	manager  *worktree.Manager
}

// close flushes the log.
func (s *session) close() {
	if s.closeLog != nil {
		s.closeLog()
	}
}

// openLogger builds the invocation logger. A home directory that cannot be
// determined or written disables the file log, never the command.
func openLogger(cmd *cobra.Command) (string, *logging.Logger, func()) {
	cfg := logging.Config{Verbose: verbose, Console: cmd.ErrOrStderr()}
	home, err := config.Home()
	if err == nil {
		cfg.FilePath = filepath.Join(home, logFile)
	}
	log, closeFn, logErr := logging.New(cfg)
	if logErr != nil {
		cfg.FilePath = ""
		log, closeFn, _ = logging.New(cfg)
		log.Debug("file log disabled", "error", logErr)
	}
	if log == nil || closeFn == nil {
		log, closeFn = logging.Nop(), func() {}
	}
	if err != nil {
		log.Debug("home directory unknown", "error", err)
	}
	return home, log, closeFn
}

// openSession resolves the repository containing the working directory and
// wires a worktree.Manager around it.
func openSession(cmd *cobra.Command) (*session, error) {
	home, log, closeLog := openLogger(cmd)
	s := &session{home: home, log: log, closeLog: closeLog}

	cwd, err := os.Getwd()
	if err != nil {
		s.close()
		return nil, model.WrapCLIError(model.ExitGeneralError, "failed to get current directory", err)
	}
	repo, err := git.Resolve(cmd.Context(), cwd)
	if err != nil {
		s.close()
		return nil, err
	}
	s.repo = repo
	log.Debug("repository resolved", "root", repo.Root, "commonDir", repo.CommonDir)

	s.store = config.NewStore(repo.Root, home, log)
	s.prompter = ui.NewPrompter(cmd.InOrStdin(), cmd.ErrOrStderr())

	runner := hooks.NewRunner(log)
	if IsMachineOutput() {
		// Keep stdout parseable.
		runner.Stdout = cmd.ErrOrStderr()
	}
	deps := worktree.Deps{
		Repo:     repo,
		Registry: git.New(repo, log),
		Settings: s.store,
		Hooks:    runner,
		Prompter: s.prompter,
		Log:      log,
	}
	// Generation is interactive by nature; scripts and machine output skip it.
	if !IsMachineOutput() && ui.IsTerminal(os.Stdin) {
		deps.Generator = generate.New(s.prompter, cmd.ErrOrStderr(), log)
	}
	s.manager = worktree.NewManager(deps)
	return s, nil
}

// spawnUpdateCheck starts the detached update check when one is due.
func spawnUpdateCheck() {
	home, err := config.Home()
	if err != nil {
		return
	}
	exe, err := os.Executable()
	if err != nil {
		return
	}
	update.NewChecker(update.NewStore(home), Version, logging.Nop()).MaybeSpawn(exe)
}

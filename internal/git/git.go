// Package git is canopy's adapter to the git worktree registry.
//
// Registry mutations (worktree add/remove, branch delete, merge) and the
// registry listing shell out to the git CLI, because go-git's linked
// worktree support does not cover the registry lifecycle. Read-only ref
// queries (the primary checkout's current branch, branch existence) go
// through go-git, which avoids a subprocess per lookup.
//
// Every subprocess is bound to the caller's context. Failures are returned as
// model.CLIError with ExitGitError and git's own message verbatim, or with
// ExitInterrupted when the context was cancelled.
//
// Design decisions:
//   - Every command runs as `git -C <root>`, where root is the primary
//     checkout. The caller may stand in any linked worktree, and the
//     registry looks the same from all of them.
//   - The repository is located through `--git-common-dir` rather than
//     `--show-toplevel`. Inside a linked worktree the latter names the
//     worktree itself, not the primary checkout.
//   - The porcelain listing is parsed by ParsePorcelain, which is exported
//     and pure, so the parser is tested on literal git output.
//   - Safety checks are left to git. `worktree remove` refuses local
//     modifications without --force, `branch -d` refuses unmerged commits and
//     `worktree add` refuses a branch checked out elsewhere. The Client
//     passes those refusals through instead of duplicating them.
//   - Branch names flow into argv unchanged and never through a shell.
package git

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/shinji-kodama/canopy/internal/logging"
	"github.com/shinji-kodama/canopy/internal/model"
	"github.com/shinji-kodama/canopy/internal/process"
)

// Client runs registry operations against one repository.
//
// All commands run from the repository root, so they behave the same no
// matter which worktree the caller is standing in.
type Client struct {
	root      string
	commonDir string
	log       *logging.Logger
}

// New creates a Client for repo.
func New(repo model.Repository, log *logging.Logger) *Client {
	return &Client{root: repo.Root, commonDir: repo.CommonDir, log: log.Named("git")}
}

// Resolve finds the repository containing dir.
//
// The shared metadata directory comes from `git rev-parse --git-common-dir`,
// which reports the same directory from the primary checkout and from every
// linked worktree. The primary checkout is the first registry entry, which
// git always lists first.
func Resolve(ctx context.Context, dir string) (model.Repository, error) {
	out, err := run(ctx, dir, "rev-parse", "--git-common-dir")
	if err != nil {
		if model.HasCode(err, model.ExitInterrupted) {
			return model.Repository{}, err
		}
		return model.Repository{}, model.WrapCLIError(model.ExitNotFound,
			fmt.Sprintf("%s is not inside a git repository", dir), err)
	}
	commonDir := strings.TrimSpace(out)
	if !filepath.IsAbs(commonDir) {
		commonDir = filepath.Join(dir, commonDir)
	}

	listing, err := run(ctx, dir, "worktree", "list", "--porcelain")
	if err != nil {
		return model.Repository{}, err
	}
	entries := ParsePorcelain(listing)
	if len(entries) == 0 || entries[0].Bare {
		return model.Repository{}, model.NewCLIError(model.ExitNotFound,
			"bare repositories have no primary checkout").
			WithHint("run canopy from a repository with a working tree")
	}

	return model.Repository{
		Root:      filepath.Clean(entries[0].Path),
		CommonDir: filepath.Clean(commonDir),
	}, nil
}

// List returns every registry entry, the primary checkout first.
func (c *Client) List(ctx context.Context) ([]model.Worktree, error) {
	out, err := run(ctx, c.root, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return ParsePorcelain(out), nil
}

// Add registers a worktree for branch at path.
//
// It uses one of two command forms:
//  1. The branch does not exist yet: `git worktree add -b <branch> <path>`
//     creates it from the primary checkout's HEAD.
//  2. The branch exists: `git worktree add <path> <branch>` checks it out.
//     git itself rejects a branch that is already checked out in another
//     worktree.
//
// Parameters:
//   - path: absolute directory of the new worktree, which must not exist
//   - branch: the branch name exactly as the user gave it
func (c *Client) Add(ctx context.Context, path, branch string) error {
	args := []string{"worktree", "add", "-b", branch, path}
	if c.BranchExists(branch) {
		args = []string{"worktree", "add", path, branch}
	}
	_, err := run(ctx, c.root, args...)
	if err == nil {
		c.log.Debug("worktree registered", "path", path, "branch", branch)
	}
	return err
}

// Remove unregisters the worktree at path and deletes its directory.
// Without force, git refuses when the worktree has local modifications.
func (c *Client) Remove(ctx context.Context, path string, force bool) error {
	args := []string{"worktree", "remove", path}
	if force {
		args = []string{"worktree", "remove", "--force", path}
	}
	_, err := run(ctx, c.root, args...)
	if err == nil {
		c.log.Debug("worktree unregistered", "path", path, "force", force)
	}
	return err
}

// DeleteBranch deletes branch with `git branch -d`, which refuses to drop a
// branch whose commits are not merged.
func (c *Client) DeleteBranch(ctx context.Context, branch string) error {
	_, err := run(ctx, c.root, "branch", "-d", branch)
	return err
}

// IsDirty reports whether the worktree at path has staged, unstaged or
// untracked changes.
func (c *Client) IsDirty(ctx context.Context, path string) (bool, error) {
	out, err := run(ctx, path, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// Merge merges branch into the primary checkout's current branch.
// A squash merge stages the result without committing. The error carries
// git's complete output, which for conflicts is printed on stdout.
func (c *Client) Merge(ctx context.Context, branch string, squash bool) error {
	args := []string{"merge", "--no-edit", branch}
	if squash {
		args = []string{"merge", "--squash", branch}
	}
	res, err := process.Run(ctx, process.Cmd{Name: "git", Args: append([]string{"-C", c.root}, args...)})
	if err != nil {
		return gitError(args, strings.TrimSpace(string(res.Stdout)+"\n"+string(res.Stderr)), err)
	}
	return nil
}

// CurrentBranch returns the branch checked out in the primary checkout, or
// an empty string when its HEAD is detached.
func (c *Client) CurrentBranch(ctx context.Context) (string, error) {
	repo, err := c.open()
	if err == nil {
		head, headErr := repo.Head()
		if headErr == nil {
			if !head.Name().IsBranch() {
				return "", nil
			}
			return head.Name().Short(), nil
		}
	}

	// An unborn branch has no resolvable HEAD in go-git; ask git for the
	// symbolic name instead.
	out, err := run(ctx, c.root, "symbolic-ref", "--quiet", "--short", "HEAD")
	if err != nil {
		if model.HasCode(err, model.ExitInterrupted) {
			return "", err
		}
		return "", nil
	}
	return strings.TrimSpace(out), nil
}

// BranchExists reports whether a local branch named branch exists.
func (c *Client) BranchExists(branch string) bool {
	repo, err := c.open()
	if err != nil {
		_, cliErr := run(context.Background(), c.root, "rev-parse", "--verify", "--quiet", model.BranchRefPrefix+branch)
		return cliErr == nil
	}
	_, err = repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	return err == nil
}

// Exclude adds pattern to the repository's info/exclude file unless a line
// with the same text is already there. The nested layout uses it to keep its
// worktree directory out of the primary checkout's status.
func (c *Client) Exclude(pattern string) error {
	path := filepath.Join(c.commonDir, "info", "exclude")
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == pattern {
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	prefix := ""
	if len(data) > 0 && !strings.HasSuffix(string(data), "\n") {
		prefix = "\n"
	}
	_, err = fmt.Fprintf(f, "%s%s\n", prefix, pattern)
	return err
}

func (c *Client) open() (*gogit.Repository, error) {
	return gogit.PlainOpenWithOptions(c.root, &gogit.PlainOpenOptions{EnableDotGitCommonDir: true})
}

// run executes git -C dir args and returns stdout.
func run(ctx context.Context, dir string, args ...string) (string, error) {
	full := append([]string{"-C", dir}, args...)
	res, err := process.Run(ctx, process.Cmd{Name: "git", Args: full})
	if err != nil {
		return "", gitError(args, strings.TrimSpace(string(res.Stderr)), err)
	}
	return string(res.Stdout), nil
}

func gitError(args []string, output string, err error) error {
	if process.IsInterrupted(err) {
		return model.WrapCLIError(model.ExitInterrupted,
			fmt.Sprintf("git %s interrupted", args[0]), err)
	}
	message := fmt.Sprintf("git %s failed", strings.Join(args, " "))
	if output != "" {
		message = fmt.Sprintf("%s: %s", message, output)
	}
	return model.WrapCLIError(model.ExitGitError, message, err)
}

// ParsePorcelain parses `git worktree list --porcelain` output.
//
// Blocks are separated by blank lines. Within a block each line is a key and
// an optional value:
//
//	worktree /path/to/main
//	HEAD abc123
//	branch refs/heads/main
//
//	worktree /path/to/detached
//	HEAD def456
//	detached
func ParsePorcelain(output string) []model.Worktree {
	var worktrees []model.Worktree
	var current *model.Worktree

	flush := func() {
		if current != nil {
			worktrees = append(worktrees, *current)
			current = nil
		}
	}

	for _, line := range strings.Split(strings.ReplaceAll(output, "\r\n", "\n"), "\n") {
		if line == "" {
			flush()
			continue
		}
		key, value, _ := strings.Cut(line, " ")
		if key == "worktree" {
			flush()
			current = &model.Worktree{Path: value}
			continue
		}
		if current == nil {
			continue
		}
		switch key {
		case "HEAD":
			current.HEAD = value
		case "branch":
			current.Branch = model.ShortBranch(value)
		case "bare":
			current.Bare = true
		case "detached":
			current.Detached = true
		}
	}
	flush()

	return worktrees
}

// Package layout computes where worktrees live on disk.
//
// Each model.Layout is implemented by a Strategy value. A strategy answers
// three questions for a repository root: where the shared base directory is,
// where the directory for a given branch goes, and which top-level worktree
// directory (if any) contains a given location. The third answer is only a
// candidate; callers confirm it against the git registry, because SafeName
// is lossy and two branches may map to the same directory name.
//
// All functions here are pure path arithmetic except Canonical, which
// resolves symlinks so that locations reported by the OS compare equal to
// paths reported by git.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shinji-kodama/canopy/internal/model"
)

// nestedDirName is the hidden directory that holds nested worktrees.
const nestedDirName = ".worktrees"

// Strategy places worktrees for one layout.
type Strategy interface {
	// Layout returns the enum value this strategy implements.
	Layout() model.Layout

	// BaseDir returns the directory under which worktrees are created.
	// For sibling layout this is the parent of the root, which canopy never
	// creates or removes.
	BaseDir(root string) string

	// HasBase reports whether BaseDir is a dedicated directory that must be
	// created before the first worktree.
	HasBase() bool

	// WorktreeDir returns the directory for branch.
	WorktreeDir(root, branch string) string

	// Match returns the top-level worktree directory containing location, or
	// false when location is outside this layout's pattern.
	Match(root, location string) (string, bool)
}

// For returns the strategy implementing l.
func For(l model.Layout) (Strategy, error) {
	switch l {
	case model.LayoutNested:
		return nested{}, nil
	case model.LayoutOuterNested:
		return outerNested{}, nil
	case model.LayoutSibling:
		return sibling{}, nil
	default:
		return nil, fmt.Errorf("unknown layout %q", l)
	}
}

// MustFor is For for layouts already validated by model.ParseLayout.
func MustFor(l model.Layout) Strategy {
	s, err := For(l)
	if err != nil {
		panic(err)
	}
	return s
}

// SafeName maps a branch name to a filesystem-safe directory name by
// replacing every path separator with a hyphen. The mapping is one-way:
// "feature/foo" and "feature-foo" both become "feature-foo".
func SafeName(branch string) string {
	return strings.NewReplacer("/", "-", `\`, "-").Replace(branch)
}

// Canonical returns an absolute, cleaned, symlink-resolved form of path.
// If the path does not exist the longest existing prefix is resolved and the
// remainder appended, so that not-yet-created worktree directories still
// compare equal to the paths git reports once they exist.
func Canonical(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	parent, base := filepath.Dir(abs), filepath.Base(abs)
	if parent == abs {
		return abs
	}
	return filepath.Join(Canonical(parent), base)
}

// nested: <root>/.worktrees/<safe-name>
type nested struct{}

func (nested) Layout() model.Layout { return model.LayoutNested }

func (nested) BaseDir(root string) string { return filepath.Join(root, nestedDirName) }

func (nested) HasBase() bool { return true }

func (s nested) WorktreeDir(root, branch string) string {
	return filepath.Join(s.BaseDir(root), SafeName(branch))
}

func (s nested) Match(root, location string) (string, bool) {
	return matchUnder(s.BaseDir(root), location)
}

// outerNested: <parent>/<root-name>.worktrees/<safe-name>
type outerNested struct{}

func (outerNested) Layout() model.Layout { return model.LayoutOuterNested }

func (outerNested) BaseDir(root string) string {
	return filepath.Join(filepath.Dir(root), repoName(root)+nestedDirName)
}

func (outerNested) HasBase() bool { return true }

func (s outerNested) WorktreeDir(root, branch string) string {
	return filepath.Join(s.BaseDir(root), SafeName(branch))
}

func (s outerNested) Match(root, location string) (string, bool) {
	return matchUnder(s.BaseDir(root), location)
}

// sibling: <parent>/<root-name>-<safe-name>
type sibling struct{}

func (sibling) Layout() model.Layout { return model.LayoutSibling }

func (sibling) BaseDir(root string) string { return filepath.Dir(root) }

func (sibling) HasBase() bool { return false }

func (sibling) WorktreeDir(root, branch string) string {
	return filepath.Join(filepath.Dir(root), repoName(root)+"-"+SafeName(branch))
}

// Match walks up from location to the directory directly below the root's
// parent and accepts it only when its name carries the "<root-name>-" prefix.
func (sibling) Match(root, location string) (string, bool) {
	parent := filepath.Dir(root)
	top, ok := topLevel(parent, location)
	if !ok {
		return "", false
	}
	prefix := repoName(root) + "-"
	name := filepath.Base(top)
	if !strings.HasPrefix(name, prefix) || len(name) == len(prefix) {
		return "", false
	}
	return top, true
}

// repoName is the root directory name that outer layouts prefix.
func repoName(root string) string {
	return model.Repository{Root: root}.Name()
}

// matchUnder accepts any location strictly below base.
func matchUnder(base, location string) (string, bool) {
	return topLevel(base, location)
}

// topLevel returns base/<first-segment> for a location strictly below base.
func topLevel(base, location string) (string, bool) {
	rel, err := filepath.Rel(filepath.Clean(base), filepath.Clean(location))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	first, _, _ := strings.Cut(rel, string(filepath.Separator))
	return filepath.Join(base, first), true
}

// IsWithin reports whether location is dir itself or anything below it.
func IsWithin(dir, location string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(location))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Exists reports whether path exists on disk as a directory.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

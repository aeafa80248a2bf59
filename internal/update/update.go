// Package update implements the rate-limited "new version available" check.
//
// The check never runs in the foreground. A normal invocation only reads the
// cached state (to print a notice) and, at most once per Interval, spawns a
// detached `canopy __update-check` child that queries the release tags and
// refreshes the cache. Concurrent invocations are serialized by a file lock
// next to the state file, so two checks never run at the same time. A
// missing or unreadable cache simply means "no new information".
package update

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/shinji-kodama/canopy/internal/logging"
	"github.com/shinji-kodama/canopy/internal/process"
)

const (
	// DisableEnv turns the check off when set to any non-empty value.
	DisableEnv = "CANOPY_NO_UPDATE_CHECK"

	// CommandName is the hidden subcommand run by the detached child.
	CommandName = "__update-check"

	// DefaultInterval is the minimum time between two checks.
	DefaultInterval = 24 * time.Hour

	repoURL       = "https://github.com/shinji-kodama/canopy.git"
	stateFileName = "update-state.json"
)

var releasePattern = regexp.MustCompile(`^v(\d+)\.(\d+)\.(\d+)$`)

// State is the persisted cache.
type State struct {
	LastCheckedUnix int64  `json:"last_checked_unix"`
	LatestVersion   string `json:"latest_version,omitempty"`
}

// Store reads and writes State at a fixed path.
type Store struct {
	Path string
}

// NewStore returns the store under <home>/.canopy.
func NewStore(home string) *Store {
	return &Store{Path: filepath.Join(home, ".canopy", stateFileName)}
}

// Load returns the cached state.
func (s *Store) Load() (State, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return State{}, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, err
	}
	return st, nil
}

// Save replaces the cached state atomically.
func (s *Store) Save(st State) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return err
	}
	payload, err := json.Marshal(st)
	if err != nil {
		return err
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.Path)
}

// LockPath returns the lock file guarding the check.
func (s *Store) LockPath() string {
	return s.Path + ".lock"
}

// Checker decides when to check and what to tell the user.
type Checker struct {
	Store    *Store
	Current  string
	Interval time.Duration

	// Now and Resolve are replaceable in tests.
	Now     func() time.Time
	Resolve func(ctx context.Context) (string, error)

	log *logging.Logger
}

// NewChecker returns a Checker for the running version.
func NewChecker(store *Store, current string, log *logging.Logger) *Checker {
	return &Checker{
		Store:    store,
		Current:  strings.TrimSpace(current),
		Interval: DefaultInterval,
		Now:      time.Now,
		Resolve:  LatestRelease,
		log:      log.Named("update"),
	}
}

// Enabled reports whether checks may run at all. Development builds and
// users who set DisableEnv are never checked.
func (c *Checker) Enabled() bool {
	if strings.TrimSpace(os.Getenv(DisableEnv)) != "" {
		return false
	}
	_, ok := parseRelease(c.Current)
	return ok
}

// Due reports whether the cached state is older than Interval. A timestamp
// in the future (clock skew) also counts as due.
func (c *Checker) Due(st State) bool {
	if st.LastCheckedUnix <= 0 {
		return true
	}
	last := time.Unix(st.LastCheckedUnix, 0)
	now := c.Now()
	return now.Before(last) || now.Sub(last) >= c.Interval
}

// Notice returns the "update available" line from the cache, or "".
func (c *Checker) Notice() string {
	st, err := c.Store.Load()
	if err != nil {
		return ""
	}
	if !IsNewer(st.LatestVersion, c.Current) {
		return ""
	}
	return fmt.Sprintf("canopy %s -> %s available", c.Current, st.LatestVersion)
}

// MaybeSpawn starts a detached check when one is due. It never blocks on the
// network and ignores every error apart from logging it.
func (c *Checker) MaybeSpawn(executable string) {
	if !c.Enabled() {
		return
	}
	st, _ := c.Store.Load()
	if !c.Due(st) {
		return
	}
	if err := process.SpawnDetached(process.Cmd{Name: executable, Args: []string{CommandName}}); err != nil {
		c.log.Debug("update check not spawned", "error", err)
	}
}

// ErrLocked is returned by Run when another check holds the lock.
var ErrLocked = errors.New("update check already running")

// Run performs one check under the file lock: it re-reads the state, gives up
// if another process refreshed it meanwhile, and otherwise resolves the
// latest release and stores it. The timestamp is stored even when resolution
// fails, so an offline machine does not retry on every invocation.
func (c *Checker) Run(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(c.Store.Path), 0o755); err != nil {
		return err
	}
	fl := flock.New(c.Store.LockPath())
	locked, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire update lock: %w", err)
	}
	if !locked {
		return ErrLocked
	}
	defer fl.Unlock()

	st, _ := c.Store.Load()
	if !c.Due(st) {
		return nil
	}

	latest, resolveErr := c.Resolve(ctx)
	st.LastCheckedUnix = c.Now().Unix()
	if resolveErr == nil {
		st.LatestVersion = latest
	}
	if err := c.Store.Save(st); err != nil {
		return err
	}
	if resolveErr != nil {
		c.log.Debug("latest release not resolved", "error", resolveErr)
		return resolveErr
	}
	c.log.Debug("latest release resolved", "latest", latest, "current", c.Current)
	return nil
}

// LatestRelease lists the repository's tags and returns the highest vX.Y.Z.
func LatestRelease(ctx context.Context) (string, error) {
	out, err := process.Output(ctx, process.Cmd{Name: "git", Args: []string{"ls-remote", "--tags", "--refs", repoURL}})
	if err != nil {
		return "", fmt.Errorf("failed to list release tags: %w", err)
	}
	latest, ok := LatestFromTags(out)
	if !ok {
		return "", errors.New("no release tags found")
	}
	return latest, nil
}

// LatestFromTags picks the highest release tag from `git ls-remote --tags`
// output. Pre-release and malformed tags are ignored.
func LatestFromTags(output string) (string, bool) {
	var best string
	var bestV release
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.HasPrefix(fields[1], "refs/tags/") {
			continue
		}
		tag := strings.TrimPrefix(fields[1], "refs/tags/")
		v, ok := parseRelease(tag)
		if !ok {
			continue
		}
		if best == "" || v.compare(bestV) > 0 {
			best, bestV = tag, v
		}
	}
	return best, best != ""
}

// IsNewer reports whether candidate is a release strictly newer than current.
// Either side failing to parse means "not newer".
func IsNewer(candidate, current string) bool {
	a, okA := parseRelease(candidate)
	b, okB := parseRelease(current)
	return okA && okB && a.compare(b) > 0
}

type release [3]int

func parseRelease(s string) (release, bool) {
	m := releasePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return release{}, false
	}
	var r release
	for i := range r {
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return release{}, false
		}
		r[i] = n
	}
	return r, true
}

func (r release) compare(o release) int {
	for i := range r {
		switch {
		case r[i] > o[i]:
			return 1
		case r[i] < o[i]:
			return -1
		}
	}
	return 0
}

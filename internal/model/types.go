// Package model defines the domain types for the canopy CLI.
//
// Key design decision: the git worktree registry is authoritative. Every
// directory path computed by canopy is advisory until it has been matched
// against a registry entry, so the types here carry registry data verbatim
// (branch refs, HEAD hashes) rather than values derived from directory names.
package model

import (
	"errors"
	"fmt"
	"strings"
)

// Layout is the strategy controlling where worktree directories are placed
// relative to the repository root.
//
//	nested        <root>/.worktrees/<safe-name>
//	outer-nested  <parent>/<root-name>.worktrees/<safe-name>
//	sibling       <parent>/<root-name>-<safe-name>
type Layout string

const (
	// LayoutNested keeps worktrees inside a hidden directory of the repository.
	// This is the default because cleanup is a single directory removal.
	LayoutNested Layout = "nested"

	// LayoutOuterNested keeps worktrees in a directory next to the repository,
	// named after it with a ".worktrees" suffix.
	LayoutOuterNested Layout = "outer-nested"

	// LayoutSibling places each worktree directly next to the repository,
	// named "<root-name>-<safe-name>".
	LayoutSibling Layout = "sibling"
)

// DefaultLayout is used when neither the project nor the global config
// defines a layout.
const DefaultLayout = LayoutNested

// Layouts lists every valid layout in display order.
var Layouts = []Layout{LayoutNested, LayoutOuterNested, LayoutSibling}

// String returns the string representation of Layout.
func (l Layout) String() string {
	return string(l)
}

// IsValid checks whether the Layout value is one of the predefined layouts.
func (l Layout) IsValid() bool {
	switch l {
	case LayoutNested, LayoutOuterNested, LayoutSibling:
		return true
	default:
		return false
	}
}

// ParseLayout converts a string to a Layout.
// Returns an error if the string does not match any valid layout.
func ParseLayout(s string) (Layout, error) {
	layout := Layout(strings.ToLower(strings.TrimSpace(s)))
	if !layout.IsValid() {
		return "", fmt.Errorf("invalid layout: %q (valid: nested, outer-nested, sibling)", s)
	}
	return layout, nil
}

// Repository identifies the shared repository all worktrees belong to.
type Repository struct {
	// Root is the primary checkout's working directory. Every path that
	// canopy computes is relative to Root, never to the caller's location.
	Root string `json:"root" yaml:"root"`

	// CommonDir is the git metadata directory shared by the primary checkout
	// and every linked worktree (usually <Root>/.git).
	CommonDir string `json:"commonDir" yaml:"commonDir"`
}

// Name returns the base name of the repository root directory. The
// outer-nested and sibling layouts prefix worktree directories with it.
func (r Repository) Name() string {
	return lastElem(r.Root)
}

// Worktree is a single entry of the git worktree registry, as parsed from
// `git worktree list --porcelain`.
//
// Example porcelain output for a single worktree block:
//
//	worktree /path/to/repo/.worktrees/feature-auth
//	HEAD abc123def456
//	branch refs/heads/feature/auth
type Worktree struct {
	// Path is the absolute filesystem path to the worktree directory.
	Path string `json:"path" yaml:"path"`

	// Branch is the short branch name (e.g., "feature/auth").
	// Empty if the worktree is in a detached HEAD state.
	Branch string `json:"branch,omitempty" yaml:"branch,omitempty"`

	// HEAD is the commit SHA the worktree currently points to.
	HEAD string `json:"head,omitempty" yaml:"head,omitempty"`

	// Bare marks the registry entry of a bare repository.
	Bare bool `json:"bare,omitempty" yaml:"bare,omitempty"`

	// Detached marks a worktree whose HEAD is not on a branch.
	Detached bool `json:"detached,omitempty" yaml:"detached,omitempty"`
}

// BranchRefPrefix is the prefix git uses for local branch refs.
const BranchRefPrefix = "refs/heads/"

// ShortBranch strips the refs/heads/ prefix from a full branch ref.
func ShortBranch(ref string) string {
	return strings.TrimPrefix(strings.TrimSpace(ref), BranchRefPrefix)
}

// lastElem returns the final element of a slash or backslash separated path
// without importing path/filepath, keeping this package dependency-free.
func lastElem(p string) string {
	p = strings.TrimRight(p, `/\`)
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		return p[i+1:]
	}
	return p
}

// ExitCode defines standard CLI exit codes. These codes allow scripts and
// wrappers to programmatically determine the outcome of a command.
type ExitCode int

const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError ExitCode = 1

	// ExitNotFound indicates the branch or worktree does not exist, or the
	// current location is not inside a managed worktree.
	ExitNotFound ExitCode = 2

	// ExitDirtyState indicates uncommitted or staged changes block the
	// requested operation.
	ExitDirtyState ExitCode = 3

	// ExitSelfMerge indicates an attempt to merge the branch that is checked
	// out in the primary checkout into itself.
	ExitSelfMerge ExitCode = 4

	// ExitGitError indicates a git registry operation (worktree add/remove,
	// merge) failed. The git message is surfaced verbatim.
	ExitGitError ExitCode = 5

	// ExitHookFailed indicates the setup hook exited non-zero.
	ExitHookFailed ExitCode = 6

	// ExitUserCancelled indicates the user cancelled an interactive prompt
	// or did not type the exact confirmation phrase.
	ExitUserCancelled ExitCode = 7

	// ExitConfigInvalid indicates an unrecognized configuration value.
	ExitConfigInvalid ExitCode = 8

	// ExitCollision indicates the target directory already belongs to a
	// different branch, or to no registered worktree at all.
	ExitCollision ExitCode = 9

	// ExitPartialFailure indicates a batch operation in which at least one
	// item failed.
	ExitPartialFailure ExitCode = 10

	// ExitInterrupted indicates the operation was cancelled by a signal.
	ExitInterrupted ExitCode = 130
)

// CLIError is a custom error type that carries an exit code.
// This allows the CLI layer to translate domain errors into
// appropriate process exit codes.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Hint is optional remediation text telling the user what to do next.
	Hint string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface. It returns the human-readable
// error message, optionally including the underlying error.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// WithHint attaches remediation text and returns the same error.
func (e *CLIError) WithHint(format string, args ...any) *CLIError {
	e.Hint = fmt.Sprintf(format, args...)
	return e
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}

// CodeOf returns the exit code carried by the outermost CLIError in err's
// chain. Errors without a CLIError map to ExitGeneralError; nil maps to
// ExitSuccess.
func CodeOf(err error) ExitCode {
	if err == nil {
		return ExitSuccess
	}
	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		return cliErr.Code
	}
	return ExitGeneralError
}

// HasCode reports whether err carries the given exit code.
func HasCode(err error, code ExitCode) bool {
	return err != nil && CodeOf(err) == code
}

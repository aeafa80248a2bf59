// Package model defines the domain types and value objects for the
// canopy CLI.
//
// This package contains pure data structures with no external dependencies.
// Worktree entries are transient representations parsed from the git
// worktree registry at runtime. The registry is the only source of truth;
// canopy keeps no state file describing which worktrees exist.
//
// The package also defines exit codes (ExitCode) and a custom error type
// (CLIError) that carries exit codes and remediation hints for proper OS
// process exit handling.
package model

// Package worktree is canopy's lifecycle engine.
//
// A Manager maps branches to worktree directories through the active layout,
// detects which managed worktree a location belongs to, and drives the
// create, start, merge and remove operations together with the confirmation
// gated bulk removal.
//
// Design decisions:
//   - The git registry is authoritative. A directory computed from a branch
//     name is only a candidate until the registry confirms that it is a
//     worktree checked out on that branch, because SafeName is lossy.
//   - The layout is read once per operation. Changing it never moves existing
//     worktrees; they simply stop being found under the new layout.
//   - All paths derive from the repository root, never from the caller's
//     location, so every operation works from inside any worktree.
//   - Operations are synchronous and take no lock of their own. Concurrent
//     invocations rely on git to serialize or reject conflicting mutations.
//   - Git, hooks, prompts and the working directory sit behind small
//     interfaces so edge cases can be tested without a real repository.
//   - Hook failures never roll back git state. A failed setup leaves the
//     worktree registered for the user to fix or remove, and a failed
//     teardown is logged and removal continues. Only an interrupted hook
//     stops the operation.
//
// Lifecycle of a worktree:
//  1. Create computes the directory, registers it with git (creating the
//     branch if needed), enters it and runs the setup hook.
//  2. Start re-enters an existing worktree without rerunning setup.
//  3. Merge folds the branch into whatever the primary checkout has
//     checked out, after refusing dirty worktrees and self-merges.
//  4. Remove runs the teardown hook, unregisters the worktree and deletes
//     the branch only if git considers it merged.
package worktree

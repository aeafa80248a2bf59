//go:build !unix

package process

import "os/exec"

// Process groups are unix-only; elsewhere cancellation kills the direct child.
func startGroup(cmd *exec.Cmd) {}

func detach(cmd *exec.Cmd) {}

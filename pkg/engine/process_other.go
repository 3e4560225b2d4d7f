//go:build !unix

package engine

import "os/exec"

// setProcessGroup is a no-op where process groups are unavailable;
// exec.CommandContext kills the direct child on timeout.
func setProcessGroup(cmd *exec.Cmd) {}

//go:build unix

package engine

import (
	"os/exec"
	"syscall"
)

// setProcessGroup puts the simulator in its own process group so a timeout
// kills it together with anything it spawned
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true, // New process group
		Pgid:    0,    // Process becomes its own group leader
	}
	cmd.Cancel = func() error {
		// Negative PID signals the whole group
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}

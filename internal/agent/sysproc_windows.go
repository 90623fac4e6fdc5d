//go:build windows

package agent

import (
	"fmt"
	"os/exec"
)

func setProcessGroup(cmd *exec.Cmd) {}

// killProcessGroup kills the process; Windows has no process groups to signal.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	return cmd.Process.Kill()
}

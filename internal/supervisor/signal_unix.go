//go:build unix

package supervisor

import (
	"os"
	"os/exec"
	"syscall"
)

func interruptSignal() os.Signal {
	return syscall.SIGINT
}

// setProcessGroup places cmd in its own process group so a later kill can
// reach the whole tree, not just the direct child.
func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// killProcessGroup delivers SIGKILL to pid's entire process group.
func killProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}

//go:build !windows

package supervisor

import (
	"os/exec"
	"syscall"
)

// configureCmd places the engine in its own process group so termination
// signals reach the whole tree.
func configureCmd(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminateGroup(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGTERM)
}

func killGroup(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

//go:build windows

package supervisor

import (
	"os"
	"os/exec"
)

func configureCmd(_ *exec.Cmd) {}

// Windows has no process groups in the POSIX sense and no graceful signal;
// both paths terminate the single process.

func terminateGroup(pid int) {
	if p, err := os.FindProcess(pid); err == nil {
		_ = p.Kill()
	}
}

func killGroup(pid int) {
	if p, err := os.FindProcess(pid); err == nil {
		_ = p.Kill()
	}
}

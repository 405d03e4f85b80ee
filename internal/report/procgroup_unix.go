//go:build unix

package report

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// configureProcessGroup starts the child in a new process group and makes
// context cancellation kill the whole group.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}
}

// killProcessGroup kills everything left in the child's group. It reports
// os.ErrProcessDone when the group is already empty.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}

//go:build !unix

package report

import (
	"os"
	"os/exec"
)

// configureProcessGroup keeps the default kill of the direct child.
func configureProcessGroup(cmd *exec.Cmd) {}

// killProcessGroup has no group to kill; the direct child was already waited for.
func killProcessGroup(cmd *exec.Cmd) error { return os.ErrProcessDone }

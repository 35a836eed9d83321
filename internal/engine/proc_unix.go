//go:build !windows

package engine

import (
	"os/exec"
	"syscall"
)

// configureCommandProcess puts the engine in its own process group so signals
// aimed at nfgate do not reach it.
func configureCommandProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

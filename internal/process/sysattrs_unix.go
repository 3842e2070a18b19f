//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr starts the worker in a new session (setsid) so it is
// detached from our controlling terminal, survives our exit, and leads its
// own process group (PGID = PID) for group signalling.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

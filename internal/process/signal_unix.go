//go:build !windows

package process

import "syscall"

// terminateGroup and killGroup signal the worker's process group. The worker
// leads its own session, so its PGID equals its PID.
func terminateGroup(pid int) error { return signalGroup(pid, syscall.SIGTERM) }
func killGroup(pid int) error      { return signalGroup(pid, syscall.SIGKILL) }

func signalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	return syscall.Kill(-pid, sig)
}

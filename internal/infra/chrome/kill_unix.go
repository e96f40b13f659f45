//go:build !windows

package chrome

import "syscall"

// killProcessGroup sends SIGKILL to the browser and its children. The
// launcher starts the browser as a process group leader.
func killProcessGroup(pid int) {
	if pid <= 0 {
		return
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

//go:build !windows

package supervisor

import "syscall"

// detachedProcAttr starts the spawned daemon in its own session so it
// survives the launcher exiting.
func detachedProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}

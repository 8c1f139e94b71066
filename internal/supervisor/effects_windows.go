//go:build windows

package supervisor

import "syscall"

// detachedProcAttr starts the spawned daemon detached from the launcher's
// console so it survives the launcher exiting.
func detachedProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: 0x00000008} // CREATE_NEW_PROCESS_GROUP
}

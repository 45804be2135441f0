//go:build !linux

package browser

import "syscall"

// sysProcAttr puts the browser in its own process group. Pdeathsig is not
// available on non-Linux platforms.
func sysProcAttr(detach bool) *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid: true,
	}
}

func killGroup(pid int, sig syscall.Signal) error {
	return syscall.Kill(-pid, sig)
}

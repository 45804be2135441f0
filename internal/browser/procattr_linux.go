package browser

import "syscall"

// sysProcAttr puts the browser in its own process group so Stop can signal
// its helper processes too. Unless detached, Pdeathsig makes the kernel send
// SIGTERM to the browser if this program dies unexpectedly.
func sysProcAttr(detach bool) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{Setpgid: true}
	if !detach {
		attr.Pdeathsig = syscall.SIGTERM
	}
	return attr
}

func killGroup(pid int, sig syscall.Signal) error {
	return syscall.Kill(-pid, sig)
}

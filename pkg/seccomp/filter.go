// Package seccomp holds the assembled BPF program a sandboxee's seccomp
// filter installs, independent of whichever policy/syscall-table backend
// built it.
package seccomp

import "syscall"

// Filter is a compiled BPF program, ready for SECCOMP_SET_MODE_FILTER.
type Filter []syscall.SockFilter

// SockFprog converts Filter to the sock_fprog the seccomp(2) syscall wants.
func (f Filter) SockFprog() *syscall.SockFprog {
	if len(f) == 0 {
		return &syscall.SockFprog{}
	}
	return &syscall.SockFprog{
		Len:    uint16(len(f)),
		Filter: &f[0],
	}
}

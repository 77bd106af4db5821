// Package regs reads and writes a traced task's register file via ptrace,
// and exposes the syscall-entry registers that syscallrec.FromRegs
// packages into a syscallrec.Call.
package regs

import (
	"errors"
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

const ntPrstatus = 1

// ErrProcessGone distinguishes "the task is already gone" from any other
// ptrace failure: callers warn and proceed on this one instead of treating
// it as fatal, since the exit event will arrive shortly regardless.
var ErrProcessGone = errors.New("regs: process gone")

// Regs is the per-task register buffer the monitor fetches on every
// seccomp-stop and rewrites on every syscall it skips or bans.
type Regs struct {
	Pid  int
	regs syscall.PtraceRegs
}

// New wraps pid with no registers fetched yet; call Fetch before reading.
func New(pid int) *Regs {
	return &Regs{Pid: pid}
}

func iovecFor(r *syscall.PtraceRegs) unix.Iovec {
	return unix.Iovec{
		Base: (*byte)(unsafe.Pointer(r)),
		Len:  uint64(unsafe.Sizeof(*r)),
	}
}

func ptrace(request int, pid int, addr, data uintptr) error {
	_, _, e := syscall.Syscall6(syscall.SYS_PTRACE, uintptr(request), uintptr(pid), addr, data, 0, 0)
	if e != 0 {
		return e
	}
	return nil
}

// Fetch reads the full NT_PRSTATUS register set via PTRACE_GETREGSET.
// It returns ErrProcessGone when the task has already disappeared.
func (r *Regs) Fetch() error {
	iov := iovecFor(&r.regs)
	err := ptrace(unix.PTRACE_GETREGSET, r.Pid, ntPrstatus, uintptr(unsafe.Pointer(&iov)))
	if err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return ErrProcessGone
		}
		return fmt.Errorf("regs: fetch pid %d: %w", r.Pid, err)
	}
	return nil
}

// Store writes the register set back via PTRACE_SETREGSET.
func (r *Regs) Store() error {
	iov := iovecFor(&r.regs)
	err := ptrace(unix.PTRACE_SETREGSET, r.Pid, ntPrstatus, uintptr(unsafe.Pointer(&iov)))
	if err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return ErrProcessGone
		}
		return fmt.Errorf("regs: store pid %d: %w", r.Pid, err)
	}
	return nil
}

// Raw exposes the underlying kernel register struct for architectures
// whose field names live in per-arch files in this package.
func (r *Regs) Raw() *syscall.PtraceRegs {
	return &r.regs
}

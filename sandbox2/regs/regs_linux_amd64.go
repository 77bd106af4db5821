package regs

// SyscallNo returns the syscall number for the current syscall-entry stop.
func (r *Regs) SyscallNo() uint {
	return uint(r.regs.Orig_rax)
}

// Arg returns the i'th (0-5) syscall argument per the x86_64 ABI.
func (r *Regs) Arg(i int) uint64 {
	switch i {
	case 0:
		return r.regs.Rdi
	case 1:
		return r.regs.Rsi
	case 2:
		return r.regs.Rdx
	case 3:
		return r.regs.R10
	case 4:
		return r.regs.R8
	case 5:
		return r.regs.R9
	default:
		return 0
	}
}

// SP returns the stack pointer.
func (r *Regs) SP() uint64 { return r.regs.Rsp }

// IP returns the instruction pointer.
func (r *Regs) IP() uint64 { return r.regs.Rip }

// FP returns the frame pointer, the base of the frame-pointer chain a
// stack unwind walks.
func (r *Regs) FP() uint64 { return r.regs.Rbp }

// SetReturnValue overwrites the return-value register.
func (r *Regs) SetReturnValue(v int64) {
	r.regs.Rax = uint64(v)
}

// ReturnValue reads the return-value register, valid at a syscall-exit
// stop.
func (r *Regs) ReturnValue() int64 {
	return int64(r.regs.Rax)
}

// SkipSyscallReturnValue rewrites the syscall number to -1 (so the kernel
// skips the syscall entirely) and sets the return register to -errno, the
// standard way to ban a syscall after a seccomp trace-stop has fired.
func (r *Regs) SkipSyscallReturnValue(errno int) {
	r.regs.Orig_rax = ^uint64(0) // -1
	r.regs.Rax = uint64(-int64(errno))
}

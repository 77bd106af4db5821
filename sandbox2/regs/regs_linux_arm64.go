package regs

// SyscallNo returns the syscall number for the current syscall-entry stop.
func (r *Regs) SyscallNo() uint {
	return uint(r.regs.Regs[8])
}

// Arg returns the i'th (0-5) syscall argument per the aarch64 ABI.
func (r *Regs) Arg(i int) uint64 {
	if i < 0 || i > 5 {
		return 0
	}
	return r.regs.Regs[i]
}

// SP returns the stack pointer.
func (r *Regs) SP() uint64 { return r.regs.Sp }

// IP returns the instruction pointer.
func (r *Regs) IP() uint64 { return r.regs.Pc }

// FP returns the frame pointer (x29), the base of the frame-pointer chain
// a stack unwind walks per the AAPCS64 convention.
func (r *Regs) FP() uint64 { return r.regs.Regs[29] }

// SetReturnValue overwrites the return-value register.
func (r *Regs) SetReturnValue(v int64) {
	r.regs.Regs[0] = uint64(v)
}

// ReturnValue reads the return-value register, valid at a syscall-exit
// stop.
func (r *Regs) ReturnValue() int64 {
	return int64(r.regs.Regs[0])
}

// SkipSyscallReturnValue rewrites the syscall number register (x8) to -1 and
// sets the return register to -errno. Unlike amd64, aarch64 has no
// orig-syscall-number register distinct from x8, so PTRACE_SET_SYSCALL via
// NT_ARM_SYSTEM_CALL is required in addition to this; see Store/skip call
// sites in ptracemonitor.
func (r *Regs) SkipSyscallReturnValue(errno int) {
	r.regs.Regs[8] = ^uint64(0) // -1
	r.regs.Regs[0] = uint64(-int64(errno))
}

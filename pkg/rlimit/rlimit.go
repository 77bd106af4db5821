// Package rlimit builds the POSIX resource limits applied to a sandboxee
// before it execs, via prlimit64 in pkg/forkexec.
package rlimit

import (
	"fmt"
	"strings"
	"syscall"
)

// RLimits is the resource budget an Executor asks its child to run under.
// Zero fields are left untouched (no limit installed for that resource).
type RLimits struct {
	CPU          uint64 // soft CPU time limit, in seconds
	CPUHard      uint64 // hard CPU time limit, in seconds; defaults to CPU if lower
	AddressSpace uint64 // RLIMIT_AS, in bytes
	FileSize     uint64 // RLIMIT_FSIZE, in bytes
	Stack        uint64 // RLIMIT_STACK, in bytes
	NoFile       uint64 // RLIMIT_NOFILE
	DisableCore  bool   // force RLIMIT_CORE to 0
}

// RLimit pairs a resource number with the limit value prlimit64 expects.
type RLimit struct {
	Res  int
	Rlim syscall.Rlimit
}

func lim(cur, max uint64) syscall.Rlimit {
	return syscall.Rlimit{Cur: cur, Max: max}
}

// PrepareRLimit expands the budget into the individual prlimit64 calls the
// child-launch trampoline issues, in a stable order.
func (r *RLimits) PrepareRLimit() []RLimit {
	var ret []RLimit
	if r.CPU > 0 {
		hard := r.CPUHard
		if hard < r.CPU {
			hard = r.CPU
		}
		ret = append(ret, RLimit{Res: syscall.RLIMIT_CPU, Rlim: lim(r.CPU, hard)})
	}
	if r.AddressSpace > 0 {
		ret = append(ret, RLimit{Res: syscall.RLIMIT_AS, Rlim: lim(r.AddressSpace, r.AddressSpace)})
	}
	if r.FileSize > 0 {
		ret = append(ret, RLimit{Res: syscall.RLIMIT_FSIZE, Rlim: lim(r.FileSize, r.FileSize)})
	}
	if r.Stack > 0 {
		ret = append(ret, RLimit{Res: syscall.RLIMIT_STACK, Rlim: lim(r.Stack, r.Stack)})
	}
	if r.NoFile > 0 {
		ret = append(ret, RLimit{Res: syscall.RLIMIT_NOFILE, Rlim: lim(r.NoFile, r.NoFile)})
	}
	if r.DisableCore {
		ret = append(ret, RLimit{Res: syscall.RLIMIT_CORE, Rlim: lim(0, 0)})
	}
	return ret
}

func resourceName(res int) string {
	switch res {
	case syscall.RLIMIT_CPU:
		return "CPU"
	case syscall.RLIMIT_AS:
		return "AddressSpace"
	case syscall.RLIMIT_FSIZE:
		return "FileSize"
	case syscall.RLIMIT_STACK:
		return "Stack"
	case syscall.RLIMIT_NOFILE:
		return "NoFile"
	case syscall.RLIMIT_CORE:
		return "Core"
	default:
		return "Unknown"
	}
}

func (r RLimit) String() string {
	return fmt.Sprintf("%s[%d:%d]", resourceName(r.Res), r.Rlim.Cur, r.Rlim.Max)
}

func (r RLimits) String() string {
	var sb strings.Builder
	sb.WriteString("RLimits[")
	for i, rl := range r.PrepareRLimit() {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(rl.String())
	}
	sb.WriteByte(']')
	return sb.String()
}

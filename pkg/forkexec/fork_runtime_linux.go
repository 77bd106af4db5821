package forkexec

import (
	"syscall"
	_ "unsafe" // required for go:linkname
)

// These mirror the unexported hooks syscall.forkExec uses around
// syscall.rawSyscall6(SYS_CLONE, ...) to pause the GC and other threads
// for the brief window between clone and the child's exec.
//
//go:linkname beforeFork syscall.runtime_BeforeFork
func beforeFork()

//go:linkname afterFork syscall.runtime_AfterFork
func afterFork()

//go:linkname afterForkInChild syscall.runtime_AfterForkInChild
func afterForkInChild()

// etxtbsyRetryInterval is the nanosleep duration between ETXTBSY retries.
var etxtbsyRetryInterval = syscall.Timespec{Sec: 0, Nsec: 1_000_000}

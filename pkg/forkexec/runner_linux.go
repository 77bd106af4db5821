package forkexec

import (
	"syscall"

	"github.com/omrigot/fastbox/pkg/rlimit"
)

// Runner holds everything needed to fork, set up, and exec a sandboxee.
// It has no notion of ptrace: a Runner-launched child is an ordinary
// (seccomp-filtered, rlimited) process that a monitor seizes after the
// fact, matching the attach-after-clone model the ptracemonitor expects.
type Runner struct {
	// Args and Env for the execve call in the child.
	Args []string
	Env  []string

	// ExecFile, if non-zero, is an already-open fd to the executable;
	// execveat(fd, "", ..., AT_EMPTY_PATH) is used instead of execve.
	ExecFile uintptr

	// RLimits are applied via prlimit64 before the filter is installed.
	RLimits []rlimit.RLimit

	// Files maps fd i of Files to fd i of the child, 0..len(Files)-1.
	Files []uintptr

	// WorkDir is chdir'd into before RLimits are applied.
	WorkDir string

	// Seccomp is the compiled filter program installed with
	// SECCOMP_SET_MODE_FILTER | SECCOMP_FILTER_FLAG_TSYNC. Nil means no
	// filter: NoNewPrivs is still honored, nothing else changes.
	Seccomp *syscall.SockFprog

	// Credential switches uid/gid/groups before the filter is loaded.
	Credential *syscall.Credential

	// SyncFunc, if set, runs in the parent after the child reports it
	// has finished its own setup and is blocked waiting to be released,
	// and before the filter is installed and the child execs. This is
	// the hook a monitor uses to PTRACE_SEIZE the child while it is
	// still harmless. Returning an error aborts the launch.
	SyncFunc func(pid int) error

	// NoNewPrivs forces prctl(PR_SET_NO_NEW_PRIVS); implied by Seccomp != nil.
	NoNewPrivs bool

	// DropCaps clears the child's effective/permitted/inheritable
	// capability sets before exec.
	DropCaps bool

	// CTTY makes fd 0 the child's controlling terminal.
	CTTY bool
}

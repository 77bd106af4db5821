package sandbox2

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/omrigot/fastbox/pkg/forkexec"
)

// seizeFlags mirrors ptracemonitor's full option set. It is duplicated
// here, rather than imported, because sandbox2 cannot depend on
// ptracemonitor (which itself depends on sandbox2 for Result/Notify) — see
// Start's doc comment for why the seize has to happen from here at all.
const seizeFlags = unix.PTRACE_O_TRACESYSGOOD | unix.PTRACE_O_TRACEFORK |
	unix.PTRACE_O_TRACEVFORK | unix.PTRACE_O_TRACEVFORKDONE |
	unix.PTRACE_O_TRACECLONE | unix.PTRACE_O_TRACEEXEC |
	unix.PTRACE_O_TRACEEXIT | unix.PTRACE_O_TRACESECCOMP |
	unix.PTRACE_O_EXITKILL

// Executor prepares and starts the sandboxee. It wraps a forkexec.Runner
// with the handful of fields the monitor itself needs to know about: the
// deadline, whether the policy should already be enforced before the first
// execve, and whether this run is itself the stack-unwinder helper (which
// must never try to dump its own stack recursively).
type Executor struct {
	Runner forkexec.Runner

	// WallTimeLimit is the initial deadline; zero means no limit. The
	// monitor also exposes SetWallTimeLimit to rewrite it after Run
	// has started.
	WallTimeLimit time.Duration

	// EnableSandboxingPreExecve requests that the seccomp filter (and
	// therefore tracing) apply before the sandboxee's own execve, not
	// just to the program it execs into.
	EnableSandboxingPreExecve bool

	// LibunwindSandboxForPid, when nonzero, means the sandboxee being
	// run IS the stack-unwinder helper for the named pid — the monitor
	// must suppress its own in-tree stack dumping in that case to avoid
	// unwinding the unwinder.
	LibunwindSandboxForPid int
}

// Start forks and execs the sandboxee, returning its Process descriptor.
// Runner.Start releases the forked child as soon as SyncFunc returns, with
// no other synchronization afterward — by the time Start returns to us the
// child may already be running or exec'd. So the SEIZE itself cannot wait
// for a monitor to exist; it happens right here, inside SyncFunc, while
// the child is still blocked. The monitor's own attach step then just
// confirms the seize and extends it to any sibling threads.
func (e *Executor) Start() (Process, error) {
	e.Runner.SyncFunc = func(pid int) error {
		// PtraceSeize takes no options of its own; PTRACE_SETOPTIONS
		// right after is what actually arms TRACEFORK/TRACEEXEC/... .
		if err := unix.PtraceSeize(pid); err != nil {
			return err
		}
		return unix.PtraceSetOptions(pid, seizeFlags)
	}
	pid, err := e.Runner.Start()
	if err != nil {
		return Process{}, err
	}
	return Process{MainPid: pid}, nil
}

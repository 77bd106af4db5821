// Package ptracemonitor is the ptrace-based state machine: it attaches to
// a sandboxee tree, loops on wait events, routes ptrace-stops to handlers,
// enforces deadlines, and records violations. This is the concrete monitor
// most callers use; monitorbase.Base supplies everything generic to any
// monitor implementation.
package ptracemonitor

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/omrigot/fastbox/sandbox2"
	"github.com/omrigot/fastbox/sandbox2/monitorbase"
	"github.com/omrigot/fastbox/sandbox2/pidwaiter"
	"github.com/omrigot/fastbox/sandbox2/syscallrec"
)

const (
	// ptraceFlags is the full option set every seized task gets. It is
	// required, not optional: the monitor's dispatch logic assumes every
	// lifecycle event it names arrives as a ptrace-event-stop.
	ptraceFlags = unix.PTRACE_O_TRACESYSGOOD | unix.PTRACE_O_TRACEFORK |
		unix.PTRACE_O_TRACEVFORK | unix.PTRACE_O_TRACEVFORKDONE |
		unix.PTRACE_O_TRACECLONE | unix.PTRACE_O_TRACEEXEC |
		unix.PTRACE_O_TRACEEXIT | unix.PTRACE_O_TRACESECCOMP |
		unix.PTRACE_O_EXITKILL

	// sigtrapSyscall is the syscall-exit-stop signal: SIGTRAP with bit 7
	// set by PTRACE_O_TRACESYSGOOD.
	sigtrapSyscall = unix.SIGTRAP | 0x80

	attachRetryBudget  = 2 * time.Second
	attachRetryFloor   = rate.Every(20 * time.Millisecond)
	attachRetryInitial = rate.Every(time.Millisecond)

	shutdownGrace = 200 * time.Millisecond
	pollTimeout   = 250 * time.Millisecond

	// defaultMaxFrames caps a captured stack trace's depth; the unwind
	// helper stops walking the frame-pointer chain past this regardless
	// of how much further it could technically go.
	defaultMaxFrames = 64
)

// Monitor is the ptrace-based PtraceMonitor state machine.
type Monitor struct {
	*monitorbase.Base

	process sandbox2.Process

	waiter *pidwaiter.Waiter

	// tracedOptions marks tasks that have already had ptraceFlags
	// applied; PTRACE_SETOPTIONS is only valid once a task is stopped,
	// so this is set lazily on first observed stop.
	tracedOptions map[int]bool

	// syscallsInProgress is the table of syscalls for which Notify
	// requested post-return inspection. See spec 3 "Syscalls-in-progress
	// table": entries are inserted on seccomp-stop, removed on
	// syscall-exit-stop, process exit, or eagerly on fork/clone/exec.
	syscallsInProgress map[int]syscallrec.Call

	waitForExecve bool
	execved       bool

	// timedOut, externalKill and networkViolationHit are sticky: set
	// once when the corresponding edge fires and never cleared, so the
	// later reap that actually attributes a terminal status can still
	// see the cause even though the one-shot flags on Base that gated
	// the kill itself have long since been consumed. See
	// recordFinalByPriority.
	timedOut            bool
	externalKill        bool
	networkViolationHit bool
	networkViolationMsg string

	// pendingKillStatus, while not StatusUnset, means a PTRACE_INTERRUPT
	// was sent to capture a stack trace before delivering the SIGKILL a
	// timeout/external-kill/network-violation already decided on; the
	// kill itself is deferred to the resulting PTRACE_EVENT_STOP.
	pendingKillStatus sandbox2.Status
	// awaitingDump is the same deferral for a caller-requested
	// DumpStack(), which only captures and resumes, never kills.
	awaitingDump bool

	startedAt time.Time
	execvedAt time.Time
}

// New builds a Monitor over an already-Init'd Base. The sandboxee is not
// started here; RunAsync starts it from the same OS thread that will go
// on to wait4 for it, which __WNOTHREAD-restricted reaping (see
// sandbox2/pidwaiter) requires.
func New(base *monitorbase.Base, waitForExecve bool) *Monitor {
	m := &Monitor{
		Base:               base,
		tracedOptions:      map[int]bool{},
		syscallsInProgress: map[int]syscallrec.Call{},
		waitForExecve:      waitForExecve,
		pendingKillStatus:  sandbox2.StatusUnset,
	}
	if !waitForExecve {
		// Pre-execve sandboxing was requested: the policy's default
		// action is already in force, so there is no startup execve to
		// wait out before it applies.
		m.IsActivelyMonitoring.Store(true)
	}
	return m
}

// Run starts the sandboxee, runs the event loop to completion, and
// returns the terminal Result. It blocks the calling goroutine; callers
// wanting asynchronous operation should call RunAsync instead.
func (m *Monitor) Run() *sandbox2.Result {
	m.RunAsync()
	return m.AwaitResult()
}

// RunAsync starts the sandboxee and the event loop on a dedicated,
// OS-thread-locked goroutine (ptrace is thread-directed: every ptrace
// call for a given task must come from the thread that attached to it,
// and __WNOTHREAD-restricted reaping requires the same thread to have
// forked the child in the first place) and returns immediately. Call
// AwaitResult to block for the Result.
func (m *Monitor) RunAsync() <-chan struct{} {
	started := make(chan struct{})
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer m.Finish()
		defer m.captureMonitorRUsage()

		m.startedAt = time.Now()

		proc, err := m.Executor.Start()
		if err != nil {
			close(started)
			m.Result().SetSetupError(int(sandbox2.FailedMonitor))
			return
		}
		m.process = proc
		m.waiter = pidwaiter.New(proc.MainPid)

		if err := m.initPtraceAttach(); err != nil {
			close(started)
			m.Result().SetSetupError(int(sandbox2.FailedPtrace))
			return
		}
		close(started)
		m.loop()
	}()
	return started
}

// captureMonitorRUsage snapshots the monitor goroutine's own resource
// usage right before Finish unblocks AwaitResult. RUSAGE_THREAD rather
// than RUSAGE_SELF: this goroutine is locked to its own OS thread for
// the run's whole lifetime, so the two are equivalent here, but
// RUSAGE_THREAD is the one that stays correct if that ever changes.
func (m *Monitor) captureMonitorRUsage() {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_THREAD, &ru); err == nil {
		m.Result().SetMonitorRUsage(ru)
	}
}

// initPtraceAttach implements the six-step attach protocol: SEIZE the
// init task if present, enumerate the main task's threads, SEIZE each with
// the full option set (retrying EPERM with backoff, tolerating ESRCH for
// threads that exited mid-enumeration), then re-verify the seized set
// against a fresh enumeration so a thread created mid-attach can never
// leave the sandboxee partially monitored.
func (m *Monitor) initPtraceAttach() error {
	if m.process.HasInit() {
		if err := m.seizeWithRetry(m.process.InitPid, unix.PTRACE_O_EXITKILL); err != nil {
			return fmt.Errorf("ptracemonitor: seize init: %w", err)
		}
	}

	tasks, err := listTasks(m.process.MainPid)
	if err != nil {
		return fmt.Errorf("ptracemonitor: list tasks: %w", err)
	}

	seized := map[int]bool{}
	for _, tid := range tasks {
		err := m.seizeWithRetry(tid, ptraceFlags)
		if err == unix.ESRCH {
			continue // task exited during enumeration
		}
		if err != nil {
			return fmt.Errorf("ptracemonitor: seize %d: %w", tid, err)
		}
		seized[tid] = true
		m.tracedOptions[tid] = true
	}

	final, err := listTasks(m.process.MainPid)
	if err != nil {
		return fmt.Errorf("ptracemonitor: re-list tasks: %w", err)
	}
	if len(final) != len(seized) {
		return fmt.Errorf("ptracemonitor: thread churned during attach (seized %d, now %d)", len(seized), len(final))
	}
	for _, tid := range final {
		if !seized[tid] {
			return fmt.Errorf("ptracemonitor: thread %d created during attach was not seized", tid)
		}
	}
	return nil
}

// seizeWithRetry SEIZEs pid with the given option flags, retrying EPERM
// with a rate.Limiter-driven backoff (1ms doubling interval, capped at
// 20ms, bounded overall by attachRetryBudget). ESRCH is returned to the
// caller to tolerate (not retried); any other error is fatal. If pid was
// already seized by Executor.Start's SyncFunc hook, PTRACE_SETOPTIONS
// alone confirms and extends that seize without ever attempting (and
// failing) a second PTRACE_SEIZE.
func (m *Monitor) seizeWithRetry(pid int, flags int) error {
	if err := unix.PtraceSetOptions(pid, flags); err == nil {
		m.tracedOptions[pid] = true
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), attachRetryBudget)
	defer cancel()

	lim := rate.NewLimiter(attachRetryInitial, 1)
	for {
		if err := lim.Wait(ctx); err != nil {
			return unix.EPERM
		}
		// PtraceSeize carries no options of its own; PTRACE_SETOPTIONS
		// right after is what actually arms the flags this seize wants.
		err := unix.PtraceSeize(pid)
		if err == nil {
			return unix.PtraceSetOptions(pid, flags)
		}
		if err == unix.ESRCH {
			return err
		}
		if err != unix.EPERM {
			return err
		}
		next := lim.Limit() / 2
		if next < attachRetryFloor {
			next = attachRetryFloor
		}
		lim.SetLimit(next)
	}
}

func listTasks(pid int) ([]int, error) {
	entries, err := os.ReadDir(fmt.Sprintf("/proc/%d/task", pid))
	if err != nil {
		return nil, err
	}
	tasks := make([]int, 0, len(entries))
	for _, e := range entries {
		tid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		tasks = append(tasks, tid)
	}
	return tasks, nil
}

// loop is the single cooperative event loop. Each iteration: check the
// deadline, service the dump-stack/external-kill/network-violation flags
// in priority order, then wait for one event and dispatch it.
func (m *Monitor) loop() {
	for {
		if m.DeadlineExceeded() && !m.timedOut {
			m.timedOut = true
			m.beginTerminalKill(sandbox2.StatusTimeout)
		}
		if m.TestAndClearDumpStack() {
			m.awaitingDump = true
			unix.PtraceInterrupt(m.process.MainPid)
		}
		if m.TestAndClearExternalKill() {
			m.externalKill = true
			m.beginTerminalKill(sandbox2.StatusExternalKill)
		}
		if fired, msg := m.TestAndClearNetworkViolation(); fired {
			m.networkViolationHit = true
			m.networkViolationMsg = msg
			m.beginTerminalKill(sandbox2.StatusViolation)
		}

		ev := m.waiter.Wait()
		if ev.Pid == 0 {
			select {
			case <-m.Wake():
			case <-time.After(pollTimeout):
			}
			continue
		}
		if ev.WaitErr != nil {
			if m.Result().FinalStatus() == sandbox2.StatusUnset {
				m.Result().SetInternalError(sandbox2.FailedChild)
			}
			return
		}

		if m.dispatch(ev.Pid, ev.Status, ev.RUsage) {
			return
		}
	}
}

// beginTerminalKill interrupts the main pid so a stack trace can be
// captured from its still-live register state before the SIGKILL that a
// timeout, an external Kill(), or a network violation already decided
// on. The kill itself is deferred to the resulting PTRACE_EVENT_STOP
// (see eventPtraceGroupStop); if no trace is wanted for this status, or
// a capture is already in flight, the kill happens immediately instead.
func (m *Monitor) beginTerminalKill(status sandbox2.Status) {
	if m.pendingKillStatus != sandbox2.StatusUnset {
		return
	}
	if !m.ShouldCollectStackTrace(status) {
		unix.Kill(m.process.MainPid, unix.SIGKILL)
		return
	}
	m.pendingKillStatus = status
	if err := unix.PtraceInterrupt(m.process.MainPid); err != nil {
		m.pendingKillStatus = sandbox2.StatusUnset
		unix.Kill(m.process.MainPid, unix.SIGKILL)
	}
}

// dispatch routes one waitpid status. It returns true once the loop
// should terminate (the main PID's terminal event has been recorded).
func (m *Monitor) dispatch(pid int, ws unix.WaitStatus, ru unix.Rusage) bool {
	switch {
	case ws.Exited():
		return m.eventExited(pid, ws, ru)
	case ws.Signaled():
		return m.eventSignaled(pid, ws, ru)
	case ws.Stopped():
		m.dispatchStopped(pid, ws)
		return false
	default:
		// WIFCONTINUED: nothing to do.
		return false
	}
}

func (m *Monitor) eventExited(pid int, ws unix.WaitStatus, ru unix.Rusage) bool {
	delete(m.syscallsInProgress, pid)
	if pid != m.process.MainPid {
		return false
	}
	if !m.execved {
		m.Result().SetSetupError(int(sandbox2.FailedMonitor))
	} else {
		m.Result().SetOK(ws.ExitStatus())
	}
	m.Result().SetRUsage(ru)
	m.recordTiming()
	return true
}

func (m *Monitor) eventSignaled(pid int, ws unix.WaitStatus, ru unix.Rusage) bool {
	delete(m.syscallsInProgress, pid)
	if pid != m.process.MainPid {
		return false
	}
	m.recordFinalByPriority(int(ws.Signal()))
	m.Result().SetRUsage(ru)
	m.recordTiming()
	return true
}

// recordTiming splits the run's wall-clock time into SetupTime (fork to
// first observed execve) and RunningTime (execve to this terminal
// event), or attributes it all to SetupTime if the sandboxee never
// execved at all.
func (m *Monitor) recordTiming() {
	now := time.Now()
	if m.execvedAt.IsZero() {
		m.Result().SetSetupTime(now.Sub(m.startedAt))
		return
	}
	m.Result().SetSetupTime(m.execvedAt.Sub(m.startedAt))
	m.Result().SetRunningTime(now.Sub(m.execvedAt))
}

// recordFinalByPriority picks the terminal Status for the main PID's death
// by the required priority: network > external_kill > timeout >
// signaled(signal). The first sticky flag wins; unlike the one-shot flags
// on Base that gated the kill itself, these are read here, never cleared,
// so a kill delivered on an earlier loop iteration is still correctly
// attributed once the async SIGKILL is actually reaped on a later one.
func (m *Monitor) recordFinalByPriority(signo int) {
	if m.networkViolationHit {
		m.Result().SetNetworkViolationMessage(m.networkViolationMsg)
		m.Result().SetViolation(sandbox2.ViolationNetwork, 0)
		return
	}
	if m.externalKill {
		m.Result().SetExternalKill()
		return
	}
	if m.timedOut {
		m.Result().SetTimeout()
		return
	}
	if signo == int(unix.SIGSYS) {
		// A seccomp kill action raced ahead of us seeing the seccomp
		// event; treat it the same as a detected violation would be.
		m.Result().SetViolation(sandbox2.ViolationSyscall, 0)
		return
	}
	m.Result().SetSignaled(signo)
}

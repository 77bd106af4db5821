package ptracemonitor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/omrigot/fastbox/sandbox2"
	"github.com/omrigot/fastbox/sandbox2/monitorbase"
	"github.com/omrigot/fastbox/sandbox2/regs"
	"github.com/omrigot/fastbox/sandbox2/syscallrec"
)

// msgHandle is the SECCOMP_RET_DATA value a SECCOMP_RET_TRACE stop
// carries when the syscall matched an explicit Trace rule; the policy's
// default action carries the return code its caller passed to
// policy.Build instead. SECCOMP_RET_DATA is only 16 bits wide, too narrow
// to carry an audit-arch tag, so which of the two cases this is gets
// decided in Go against the policy's own syscall lists instead of out of
// the event message.
const msgHandle = 2 // seccomp.MsgHandle, mirrored to avoid an import cycle

// dispatchStopped handles one WIFSTOPPED status for pid. It is the single
// entry point every ptrace-stop flows through.
func (m *Monitor) dispatchStopped(pid int, ws unix.WaitStatus) {
	if !m.tracedOptions[pid] {
		if err := unix.PtraceSetOptions(pid, ptraceFlags); err != nil && err != unix.ESRCH {
			m.Result().SetInternalError(sandbox2.FailedPtrace)
			return
		}
		m.tracedOptions[pid] = true
	}

	stopSig := ws.StopSignal()

	// PTRACE_O_TRACESYSGOOD tags syscall-exit-stops by setting the high
	// bit of the delivered SIGTRAP; check this before the plain-SIGTRAP
	// (ptrace-event-stop) case below, since both start from SIGTRAP.
	if stopSig == sigtrapSyscall {
		m.eventSyscallExitStop(pid)
		return
	}

	if stopSig != unix.SIGTRAP {
		m.eventSignalDeliveryStop(pid, stopSig)
		return
	}

	switch cause := ws.TrapCause(); cause {
	case unix.PTRACE_EVENT_SECCOMP:
		m.eventPtraceSeccomp(pid)
	case unix.PTRACE_EVENT_EXEC:
		m.eventPtraceExec(pid)
	case unix.PTRACE_EVENT_FORK, unix.PTRACE_EVENT_VFORK, unix.PTRACE_EVENT_CLONE:
		m.eventPtraceNewProcess(pid)
	case unix.PTRACE_EVENT_EXIT:
		m.eventPtraceExit(pid)
	case unix.PTRACE_EVENT_STOP:
		m.eventPtraceGroupStop(pid)
	default:
		// A bare SIGTRAP the tracee raised itself.
		m.continueOrKill(pid, 0)
	}
}

// eventSignalDeliveryStop is a plain (non-seccomp, non-group-stop-related)
// signal-delivery-stop: a real signal is about to be delivered to the
// tracee. The sandboxee is never killed here directly; SIGSYS raised by a
// seccomp kill action surfaces later as a normal WIFSIGNALED event, which
// recordFinalByPriority already special-cases.
func (m *Monitor) eventSignalDeliveryStop(pid int, signo unix.Signal) {
	if signo == unix.SIGSTOP || signo == unix.SIGTSTP || signo == unix.SIGTTIN || signo == unix.SIGTTOU {
		m.continueOrKill(pid, int(signo))
		return
	}
	if pid == m.process.MainPid && m.ShouldCollectStackTrace(sandbox2.StatusSignaled) {
		// Last chance to read registers: forwarding the signal below
		// lets the tracee act on it, which for most of these is fatal.
		m.captureTrace(pid)
	}
	m.Notify.EventSignal(pid, int(signo))
	m.continueOrKill(pid, int(signo))
}

// eventPtraceGroupStop handles PTRACE_EVENT_STOP, the group-stop variant
// PTRACE_SEIZE reports with a synthesized SIGTRAP regardless of the real
// stop signal: PTRACE_GETEVENTMSG is the only way to learn whether this
// is a genuine job-control stop (SIGSTOP/SIGTSTP/SIGTTIN/SIGTTOU, which
// PTRACE_LISTEN must honor without consuming) or a bare PTRACE_INTERRUPT
// (message 0) that loop/beginTerminalKill sent to get the tracee stopped
// long enough to read its registers.
func (m *Monitor) eventPtraceGroupStop(pid int) {
	msg, err := unix.PtraceGetEventMsg(pid)
	if err != nil {
		m.Result().SetInternalError(sandbox2.FailedGetEvent)
		return
	}

	if pid == m.process.MainPid && (m.pendingKillStatus != sandbox2.StatusUnset || m.awaitingDump) {
		m.captureTrace(pid)
	}

	switch unix.Signal(msg) {
	case unix.SIGSTOP, unix.SIGTSTP, unix.SIGTTIN, unix.SIGTTOU:
		if err := ptraceListen(pid); err != nil && err != unix.ESRCH && m.Log != nil {
			m.Log.Warn("ptracemonitor: listen", pid, err)
		}
	default:
		m.continueOrKill(pid, 0)
	}

	if pid != m.process.MainPid {
		return
	}
	m.awaitingDump = false
	if m.pendingKillStatus != sandbox2.StatusUnset {
		m.pendingKillStatus = sandbox2.StatusUnset
		unix.Kill(pid, unix.SIGKILL)
	}
}

// ptraceListen issues PTRACE_LISTEN. No exported wrapper exists in the
// vendored x/sys/unix, so this follows the same raw-syscall idiom
// sandbox2/regs uses for requests it doesn't wrap either.
func ptraceListen(pid int) error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, uintptr(unix.PTRACE_LISTEN), uintptr(pid), 0, 0, 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// captureTrace fetches the tracee's current registers, then its
// symbolized stack trace and a /proc/<pid>/maps snapshot
// concurrently via errgroup: both are ptrace-free (a forked-helper IPC
// round trip and a plain file read), unlike any operation that issues a
// ptrace syscall, which must stay on this goroutine's locked thread.
func (m *Monitor) captureTrace(pid int) {
	r := regs.New(pid)
	if err := r.Fetch(); err != nil {
		return
	}

	var (
		trace []string
		maps  string
	)
	var g errgroup.Group
	g.Go(func() error {
		frames, err := m.GetStackTrace(pid, r.SP(), r.IP(), r.FP(), defaultMaxFrames)
		trace = frames
		return err
	})
	g.Go(func() error {
		text, err := monitorbase.ReadProcMaps(pid)
		maps = text
		return err
	})
	if err := g.Wait(); err != nil && m.Log != nil {
		m.Log.Warn("ptracemonitor: capture trace", pid, err)
	}
	if len(trace) > 0 {
		m.Result().SetStackTrace(trace)
	}
	if maps != "" {
		m.Result().SetProcMaps(maps)
	}
}

// eventPtraceSeccomp handles a SECCOMP_RET_TRACE stop. PtraceGetEventMsg
// is still read for protocol symmetry with the filter (explicit Trace
// rules carry MsgHandle, the default action the return code passed to
// policy.Build) but carries no information this handler branches on;
// whether the syscall was
// explicitly traced or just fell through the default action is decided
// against the policy's own syscall lists instead.
func (m *Monitor) eventPtraceSeccomp(pid int) {
	if _, err := unix.PtraceGetEventMsg(pid); err != nil {
		m.Result().SetInternalError(sandbox2.FailedGetEvent)
		return
	}

	r := regs.New(pid)
	if err := r.Fetch(); err != nil {
		if err == regs.ErrProcessGone {
			return
		}
		m.Result().SetInternalError(sandbox2.FailedFetch)
		return
	}
	call := syscallrec.FromRegs(r, syscallrec.HostArch)

	if m.explicitlyTraced(call.Name()) {
		m.actionProcessSyscall(pid, r, call)
		return
	}

	// Fell through to the default action: not in AllowedSyscalls (the
	// BPF layer would have let it through silently) or TracedSyscalls.
	if m.waitForExecve && !m.IsActivelyMonitoring.Load() && call.Nr == execveSyscallNo {
		// Early execve, before the sandboxee's own policy is fully in
		// force; always let it through.
		m.continueOrKill(pid, 0)
		return
	}
	if m.Policy != nil && m.Policy.DangerDangerPermitAll {
		m.continueOrKill(pid, 0)
		return
	}
	m.violation(pid, r, call, sandbox2.ViolationSyscall, int(call.Nr))
}

func (m *Monitor) explicitlyTraced(name string) bool {
	if m.Policy == nil {
		return false
	}
	for _, n := range m.Policy.TracedSyscalls {
		if n == name {
			return true
		}
	}
	return false
}

// actionProcessSyscall consults Notify for an explicitly traced syscall and
// applies its verdict.
func (m *Monitor) actionProcessSyscall(pid int, r *regs.Regs, call syscallrec.Call) {
	var action sandbox2.TraceAction
	if m.Notify != nil {
		action = m.Notify.EventSyscallTrace(call)
	}

	switch action {
	case sandbox2.Deny:
		m.violation(pid, r, call, sandbox2.ViolationSyscall, int(call.Nr))
	case sandbox2.InspectAfterReturn:
		m.syscallsInProgress[pid] = call
		// PTRACE_SYSCALL rather than PTRACE_CONT: only this restart makes
		// the kernel report the syscall-exit-stop eventSyscallExitStop
		// consumes.
		if err := unix.PtraceSyscall(pid, 0); err != nil && err != unix.ESRCH && m.Log != nil {
			m.Log.Warn("ptracemonitor: syscall", pid, err)
		}
	default: // Allow
		m.continueOrKill(pid, 0)
	}
}

// violation records a policy violation once, snapshots the offending
// syscall and registers, bans the syscall by rewriting its registers to
// -ENOSYS, and lets Notify observe it before the tracee resumes.
func (m *Monitor) violation(pid int, r *regs.Regs, call syscallrec.Call, reason sandbox2.ViolationReason, code int) {
	if m.Result().SetViolation(reason, code) {
		m.Result().SetRegs(r)
		c := call
		m.Result().SetSyscall(&c)
		if m.Notify != nil {
			m.Notify.EventSyscallViolation(call, reason)
		}
	}
	r.SkipSyscallReturnValue(int(unix.ENOSYS))
	if err := r.Store(); err != nil && err != regs.ErrProcessGone {
		m.Result().SetInternalError(sandbox2.FailedInspect)
	}
	m.continueOrKill(pid, 0)
}

// eventSyscallExitStop handles PTRACE_O_TRACESYSGOOD syscall-exit-stops,
// which only arrive for pids with an open InspectAfterReturn entry — every
// other syscall is allowed to exit untraced.
func (m *Monitor) eventSyscallExitStop(pid int) {
	call, ok := m.syscallsInProgress[pid]
	if !ok {
		m.continueOrKill(pid, 0)
		return
	}
	delete(m.syscallsInProgress, pid)

	r := regs.New(pid)
	var retVal int64
	if err := r.Fetch(); err == nil {
		retVal = r.ReturnValue()
	}
	if m.Notify != nil {
		m.Notify.EventSyscallReturn(call, retVal)
	}
	m.continueOrKill(pid, 0)
}

// eventPtraceExec marks the actively-monitoring transition: from here on,
// the default-action catch-all enforces the real policy instead of letting
// the startup execve chain through.
func (m *Monitor) eventPtraceExec(pid int) {
	if !m.execved {
		m.execved = true
		m.execvedAt = time.Now()
		m.IsActivelyMonitoring.Store(true)
		if pid == m.process.MainPid {
			if name, err := readProgramName(pid); err == nil {
				m.Result().SetProgramName(name)
			}
		}
	}
	m.closePendingInspections(pid)
	m.continueOrKill(pid, 0)
}

// readProgramName reads the sandboxee's comm name, falling back to the
// basename of its exe symlink if /proc/<pid>/comm is gone already (the
// task can die between the exec-stop firing and this read).
func readProgramName(pid int) (string, error) {
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err == nil {
		return strings.TrimSpace(string(b)), nil
	}
	link, linkErr := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
	if linkErr != nil {
		return "", err
	}
	return filepath.Base(link), nil
}

// eventPtraceNewProcess is fork/vfork/clone: any pending inspection of the
// parent is dropped, and the child gets its traced-options state lazily,
// on its own first stop.
func (m *Monitor) eventPtraceNewProcess(pid int) {
	m.closePendingInspections(pid)
	m.continueOrKill(pid, 0)
}

// eventPtraceExit fires just before a task's final exit; any in-progress
// inspect entry for it can never receive its syscall-exit-stop now, so it
// is dropped rather than left to dangle.
func (m *Monitor) eventPtraceExit(pid int) {
	m.closePendingInspections(pid)
	if pid == m.process.MainPid && m.pendingKillStatus == sandbox2.StatusUnset &&
		!m.timedOut && !m.externalKill && !m.networkViolationHit &&
		m.ShouldCollectStackTrace(sandbox2.StatusOK) {
		// Still alive and ptrace-stopped, one instant before it exits on
		// its own; none of the kill paths pre-empted it, so this is the
		// clean-exit collection case.
		m.captureTrace(pid)
	}
	m.continueOrKill(pid, 0)
}

// closePendingInspections drops any InspectAfterReturn bookkeeping for pid
// without a callback. The exec, exit and fork/vfork/clone handlers call
// it.
func (m *Monitor) closePendingInspections(pid int) {
	delete(m.syscallsInProgress, pid)
}

// continueOrKill resumes pid with PTRACE_CONT, logging (but not treating
// as fatal) the case where the task disappeared out from under us.
func (m *Monitor) continueOrKill(pid int, signo int) {
	if err := unix.PtraceCont(pid, signo); err != nil && err != unix.ESRCH {
		if m.Log != nil {
			m.Log.Warn("ptracemonitor: cont", pid, err)
		}
	}
}

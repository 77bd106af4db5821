package sandbox2

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/omrigot/fastbox/sandbox2/regs"
	"github.com/omrigot/fastbox/sandbox2/syscallrec"
)

// Status is the tagged outcome of a sandboxed run.
type Status int

// Status values. UNSET is the zero value; every other value is terminal.
const (
	StatusUnset Status = iota
	StatusOK
	StatusSetupError
	StatusViolation
	StatusSignaled
	StatusTimeout
	StatusExternalKill
	StatusInternalError
)

var statusString = []string{
	"UNSET",
	"OK",
	"SETUP_ERROR",
	"VIOLATION",
	"SIGNALED",
	"TIMEOUT",
	"EXTERNAL_KILL",
	"INTERNAL_ERROR",
}

func (s Status) String() string {
	if int(s) >= 0 && int(s) < len(statusString) {
		return statusString[s]
	}
	return "UNKNOWN"
}

// ViolationReason distinguishes the sub-kinds of a VIOLATION result beyond
// "this syscall number was denied."
type ViolationReason int

const (
	// ViolationSyscall means reason_code is a denied syscall number, or 0
	// when the violation was only seen as a SIGSYS death at reap time.
	ViolationSyscall ViolationReason = iota
	// ViolationNetwork means the network-proxy helper flagged this run.
	ViolationNetwork
	// ViolationArchSwitch means a syscall arrived tagged with an
	// architecture other than the host's.
	ViolationArchSwitch
)

// InternalErrorReason enumerates the INTERNAL_ERROR sub-reasons.
type InternalErrorReason int

const (
	FailedSignals InternalErrorReason = iota
	FailedPtrace
	FailedMonitor
	FailedFetch
	FailedInspect
	FailedChild
	FailedKill
	FailedInterrupt
	FailedGetEvent
)

var internalErrorString = [...]string{
	"FAILED_SIGNALS", "FAILED_PTRACE", "FAILED_MONITOR", "FAILED_FETCH",
	"FAILED_INSPECT", "FAILED_CHILD", "FAILED_KILL", "FAILED_INTERRUPT",
	"FAILED_GETEVENT",
}

func (r InternalErrorReason) String() string {
	if int(r) >= 0 && int(r) < len(internalErrorString) {
		return internalErrorString[r]
	}
	return "UNKNOWN"
}

// Result is the sum-typed outcome of a sandboxed run. The zero Result has
// Status == StatusUnset; every other Status is terminal and, once set, can
// never be overwritten — see Result.set.
type Result struct {
	mu sync.Mutex

	status     Status
	reasonCode int

	violationReason ViolationReason
	internalReason  InternalErrorReason

	regs       *regs.Regs
	syscall    *syscallrec.Call
	procMaps   string
	stackTrace []string
	progName   string
	netMsg     string
	rusage     unix.Rusage
	monRusage  unix.Rusage
	setupTime  time.Duration
	runTime    time.Duration

	once sync.Once
}

// set installs status/reasonCode exactly once; every call after the first
// is silently dropped, per the "first write wins" invariant.
func (r *Result) set(status Status, reasonCode int) (applied bool) {
	r.once.Do(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.status = status
		r.reasonCode = reasonCode
		applied = true
	})
	return applied
}

// SetOK records a clean exit.
func (r *Result) SetOK(exitStatus int) bool {
	return r.set(StatusOK, exitStatus)
}

// SetSetupError records a failure that happened before the sandboxee could
// even be said to be running (attach failure, fork failure, ...).
func (r *Result) SetSetupError(reasonCode int) bool {
	return r.set(StatusSetupError, reasonCode)
}

// SetViolation records a policy violation.
func (r *Result) SetViolation(reason ViolationReason, reasonCode int) bool {
	applied := r.set(StatusViolation, reasonCode)
	if applied {
		r.mu.Lock()
		r.violationReason = reason
		r.mu.Unlock()
	}
	return applied
}

// SetSignaled records death by an un-requested, non-policy signal.
func (r *Result) SetSignaled(signo int) bool {
	return r.set(StatusSignaled, signo)
}

// SetTimeout records death by the wall-clock deadline.
func (r *Result) SetTimeout() bool {
	return r.set(StatusTimeout, 0)
}

// SetExternalKill records death by a caller-requested Kill().
func (r *Result) SetExternalKill() bool {
	return r.set(StatusExternalKill, 0)
}

// SetInternalError records a monitor-side failure unrelated to the
// sandboxee's own behavior.
func (r *Result) SetInternalError(reason InternalErrorReason) bool {
	applied := r.set(StatusInternalError, 0)
	if applied {
		r.mu.Lock()
		r.internalReason = reason
		r.mu.Unlock()
	}
	return applied
}

// FinalStatus returns the terminal status, or StatusUnset if none was set
// yet (callers must not observe this outside AwaitResult).
func (r *Result) FinalStatus() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// ReasonCode returns the exit status, signal number, or syscall number
// associated with the final status, depending on its kind.
func (r *Result) ReasonCode() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reasonCode
}

// ViolationReason returns the violation sub-kind; only meaningful when
// FinalStatus() == StatusViolation.
func (r *Result) ViolationReason() ViolationReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.violationReason
}

// InternalErrorReason returns the internal-error sub-kind; only meaningful
// when FinalStatus() == StatusInternalError.
func (r *Result) InternalErrorReason() InternalErrorReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.internalReason
}

// Regs returns the register snapshot attached to this result, if any.
func (r *Result) Regs() *regs.Regs {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.regs
}

// SetRegs attaches a register snapshot. Unlike the status, this may be
// called more than once (e.g. updated right before the terminal status is
// set) since it is not part of the UNSET->terminal invariant.
func (r *Result) SetRegs(rg *regs.Regs) {
	r.mu.Lock()
	r.regs = rg
	r.mu.Unlock()
}

// Syscall returns the offending or inspected syscall attached to this
// result, if any.
func (r *Result) Syscall() *syscallrec.Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.syscall
}

// SetSyscall attaches the syscall associated with this result.
func (r *Result) SetSyscall(c *syscallrec.Call) {
	r.mu.Lock()
	r.syscall = c
	r.mu.Unlock()
}

// ProcMaps returns the /proc/<pid>/maps text captured at termination.
func (r *Result) ProcMaps() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.procMaps
}

// SetProcMaps attaches the captured /proc/<pid>/maps text.
func (r *Result) SetProcMaps(maps string) {
	r.mu.Lock()
	r.procMaps = maps
	r.mu.Unlock()
}

// StackTrace returns the symbolized stack trace captured at termination,
// if stack collection was enabled for this status.
func (r *Result) StackTrace() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stackTrace
}

// SetStackTrace attaches a symbolized stack trace.
func (r *Result) SetStackTrace(frames []string) {
	r.mu.Lock()
	r.stackTrace = frames
	r.mu.Unlock()
}

// ProgramName returns the sandboxee's program name, if known.
func (r *Result) ProgramName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progName
}

// SetProgramName records the sandboxee's program name.
func (r *Result) SetProgramName(name string) {
	r.mu.Lock()
	r.progName = name
	r.mu.Unlock()
}

// NetworkViolationMessage returns the network-proxy's violation message,
// if this result's violation reason is ViolationNetwork.
func (r *Result) NetworkViolationMessage() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.netMsg
}

// SetNetworkViolationMessage records the network-proxy's violation detail.
func (r *Result) SetNetworkViolationMessage(msg string) {
	r.mu.Lock()
	r.netMsg = msg
	r.mu.Unlock()
}

// RUsage returns the resource usage of the reaped main PID, sourced
// directly from the rusage struct wait4 returns on the reaping call — no
// separate accounting controller is consulted.
func (r *Result) RUsage() unix.Rusage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rusage
}

// SetRUsage records the rusage struct from the reap that produced this
// result.
func (r *Result) SetRUsage(ru unix.Rusage) {
	r.mu.Lock()
	r.rusage = ru
	r.mu.Unlock()
}

// MonitorRUsage returns a getrusage(RUSAGE_THREAD) snapshot of the
// monitor goroutine itself, taken right before the result became
// available to AwaitResult — distinct from RUsage, which is the
// sandboxee's own usage.
func (r *Result) MonitorRUsage() unix.Rusage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.monRusage
}

// SetMonitorRUsage records the monitor's own resource usage.
func (r *Result) SetMonitorRUsage(ru unix.Rusage) {
	r.mu.Lock()
	r.monRusage = ru
	r.mu.Unlock()
}

// SetupTime returns the wall-clock time from fork to the sandboxee's
// first observed execve (or, if it never execved, to its own
// termination).
func (r *Result) SetupTime() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setupTime
}

// SetSetupTime records the setup-phase duration.
func (r *Result) SetSetupTime(d time.Duration) {
	r.mu.Lock()
	r.setupTime = d
	r.mu.Unlock()
}

// RunningTime returns the wall-clock time from the sandboxee's first
// observed execve to its termination. Zero if it never execved.
func (r *Result) RunningTime() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runTime
}

// SetRunningTime records the running-phase duration.
func (r *Result) SetRunningTime(d time.Duration) {
	r.mu.Lock()
	r.runTime = d
	r.mu.Unlock()
}

// String renders the result for logging.
func (r *Result) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.status {
	case StatusViolation:
		return fmt.Sprintf("%s(reason=%s, code=%d)", r.status, r.violationReason, r.reasonCode)
	case StatusInternalError:
		return fmt.Sprintf("%s(%s)", r.status, r.internalReason)
	default:
		return fmt.Sprintf("%s(code=%d)", r.status, r.reasonCode)
	}
}

func (v ViolationReason) String() string {
	switch v {
	case ViolationNetwork:
		return "VIOLATION_NETWORK"
	case ViolationArchSwitch:
		return "VIOLATION_ARCH_SWITCH"
	default:
		return "VIOLATION_SYSCALL"
	}
}

// Package monitorbase is the lifecycle skeleton shared by every monitor
// implementation: it owns the Result and the external request flags, and exposes
// the Kill/DumpStack/SetWallTimeLimit/AwaitResult surface external callers
// use regardless of which concrete monitor (ptrace-based, or a future
// seccomp_unotify-based sibling) is driving the wait loop.
package monitorbase

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/omrigot/fastbox/internal/corelog"
	"github.com/omrigot/fastbox/sandbox2"
	"github.com/omrigot/fastbox/sandbox2/policy"
	"github.com/omrigot/fastbox/sandbox2/unwindhelper"
)

// flag is an edge-triggered boolean external threads set and the monitor
// loop tests-and-clears at most once per edge.
type flag struct {
	v atomic.Bool
}

func (f *flag) set() { f.v.Store(true) }

// testAndClear reports whether the flag was set, clearing it atomically so
// a single external edge triggers at most one handler invocation.
func (f *flag) testAndClear() bool {
	return f.v.CompareAndSwap(true, false)
}

// Base is embedded by concrete monitor implementations. It owns the
// Result, the three edge-triggered external flags, the wall-time
// deadline, and the wake channel used to pull the wait loop out of its
// poll sleep.
type Base struct {
	Executor *sandbox2.Executor
	Policy   *policy.Policy
	Notify   sandbox2.Notify
	Log      *corelog.Logger

	result sandbox2.Result
	done   chan struct{}

	externalKillRequest flag
	dumpStackRequest    flag
	networkViolation    flag
	netViolationMsg      atomic.Value // string

	deadlineMillis atomic.Int64 // 0 = no limit

	wake chan struct{}

	// IsActivelyMonitoring flips true on the sandboxee's first observed
	// execve; this is the formal "policy is now enforced" transition.
	IsActivelyMonitoring atomic.Bool
}

// Init must be called once before the monitor loop starts.
func (b *Base) Init(exec *sandbox2.Executor, pol *policy.Policy, notify sandbox2.Notify, log *corelog.Logger) {
	b.Executor = exec
	b.Policy = pol
	b.Notify = notify
	b.Log = log
	b.done = make(chan struct{})
	b.wake = make(chan struct{}, 1)
	if exec.WallTimeLimit > 0 {
		b.deadlineMillis.Store(time.Now().Add(exec.WallTimeLimit).UnixMilli())
	}
}

// Result returns the Result this monitor owns. It is read-only to callers
// until AwaitResult returns (getters called earlier observe UNSET).
func (b *Base) Result() *sandbox2.Result {
	return &b.result
}

// Finish marks the Result final and unblocks every AwaitResult call. A
// monitor's wait loop calls this exactly once, right before returning.
func (b *Base) Finish() {
	close(b.done)
}

// AwaitResult blocks until the monitor loop has finished and returns the
// (now terminal) Result. Calling it multiple times is safe and returns
// the same Result.
func (b *Base) AwaitResult() *sandbox2.Result {
	<-b.done
	return &b.result
}

// Kill is cooperative: it flips the external-kill flag and wakes the loop,
// which SIGKILLs the sandboxee and reaps it on its own schedule. Calling
// it multiple times is a no-op after the first.
func (b *Base) Kill() {
	b.externalKillRequest.set()
	b.NotifyMonitor()
}

// DumpStack requests an in-band stack dump via PTRACE_INTERRUPT on the
// next loop iteration.
func (b *Base) DumpStack() {
	b.dumpStackRequest.set()
	b.NotifyMonitor()
}

// ReportNetworkViolation is called by an external network-proxy helper to
// flag this run as a network-policy violation.
func (b *Base) ReportNetworkViolation(msg string) {
	b.netViolationMsg.Store(msg)
	b.networkViolation.set()
	b.NotifyMonitor()
}

// SetWallTimeLimit rewrites the deadline. Zero means "no limit."
func (b *Base) SetWallTimeLimit(d time.Duration) {
	if d <= 0 {
		b.deadlineMillis.Store(0)
		return
	}
	b.deadlineMillis.Store(time.Now().Add(d).UnixMilli())
}

// DeadlineExceeded reports whether the current deadline (if any) has
// passed.
func (b *Base) DeadlineExceeded() bool {
	ms := b.deadlineMillis.Load()
	return ms != 0 && time.Now().UnixMilli() >= ms
}

// TestAndClearExternalKill consumes the external-kill edge.
func (b *Base) TestAndClearExternalKill() bool { return b.externalKillRequest.testAndClear() }

// TestAndClearDumpStack consumes the dump-stack edge.
func (b *Base) TestAndClearDumpStack() bool { return b.dumpStackRequest.testAndClear() }

// TestAndClearNetworkViolation consumes the network-violation edge,
// returning the message the proxy attached (if any).
func (b *Base) TestAndClearNetworkViolation() (bool, string) {
	fired := b.networkViolation.testAndClear()
	if !fired {
		return false, ""
	}
	msg, _ := b.netViolationMsg.Load().(string)
	return true, msg
}

// NotifyMonitor wakes the loop out of its poll sleep. Non-blocking: if the
// loop hasn't drained the previous wake yet, this is a no-op, since the
// loop will observe every flag on its next iteration regardless.
func (b *Base) NotifyMonitor() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Wake exposes the wake channel for the concrete monitor's select loop.
func (b *Base) Wake() <-chan struct{} {
	return b.wake
}

// ReadProcMaps reads the full /proc/<pid>/maps text, the form attached to
// a terminal Result and consulted by the symbolizer.
func ReadProcMaps(pid int) (string, error) {
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// GetStackTrace starts a new unwind helper for each call and asks it to unwind
// pid from the given register snapshot, up to maxFrames. The helper is
// handed a fresh /proc/<pid>/mem fd over SCM_RIGHTS rather than being
// trusted with ptrace access of its own.
func (b *Base) GetStackTrace(pid int, sp, ip, fp uint64, maxFrames int) ([]string, error) {
	if b.Executor != nil && b.Executor.LibunwindSandboxForPid != 0 {
		// This run IS the unwinder helper for another sandbox; dumping
		// its own stack here would unwind the unwinder.
		return nil, nil
	}

	mem, err := os.Open(fmt.Sprintf("/proc/%d/mem", pid))
	if err != nil {
		return nil, fmt.Errorf("monitorbase: open mem: %w", err)
	}
	defer mem.Close()

	client, err := unwindhelper.Start()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	res, err := client.Unwind(unwindhelper.UnwindSetup{
		Pid: pid, SP: sp, IP: ip, FP: fp, DefaultMaxFrames: maxFrames,
	}, int(mem.Fd()))
	if err != nil {
		return nil, err
	}
	return res.Stacktrace, nil
}

// ShouldCollectStackTrace consults the policy's per-reason flags for the
// given final status.
func (b *Base) ShouldCollectStackTrace(status sandbox2.Status) bool {
	if b.Policy == nil {
		return false
	}
	switch status {
	case sandbox2.StatusSignaled:
		return b.Policy.CollectStackTraceOnSignal
	case sandbox2.StatusTimeout:
		return b.Policy.CollectStackTraceOnTimeout
	case sandbox2.StatusExternalKill:
		return b.Policy.CollectStackTraceOnKill
	case sandbox2.StatusOK:
		return b.Policy.CollectStackTraceOnExit
	case sandbox2.StatusViolation:
		return b.Policy.CollectStackTraceOnViolation
	default:
		return false
	}
}

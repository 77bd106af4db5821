package ptracemonitor

import (
	"os"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/omrigot/fastbox/internal/corelog"
	"github.com/omrigot/fastbox/sandbox2"
	"github.com/omrigot/fastbox/sandbox2/monitorbase"
	"github.com/omrigot/fastbox/sandbox2/policy"
)

// newTestMonitor builds a Monitor wired against a synthetic process
// descriptor rather than a real fork, the way every test in this file
// drives eventExited/eventSignaled/recordFinalByPriority directly against
// fabricated pids and wait statuses.
func newTestMonitor(mainPid int) *Monitor {
	base := &monitorbase.Base{}
	base.Init(&sandbox2.Executor{}, &policy.Policy{}, sandbox2.NopNotify{}, corelog.New("test"))
	m := New(base, true)
	m.process = sandbox2.Process{MainPid: mainPid}
	return m
}

// exitedStatus builds the WaitStatus encoding the vendored x/sys/unix
// package documents for WIFEXITED: low 7 bits zero, exit code in the next
// byte up.
func exitedStatus(code int) unix.WaitStatus {
	return unix.WaitStatus(code << 8)
}

// signaledStatus builds the WaitStatus encoding for WIFSIGNALED: the
// signal number occupies the low 7 bits, distinct from both 0 (exited)
// and 0x7F (stopped).
func signaledStatus(sig unix.Signal) unix.WaitStatus {
	return unix.WaitStatus(int(sig) & 0x7f)
}

func TestEventExited_MainPidOK(t *testing.T) {
	m := newTestMonitor(1234)
	m.execved = true
	done := m.eventExited(1234, exitedStatus(0), unix.Rusage{})
	if !done {
		t.Fatal("main pid exiting should terminate the loop")
	}
	if m.Result().FinalStatus() != sandbox2.StatusOK {
		t.Fatalf("status = %v, want StatusOK", m.Result().FinalStatus())
	}
	if m.Result().ReasonCode() != 0 {
		t.Fatalf("exit code = %d, want 0", m.Result().ReasonCode())
	}
}

func TestEventExited_NonMainPidDoesNotTerminate(t *testing.T) {
	m := newTestMonitor(1234)
	m.execved = true
	done := m.eventExited(5678, exitedStatus(0), unix.Rusage{})
	if done {
		t.Fatal("a sibling thread exiting should not end the loop")
	}
	if m.Result().FinalStatus() != sandbox2.StatusUnset {
		t.Fatalf("status = %v, want StatusUnset", m.Result().FinalStatus())
	}
}

func TestEventExited_BeforeExecveIsSetupError(t *testing.T) {
	m := newTestMonitor(1234)
	m.eventExited(1234, exitedStatus(1), unix.Rusage{})
	if m.Result().FinalStatus() != sandbox2.StatusSetupError {
		t.Fatalf("status = %v, want StatusSetupError", m.Result().FinalStatus())
	}
}

func TestEventSignaled_RecordsSignal(t *testing.T) {
	m := newTestMonitor(1234)
	m.eventSignaled(1234, signaledStatus(unix.SIGSEGV), unix.Rusage{})
	if m.Result().FinalStatus() != sandbox2.StatusSignaled {
		t.Fatalf("status = %v, want StatusSignaled", m.Result().FinalStatus())
	}
	if m.Result().ReasonCode() != int(unix.SIGSEGV) {
		t.Fatalf("reason code = %d, want SIGSEGV", m.Result().ReasonCode())
	}
}

func TestRecordFinalByPriority_ExternalKillBeatsSignal(t *testing.T) {
	m := newTestMonitor(1234)
	m.externalKill = true
	m.recordFinalByPriority(int(unix.SIGKILL))
	if m.Result().FinalStatus() != sandbox2.StatusExternalKill {
		t.Fatalf("status = %v, want StatusExternalKill", m.Result().FinalStatus())
	}
}

// TestExternalKill_StickyAcrossEdgeConsumption guards against the bug
// where loop()'s own TestAndClearExternalKill (to decide whether to send
// SIGKILL) and recordFinalByPriority's attribution check consumed the
// same one-shot edge: by the time the async kill was actually reaped on
// a later iteration, the edge was already false and the result silently
// degraded to SIGNALED(9). externalKill must still read true here even
// after Base's own edge has been cleared out from under it.
func TestExternalKill_StickyAcrossEdgeConsumption(t *testing.T) {
	m := newTestMonitor(1234)
	m.Kill()
	if !m.TestAndClearExternalKill() {
		t.Fatal("expected the one-shot edge to be set after Kill()")
	}
	m.externalKill = true // what loop() does upon observing that edge

	if m.TestAndClearExternalKill() {
		t.Fatal("edge should already be consumed")
	}
	m.recordFinalByPriority(int(unix.SIGKILL))
	if m.Result().FinalStatus() != sandbox2.StatusExternalKill {
		t.Fatalf("status = %v, want StatusExternalKill even though the edge was already consumed", m.Result().FinalStatus())
	}
}

func TestRecordFinalByPriority_TimeoutBeatsPlainSignal(t *testing.T) {
	m := newTestMonitor(1234)
	m.timedOut = true
	m.recordFinalByPriority(int(unix.SIGKILL))
	if m.Result().FinalStatus() != sandbox2.StatusTimeout {
		t.Fatalf("status = %v, want StatusTimeout", m.Result().FinalStatus())
	}
}

func TestRecordFinalByPriority_SIGSYSIsViolation(t *testing.T) {
	m := newTestMonitor(1234)
	m.recordFinalByPriority(int(unix.SIGSYS))
	if m.Result().FinalStatus() != sandbox2.StatusViolation {
		t.Fatalf("status = %v, want StatusViolation", m.Result().FinalStatus())
	}
}

func TestListTasks_IncludesSelf(t *testing.T) {
	tasks, err := listTasks(os.Getpid())
	if err != nil {
		t.Fatalf("listTasks(self): %v", err)
	}
	found := false
	for _, tid := range tasks {
		if tid == os.Getpid() {
			found = true
		}
	}
	if !found {
		t.Fatalf("listTasks(%d) = %v, want it to include the main thread", os.Getpid(), tasks)
	}
}

func TestExplicitlyTraced(t *testing.T) {
	m := newTestMonitor(1234)
	m.Policy.TracedSyscalls = []string{"openat", "connect"}
	if !m.explicitlyTraced("openat") {
		t.Fatal("openat should be explicitly traced")
	}
	if m.explicitlyTraced("execve") {
		t.Fatal("execve was not listed")
	}
}

// TestNew_WaiterUnsetUntilStart documents that New no longer wires a
// pidwaiter.Waiter eagerly: the sandboxee (and the Waiter built around
// its pid) only exist once RunAsync's locked goroutine calls
// Executor.Start, which is also the thread wait4 with WNOTHREAD must run
// from.
func TestNew_WaiterUnsetUntilStart(t *testing.T) {
	base := &monitorbase.Base{}
	base.Init(&sandbox2.Executor{}, &policy.Policy{}, sandbox2.NopNotify{}, corelog.New("test"))
	m := New(base, true)
	if m.waiter != nil {
		t.Fatal("New should not wire a pidwaiter.Waiter before RunAsync starts the sandboxee")
	}
}

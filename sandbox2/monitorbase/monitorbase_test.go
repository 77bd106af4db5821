package monitorbase

import (
	"os"
	"testing"
	"time"

	"github.com/omrigot/fastbox/internal/corelog"
	"github.com/omrigot/fastbox/sandbox2"
	"github.com/omrigot/fastbox/sandbox2/policy"
)

func newTestBase() *Base {
	b := &Base{}
	b.Init(&sandbox2.Executor{}, &policy.Policy{}, sandbox2.NopNotify{}, corelog.New("test"))
	return b
}

func TestFlag_TestAndClearIsEdgeTriggered(t *testing.T) {
	b := newTestBase()
	if b.TestAndClearExternalKill() {
		t.Fatal("unset flag should not fire")
	}
	b.Kill()
	if !b.TestAndClearExternalKill() {
		t.Fatal("flag should fire exactly once after Kill()")
	}
	if b.TestAndClearExternalKill() {
		t.Fatal("flag should not fire a second time")
	}
}

func TestDeadlineExceeded(t *testing.T) {
	b := newTestBase()
	if b.DeadlineExceeded() {
		t.Fatal("zero deadline should never be exceeded")
	}
	b.SetWallTimeLimit(10 * time.Millisecond)
	if b.DeadlineExceeded() {
		t.Fatal("deadline just set should not be exceeded yet")
	}
	time.Sleep(20 * time.Millisecond)
	if !b.DeadlineExceeded() {
		t.Fatal("deadline should be exceeded after it has passed")
	}
	b.SetWallTimeLimit(0)
	if b.DeadlineExceeded() {
		t.Fatal("resetting to 0 should clear the deadline")
	}
}

func TestReportNetworkViolation(t *testing.T) {
	b := newTestBase()
	b.ReportNetworkViolation("connect to 10.0.0.1 denied")
	fired, msg := b.TestAndClearNetworkViolation()
	if !fired {
		t.Fatal("network violation should fire")
	}
	if msg != "connect to 10.0.0.1 denied" {
		t.Fatalf("msg = %q", msg)
	}
	if fired2, _ := b.TestAndClearNetworkViolation(); fired2 {
		t.Fatal("should not fire twice")
	}
}

func TestAwaitResult_BlocksUntilFinish(t *testing.T) {
	b := newTestBase()
	done := make(chan struct{})
	go func() {
		b.AwaitResult()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("AwaitResult returned before Finish")
	case <-time.After(10 * time.Millisecond):
	}
	b.Result().SetOK(0)
	b.Finish()
	<-done
}

func TestShouldCollectStackTrace(t *testing.T) {
	b := &Base{}
	b.Init(&sandbox2.Executor{}, &policy.Policy{CollectStackTraceOnViolation: true}, sandbox2.NopNotify{}, corelog.New("test"))
	if !b.ShouldCollectStackTrace(sandbox2.StatusViolation) {
		t.Fatal("violation stack traces should be enabled")
	}
	if b.ShouldCollectStackTrace(sandbox2.StatusSignaled) {
		t.Fatal("signal stack traces were not enabled")
	}
}

func TestReadProcMaps(t *testing.T) {
	maps, err := ReadProcMaps(os.Getpid())
	if err != nil {
		t.Fatalf("ReadProcMaps(self): %v", err)
	}
	if len(maps) == 0 {
		t.Fatal("expected non-empty /proc/self/maps contents")
	}
}

func TestReadProcMaps_NoSuchProcess(t *testing.T) {
	const improbablePid = 1<<30 - 1
	if _, err := ReadProcMaps(improbablePid); err == nil {
		t.Fatal("expected an error reading maps for a nonexistent pid")
	}
}

package ptracemonitor

import (
	"time"

	"github.com/omrigot/fastbox/internal/corelog"
	"github.com/omrigot/fastbox/sandbox2"
	"github.com/omrigot/fastbox/sandbox2/monitorbase"
	"github.com/omrigot/fastbox/sandbox2/policy"
)

// Sandbox is the top-level handle a caller holds for one sandboxed run. It
// starts the sandboxee, builds the Monitor that attaches to it, and
// exposes the capability set external code needs while the run is in
// flight: kill it, interrupt it for a stack dump, flag a network
// violation, or push its deadline out.
type Sandbox struct {
	Executor *sandbox2.Executor
	Policy   *policy.Policy
	Notify   sandbox2.Notify
	Log      *corelog.Logger

	mon *Monitor
}

// Run starts the sandboxee and blocks until the monitor produces a
// terminal Result.
func (s *Sandbox) Run() (*sandbox2.Result, error) {
	<-s.RunAsync()
	return s.mon.AwaitResult(), nil
}

// RunAsync starts the sandboxee and the monitor's event loop without
// blocking; the returned channel closes once attach has finished (not
// once the run is complete — use AwaitResult for that).
func (s *Sandbox) RunAsync() <-chan struct{} {
	if s.Log == nil {
		s.Log = corelog.New("sandbox2")
	}
	if s.Notify == nil {
		s.Notify = sandbox2.NopNotify{}
	}

	base := &monitorbase.Base{}
	base.Init(s.Executor, s.Policy, s.Notify, s.Log)
	s.mon = New(base, !s.Executor.EnableSandboxingPreExecve)
	return s.mon.RunAsync()
}

// AwaitResult blocks for the terminal Result of a run started with
// RunAsync.
func (s *Sandbox) AwaitResult() *sandbox2.Result {
	return s.mon.AwaitResult()
}

// Kill requests an immediate, cooperative SIGKILL of the sandboxee.
func (s *Sandbox) Kill() {
	if s.mon != nil {
		s.mon.Kill()
	}
}

// DumpStack requests an in-band stack capture on the next loop iteration.
func (s *Sandbox) DumpStack() {
	if s.mon != nil {
		s.mon.DumpStack()
	}
}

// ReportNetworkViolation flags this run as a network-policy violation.
func (s *Sandbox) ReportNetworkViolation(msg string) {
	if s.mon != nil {
		s.mon.ReportNetworkViolation(msg)
	}
}

// SetWallTimeLimit rewrites the deadline for an already-running sandboxee.
func (s *Sandbox) SetWallTimeLimit(d time.Duration) {
	if s.mon != nil {
		s.mon.SetWallTimeLimit(d)
	}
}

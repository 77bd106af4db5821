package sandbox2

import "github.com/omrigot/fastbox/sandbox2/syscallrec"

// TraceAction is the verdict Notify.EventSyscallTrace returns for a traced
// syscall.
type TraceAction int

const (
	// Allow continues the syscall immediately.
	Allow TraceAction = iota
	// Deny bans the syscall as a policy violation.
	Deny
	// InspectAfterReturn lets the syscall run and calls
	// EventSyscallReturn once its syscall-exit-stop arrives.
	InspectAfterReturn
)

// Notify is the set of user hooks the monitor calls as it observes the
// sandboxee. Implementations are borrowed for the monitor's lifetime and
// must not block; the monitor's single wait loop is stalled while they run.
type Notify interface {
	// EventSyscallTrace is called on every seccomp trace-stop.
	EventSyscallTrace(call syscallrec.Call) TraceAction
	// EventSyscallReturn is called once for every call where
	// EventSyscallTrace returned InspectAfterReturn, carrying the
	// syscall's return value.
	EventSyscallReturn(call syscallrec.Call, returnValue int64)
	// EventSyscallViolation is called when a syscall is denied, either
	// by Notify itself or by policy.
	EventSyscallViolation(call syscallrec.Call, reason ViolationReason)
	// EventSignal is called on every regular (non-seccomp) signal
	// delivery stop.
	EventSignal(pid int, signo int)
}

// NopNotify implements Notify by allowing every syscall and ignoring every
// other event; useful as an embeddable default for callers who only care
// about a subset of hooks.
type NopNotify struct{}

func (NopNotify) EventSyscallTrace(syscallrec.Call) TraceAction               { return Allow }
func (NopNotify) EventSyscallReturn(syscallrec.Call, int64)                  {}
func (NopNotify) EventSyscallViolation(syscallrec.Call, ViolationReason)     {}
func (NopNotify) EventSignal(int, int)                                      {}

// Package policy compiles an allow/trace syscall list into the seccomp
// filter the sandboxee installs on itself, and carries the handful of
// non-BPF flags the monitor consults when deciding how to react to a
// given Result.
package policy

import (
	"github.com/omrigot/fastbox/pkg/seccomp"
	"github.com/omrigot/fastbox/pkg/seccomp/libseccomp"
)

// Policy is a compiled syscall policy plus the monitor-facing flags that
// don't belong in the BPF program itself.
type Policy struct {
	// AllowedSyscalls are let through at the BPF layer with no trace
	// overhead at all.
	AllowedSyscalls []string
	// TracedSyscalls are explicitly traced (as opposed to falling
	// through to the default action, which is also trace); kept
	// distinct so a policy author can tell "explicitly considered" from
	// "caught by the default."
	TracedSyscalls []string

	// CollectStackTraceOnSignal/Timeout/Kill/Exit/Violation gate whether
	// MonitorBase bothers invoking the unwinder for each final status.
	CollectStackTraceOnSignal    bool
	CollectStackTraceOnTimeout   bool
	CollectStackTraceOnKill      bool
	CollectStackTraceOnExit      bool
	CollectStackTraceOnViolation bool

	// DangerDangerPermitAll bypasses all syscall denial; an explicit,
	// loudly-named escape hatch, never enabled implicitly.
	DangerDangerPermitAll bool
}

// Build compiles the allow/trace lists into an installable BPF filter.
// Every syscall not named in AllowedSyscalls or TracedSyscalls falls
// through to ActionTrace with archReturnCode as its return data;
// TracedSyscalls get ActionTrace with MsgHandle (see libseccomp.Builder).
func (p *Policy) Build(archReturnCode int16) (seccomp.Filter, error) {
	b := libseccomp.Builder{
		Allow:   p.AllowedSyscalls,
		Trace:   p.TracedSyscalls,
		Default: seccomp.ActionTrace.WithReturnCode(archReturnCode),
	}
	return b.Build()
}

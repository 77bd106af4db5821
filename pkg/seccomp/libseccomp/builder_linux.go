package libseccomp

import (
	"syscall"

	"github.com/omrigot/fastbox/pkg/seccomp"

	libseccomp "github.com/elastic/go-seccomp-bpf"
	"golang.org/x/sys/unix"
)

// Builder assembles a BPF program from an allow list and a trace list.
// Syscalls not named in either fall through to Default.
type Builder struct {
	Allow, Trace []string
	Default      seccomp.Action
}

// Build compiles the rule set into an installable Filter.
func (b *Builder) Build() (seccomp.Filter, error) {
	var rules []libseccomp.SyscallRule
	if len(b.Allow) > 0 {
		rules = append(rules, libseccomp.SyscallRule{
			Names:  b.Allow,
			Action: libseccomp.ActionAllow,
		})
	}
	if len(b.Trace) > 0 {
		rules = append(rules, libseccomp.SyscallRule{
			Names:  b.Trace,
			Action: ToSeccompAction(seccomp.ActionTrace.WithReturnCode(seccomp.MsgHandle)),
		})
	}

	f := libseccomp.Filter{
		NoNewPrivs:    false,
		Flag:          libseccomp.FilterFlagTSync,
		DefaultAction: ToSeccompAction(b.Default),
		Syscalls:      rules,
	}
	prog, err := f.Assemble()
	if err != nil {
		return nil, err
	}
	return toFilter(prog), nil
}

// toFilter re-types the library's program into this package's Filter; the
// two sock_filter layouts are identical, only the named type differs.
func toFilter(prog []unix.SockFilter) seccomp.Filter {
	out := make(seccomp.Filter, len(prog))
	for i, f := range prog {
		out[i] = syscall.SockFilter{Code: f.Code, Jt: f.Jt, Jf: f.Jf, K: f.K}
	}
	return out
}

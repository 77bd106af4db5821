// Package syscallrec holds the immutable, architecture-tagged record of a
// single traced syscall, plus a pretty-printer for diagnostics and
// violation logging.
package syscallrec

import (
	"fmt"
	"strings"

	"github.com/omrigot/fastbox/pkg/seccomp/libseccomp"
	"github.com/omrigot/fastbox/sandbox2/regs"
)

// Arch is an audit-arch architecture tag.
type Arch uint32

// Known architecture tags. These are the AUDIT_ARCH constants the kernel
// reports to seccomp BPF programs in seccomp_data.arch, not the host's
// runtime.GOARCH.
const (
	ArchUnknown Arch = 0
	ArchX8664   Arch = 0xc000003e
	ArchAarch64 Arch = 0xc00000b7
	ArchArm     Arch = 0x40000028
	ArchPPC64LE Arch = 0xc0000015
)

// Valid reports whether a is one of the known architecture tags. An event
// message outside this range is a stale exit-status race, not a real arch
// id, and must be ignored rather than interpreted.
func (a Arch) Valid() bool {
	switch a {
	case ArchX8664, ArchAarch64, ArchArm, ArchPPC64LE:
		return true
	default:
		return false
	}
}

func (a Arch) String() string {
	switch a {
	case ArchX8664:
		return "x86_64"
	case ArchAarch64:
		return "aarch64"
	case ArchArm:
		return "arm"
	case ArchPPC64LE:
		return "ppc64le"
	default:
		return fmt.Sprintf("unknown(0x%x)", uint32(a))
	}
}

// HostArch is the architecture tag of the host this binary was built for.
// The ptrace monitor's seccomp-stop handler tags every Call it records
// with this value.
const HostArch = hostArch

// Call is an immutable snapshot of one traced syscall.
type Call struct {
	Arch Arch
	Nr   uint
	Args [6]uint64
	Pid  int
	SP   uint64
	IP   uint64
}

// FromRegs packages the current register file of r into a Call tagged with
// the given architecture.
func FromRegs(r *regs.Regs, arch Arch) Call {
	var args [6]uint64
	for i := range args {
		args[i] = r.Arg(i)
	}
	return Call{
		Arch: arch,
		Nr:   r.SyscallNo(),
		Args: args,
		Pid:  r.Pid,
		SP:   r.SP(),
		IP:   r.IP(),
	}
}

// Name resolves the syscall number to its name in the host's syscall
// table, whatever the call's Arch, falling back to the numeric form if the
// table lookup fails.
func (c Call) Name() string {
	name, err := libseccomp.ToSyscallName(c.Nr)
	if err != nil {
		return fmt.Sprintf("syscall_%d", c.Nr)
	}
	return name
}

// String renders the call as
// "name(0xarg0, 0xarg1, ...) [pid=P arch=A ip=0x... sp=0x...]",
// the form logged on violations and in debug traces.
func (c Call) String() string {
	var sb strings.Builder
	sb.WriteString(c.Name())
	sb.WriteByte('(')
	for i, a := range c.Args {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "0x%x", a)
	}
	sb.WriteByte(')')
	fmt.Fprintf(&sb, " [pid=%d arch=%s ip=0x%x sp=0x%x]", c.Pid, c.Arch, c.IP, c.SP)
	return sb.String()
}

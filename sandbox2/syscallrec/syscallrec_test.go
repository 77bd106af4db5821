package syscallrec

import (
	"strings"
	"testing"
)

func TestArchValid(t *testing.T) {
	for _, a := range []Arch{ArchX8664, ArchAarch64, ArchArm, ArchPPC64LE} {
		if !a.Valid() {
			t.Errorf("%v should be valid", a)
		}
	}
	if Arch(0x1234).Valid() {
		t.Error("garbage arch tag should not be valid")
	}
}

func TestCallString(t *testing.T) {
	c := Call{Arch: ArchX8664, Nr: 0, Pid: 42, Args: [6]uint64{3, 0x1000, 10}}
	s := c.String()
	if !strings.Contains(s, "pid=42") {
		t.Errorf("expected pid in output, got %q", s)
	}
	if !strings.Contains(s, "0x3") {
		t.Errorf("expected first arg rendered, got %q", s)
	}
}

func TestHostArchIsValid(t *testing.T) {
	if !HostArch.Valid() {
		t.Fatal("HostArch must be one of the known architecture tags")
	}
}

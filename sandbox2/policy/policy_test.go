package policy

import "testing"

func TestBuild_NonEmptyFilter(t *testing.T) {
	p := &Policy{
		AllowedSyscalls: []string{"read", "write", "exit", "exit_group"},
		TracedSyscalls:  []string{"openat", "connect"},
	}
	filter, err := p.Build(2)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(filter) == 0 {
		t.Fatal("expected a non-empty compiled BPF program")
	}
}

func TestBuild_EmptyPolicyStillCompiles(t *testing.T) {
	p := &Policy{}
	if _, err := p.Build(2); err != nil {
		t.Fatalf("Build with no rules: %v", err)
	}
}

func TestBuild_UnknownSyscallNameFails(t *testing.T) {
	p := &Policy{AllowedSyscalls: []string{"definitely_not_a_real_syscall_name"}}
	if _, err := p.Build(2); err == nil {
		t.Fatal("expected an error building a filter with an unknown syscall name")
	}
}

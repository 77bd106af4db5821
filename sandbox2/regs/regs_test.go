package regs

import (
	"errors"
	"os"
	"os/exec"
	"testing"
)

func TestFetch_ProcessGone(t *testing.T) {
	cmd := exec.Command("/bin/true")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start /bin/true: %v", err)
	}
	pid := cmd.Process.Pid
	cmd.Wait()

	r := New(pid)
	err := r.Fetch()
	if err == nil {
		t.Fatal("Fetch on a reaped pid should fail")
	}
	if !errors.Is(err, ErrProcessGone) {
		t.Fatalf("Fetch err = %v, want ErrProcessGone", err)
	}
}

func TestNew_PidField(t *testing.T) {
	r := New(os.Getpid())
	if r.Pid != os.Getpid() {
		t.Fatalf("Pid = %d, want %d", r.Pid, os.Getpid())
	}
}

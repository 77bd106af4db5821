package pidwaiter

import (
	"errors"
	"os/exec"
	"runtime"
	"syscall"
	"testing"
	"time"
)

// TestWaiter_PriorityPidFirst spawns a storm of short-lived noisy children
// alongside one priority child, and asserts the priority PID's exit is
// observed within the poll budget, with no more events ahead of it than
// there are noisy children. The goroutine is pinned to its thread because
// the Waiter only sees children of the calling thread.
func TestWaiter_PriorityPidFirst(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	priority := exec.Command("/bin/sleep", "0.2")
	if err := priority.Start(); err != nil {
		t.Fatal(err)
	}

	var noisy []*exec.Cmd
	for i := 0; i < 20; i++ {
		c := exec.Command("/bin/true")
		if err := c.Start(); err != nil {
			t.Fatal(err)
		}
		noisy = append(noisy, c)
	}

	w := New(priority.Process.Pid)

	var seenPriority bool
	var reapedBeforePriority int
	for i := 0; i < 64; i++ {
		ev := w.Wait()
		if ev.Pid == 0 {
			time.Sleep(20 * time.Millisecond)
			continue
		}
		if ev.Pid == priority.Process.Pid {
			seenPriority = true
			break
		}
		reapedBeforePriority++
	}

	if !seenPriority {
		t.Fatal("priority pid never observed")
	}
	if reapedBeforePriority > len(noisy) {
		t.Fatalf("reaped more noisy children than exist before priority pid: %d", reapedBeforePriority)
	}

	for _, c := range noisy {
		c.Wait()
	}
	priority.Wait()
}

func TestWaiter_NoChildrenReportsECHILD(t *testing.T) {
	c := exec.Command("/bin/true")
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	c.Wait()

	w := New(0)
	ev := w.Wait()
	if ev.Pid != -1 || !errors.Is(ev.WaitErr, syscall.ECHILD) {
		t.Fatalf("expected Pid -1 with ECHILD when no children remain, got %+v", ev)
	}
}

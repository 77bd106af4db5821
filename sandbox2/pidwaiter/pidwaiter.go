// Package pidwaiter provides a fair, non-starving wait4 reaper over a
// thread group. Without it a busy, syscall-heavy child can monopolize
// waitpid events under kernel scheduling bias, starving out the exit of
// the one PID the caller actually cares about.
package pidwaiter

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// Event is one ready child, paired with its raw wait status and rusage.
type Event struct {
	Pid     int
	Status  unix.WaitStatus
	RUsage  unix.Rusage
	WaitErr error
}

// Waiter drains a burst of ready children per refill and serves them FIFO,
// polling a priority PID first on every refill so it is never starved out
// by noisy siblings.
type Waiter struct {
	priorityPid int
	queue       []Event
}

// New creates a Waiter that always checks priorityPid first on refill.
func New(priorityPid int) *Waiter {
	return &Waiter{priorityPid: priorityPid}
}

// Wait returns one ready event. A zero Event with WaitErr == nil and
// Pid == 0 means "no child ready right now." A negative Pid with WaitErr
// set means the last non-blocking wait4 failed.
func (w *Waiter) Wait() Event {
	if len(w.queue) == 0 {
		w.refill()
	}
	if len(w.queue) == 0 {
		return Event{}
	}
	ev := w.queue[0]
	w.queue = w.queue[1:]
	return ev
}

// refill polls the priority PID first, then drains every other ready child
// via repeated WNOHANG wait4 calls until the kernel reports none left.
func (w *Waiter) refill() {
	if w.priorityPid > 0 {
		if ev, ok := w.poll(w.priorityPid); ok {
			w.queue = append(w.queue, ev)
		}
	}
	for {
		ev, ok := w.poll(-1)
		if !ok {
			return
		}
		w.queue = append(w.queue, ev)
		if ev.WaitErr != nil {
			return
		}
	}
}

// waitFlags restricts reaping to children of the calling thread
// (WNOTHREAD, Go's spelling of __WNOTHREAD): each sandbox's monitor loop
// runs on its own runtime.LockOSThread-pinned goroutine, so without it one
// monitor's wait4(-1, ...) could reap another concurrently running
// sandbox's events out from under it.
const waitFlags = unix.WNOHANG | unix.WALL | unix.WUNTRACED | unix.WNOTHREAD

// poll issues one non-blocking wait4 for pid (-1 for "any child"). ok is
// false only when there is nothing to reap right now (wait4 returned 0).
// EINTR is retried here; any other failure returns ok true with Pid -1
// and the error in Event.WaitErr.
func (w *Waiter) poll(pid int) (Event, bool) {
	var (
		ws  unix.WaitStatus
		ru  unix.Rusage
		err error
	)
	got, err := unix.Wait4(pid, &ws, waitFlags, &ru)
	if err == syscall.EINTR {
		return w.poll(pid)
	}
	if err != nil {
		return Event{Pid: -1, WaitErr: err}, true
	}
	if got == 0 {
		return Event{}, false
	}
	return Event{Pid: got, Status: ws, RUsage: ru}, true
}

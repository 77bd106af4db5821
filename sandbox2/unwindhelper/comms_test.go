package unwindhelper

import (
	"testing"

	"github.com/omrigot/fastbox/pkg/unixsocket"
)

func TestComms_RoundTrip(t *testing.T) {
	a, b, err := unixsocket.NewSocketPair()
	if err != nil {
		t.Fatalf("NewSocketPair: %v", err)
	}
	defer a.Close()
	defer b.Close()

	ca := newComms(a)
	cb := newComms(b)

	setup := UnwindSetup{Pid: 42, SP: 0x7fff0000, IP: 0x400000, FP: 0x7fff0100, DefaultMaxFrames: 64}
	if err := ca.send(&setup, unixsocket.Msg{}); err != nil {
		t.Fatalf("send: %v", err)
	}

	var got UnwindSetup
	if _, err := cb.recv(&got); err != nil {
		t.Fatalf("recv: %v", err)
	}
	if got != setup {
		t.Fatalf("got %+v, want %+v", got, setup)
	}
}

func TestComms_RoundTrip_MultipleMessages(t *testing.T) {
	a, b, err := unixsocket.NewSocketPair()
	if err != nil {
		t.Fatalf("NewSocketPair: %v", err)
	}
	defer a.Close()
	defer b.Close()

	ca := newComms(a)
	cb := newComms(b)

	results := []UnwindResult{
		{OK: true, Stacktrace: []string{"main+0x10", "start+0x0"}},
		{OK: false, Error: "bad frame pointer"},
	}
	for _, want := range results {
		w := want
		if err := ca.send(&w, unixsocket.Msg{}); err != nil {
			t.Fatalf("send: %v", err)
		}
		var got UnwindResult
		if _, err := cb.recv(&got); err != nil {
			t.Fatalf("recv: %v", err)
		}
		if got.OK != want.OK || got.Error != want.Error || len(got.Stacktrace) != len(want.Stacktrace) {
			t.Fatalf("got %+v, want %+v", got, want)
		}
	}
}

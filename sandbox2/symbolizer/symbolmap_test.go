package symbolizer

import "testing"

func mapOf(entries ...entry) *SymbolMap {
	return &SymbolMap{entries: entries}
}

func TestGetSymbolAt_Exact(t *testing.T) {
	sm := mapOf(entry{addr: 0x1000, name: "foo"}, entry{addr: 0x2000, name: ""})
	if got := sm.GetSymbolAt(0x1000); got != "foo" {
		t.Fatalf("got %q", got)
	}
}

func TestGetSymbolAt_Offset(t *testing.T) {
	sm := mapOf(entry{addr: 0x1000, name: "foo"}, entry{addr: 0x2000, name: ""})
	if got := sm.GetSymbolAt(0x1010); got != "foo+0x10" {
		t.Fatalf("got %q", got)
	}
}

func TestGetSymbolAt_PastSentinel(t *testing.T) {
	sm := mapOf(entry{addr: 0x1000, name: "foo"}, entry{addr: 0x2000, name: ""})
	if got := sm.GetSymbolAt(0x2500); got != "" {
		t.Fatalf("expected empty string past the region sentinel, got %q", got)
	}
}

func TestGetSymbolAt_BeforeAnyEntry(t *testing.T) {
	sm := mapOf(entry{addr: 0x1000, name: "foo"})
	if got := sm.GetSymbolAt(0x500); got != "" {
		t.Fatalf("expected empty string before first entry, got %q", got)
	}
}

func TestGetSymbolAt_Empty(t *testing.T) {
	sm := &SymbolMap{}
	if got := sm.GetSymbolAt(0x1000); got != "" {
		t.Fatalf("got %q", got)
	}
}

func TestGetSymbolAt_NoCrossRegionBleed(t *testing.T) {
	// Two adjacent regions; the second region's gap before its first
	// real symbol must not resolve to the first region's tail symbol.
	sm := mapOf(
		entry{addr: 0x1000, name: "foo"},
		entry{addr: 0x2000, name: ""}, // end of region 1
		entry{addr: 0x3000, name: "bar"},
		entry{addr: 0x4000, name: ""}, // end of region 2
	)
	if got := sm.GetSymbolAt(0x2500); got != "" {
		t.Fatalf("expected no bleed into the gap between regions, got %q", got)
	}
}

func TestParseMapsLine(t *testing.T) {
	line := "7f1234500000-7f1234700000 r-xp 00001000 08:01 131080 /lib/x86_64-linux-gnu/libc.so.6"
	r, ok := parseMapsLine(line)
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	if r.start != 0x7f1234500000 || r.end != 0x7f1234700000 {
		t.Fatalf("unexpected range: %#x-%#x", r.start, r.end)
	}
	if !r.executable || !r.fileBacked || r.deleted {
		t.Fatalf("unexpected flags: %+v", r)
	}
	if r.pgoff != 0x1000 {
		t.Fatalf("unexpected pgoff: %#x", r.pgoff)
	}
}

func TestParseMapsLine_Deleted(t *testing.T) {
	line := "7f1234500000-7f1234700000 r-xp 00000000 08:01 131080 /tmp/foo (deleted)"
	r, ok := parseMapsLine(line)
	if !ok || !r.deleted {
		t.Fatalf("expected deleted region, got %+v ok=%v", r, ok)
	}
}

func TestDemangle_NonMangled(t *testing.T) {
	if got := Demangle("main"); got != "main" {
		t.Fatalf("got %q", got)
	}
}

func TestDemangle_NestedName(t *testing.T) {
	// _ZN3foo3barEv roughly mangles foo::bar()
	if got := Demangle("_ZN3foo3barEv"); got != "foo::bar" {
		t.Fatalf("got %q", got)
	}
}

func TestDemangle_Unparseable(t *testing.T) {
	if got := Demangle("_Zgarbage"); got != "_Zgarbage" {
		t.Fatalf("expected passthrough on unparseable input, got %q", got)
	}
}

package sandbox2

import (
	"sync"
	"testing"
)

func TestResult_FirstWriteWins(t *testing.T) {
	var r Result
	if !r.SetOK(0) {
		t.Fatal("first SetOK should apply")
	}
	if r.SetSignaled(9) {
		t.Fatal("second set should be dropped")
	}
	if r.FinalStatus() != StatusOK {
		t.Fatalf("status = %v, want StatusOK", r.FinalStatus())
	}
	if r.ReasonCode() != 0 {
		t.Fatalf("reason code = %d, want 0 (unchanged by the dropped SetSignaled)", r.ReasonCode())
	}
}

func TestResult_ConcurrentSetIsExclusive(t *testing.T) {
	var r Result
	var wg sync.WaitGroup
	applied := make([]bool, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			applied[i] = r.SetSignaled(i)
		}(i)
	}
	wg.Wait()

	count := 0
	for _, a := range applied {
		if a {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("exactly one SetSignaled call should have applied, got %d", count)
	}
	if r.FinalStatus() != StatusSignaled {
		t.Fatalf("status = %v, want StatusSignaled", r.FinalStatus())
	}
}

func TestResult_ViolationReasonOnlyRecordedOnFirstWrite(t *testing.T) {
	var r Result
	r.SetViolation(ViolationSyscall, 42)
	r.SetViolation(ViolationNetwork, 7)
	if r.ViolationReason() != ViolationSyscall {
		t.Fatalf("violation reason = %v, want ViolationSyscall (first write wins)", r.ViolationReason())
	}
	if r.ReasonCode() != 42 {
		t.Fatalf("reason code = %d, want 42", r.ReasonCode())
	}
}

func TestResult_SecondaryFieldsAreRepeatable(t *testing.T) {
	var r Result
	r.SetProgramName("a")
	r.SetProgramName("b")
	if got := r.ProgramName(); got != "b" {
		t.Fatalf("ProgramName() = %q, want %q (unlike status, these may be overwritten)", got, "b")
	}
}

func TestResult_StatusString(t *testing.T) {
	cases := map[Status]string{
		StatusUnset:    "UNSET",
		StatusOK:       "OK",
		StatusViolation: "VIOLATION",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Errorf("Status(%d).String() = %q, want %q", status, got, want)
		}
	}
}

// Command fastbox-run is the command-line front end for sandbox2: it
// forks and monitors a single program under the ptrace-based monitor,
// printing the terminal Result to stdout when the run finishes.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/omrigot/fastbox/internal/corelog"
	"github.com/omrigot/fastbox/pkg/forkexec"
	"github.com/omrigot/fastbox/pkg/rlimit"
	"github.com/omrigot/fastbox/sandbox2"
	"github.com/omrigot/fastbox/sandbox2/policy"
	"github.com/omrigot/fastbox/sandbox2/ptracemonitor"
)

func main() {
	var (
		timeLimit   = flag.Duration("time", 10*time.Second, "wall-clock time limit")
		cpuLimit    = flag.Uint64("cpu", 0, "CPU time limit in seconds (0 = unlimited)")
		memLimit    = flag.Uint64("mem", 0, "address-space limit in bytes (0 = unlimited)")
		allowList   = flag.String("allow", "", "comma-separated syscalls to allow with no trace overhead")
		traceList   = flag.String("trace", "", "comma-separated syscalls to explicitly trace")
		permitAll   = flag.Bool("danger-danger-permit-all", false, "bypass all syscall denial")
		showDetails = flag.Bool("v", false, "verbose monitor logging")
	)
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: fastbox-run [flags] -- program [args...]")
		os.Exit(2)
	}

	log := corelog.New("fastbox-run")
	log.ShowDetails = *showDetails

	pol := &policy.Policy{
		AllowedSyscalls:              splitCSV(*allowList),
		TracedSyscalls:               splitCSV(*traceList),
		CollectStackTraceOnSignal:    true,
		CollectStackTraceOnViolation: true,
		DangerDangerPermitAll:        *permitAll,
	}

	rl := rlimit.RLimits{CPU: *cpuLimit, AddressSpace: *memLimit}

	exec := &sandbox2.Executor{
		Runner: forkexec.Runner{
			Args:    args,
			Env:     os.Environ(),
			RLimits: rl.PrepareRLimit(),
		},
		WallTimeLimit: *timeLimit,
	}

	sb := &ptracemonitor.Sandbox{
		Executor: exec,
		Policy:   pol,
		Log:      log,
	}

	result, err := sb.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fastbox-run: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(result.String())
	if trace := result.StackTrace(); len(trace) > 0 {
		fmt.Println("stack trace:")
		for _, frame := range trace {
			fmt.Println("  " + frame)
		}
	}
	if result.FinalStatus() != sandbox2.StatusOK {
		os.Exit(1)
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

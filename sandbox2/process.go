package sandbox2

// Process is the pair of PIDs the monitor attaches to: an optional
// PID-namespace init and the main sandboxee. Once attached, both are
// ptrace-SEIZEd with PTRACE_O_EXITKILL, so monitor death is always fatal
// to the whole tree.
type Process struct {
	InitPid int
	MainPid int
}

// HasInit reports whether this run has a separate PID-namespace init task
// distinct from the main sandboxee.
func (p Process) HasInit() bool {
	return p.InitPid > 0
}

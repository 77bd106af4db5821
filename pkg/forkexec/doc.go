// Package forkexec launches a sandboxee: fork, apply rlimits, install a
// seccomp filter, and execve, without ever running Go code in the child
// past the clone syscall.
//
// The child is not ptrace(PTRACE_TRACEME)'d. A monitor attaches to it with
// PTRACE_SEIZE from Runner.SyncFunc, before Start releases the child to
// load its seccomp filter and execve; until a tracer is attached, any
// syscall the filter marks SECCOMP_RET_TRACE fails with ENOSYS, so the
// gap between clone and attach cannot be used to escape the policy.
package forkexec

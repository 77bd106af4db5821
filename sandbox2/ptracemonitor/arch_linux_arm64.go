package ptracemonitor

// execveSyscallNo is the aarch64 execve syscall number, used to recognize
// the sandboxee's startup execve before IsActivelyMonitoring flips true.
const execveSyscallNo = 221

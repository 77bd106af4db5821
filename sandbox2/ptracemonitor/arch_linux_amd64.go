package ptracemonitor

// execveSyscallNo is the x86_64 execve syscall number, used to recognize
// the sandboxee's startup execve before IsActivelyMonitoring flips true.
const execveSyscallNo = 59

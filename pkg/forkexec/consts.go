package forkexec

import (
	"golang.org/x/sys/unix"
)

// defines missing consts from the syscall package
const (
	SECCOMP_SET_MODE_FILTER   = 1
	SECCOMP_FILTER_FLAG_TSYNC = 1
)

var (
	// empty is a reusable terminated-empty-string pointer target, used by
	// execveat's path argument when execing through an already-open fd.
	empty = [...]byte{0}

	// dropCapHeader / dropCapData clear every capability set via capset(2).
	dropCapHeader = unix.CapUserHeader{
		Version: unix.LINUX_CAPABILITY_VERSION_3,
		Pid:     0,
	}
	dropCapData = unix.CapUserData{
		Effective:   0,
		Permitted:   0,
		Inheritable: 0,
	}
)

// Package unwindhelper isolates stack unwinding in a forked helper
// process whose only purpose is to read a victim's memory and frame
// pointers. Unwinding runs out-of-process because a sandboxee's memory
// cannot be trusted to contain a sane frame-pointer chain, and a helper
// crash must not take the monitor down with it.
package unwindhelper

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/omrigot/fastbox/pkg/unixsocket"
)

// HelperBinaryEnv names the environment variable a Client consults to find
// the unwind helper binary; if unset, Client falls back to "fastbox-unwind"
// on $PATH.
const HelperBinaryEnv = "FASTBOX_UNWIND_HELPER"

// Client is the monitor-side handle to one running unwind helper process.
type Client struct {
	cmd   *exec.Cmd
	comms *comms
}

// Start forks the unwind helper binary and connects a SOCK_SEQPACKET pair
// to it as fd 3.
func Start() (*Client, error) {
	local, remote, err := unixsocket.NewSocketPair()
	if err != nil {
		return nil, fmt.Errorf("unwindhelper: socketpair: %w", err)
	}

	remoteFile, err := remote.File()
	if err != nil {
		local.Close()
		remote.Close()
		return nil, fmt.Errorf("unwindhelper: dup remote fd: %w", err)
	}

	bin := os.Getenv(HelperBinaryEnv)
	if bin == "" {
		bin = "fastbox-unwind"
	}
	cmd := exec.Command(bin)
	cmd.ExtraFiles = []*os.File{remoteFile}
	cmd.Stderr = os.Stderr

	err = cmd.Start()
	remoteFile.Close()
	remote.Close()
	if err != nil {
		local.Close()
		return nil, fmt.Errorf("unwindhelper: start: %w", err)
	}

	return &Client{cmd: cmd, comms: newComms(local)}, nil
}

// Unwind asks the helper to unwind pid using the given register snapshot
// and an already-open /proc/<pid>/mem fd, which is handed over with
// SCM_RIGHTS so the helper never needs ptrace attach permissions of its
// own beyond what the fd already grants.
func (c *Client) Unwind(setup UnwindSetup, memFd int) (UnwindResult, error) {
	if err := c.comms.send(&setup, unixsocket.Msg{Fds: []int{memFd}}); err != nil {
		return UnwindResult{}, err
	}
	var res UnwindResult
	if _, err := c.comms.recv(&res); err != nil {
		return UnwindResult{}, err
	}
	if !res.OK {
		return res, fmt.Errorf("unwindhelper: %s", res.Error)
	}
	return res, nil
}

// Close shuts down the helper process.
func (c *Client) Close() error {
	c.comms.Close()
	if c.cmd.Process != nil {
		c.cmd.Process.Kill()
	}
	return c.cmd.Wait()
}

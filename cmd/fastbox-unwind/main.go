// Command fastbox-unwind is the forked helper process that performs
// frame-pointer stack unwinding against a traced sandboxee, isolated from
// the monitor so a crash or hang in the unwind logic can't take the
// monitor down with it.
package main

import (
	"log"

	"github.com/omrigot/fastbox/sandbox2/unwindhelper"
)

const requestSocketFd = 3

func main() {
	if err := unwindhelper.Serve(requestSocketFd); err != nil {
		log.Fatalf("fastbox-unwind: %v", err)
	}
}

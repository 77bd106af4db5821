package unwindhelper

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/omrigot/fastbox/pkg/unixsocket"
	"github.com/omrigot/fastbox/sandbox2/symbolizer"
)

// Serve runs the helper's request loop on fd, which must be the
// SOCK_SEQPACKET end the Client's Start() handed over as fd 3. It never
// returns except on a transport error, matching cmd/fastbox-unwind's use
// as a single-purpose process.
func Serve(fd int) error {
	sock, err := unixsocket.NewSocket(fd)
	if err != nil {
		return fmt.Errorf("unwindhelper: serve: %w", err)
	}
	c := newComms(sock)

	for {
		var setup UnwindSetup
		msg, err := c.recv(&setup)
		if err != nil {
			return err
		}
		res := handleSetup(setup, msg)
		if err := c.send(&res, unixsocket.Msg{}); err != nil {
			return err
		}
	}
}

func handleSetup(setup UnwindSetup, msg unixsocket.Msg) UnwindResult {
	if len(msg.Fds) != 1 {
		return UnwindResult{Error: "expected exactly one memory fd"}
	}
	memFile := os.NewFile(uintptr(msg.Fds[0]), "target-mem")
	defer memFile.Close()

	frames := unwindFramePointer(memFile, setup.FP, setup.IP, setup.DefaultMaxFrames)

	sm, err := symbolizer.LoadSymbolsMap(setup.Pid)
	if err != nil {
		// Unsymbolized addresses are still useful; degrade rather than fail.
		sm = nil
	}

	stack := make([]string, 0, len(frames))
	for _, ip := range frames {
		sym := ""
		if sm != nil {
			sym = sm.GetSymbolAt(ip)
		}
		stack = append(stack, fmt.Sprintf("%s(0x%x)", sym, ip))
	}
	return UnwindResult{OK: true, Stacktrace: stack}
}

// unwindFramePointer walks the classic (fp -> [fp], [fp+retOffset]) chain
// starting from the instruction pointer at the point of interest, reading
// memory through memFile (a /proc/<pid>/mem fd). It stops at maxFrames, a
// null frame pointer, or the first unreadable address.
func unwindFramePointer(memFile *os.File, fp, ip uint64, maxFrames int) []uint64 {
	if maxFrames <= 0 {
		return nil
	}
	frames := make([]uint64, 0, maxFrames)
	frames = append(frames, ip)

	for len(frames) < maxFrames && fp != 0 {
		savedFP, ok := readWord(memFile, fp)
		if !ok {
			break
		}
		retAddr, ok := readWord(memFile, fp+frameRetOffset)
		if !ok || retAddr == 0 {
			break
		}
		frames = append(frames, retAddr)
		if savedFP <= fp {
			// Not monotonically increasing: either the end of the chain
			// or a corrupted frame pointer; either way, stop.
			break
		}
		fp = savedFP
	}
	return frames
}

func readWord(f *os.File, addr uint64) (uint64, bool) {
	var buf [8]byte
	n, err := f.ReadAt(buf[:], int64(addr))
	if err != nil || n != 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(buf[:]), true
}

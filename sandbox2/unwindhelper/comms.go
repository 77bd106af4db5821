package unwindhelper

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/omrigot/fastbox/pkg/unixsocket"
)

const bufferSize = 16 << 10

var bufferPool = sync.Pool{
	New: func() interface{} { return make([]byte, bufferSize) },
}

// comms wraps a unixsocket.Socket with gob encode/decode, the same framing
// the rest of this module's IPC surfaces use: one gob value per sendmsg.
type comms struct {
	*unixsocket.Socket

	recvBuff bytes.Buffer
	decoder  *gob.Decoder

	sendBuff bytes.Buffer
	encoder  *gob.Encoder
}

func newComms(s *unixsocket.Socket) *comms {
	c := &comms{Socket: s}
	c.decoder = gob.NewDecoder(&c.recvBuff)
	c.encoder = gob.NewEncoder(&c.sendBuff)
	return c
}

func (c *comms) recv(e interface{}) (unixsocket.Msg, error) {
	buf := bufferPool.Get().([]byte)
	defer bufferPool.Put(buf)

	n, msg, err := c.Socket.RecvMsg(buf)
	if err != nil {
		return msg, fmt.Errorf("unwindhelper: recv: %w", err)
	}
	c.recvBuff.Reset()
	c.recvBuff.Write(buf[:n])

	if err := c.decoder.Decode(e); err != nil {
		return msg, fmt.Errorf("unwindhelper: decode: %w", err)
	}
	return msg, nil
}

func (c *comms) send(e interface{}, msg unixsocket.Msg) error {
	c.sendBuff.Reset()
	if err := c.encoder.Encode(e); err != nil {
		return fmt.Errorf("unwindhelper: encode: %w", err)
	}
	if err := c.Socket.SendMsg(c.sendBuff.Bytes(), msg); err != nil {
		return fmt.Errorf("unwindhelper: send: %w", err)
	}
	return nil
}

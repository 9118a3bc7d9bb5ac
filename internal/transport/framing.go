// Package transport implements the TCP wire-level endpoints: downstream
// NetworkParticipant connections and the upstream link to a parent
// MessageDirector, both framed as u16 little-endian length + payload.
// The two-state (length, then data) receive loop is modeled on
// NetworkClient's async_receive/receive_size/receive_data state machine
// from the original implementation, translated into a blocking
// goroutine-per-connection read loop instead of an async reactor.
package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxFrameLen bounds a single incoming frame to guard against a
// corrupt or hostile length prefix forcing an unbounded allocation.
const maxFrameLen = 8 << 20

// readFrame reads one length-prefixed frame: u16 length, then that many
// bytes of payload.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint16(lenBuf[:])
	if int(n) > maxFrameLen {
		return nil, fmt.Errorf("transport: frame length %d exceeds limit %d", n, maxFrameLen)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// writeFrame writes one length-prefixed frame. payload must fit in a
// uint16 length; the caller is responsible for that invariant since
// datagrams on this wire are always built within that bound.
func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > 0xFFFF {
		return fmt.Errorf("transport: payload length %d exceeds u16 frame limit", len(payload))
	}
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

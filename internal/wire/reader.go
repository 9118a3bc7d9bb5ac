package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrOverflow is returned whenever a read would run past the end of the
// datagram's buffer. It never causes a partial read: the reader's cursor
// is left at its pre-read position.
var ErrOverflow = errors.New("wire: read past end of datagram")

// Reader steps through a Datagram's bytes one typed value at a time.
// It never mutates the underlying buffer.
type Reader struct {
	buf    []byte
	offset int
}

// NewReader returns a Reader positioned at the start of dg.
func NewReader(dg *Datagram) *Reader {
	return &Reader{buf: dg.Bytes()}
}

// NewReaderAt returns a Reader positioned at the given byte offset.
func NewReaderAt(dg *Datagram, offset int) *Reader {
	return &Reader{buf: dg.Bytes(), offset: offset}
}

// Tell returns the reader's current offset.
func (r *Reader) Tell() int { return r.offset }

// Seek repositions the reader's cursor. It does not validate the offset
// against buffer length; an out-of-range offset surfaces as Overflow on
// the next read.
func (r *Reader) Seek(offset int) { r.offset = offset }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.offset }

func (r *Reader) checkLen(n int) error {
	if r.offset+n > len(r.buf) || n < 0 {
		return fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrOverflow, n, r.offset, len(r.buf))
	}
	return nil
}

func (r *Reader) ReadUint8() (uint8, error) {
	if err := r.checkLen(1); err != nil {
		return 0, err
	}
	v := r.buf[r.offset]
	r.offset++
	return v, nil
}

func (r *Reader) ReadUint16() (uint16, error) {
	if err := r.checkLen(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.offset:])
	r.offset += 2
	return v, nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	if err := r.checkLen(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.offset:])
	r.offset += 4
	return v, nil
}

func (r *Reader) ReadUint64() (uint64, error) {
	if err := r.checkLen(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.offset:])
	r.offset += 8
	return v, nil
}

// ReadChannel reads a 64-bit channel address.
func (r *Reader) ReadChannel() (uint64, error) { return r.ReadUint64() }

// ReadDoid reads a 32-bit distributed-object id.
func (r *Reader) ReadDoid() (uint32, error) { return r.ReadUint32() }

// ReadZone reads a 32-bit zone id.
func (r *Reader) ReadZone() (uint32, error) { return r.ReadUint32() }

// ReadString reads a length-prefixed string.
func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadBlob()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadBlob reads a length-prefixed byte string. The returned slice is a
// copy, safe to retain past the reader's lifetime.
func (r *Reader) ReadBlob() ([]byte, error) {
	start := r.offset
	n, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	if err := r.checkLen(int(n)); err != nil {
		r.offset = start
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.buf[r.offset:r.offset+int(n)])
	r.offset += int(n)
	return out, nil
}

// ReadDatagram reads a length-prefixed nested datagram.
func (r *Reader) ReadDatagram() (*Datagram, error) {
	b, err := r.ReadBlob()
	if err != nil {
		return nil, err
	}
	return NewFromBytes(b), nil
}

// ReadRaw reads exactly n raw bytes with no length prefix.
func (r *Reader) ReadRaw(n int) ([]byte, error) {
	if err := r.checkLen(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.buf[r.offset:r.offset+n])
	r.offset += n
	return out, nil
}

// PeekRecipientCount returns the datagram's recipient count without
// moving the cursor. The datagram must not be empty.
func (r *Reader) PeekRecipientCount() (uint8, error) {
	if len(r.buf) == 0 {
		return 0, fmt.Errorf("%w: cannot read header from empty datagram", ErrOverflow)
	}
	return r.buf[0], nil
}

// PeekSender returns the datagram's sender channel without moving the
// cursor. Valid only for server-headed datagrams (a sender follows the
// recipient list).
func (r *Reader) PeekSender() (uint64, error) {
	saved := r.offset
	defer func() { r.offset = saved }()

	count, err := r.PeekRecipientCount()
	if err != nil {
		return 0, err
	}
	r.offset = 1 + int(count)*8
	return r.ReadChannel()
}

// PeekMessageType returns the datagram's message type without moving the
// cursor. Valid for both server- and control-headed datagrams provided
// the caller accounts for whether a sender field precedes it.
func (r *Reader) PeekMessageType(hasSender bool) (uint16, error) {
	saved := r.offset
	defer func() { r.offset = saved }()

	count, err := r.PeekRecipientCount()
	if err != nil {
		return 0, err
	}
	r.offset = 1 + int(count)*8
	if hasSender {
		r.offset += 8
	}
	return r.ReadUint16()
}

// SeekPayload positions the cursor immediately past the recipient list
// (i.e. at offset 1 + count*8), matching DatagramIterator::seek_payload.
func (r *Reader) SeekPayload() error {
	count, err := r.PeekRecipientCount()
	if err != nil {
		return err
	}
	r.offset = 1 + int(count)*8
	return nil
}

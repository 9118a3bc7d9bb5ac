// Package wire implements the Astron-style little-endian datagram format:
// a growable byte buffer with typed append operations, and a companion
// Reader with typed, bounds-checked reads.
package wire

import "encoding/binary"

// SizeTag is the length-prefix type for length-prefixed strings/blobs.
// The original format supports a 16- or 32-bit tag depending on a build
// flag; this implementation fixes it at 16 bits, matching the wire
// framing length prefix used everywhere else on the connection.
type SizeTag = uint16

// Datagram is an append-only little-endian byte buffer.
type Datagram struct {
	buf []byte
}

// New returns an empty datagram with a small pre-allocated capacity.
func New() *Datagram {
	return &Datagram{buf: make([]byte, 0, 64)}
}

// NewWithCapacity returns an empty datagram with the given capacity
// pre-allocated, for callers that know the final size ahead of time.
func NewWithCapacity(capacity int) *Datagram {
	return &Datagram{buf: make([]byte, 0, capacity)}
}

// NewFromBytes wraps an existing byte slice as a datagram. The slice is
// used directly, not copied; callers must not mutate it afterward.
func NewFromBytes(data []byte) *Datagram {
	return &Datagram{buf: data}
}

// Bytes returns the datagram's underlying bytes. The returned slice
// aliases the datagram's buffer and must not be retained across further
// appends.
func (d *Datagram) Bytes() []byte { return d.buf }

// Len returns the number of bytes currently written.
func (d *Datagram) Len() int { return len(d.buf) }

func (d *Datagram) AppendUint8(v uint8) {
	d.buf = append(d.buf, v)
}

func (d *Datagram) AppendUint16(v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	d.buf = append(d.buf, tmp[:]...)
}

func (d *Datagram) AppendUint32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	d.buf = append(d.buf, tmp[:]...)
}

func (d *Datagram) AppendUint64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	d.buf = append(d.buf, tmp[:]...)
}

// AppendChannel appends a 64-bit channel address. Provided distinctly
// from AppendUint64 so channel-width changes only touch one call site.
func (d *Datagram) AppendChannel(c uint64) { d.AppendUint64(c) }

// AppendDoid appends a 32-bit distributed-object id.
func (d *Datagram) AppendDoid(v uint32) { d.AppendUint32(v) }

// AppendZone appends a 32-bit zone id.
func (d *Datagram) AppendZone(v uint32) { d.AppendUint32(v) }

// AppendString appends a length-prefixed string: a SizeTag length
// followed by the raw bytes.
func (d *Datagram) AppendString(s string) {
	d.AppendUint16(SizeTag(len(s)))
	d.buf = append(d.buf, s...)
}

// AppendBlob appends a length-prefixed byte string.
func (d *Datagram) AppendBlob(b []byte) {
	d.AppendUint16(SizeTag(len(b)))
	d.buf = append(d.buf, b...)
}

// AppendRaw appends bytes with no length prefix.
func (d *Datagram) AppendRaw(b []byte) {
	d.buf = append(d.buf, b...)
}

// AppendDatagram nests another datagram's full bytes under a length
// prefix, so a reader can later extract it via Reader.ReadDatagram.
func (d *Datagram) AppendDatagram(nested *Datagram) {
	d.AppendBlob(nested.Bytes())
}

// AddServerHeader writes a single-recipient server header:
// u8 1, channel to, channel from, u16 message_type.
func (d *Datagram) AddServerHeader(to, from uint64, messageType uint16) {
	d.AppendUint8(1)
	d.AppendChannel(to)
	d.AppendChannel(from)
	d.AppendUint16(messageType)
}

// AddServerHeaderMulti writes a multi-recipient server header:
// u8 count, count x channel, channel from, u16 message_type.
func (d *Datagram) AddServerHeaderMulti(to []uint64, from uint64, messageType uint16) {
	d.AppendUint8(uint8(len(to)))
	for _, c := range to {
		d.AppendChannel(c)
	}
	d.AppendChannel(from)
	d.AppendUint16(messageType)
}

// AddControlHeader writes a control header:
// u8 1, channel CONTROL_MESSAGE, u16 message_type (no sender).
func (d *Datagram) AddControlHeader(controlChannel uint64, messageType uint16) {
	d.AppendUint8(1)
	d.AppendChannel(controlChannel)
	d.AppendUint16(messageType)
}

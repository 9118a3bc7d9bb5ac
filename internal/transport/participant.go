package transport

import (
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/riftline/messagedirector/internal/participant"
	"github.com/riftline/messagedirector/internal/wire"
)

// NetworkParticipant is a downstream connection admitted to the
// director: a Participant backed by a live net.Conn, identified by
// object identity like every other Participant.
type NetworkParticipant struct {
	participant.Base

	conn   net.Conn
	logger *zap.Logger

	writeMu sync.Mutex
	closed  bool
}

func newNetworkParticipant(conn net.Conn, logger *zap.Logger) *NetworkParticipant {
	return &NetworkParticipant{conn: conn, logger: logger}
}

// Deliver writes dg's bytes from payloadOffset onward as one length-
// prefixed frame. The recipient list that routed the datagram here is
// stripped; the downstream peer only ever sees sender + msg_type + body
// (or, for a control datagram it originated, its own echoed control
// header never reaches here since Route excludes the sender).
func (p *NetworkParticipant) Deliver(dg *wire.Datagram, payloadOffset int) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.closed {
		return net.ErrClosed
	}
	return writeFrame(p.conn, dg.Bytes()[payloadOffset:])
}

// Close tears down the underlying connection. Safe to call more than
// once.
func (p *NetworkParticipant) Close() error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.conn.Close()
}

// RemoteAddr returns the peer address for logging.
func (p *NetworkParticipant) RemoteAddr() net.Addr { return p.conn.RemoteAddr() }

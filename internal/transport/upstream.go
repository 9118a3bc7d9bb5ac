package transport

import (
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/riftline/messagedirector/internal/director"
	"github.com/riftline/messagedirector/internal/wire"
)

// Link is the connection to a parent MessageDirector. It implements
// director.Upstream (Forward), and separately runs a receive loop that
// hands frames arriving from the parent to the local director's Route
// with a nil sender, marking them as already-upstream-originated (never
// eligible for the control path, never echoed back upstream).
//
// Per the original implementation's treatment of a lost upstream
// connection, any failure here — dial, write, or read — is fatal to the
// process: a dial failure is returned by Connect, and a later write or
// read failure is delivered on Fatal (at most one error), after which
// the caller is expected to shut the process down.
type Link struct {
	logger *zap.Logger

	mu       sync.Mutex
	conn     net.Conn
	director *director.MessageDirector

	fatal chan error
}

// NewLink constructs a Link with no live connection yet. Attach it to a
// director with SetDirector before calling Connect, since Connect starts
// the receive loop that needs it.
func NewLink(logger *zap.Logger) *Link {
	return &Link{logger: logger, fatal: make(chan error, 1)}
}

// SetDirector wires the local director that inbound upstream frames are
// routed into. Must be called before Connect.
func (l *Link) SetDirector(d *director.MessageDirector) {
	l.director = d
}

// Connect dials addr and starts the receive loop. A non-nil error here
// is fatal per spec: the caller should not retry, only log and exit.
func (l *Link) Connect(addr string, dialTimeout time.Duration) error {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("upstream dial %s: %w", addr, err)
	}
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()

	go l.receiveLoop()
	l.logger.Info("upstream connected", zap.String("addr", addr))
	return nil
}

// Forward implements director.Upstream.
func (l *Link) Forward(dg *wire.Datagram) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		err := fmt.Errorf("upstream: not connected")
		l.fail(err)
		return err
	}
	if err := writeFrame(conn, dg.Bytes()); err != nil {
		l.fail(fmt.Errorf("upstream write: %w", err))
		return err
	}
	return nil
}

// Fatal delivers the single fatal error that ended the upstream link, if
// any. The caller should select on this alongside its shutdown signal.
func (l *Link) Fatal() <-chan error { return l.fatal }

func (l *Link) receiveLoop() {
	for {
		payload, err := readFrame(l.conn)
		if err != nil {
			l.fail(fmt.Errorf("upstream read: %w", err))
			return
		}
		dg := wire.NewFromBytes(payload)
		if err := l.director.Route(dg, nil); err != nil {
			l.fail(err)
			return
		}
	}
}

func (l *Link) fail(err error) {
	l.logger.Error("upstream link failed", zap.Error(err))
	select {
	case l.fatal <- err:
	default:
	}
}

// Close shuts down the upstream connection.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.Close()
}

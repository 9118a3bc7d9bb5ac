package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/riftline/messagedirector/internal/config"
	"github.com/riftline/messagedirector/internal/director"
	"github.com/riftline/messagedirector/internal/resource"
	"github.com/riftline/messagedirector/internal/wire"
)

// Server accepts downstream NetworkParticipant connections and feeds
// their datagrams into a director.
type Server struct {
	cfg    config.ServerConfig
	dir    *director.MessageDirector
	guard  *resource.Guard
	logger *zap.Logger

	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer builds a Server. guard may be nil to disable admission
// control.
func NewServer(cfg config.ServerConfig, dir *director.MessageDirector, guard *resource.Guard, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, dir: dir, guard: guard, logger: logger}
}

// Start binds the listener and begins accepting connections in a
// background goroutine. It returns once the bind succeeds or fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Bind)
	if err != nil {
		return err
	}
	s.listener = ln
	s.logger.Info("listening for downstream connections", zap.String("bind", s.cfg.Bind))

	go s.acceptLoop(ctx)
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()
	return nil
}

// Stop closes the listener, unblocking acceptLoop, and waits for every
// in-flight connection handler to return.
func (s *Server) Stop() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("accept failed", zap.Error(err))
			return
		}

		if s.guard != nil {
			if accept, reason := s.guard.ShouldAccept(); !accept {
				s.logger.Debug("rejecting connection", zap.String("reason", reason), zap.Stringer("remote", conn.RemoteAddr()))
				_ = conn.Close()
				continue
			}
			s.guard.ConnectionOpened()
		}

		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()

	p := newNetworkParticipant(conn, s.logger)
	s.dir.RegisterParticipant(p)
	s.logger.Debug("participant connected", zap.Stringer("remote", conn.RemoteAddr()))

	defer func() {
		s.dir.UnregisterParticipant(p)
		_ = p.Close()
		if s.guard != nil {
			s.guard.ConnectionClosed()
		}
		s.logger.Debug("participant disconnected", zap.Stringer("remote", conn.RemoteAddr()))
	}()

	for {
		payload, err := readFrame(conn)
		if err != nil {
			return
		}
		dg := wire.NewFromBytes(payload)
		if err := s.dir.Route(dg, p); err != nil {
			s.logger.Error("fatal error routing datagram, dropping connection", zap.Error(err))
			return
		}
	}
}

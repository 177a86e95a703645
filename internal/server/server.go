// Package server implements the TCP listener and per-connection I/O
// loop in front of the engine. The server owns admission control: past
// the live-connection cap, new clients are answered with SERVER_BUSY
// and closed before the greeting.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/Dicklesworthstone/tabled/internal/engine"
	"github.com/Dicklesworthstone/tabled/internal/wire"
)

// Options configures a server.
type Options struct {
	// Addr is the TCP listen address, e.g. "127.0.0.1:7880".
	Addr string
	// MaxConns caps live client connections; further connections are
	// refused with SERVER_BUSY. Zero means DefaultMaxConns.
	MaxConns int
	// Logger receives lifecycle and per-connection logs.
	Logger *log.Logger
}

// DefaultMaxConns matches the original deployment's worker cap.
const DefaultMaxConns = 4

// Server accepts client connections and drives the request loop.
type Server struct {
	db       *engine.Database
	listener net.Listener
	maxConns int
	logger   *log.Logger

	active atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New binds the listen address and returns a server ready to Start.
func New(db *engine.Database, opts Options) (*Server, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	if opts.MaxConns <= 0 {
		opts.MaxConns = DefaultMaxConns
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}

	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("binding %s: %w", opts.Addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		db:       db,
		listener: ln,
		maxConns: opts.MaxConns,
		logger:   opts.Logger,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start accepts connections until the context is cancelled or Stop is
// called. It blocks.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("server started", "addr", s.Addr().String(), "max_conns", s.maxConns)

	go func() {
		<-ctx.Done()
		s.cancel()
		_ = s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			select {
			case <-s.ctx.Done():
				return nil
			default:
				s.logger.Error("accept failed", "error", err)
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// Stop closes the listener and waits for live connections to drain.
func (s *Server) Stop() error {
	s.cancel()
	if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Warn("closing listener", "error", err)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.logger.Warn("timed out waiting for connections to close")
	}

	s.logger.Info("server stopped")
	return nil
}

// handleConnection runs one client session: admission, greeting, then
// the request/response loop until Exit, disconnect, or a malformed
// frame.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	logger := s.logger.With("conn", uuid.NewString()[:8], "peer", conn.RemoteAddr().String())

	// Admission check before the greeting, as the protocol requires.
	if n := s.active.Add(1); n > int32(s.maxConns) {
		s.active.Add(-1)
		logger.Warn("refusing connection", "active", n-1)
		_ = wire.WriteResponse(conn, wire.ErrorResponse(wire.ServerBusy))
		return
	}
	defer s.active.Add(-1)

	w := bufio.NewWriter(conn)
	if err := s.respond(w, wire.Connected()); err != nil {
		logger.Debug("writing greeting", "error", err)
		return
	}
	logger.Info("client connected")

	r := bufio.NewReader(conn)
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		req, err := wire.ReadRequest(r)
		if errors.Is(err, io.EOF) {
			logger.Info("client disconnected")
			return
		}
		if err != nil {
			// Malformed frame: answer BAD_REQUEST and end the session.
			logger.Warn("bad request", "error", err)
			_ = s.respond(w, wire.ErrorResponse(wire.BadRequest))
			return
		}

		if req.Command == wire.CmdExit {
			logger.Info("client exited")
			return
		}

		resp := s.db.Handle(req)
		logger.Debug("handled request", "command", req.Command.String(), "table", req.TableID, "code", resp.Code.String())
		if err := s.respond(w, resp); err != nil {
			logger.Debug("writing response", "error", err)
			return
		}
	}
}

func (s *Server) respond(w *bufio.Writer, resp wire.Response) error {
	if err := wire.WriteResponse(w, resp); err != nil {
		return err
	}
	return w.Flush()
}

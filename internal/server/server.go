package server

import (
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eternalApril/rudis/internal/resp"
	"go.uber.org/zap"
)

var (
	ErrServerClosed    = errors.New("server closed")
	ErrShutdownTimeout = errors.New("shutdown timed out, connections were closed forcibly")
)

var errMaxClients = resp.MakeError("ERR max number of clients reached")

// Server accepts TCP connections and runs one goroutine per client
type Server struct {
	engine *Engine
	logger *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	peers    map[*Peer]struct{}
	closing  atomic.Bool
	wg       sync.WaitGroup
}

func NewServer(engine *Engine, logger *zap.Logger) *Server {
	return &Server{
		engine: engine,
		logger: logger,
		peers:  make(map[*Peer]struct{}),
	}
}

// ListenAndServe listens on the TCP address and calls Serve
func (s *Server) ListenAndServe(address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown is called. It always returns a non-nil error,
// ErrServerClosed after Shutdown
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		ln.Close() //nolint:errcheck
		return ErrServerClosed
	}
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("listening on", zap.String("address", ln.Addr().String()))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closing.Load() || errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}
			s.logger.Error("Accept error", zap.Error(err))
			time.Sleep(5 * time.Millisecond)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// Addr returns the listener address, nil before Serve
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting, wakes idle clients and waits up to timeout for their goroutines.
// Commands already dispatched complete and their replies are flushed
func (s *Server) Shutdown(timeout time.Duration) error {
	s.closing.Store(true)

	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close() //nolint:errcheck
	}
	for p := range s.peers {
		p.interrupt()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("All connections closed gracefully")
		return nil
	case <-time.After(timeout):
		s.logger.Warn("Shutdown timed out, forcing exit", zap.Duration("timeout", timeout))
		s.mu.Lock()
		for p := range s.peers {
			p.Close() //nolint:errcheck
		}
		s.mu.Unlock()
		return ErrShutdownTimeout
	}
}

func (s *Server) track(p *Peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing.Load() {
		return false
	}
	s.peers[p] = struct{}{}
	return true
}

func (s *Server) untrack(p *Peer) {
	s.mu.Lock()
	delete(s.peers, p)
	s.mu.Unlock()
}

// handleConnection handles a connection for a single user
func (s *Server) handleConnection(conn net.Conn) {
	log := s.logger
	if log.Core().Enabled(zap.DebugLevel) {
		log.Debug("client connected", zap.String("addr", conn.RemoteAddr().String()))
	}

	peer := NewPeer(conn)
	defer func() {
		peer.Close() //nolint:errcheck
		// log connection close
		if log.Core().Enabled(zap.DebugLevel) {
			log.Debug("client disconnected", zap.String("addr", conn.RemoteAddr().String()), zap.Int64("id", peer.ID()))
		}
	}()

	if !s.track(peer) {
		return
	}
	defer s.untrack(peer)

	if !s.engine.Attach(peer) {
		log.Warn("max clients reached, rejecting", zap.String("addr", conn.RemoteAddr().String()))
		peer.Send(errMaxClients) //nolint:errcheck
		peer.Flush()             //nolint:errcheck
		return
	}
	defer s.engine.Detach(peer)

	for {
		cmdValue, err := peer.ReadCommand()
		if err != nil {
			switch {
			case errors.Is(err, resp.ErrProtocol):
				msg := "ERR Protocol error" + strings.TrimPrefix(err.Error(), resp.ErrProtocol.Error())
				peer.Send(resp.MakeError(msg)) //nolint:errcheck
				peer.Flush()                   //nolint:errcheck
				log.Warn("protocol error, closing connection", zap.Int64("id", peer.ID()), zap.Error(err))
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, os.ErrDeadlineExceeded):
			default:
				log.Warn("read command failed", zap.Error(err))
			}
			return
		}

		if cmdValue.Type != resp.TypeArray {
			peer.Send(resp.MakeError("ERR Protocol error: expected '*', got '" + string(cmdValue.Type) + "'")) //nolint:errcheck
			peer.Flush()                                                                                      //nolint:errcheck
			return
		}

		if len(cmdValue.Array) == 0 {
			continue
		}

		result := s.engine.Execute(peer, cmdValue.Args())

		if err = peer.Send(result); err != nil {
			log.Error("error writing response:", zap.Error(err))
			return
		}

		// replies of a pipeline are flushed together once the input is drained
		if peer.InputBuffered() == 0 || peer.Closing() {
			if err := peer.Flush(); err != nil {
				return
			}
		}

		if peer.Closing() {
			return
		}
	}
}

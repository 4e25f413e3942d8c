// Package chattest provides a loopback chat server that speaks the server side
// of the handshake, for exercising the client end to end.
package chattest

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"
)

// Handler is the interface for handling accepted connections.
type Handler interface {
	// Handle is called for each new connection in its own goroutine.
	Handle(conn *net.TCPConn)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(conn *net.TCPConn)

// Handle calls f(conn).
func (f HandlerFunc) Handle(conn *net.TCPConn) {
	f(conn)
}

// Server is a TCP listener that dispatches connections to a Handler.
type Server struct {
	listener *net.TCPListener
	logger   *slog.Logger

	mu       sync.Mutex
	shutdown bool
	conns    []*net.TCPConn
}

// New creates a server bound to addr.
func New(addr *net.TCPAddr) (*Server, error) {
	listener, err := net.ListenTCP(addr.Network(), addr)
	if err != nil {
		return nil, err
	}

	return &Server{
		listener: listener,
		logger:   slog.Default(),
	}, nil
}

// Serve accepts connections until ctx is canceled or Close is called.
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	s.logger.Debug("chattest server started", "addr", s.listener.Addr())

	go func() {
		<-ctx.Done()

		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		// Unblock Accept.
		_ = s.listener.SetDeadline(time.Now())
	}()

	for {
		conn, err := s.listener.AcceptTCP()
		if err != nil {
			s.mu.Lock()
			isShutdown := s.shutdown
			s.mu.Unlock()

			if isShutdown {
				return ctx.Err()
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return err
		}

		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		_ = conn.SetNoDelay(true)
		go handler.Handle(conn)
	}
}

// Close stops accepting and closes every accepted connection.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	return s.listener.Close()
}

// Addr returns the listener's address.
func (s *Server) Addr() *net.TCPAddr {
	return s.listener.Addr().(*net.TCPAddr)
}

// Start runs a server on a random loopback port for the duration of the
// test. Each accepted connection is wrapped in a Peer and passed to fn.
func Start(t testing.TB, fn func(p *Peer)) *Server {
	t.Helper()

	s, err := New(&net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("chattest: listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Serve(ctx, HandlerFunc(func(conn *net.TCPConn) {
			fn(&Peer{conn: conn})
		}))
	}()

	t.Cleanup(func() {
		cancel()
		s.Close()
		<-done
	})
	return s
}

// Package chat implements the session protocol engine of a line-oriented chat
// client: the connect-time handshake, fixed-size padded frames, the background
// receive loop and the connection state machine that ties them together.
package chat

import (
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// Conn is the transport of one chat session. It owns the underlying stream
// (plain TCP or TLS) and provides exact-length reads and whole-frame writes.
//
// Receive and ReadChunk must not be called concurrently with each other;
// Send may be called from any goroutine.
type Conn struct {
	rawConn net.Conn
	logger  Logger

	writeTimeout time.Duration
	writeMu      sync.Mutex

	// pending holds bytes of a frame that is not complete yet.
	pending []byte
	scratch []byte

	closed atomic.Bool
	// cause is what readers see after CloseWithError.
	cause atomic.Pointer[error]
}

// NewConn wraps an established stream connection.
func NewConn(raw net.Conn, opt ...Option) (*Conn, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}

	if err := checkOptions(&opts); err != nil {
		return nil, err
	}

	return newConnWithOptions(raw, opts), nil
}

func newConnWithOptions(raw net.Conn, opts options) *Conn {
	return &Conn{
		rawConn:      raw,
		logger:       opts.logger,
		writeTimeout: opts.writeTimeout,
	}
}

// Addr returns the remote address of the connection.
func (c *Conn) Addr() net.Addr {
	return c.rawConn.RemoteAddr()
}

// Send writes frame in full. Writes from several goroutines are serialized so
// frames never interleave on the wire.
func (c *Conn) Send(frame []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.rawConn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}

	n, err := c.rawConn.Write(frame)
	if err != nil {
		c.logger.Debug("write error", "addr", c.Addr(), "written", n, "size", len(frame), "error", err)
		if c.closed.Load() {
			return ErrConnectionClosed
		}
		return withCause(ErrBrokenConnection, err)
	}
	return nil
}

// Receive reads exactly n bytes. It returns io.EOF when the peer closed the
// stream, ErrReadTimeout when the frame did not complete within timeout and
// ErrConnectionClosed after Close. A timeout keeps the bytes read so far, so
// the next call continues the same frame.
func (c *Conn) Receive(n int, timeout time.Duration) ([]byte, error) {
	if c.closed.Load() {
		return nil, c.closedError()
	}
	c.setReadDeadline(timeout)

	if cap(c.scratch) < n {
		c.scratch = make([]byte, n)
	}

	for len(c.pending) < n {
		m, err := c.rawConn.Read(c.scratch[:n-len(c.pending)])
		c.pending = append(c.pending, c.scratch[:m]...)
		if err != nil {
			return nil, c.readError(err)
		}
		if m == 0 {
			return nil, io.EOF
		}
	}

	frame := make([]byte, n)
	copy(frame, c.pending)
	c.pending = c.pending[:0]
	return frame, nil
}

// ReadChunk performs a single read of at most max bytes. It is used for the
// unframed part of the handshake.
func (c *Conn) ReadChunk(max int, timeout time.Duration) ([]byte, error) {
	if c.closed.Load() {
		return nil, c.closedError()
	}
	c.setReadDeadline(timeout)

	buf := make([]byte, max)
	m, err := c.rawConn.Read(buf)
	if m > 0 {
		return buf[:m], nil
	}
	if err == nil {
		return nil, io.EOF
	}
	return nil, c.readError(err)
}

func (c *Conn) setReadDeadline(timeout time.Duration) {
	if timeout > 0 {
		_ = c.rawConn.SetReadDeadline(time.Now().Add(timeout))
	} else {
		_ = c.rawConn.SetReadDeadline(time.Time{})
	}
}

func (c *Conn) readError(err error) error {
	switch {
	case c.closed.Load():
		return c.closedError()
	case errors.Is(err, io.EOF):
		return io.EOF
	case errors.Is(err, os.ErrDeadlineExceeded):
		return ErrReadTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrReadTimeout
	}
	return withCause(ErrBrokenConnection, err)
}

// Close closes the underlying stream. A goroutine blocked in Receive returns
// promptly. Safe to call multiple times.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.rawConn.Close()
}

// CloseWithError closes the connection and makes pending and later reads
// return cause instead of ErrConnectionClosed. Only the first close records
// a cause.
func (c *Conn) CloseWithError(cause error) error {
	if cause != nil && !c.closed.Load() {
		c.cause.CompareAndSwap(nil, &cause)
	}
	return c.Close()
}

func (c *Conn) closedError() error {
	if cause := c.cause.Load(); cause != nil {
		return *cause
	}
	return ErrConnectionClosed
}

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

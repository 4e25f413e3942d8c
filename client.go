package chat

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// State is the connection lifecycle state of a Client.
type State int

const (
	Disconnected State = iota
	Connecting
	Handshaking
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Handshaking:
		return "handshaking"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	}
	return "unknown"
}

// Client is a chat session: at most one connection at a time, its
// negotiated parameters and the background receive loop.
//
// All session fields are guarded by mu. The receive loop requests
// transitions through the same lock, so a user disconnect and a loop
// detected EOF can never both tear the session down.
type Client struct {
	opts        options
	logger      Logger
	completions *Completions

	mu          sync.Mutex
	state       State
	params      Params
	established bool
	conn        *Conn
	cancel      context.CancelFunc
	loop        *errgroup.Group
}

// NewClient creates a disconnected client.
func NewClient(opt ...Option) (*Client, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}

	if err := checkOptions(&opts); err != nil {
		return nil, err
	}

	return &Client{
		opts:        opts,
		logger:      opts.logger,
		completions: NewCompletions(opts.commandSeparator),
	}, nil
}

// CommandSeparator returns the configured command separator.
func (c *Client) CommandSeparator() string {
	return c.opts.commandSeparator
}

// Completions returns the completion tree maintained for the line editor.
func (c *Client) Completions() *Completions {
	return c.completions
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Params returns the negotiated parameters; zero when not connected.
func (c *Client) Params() Params {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

// Established reports whether the server has sent its welcome message.
func (c *Client) Established() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.established
}

// Connect dials host:port, runs the handshake and starts the receive loop.
// It is rejected with ErrAlreadyConnected unless the client is Disconnected.
// On failure the client is Disconnected again and the returned error wraps
// one of the connection attempt errors.
func (c *Client) Connect(ctx context.Context, host string, port int) error {
	c.mu.Lock()
	if c.state != Disconnected {
		state := c.state
		c.mu.Unlock()
		return errors.Wrapf(ErrAlreadyConnected, "state %s", state)
	}
	c.state = Connecting
	prev := c.loop
	c.loop = nil
	c.mu.Unlock()

	// The previous loop ran its own teardown; make sure it has returned.
	if prev != nil {
		_ = prev.Wait()
	}

	c.logger.Debug("connecting", "host", host, "port", port)
	conn, err := dial(ctx, host, port, c.opts)
	if err != nil {
		c.setState(Disconnected)
		c.logger.Info("connect failed", "host", host, "port", port, "error", err)
		return err
	}

	c.setState(Handshaking)
	bufferSize, liveness, err := negotiate(ctx, conn, c.opts.handshakeTimeout)
	if err != nil {
		c.setState(Disconnecting)
		conn.Close()
		c.setState(Disconnected)
		c.logger.Info("handshake failed", "addr", conn.Addr(), "error", err)
		return err
	}

	params := Params{
		Host:            host,
		Port:            port,
		BufferSize:      bufferSize,
		LivenessTimeout: liveness,
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	group := new(errgroup.Group)

	c.mu.Lock()
	c.state = Connected
	c.params = params
	c.conn = conn
	c.cancel = cancel
	c.loop = group
	c.mu.Unlock()

	c.logger.Info("connected", "addr", params.Addr(),
		"buffer_size", params.BufferSize,
		"liveness_timeout", params.LivenessTimeout)
	c.opts.onOutput("Connected to " + params.Addr())

	group.Go(func() error {
		return c.receiveLoop(loopCtx, conn, params)
	})
	return nil
}

// Disconnect ends the current session and waits for the receive loop to
// exit. When there is no session it only reports that, after letting a
// teardown already started by the receive loop complete.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn != nil && c.teardown(conn, nil, false) {
		return
	}
	c.waitTeardown()
	c.opts.onOutput("Not connected to any host")
}

// Close tears down any session without user notices. Use it at exit.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || !c.teardown(conn, errSilent, false) {
		c.waitTeardown()
	}
	return nil
}

// waitTeardown waits for a teardown run by the receive loop to finish.
func (c *Client) waitTeardown() {
	c.mu.Lock()
	state, loop := c.state, c.loop
	c.mu.Unlock()

	if state == Disconnecting && loop != nil {
		_ = loop.Wait()
	}
}

// errSilent suppresses the teardown notice.
var errSilent = errors.New("silent")

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// teardown moves the session on conn from Connected through Disconnecting
// to Disconnected. Only the first caller for a given connection proceeds;
// later callers get false. reason selects the notice: nil for a user
// disconnect, otherwise the error that ended the session. fromLoop is set
// when called by the receive loop itself, which must not wait for itself.
func (c *Client) teardown(conn *Conn, reason error, fromLoop bool) bool {
	c.mu.Lock()
	if c.state != Connected || c.conn != conn {
		c.mu.Unlock()
		return false
	}
	c.state = Disconnecting
	params, cancel, loop := c.params, c.cancel, c.loop
	c.mu.Unlock()

	cancel()
	conn.Close()
	if !fromLoop {
		_ = loop.Wait()
	}

	c.mu.Lock()
	c.state = Disconnected
	c.params = Params{}
	c.established = false
	c.conn = nil
	c.cancel = nil
	c.mu.Unlock()
	c.completions.Reset()

	c.logger.Info("disconnected", "addr", params.Addr(), "reason", reason)
	c.notifyDisconnect(params, reason)
	if reason != nil && reason != errSilent {
		c.opts.onDisconnect(reason)
	}
	return true
}

func (c *Client) notifyDisconnect(params Params, reason error) {
	switch {
	case reason == errSilent:
	case reason == nil, errors.Is(reason, ErrPeerClosed):
		c.opts.onOutput("Disconnected from " + params.Addr())
	case errors.Is(reason, ErrLivenessTimeout):
		c.opts.onOutput("Connection with " + params.Addr() + " timed out")
	default:
		c.opts.onOutput("Connection lost with " + params.Addr())
	}
}

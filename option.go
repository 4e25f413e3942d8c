package chat

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// ErrorAction defines the action to take when a received frame cannot be decoded.
type ErrorAction int

const (
	// Disconnect ends the session.
	Disconnect ErrorAction = iota
	// Continue drops the frame and keeps the session.
	Continue
)

// Default configuration values.
const (
	DefaultCommandSeparator = "/"
	defaultDialTimeout      = 10 * time.Second
	defaultHandshakeTimeout = 30 * time.Second
	defaultPollInterval     = time.Second
	defaultWriteTimeout     = 10 * time.Second
)

// options holds the configuration for a client and its connections.
type options struct {
	logger Logger

	commandSeparator string
	trustAnchor      string // PEM file; empty disables TLS

	dialTimeout      time.Duration
	handshakeTimeout time.Duration // budget for the whole handshake
	pollInterval     time.Duration // receive poll granularity for liveness
	writeTimeout     time.Duration

	onOutput     func(line string)
	onDisconnect func(reason error)
	// onFrameError decides what happens to a frame that fails to decode.
	onFrameError func(error) ErrorAction
}

// Option is a function that configures client options.
type Option func(*options)

// checkOptions validates and sets default values.
func checkOptions(opts *options) error {
	if opts.commandSeparator == "" {
		opts.commandSeparator = DefaultCommandSeparator
	}
	if utf8.RuneCountInString(opts.commandSeparator) != 1 {
		return errors.Wrapf(ErrInvalidCommandSeparator, "%q", opts.commandSeparator)
	}
	if r, _ := utf8.DecodeRuneInString(opts.commandSeparator); unicode.IsSpace(r) || !unicode.IsPrint(r) {
		return errors.Wrapf(ErrInvalidCommandSeparator, "%q", opts.commandSeparator)
	}

	opts.trustAnchor = strings.TrimSpace(opts.trustAnchor)

	if opts.dialTimeout <= 0 {
		opts.dialTimeout = defaultDialTimeout
	}
	if opts.handshakeTimeout <= 0 {
		opts.handshakeTimeout = defaultHandshakeTimeout
	}
	if opts.pollInterval <= 0 {
		opts.pollInterval = defaultPollInterval
	}
	if opts.writeTimeout <= 0 {
		opts.writeTimeout = defaultWriteTimeout
	}

	if opts.onOutput == nil {
		opts.onOutput = func(string) {}
	}
	if opts.onDisconnect == nil {
		opts.onDisconnect = func(error) {}
	}
	if opts.onFrameError == nil {
		opts.onFrameError = func(error) ErrorAction { return Disconnect }
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	return nil
}

// CommandSeparatorOption sets the single character that prefixes client
// commands. It is also substituted for "{csep}" in server text.
func CommandSeparatorOption(sep string) Option {
	return func(o *options) {
		o.commandSeparator = sep
	}
}

// TrustAnchorOption enables TLS, verifying the server against the PEM
// certificates in path.
func TrustAnchorOption(path string) Option {
	return func(o *options) {
		o.trustAnchor = path
	}
}

// DialTimeoutOption bounds socket establishment.
func DialTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.dialTimeout = timeout
	}
}

// HandshakeTimeoutOption sets the overall budget for both handshake round trips.
func HandshakeTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.handshakeTimeout = timeout
	}
}

// PollIntervalOption sets how long a single receive waits before counting
// towards the liveness timeout.
func PollIntervalOption(interval time.Duration) Option {
	return func(o *options) {
		o.pollInterval = interval
	}
}

// WriteTimeoutOption sets the deadline for writing one frame.
func WriteTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = timeout
	}
}

// OnOutputOption sets the sink for server text and connection notices.
// It is called from the receive goroutine as well as from the caller's. It
// may call Send or SendCommand but must not call back into Disconnect or Close.
func OnOutputOption(cb func(line string)) Option {
	return func(o *options) {
		o.onOutput = cb
	}
}

// OnDisconnectOption sets a callback invoked once per session that the
// receive loop ended. reason wraps ErrPeerClosed, ErrBrokenConnection,
// ErrLivenessTimeout, ErrMalformedFrame or ErrUnknownEnvelopeKind.
func OnDisconnectOption(cb func(reason error)) Option {
	return func(o *options) {
		o.onDisconnect = cb
	}
}

// OnFrameErrorOption sets the policy for frames that fail to decode.
// Return Disconnect to end the session, or Continue to drop the frame.
func OnFrameErrorOption(cb func(error) ErrorAction) Option {
	return func(o *options) {
		o.onFrameError = cb
	}
}

// LoggerOption sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

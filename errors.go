package chat

import (
	"errors"
	"fmt"
)

// Connection attempt errors. They abort the in-progress Connect and leave the
// client Disconnected.
var (
	// ErrRefused is returned when the host actively refuses the connection.
	ErrRefused = errors.New("host refused connection")
	// ErrUnknownHost is returned when the host name cannot be resolved.
	ErrUnknownHost = errors.New("unknown host")
	// ErrConnectTimeout is returned when the socket could not be established in time.
	ErrConnectTimeout = errors.New("connect timed out")
	// ErrNoConnection covers every other dial failure.
	ErrNoConnection = errors.New("no connection to host")
	// ErrCertificateMissing is returned when the trust anchor file does not exist.
	ErrCertificateMissing = errors.New("certificate file missing")
	// ErrCertificateInvalid is returned when the trust anchor cannot be parsed
	// or the server certificate fails validation against it.
	ErrCertificateInvalid = errors.New("certificate invalid")
	// ErrHandshakeTimeout is returned when the handshake exceeds its budget.
	ErrHandshakeTimeout = errors.New("handshake timed out")
	// ErrHandshakeProtocol is returned when the server deviates from the handshake.
	ErrHandshakeProtocol = errors.New("handshake protocol violation")
)

// Session errors. Any of them ends the current session.
var (
	ErrMalformedFrame      = errors.New("malformed frame")
	ErrUnknownEnvelopeKind = errors.New("unknown envelope kind")
	ErrBrokenConnection    = errors.New("broken connection")
	ErrPeerClosed          = errors.New("peer closed connection")
	ErrLivenessTimeout     = errors.New("connection timed out")
)

// Input rejections. They never change session state.
var (
	ErrMessageTooLarge  = errors.New("message too large")
	ErrNotConnected     = errors.New("not connected")
	ErrNotEstablished   = errors.New("session not yet established")
	ErrAlreadyConnected = errors.New("already connected")
)

var (
	// ErrInvalidPort is returned for ports outside 0-65535.
	ErrInvalidPort = errors.New("port must be in 0-65535 range")
	// ErrInvalidCommandSeparator is returned when the separator is not a
	// single printable, non-space character.
	ErrInvalidCommandSeparator = errors.New("invalid command separator")
	// ErrFrameTooLarge is returned by EncodeFrame when the envelope does not fit.
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrReadTimeout is returned by Conn.Receive when no complete frame
	// arrived within the poll timeout. Partial data is kept for the next call.
	ErrReadTimeout = errors.New("read timed out")
	// ErrConnectionClosed is returned when operating on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
)

// causeError ties a taxonomy error to the lower level error behind it. Both
// stay reachable: errors.Is matches ErrBrokenConnection as well as
// syscall.ECONNRESET.
type causeError struct {
	kind  error
	cause error
}

func withCause(kind, cause error) error {
	return &causeError{kind: kind, cause: cause}
}

func (e *causeError) Error() string {
	return e.kind.Error() + ": " + e.cause.Error()
}

func (e *causeError) Unwrap() []error {
	return []error{e.kind, e.cause}
}

// MessageTooLargeError reports an outgoing message that exceeds the safe
// share of the session's frame size.
type MessageTooLargeError struct {
	Size       int // encoded envelope size
	Max        int // largest allowed encoded envelope size
	BufferSize int
}

func (e *MessageTooLargeError) Error() string {
	return fmt.Sprintf("message too large: %d bytes, at most %d allowed", e.Size, e.Max)
}

func (e *MessageTooLargeError) Unwrap() error {
	return ErrMessageTooLarge
}

// Describe returns the message shown to the user for err.
func Describe(err error) string {
	var tooLarge *MessageTooLargeError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &tooLarge):
		return fmt.Sprintf("Your message is too large! It can be at most %d "+
			"(80%% of server's buffer %d is safe limit).", tooLarge.Max, tooLarge.BufferSize)
	case errors.Is(err, ErrRefused):
		return "Host refused connection"
	case errors.Is(err, ErrUnknownHost):
		return "Unknown host"
	case errors.Is(err, ErrConnectTimeout):
		return "Connection attempt timed out"
	case errors.Is(err, ErrCertificateMissing):
		return "No certificate file. Please restart program with valid certificate."
	case errors.Is(err, ErrCertificateInvalid):
		return "Invalid certificate. Please restart program with valid certificate."
	case errors.Is(err, ErrHandshakeTimeout), errors.Is(err, ErrHandshakeProtocol):
		return "Failed to properly communicate with server or hit 30s waiting limit! Disconnecting..."
	case errors.Is(err, ErrInvalidPort):
		return "Port must be in 0-65535 range"
	case errors.Is(err, ErrAlreadyConnected):
		return "Already connected. Disconnect first"
	case errors.Is(err, ErrNotEstablished):
		return "Waiting for the server to finish greeting"
	case errors.Is(err, ErrNotConnected):
		return "Not connected to any host"
	case errors.Is(err, ErrMalformedFrame), errors.Is(err, ErrUnknownEnvelopeKind):
		return "Server sent invalid data"
	case errors.Is(err, ErrLivenessTimeout):
		return "Connection timed out"
	case errors.Is(err, ErrPeerClosed):
		return "Disconnected"
	case errors.Is(err, ErrBrokenConnection), errors.Is(err, ErrConnectionClosed):
		return "Connection lost"
	default:
		return "No connection to host"
	}
}

package chat

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	// maxAnnouncementLength bounds the unframed buffer size announcement.
	maxAnnouncementLength = 1024
	// maxBufferSize is the largest frame size the client accepts (1MB).
	maxBufferSize = 1024 * 1024
	// announcementSettle is how long the announcement may pause before it
	// is taken as complete.
	announcementSettle = 50 * time.Millisecond
)

// Params are the connection parameters negotiated at handshake. They do not
// change for the lifetime of a session.
type Params struct {
	Host            string
	Port            int
	BufferSize      int
	LivenessTimeout time.Duration
}

// Addr formats the peer as host:port.
func (p Params) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// negotiate runs the connect-time exchange on conn:
//
//  1. the server announces the frame size as a plaintext integer;
//  2. the client acknowledges with a control/buffer frame "ACK<n>";
//  3. the server sends a control/timeout frame carrying the liveness
//     timeout in seconds.
//
// The whole exchange shares one budget. Cancelling ctx closes conn.
func negotiate(ctx context.Context, conn *Conn, budget time.Duration) (bufferSize int, liveness time.Duration, err error) {
	deadline := time.Now().Add(budget)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	left, err := remaining(deadline, "buffer size announcement")
	if err != nil {
		return 0, 0, err
	}
	announcement, err := readAnnouncement(conn, deadline, left)
	if err != nil {
		return 0, 0, handshakeError(ctx, "buffer size announcement", err)
	}

	bufferSize, err = strconv.Atoi(strings.TrimSpace(string(announcement)))
	if err != nil {
		return 0, 0, errors.Wrapf(ErrHandshakeProtocol, "buffer size %q", announcement)
	}
	if bufferSize < 1 || bufferSize > maxBufferSize {
		return 0, 0, errors.Wrapf(ErrHandshakeProtocol, "buffer size %d out of range", bufferSize)
	}

	ack, err := EncodeFrame(Envelope{
		Kind:    KindControl,
		Attrib:  Attributes{AttrBuffer},
		Content: fmt.Sprintf("ACK%d", bufferSize),
	}, bufferSize)
	if err != nil {
		return 0, 0, errors.Wrapf(ErrHandshakeProtocol, "buffer size %d too small to acknowledge", bufferSize)
	}
	if err := conn.Send(ack); err != nil {
		return 0, 0, handshakeError(ctx, "acknowledgement", err)
	}

	if left, err = remaining(deadline, "timeout announcement"); err != nil {
		return 0, 0, err
	}
	frame, err := conn.Receive(bufferSize, left)
	if err != nil {
		return 0, 0, handshakeError(ctx, "timeout announcement", err)
	}
	env, err := DecodeFrame(frame)
	if err != nil {
		return 0, 0, withCause(ErrHandshakeProtocol, err)
	}
	if env.Kind != KindControl || !env.Attrib.Has(AttrTimeout) {
		return 0, 0, errors.Wrapf(ErrHandshakeProtocol, "expected control/timeout, got %s%v", env.Kind, []string(env.Attrib))
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(env.Content), 64)
	if err != nil || seconds <= 0 || math.IsInf(seconds, 0) || math.IsNaN(seconds) {
		return 0, 0, errors.Wrapf(ErrHandshakeProtocol, "liveness timeout %q", env.Content)
	}

	return bufferSize, time.Duration(seconds * float64(time.Second)), nil
}

// readAnnouncement reads the unframed buffer size. The number may arrive
// split across segments, so reading continues while only digits have been
// seen and more data follows within announcementSettle.
func readAnnouncement(conn *Conn, deadline time.Time, first time.Duration) ([]byte, error) {
	buf, err := conn.ReadChunk(maxAnnouncementLength, first)
	if err != nil {
		return nil, err
	}

	for len(buf) < maxAnnouncementLength && allDigits(buf) {
		wait := min(announcementSettle, time.Until(deadline))
		if wait <= 0 {
			break
		}
		more, err := conn.ReadChunk(maxAnnouncementLength-len(buf), wait)
		if errors.Is(err, ErrReadTimeout) {
			break
		}
		if err != nil {
			return nil, err
		}
		buf = append(buf, more...)
	}
	return buf, nil
}

func allDigits(b []byte) bool {
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func remaining(deadline time.Time, step string) (time.Duration, error) {
	left := time.Until(deadline)
	if left <= 0 {
		return 0, errors.Wrap(ErrHandshakeTimeout, step)
	}
	return left, nil
}

func handshakeError(ctx context.Context, step string, err error) error {
	switch {
	case errors.Is(err, ErrReadTimeout):
		return errors.Wrap(ErrHandshakeTimeout, step)
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		return errors.Wrap(ErrHandshakeTimeout, step)
	case errors.Is(err, io.EOF):
		return errors.Wrapf(ErrHandshakeProtocol, "%s: peer closed connection", step)
	default:
		return withCause(ErrHandshakeProtocol, errors.WithMessage(err, step))
	}
}

package chat

import (
	"strings"

	"github.com/pkg/errors"
)

// safeShare is the part of the frame user traffic may fill.
const safeShare = 0.8

// MaxPayload returns the largest encoded envelope accepted from the user for
// a session with the given frame size.
func MaxPayload(bufferSize int) int {
	return int(float64(bufferSize) * safeShare)
}

// Send sends content as an ordinary chat message. The session must be
// connected and welcomed by the server.
func (c *Client) Send(content string) error {
	return c.send(KindMessage, nil, content, true)
}

// SendCommand sends content as a server command. It does not wait for the
// server's welcome.
func (c *Client) SendCommand(content string) error {
	return c.send(KindCommand, nil, content, false)
}

func (c *Client) send(kind Kind, attrib Attributes, content string, needEstablished bool) error {
	c.mu.Lock()
	state, conn, params, established := c.state, c.conn, c.params, c.established
	c.mu.Unlock()

	if state != Connected || conn == nil {
		return ErrNotConnected
	}
	if needEstablished && !established {
		return ErrNotEstablished
	}

	env := Envelope{Kind: kind, Attrib: attrib, Content: strings.TrimSpace(content)}
	data, err := marshalEnvelope(env)
	if err != nil {
		return errors.Wrap(err, "encode envelope")
	}
	if max := MaxPayload(params.BufferSize); len(data) > max {
		return &MessageTooLargeError{Size: len(data), Max: max, BufferSize: params.BufferSize}
	}

	frame, err := EncodeFrame(env, params.BufferSize)
	if err != nil {
		return err
	}

	if err := conn.Send(frame); err != nil {
		c.logger.Info("send failed", "addr", params.Addr(), "error", err)
		if errors.Is(err, ErrConnectionClosed) {
			return withCause(ErrBrokenConnection, err)
		}
		// The receive loop owns the teardown; it picks up err on its next read.
		conn.CloseWithError(err)
		return err
	}
	return nil
}

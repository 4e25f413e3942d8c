package chat

import (
	"context"
	"io"
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// csepPlaceholder is replaced by the client's command separator in server text.
const csepPlaceholder = "{csep}"

// idleLimit is the number of consecutive empty polls that exceed liveness.
func idleLimit(liveness, poll time.Duration) int {
	limit := int(math.Ceil(float64(liveness) / float64(poll)))
	if limit < 1 {
		limit = 1
	}
	return limit
}

// receiveLoop reads frames until the session ends. Every exit that is not
// caused by a foreground teardown ends the session itself.
func (c *Client) receiveLoop(ctx context.Context, conn *Conn, params Params) error {
	limit := idleLimit(params.LivenessTimeout, c.opts.pollInterval)
	idle := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frame, err := conn.Receive(params.BufferSize, c.opts.pollInterval)
		if errors.Is(err, ErrReadTimeout) {
			idle++
			if idle < limit {
				continue
			}
			return c.endSession(ctx, conn, errors.Wrapf(ErrLivenessTimeout,
				"no data from %s for %s", params.Addr(), params.LivenessTimeout))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = ErrPeerClosed
			}
			return c.endSession(ctx, conn, err)
		}
		idle = 0

		env, err := DecodeFrame(frame)
		if err != nil {
			c.logger.Debug("bad frame", "addr", params.Addr(), "error", err)
			if c.opts.onFrameError(err) == Disconnect {
				return c.endSession(ctx, conn, err)
			}
			continue
		}

		if err := c.dispatch(conn, params, env); err != nil {
			return c.endSession(ctx, conn, err)
		}
	}
}

// endSession tears the session down on behalf of the loop unless the
// foreground is already doing so, then returns reason.
func (c *Client) endSession(ctx context.Context, conn *Conn, reason error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.teardown(conn, reason, true)
	return reason
}

func (c *Client) dispatch(conn *Conn, params Params, env Envelope) error {
	switch env.Kind {
	case KindMessage:
		content := env.Content
		if env.Attrib.Has(AttrCsep) {
			content = strings.ReplaceAll(content, csepPlaceholder, c.opts.commandSeparator)
		}
		if env.Attrib.Has(AttrWelcome) {
			c.mu.Lock()
			if c.conn == conn {
				c.established = true
			}
			c.mu.Unlock()
			c.logger.Debug("session established", "addr", params.Addr())
		}
		c.opts.onOutput(content)

	case KindControl:
		if env.Attrib.Has(AttrAlive) {
			frame, err := EncodeFrame(Envelope{Kind: KindControl, Attrib: Attributes{AttrAlive}}, params.BufferSize)
			if err != nil {
				return err
			}
			if err := conn.Send(frame); err != nil {
				return err
			}
			c.logger.Debug("keepalive answered", "addr", params.Addr())
		} else if env.Attrib.Has(AttrCsep) {
			hint := strings.ReplaceAll(env.Content, csepPlaceholder, c.opts.commandSeparator)
			c.completions.MergeHint(hint)
		}

	case KindCommand:
		c.logger.Debug("server command ignored", "addr", params.Addr(), "content", env.Content)
	}
	return nil
}

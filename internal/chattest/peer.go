package chattest

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	chat "github.com/KedArch/chat-client"
)

// IOTimeout bounds every blocking Peer operation.
const IOTimeout = 5 * time.Second

// Peer is the server end of one client connection.
type Peer struct {
	conn *net.TCPConn
	size int
}

// Conn returns the underlying connection.
func (p *Peer) Conn() *net.TCPConn {
	return p.conn
}

// BufferSize returns the frame size announced by Handshake.
func (p *Peer) BufferSize() int {
	return p.size
}

// Handshake announces bufferSize, checks the client's acknowledgement and
// sends the liveness timeout (seconds, as text).
func (p *Peer) Handshake(bufferSize int, timeout string) error {
	if err := p.AnnounceBufferSize(bufferSize); err != nil {
		return err
	}
	if err := p.ExpectAck(); err != nil {
		return err
	}
	return p.SendFrame(chat.Envelope{
		Kind:    chat.KindControl,
		Attrib:  chat.Attributes{chat.AttrTimeout},
		Content: timeout,
	})
}

// AnnounceBufferSize sends the unframed buffer size.
func (p *Peer) AnnounceBufferSize(bufferSize int) error {
	p.size = bufferSize
	return p.SendRaw([]byte(strconv.Itoa(bufferSize)))
}

// ExpectAck reads the client's acknowledgement frame.
func (p *Peer) ExpectAck() error {
	env, err := p.ReadFrame()
	if err != nil {
		return err
	}
	want := fmt.Sprintf("ACK%d", p.size)
	if env.Kind != chat.KindControl || !env.Attrib.Has(chat.AttrBuffer) || env.Content != want {
		return fmt.Errorf("chattest: unexpected acknowledgement %+v, want control/buffer %s", env, want)
	}
	return nil
}

// SendFrame encodes env at the negotiated size and writes it.
func (p *Peer) SendFrame(env chat.Envelope) error {
	frame, err := chat.EncodeFrame(env, p.size)
	if err != nil {
		return err
	}
	return p.SendRaw(frame)
}

// SendRaw writes b as is.
func (p *Peer) SendRaw(b []byte) error {
	_ = p.conn.SetWriteDeadline(time.Now().Add(IOTimeout))
	_, err := p.conn.Write(b)
	return err
}

// ReadRawFrame reads exactly one frame worth of bytes.
func (p *Peer) ReadRawFrame() ([]byte, error) {
	_ = p.conn.SetReadDeadline(time.Now().Add(IOTimeout))
	buf := make([]byte, p.size)
	if _, err := io.ReadFull(p.conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadFrame reads and decodes one frame.
func (p *Peer) ReadFrame() (chat.Envelope, error) {
	buf, err := p.ReadRawFrame()
	if err != nil {
		return chat.Envelope{}, err
	}
	return chat.DecodeFrame(buf)
}

// WaitClosed blocks until the client closes its end or IOTimeout passes.
func (p *Peer) WaitClosed() error {
	_ = p.conn.SetReadDeadline(time.Now().Add(IOTimeout))
	buf := make([]byte, 512)
	for {
		if _, err := p.conn.Read(buf); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// Reset aborts the connection so the client sees a reset instead of EOF.
func (p *Peer) Reset() error {
	_ = p.conn.SetLinger(0)
	return p.conn.Close()
}

// Close closes the connection gracefully.
func (p *Peer) Close() error {
	return p.conn.Close()
}

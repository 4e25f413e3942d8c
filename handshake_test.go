package chat

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

// runNegotiate runs negotiate on the client end of a fresh pair while
// server plays the other side.
func runNegotiate(t *testing.T, budget time.Duration, server func(peer *net.TCPConn)) (int, time.Duration, error) {
	t.Helper()

	serverConn, clientConn := createTestTCPPair(t)
	defer serverConn.Close()

	conn := newTestConn(t, clientConn)
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		server(serverConn)
	}()

	size, liveness, err := negotiate(context.Background(), conn, budget)
	conn.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for server side")
	}
	return size, liveness, err
}

func readAck(t *testing.T, peer *net.TCPConn, size int) {
	peer.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, size)
	if _, err := io.ReadFull(peer, buf); err != nil {
		t.Errorf("read ack: %v", err)
		return
	}
	env, err := DecodeFrame(buf)
	if err != nil {
		t.Errorf("decode ack: %v", err)
		return
	}
	if env.Kind != KindControl || !env.Attrib.Has(AttrBuffer) {
		t.Errorf("ack = %+v, want control/buffer", env)
	}
}

func writeFrame(t *testing.T, peer *net.TCPConn, env Envelope, size int) {
	frame, err := EncodeFrame(env, size)
	if err != nil {
		t.Errorf("encode: %v", err)
		return
	}
	peer.Write(frame)
}

func TestNegotiate_Success(t *testing.T) {
	var ack []byte
	size, liveness, err := runNegotiate(t, 5*time.Second, func(peer *net.TCPConn) {
		peer.Write([]byte("64"))

		peer.SetReadDeadline(time.Now().Add(5 * time.Second))
		ack = make([]byte, 64)
		if _, err := io.ReadFull(peer, ack); err != nil {
			t.Errorf("read ack: %v", err)
			return
		}
		writeFrame(t, peer, Envelope{Kind: KindControl, Attrib: Attributes{AttrTimeout}, Content: "5.0"}, 64)
	})
	if err != nil {
		t.Fatalf("negotiate failed: %v", err)
	}

	if size != 64 {
		t.Errorf("buffer size = %d, want 64", size)
	}
	if liveness != 5*time.Second {
		t.Errorf("liveness = %v, want 5s", liveness)
	}

	env, err := DecodeFrame(ack)
	if err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if env.Kind != KindControl || !env.Attrib.Has(AttrBuffer) || env.Content != "ACK64" {
		t.Errorf("ack = %+v, want control/buffer ACK64", env)
	}
}

func TestNegotiate_FractionalTimeout(t *testing.T) {
	_, liveness, err := runNegotiate(t, 5*time.Second, func(peer *net.TCPConn) {
		peer.Write([]byte("128"))
		readAck(t, peer, 128)
		writeFrame(t, peer, Envelope{Kind: KindControl, Attrib: Attributes{AttrTimeout}, Content: "0.25"}, 128)
	})
	if err != nil {
		t.Fatalf("negotiate failed: %v", err)
	}
	if liveness != 250*time.Millisecond {
		t.Errorf("liveness = %v, want 250ms", liveness)
	}
}

func TestNegotiate_SplitAnnouncement(t *testing.T) {
	size, _, err := runNegotiate(t, 5*time.Second, func(peer *net.TCPConn) {
		peer.SetNoDelay(true)
		peer.Write([]byte("6"))
		time.Sleep(10 * time.Millisecond)
		peer.Write([]byte("4"))
		readAck(t, peer, 64)
		writeFrame(t, peer, Envelope{Kind: KindControl, Attrib: Attributes{AttrTimeout}, Content: "5.0"}, 64)
	})
	if err != nil {
		t.Fatalf("negotiate failed: %v", err)
	}
	if size != 64 {
		t.Errorf("buffer size = %d, want 64", size)
	}
}

func TestNegotiate_BadAnnouncement(t *testing.T) {
	for _, announcement := range []string{"abc", "0", "-5", "99999999", "16"} {
		t.Run(announcement, func(t *testing.T) {
			_, _, err := runNegotiate(t, 5*time.Second, func(peer *net.TCPConn) {
				peer.Write([]byte(announcement))
			})
			if !errors.Is(err, ErrHandshakeProtocol) {
				t.Errorf("expected ErrHandshakeProtocol, got %v", err)
			}
		})
	}
}

func TestNegotiate_BadTimeoutFrame(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
	}{
		{"wrong kind", Envelope{Kind: KindMessage, Attrib: Attributes{AttrTimeout}, Content: "5"}},
		{"wrong attribute", Envelope{Kind: KindControl, Attrib: Attributes{AttrAlive}, Content: "5"}},
		{"not a number", Envelope{Kind: KindControl, Attrib: Attributes{AttrTimeout}, Content: "soon"}},
		{"negative", Envelope{Kind: KindControl, Attrib: Attributes{AttrTimeout}, Content: "-1"}},
		{"zero", Envelope{Kind: KindControl, Attrib: Attributes{AttrTimeout}, Content: "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := runNegotiate(t, 5*time.Second, func(peer *net.TCPConn) {
				peer.Write([]byte("64"))
				readAck(t, peer, 64)
				writeFrame(t, peer, tt.env, 64)
			})
			if !errors.Is(err, ErrHandshakeProtocol) {
				t.Errorf("expected ErrHandshakeProtocol, got %v", err)
			}
		})
	}
}

func TestNegotiate_MalformedTimeoutFrame(t *testing.T) {
	_, _, err := runNegotiate(t, 5*time.Second, func(peer *net.TCPConn) {
		peer.Write([]byte("64"))
		readAck(t, peer, 64)
		junk := make([]byte, 64)
		copy(junk, "not json at all")
		peer.Write(junk)
	})
	if !errors.Is(err, ErrHandshakeProtocol) {
		t.Errorf("expected ErrHandshakeProtocol, got %v", err)
	}
}

func TestNegotiate_SilentServer(t *testing.T) {
	start := time.Now()
	_, _, err := runNegotiate(t, 100*time.Millisecond, func(peer *net.TCPConn) {})
	if !errors.Is(err, ErrHandshakeTimeout) {
		t.Errorf("expected ErrHandshakeTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("negotiate took %v, budget was 100ms", elapsed)
	}
}

func TestNegotiate_BudgetCoversWholeExchange(t *testing.T) {
	_, _, err := runNegotiate(t, 200*time.Millisecond, func(peer *net.TCPConn) {
		peer.Write([]byte("64"))
		readAck(t, peer, 64)
		// Never send the timeout frame.
	})
	if !errors.Is(err, ErrHandshakeTimeout) {
		t.Errorf("expected ErrHandshakeTimeout, got %v", err)
	}
}

func TestNegotiate_PeerClosed(t *testing.T) {
	_, _, err := runNegotiate(t, 5*time.Second, func(peer *net.TCPConn) {
		peer.Write([]byte("64"))
		readAck(t, peer, 64)
		peer.Close()
	})
	if !errors.Is(err, ErrHandshakeProtocol) {
		t.Errorf("expected ErrHandshakeProtocol, got %v", err)
	}
}

func TestParams_Addr(t *testing.T) {
	p := Params{Host: "localhost", Port: 1111}
	if got := p.Addr(); got != "localhost:1111" {
		t.Errorf("Addr() = %q, want %q", got, "localhost:1111")
	}
}

func TestIdleLimit(t *testing.T) {
	tests := []struct {
		liveness, poll time.Duration
		want           int
	}{
		{5 * time.Second, time.Second, 5},
		{5500 * time.Millisecond, time.Second, 6},
		{50 * time.Millisecond, 10 * time.Millisecond, 5},
		{time.Millisecond, time.Second, 1},
	}
	for _, tt := range tests {
		if got := idleLimit(tt.liveness, tt.poll); got != tt.want {
			t.Errorf("idleLimit(%v, %v) = %d, want %d", tt.liveness, tt.poll, got, tt.want)
		}
	}
}

func TestMaxPayload(t *testing.T) {
	if got := MaxPayload(64); got != 51 {
		t.Errorf("MaxPayload(64) = %d, want 51", got)
	}
	if got := MaxPayload(1024); got != 819 {
		t.Errorf("MaxPayload(1024) = %d, want 819", got)
	}
}

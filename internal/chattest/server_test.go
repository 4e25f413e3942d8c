package chattest

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	chat "github.com/KedArch/chat-client"
)

// mockHandler implements Handler interface for testing
type mockHandler struct {
	mu       sync.Mutex
	conns    []*net.TCPConn
	handleCh chan *net.TCPConn
}

func newMockHandler() *mockHandler {
	return &mockHandler{handleCh: make(chan *net.TCPConn, 10)}
}

func (h *mockHandler) Handle(conn *net.TCPConn) {
	h.mu.Lock()
	h.conns = append(h.conns, conn)
	h.mu.Unlock()

	select {
	case h.handleCh <- conn:
	default:
	}
}

func loopback() *net.TCPAddr {
	return &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
}

func TestNew_InvalidAddr(t *testing.T) {
	server1, err := New(loopback())
	if err != nil {
		t.Fatalf("first New failed: %v", err)
	}
	defer server1.Close()

	// Try to listen on the same port - should fail
	if _, err = New(server1.Addr()); err == nil {
		t.Error("expected error for occupied port")
	}
}

func TestServer_Serve_ContextCanceled(t *testing.T) {
	server, err := New(loopback())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer server.Close()

	handler := newMockHandler()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx, handler)
	}()

	clientConn, err := net.DialTCP("tcp", nil, server.Addr())
	if err != nil {
		t.Fatalf("client dial failed: %v", err)
	}
	defer clientConn.Close()

	select {
	case conn := <-handler.handleCh:
		if conn == nil {
			t.Error("handler received nil connection")
		}
	case <-time.After(IOTimeout):
		t.Fatal("timeout waiting for handler")
	}

	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(IOTimeout):
		t.Fatal("timeout waiting for Serve to return")
	}
}

func TestServer_CloseDropsAcceptedConnections(t *testing.T) {
	server, err := New(loopback())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	handler := newMockHandler()
	go server.Serve(context.Background(), handler)

	clientConn, err := net.DialTCP("tcp", nil, server.Addr())
	if err != nil {
		t.Fatalf("client dial failed: %v", err)
	}
	defer clientConn.Close()

	select {
	case <-handler.handleCh:
	case <-time.After(IOTimeout):
		t.Fatal("timeout waiting for handler")
	}

	if err := server.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	clientConn.SetReadDeadline(time.Now().Add(IOTimeout))
	if _, err := clientConn.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("expected io.EOF after Close, got %v", err)
	}
}

func TestStart_Handshake(t *testing.T) {
	result := make(chan error, 1)
	server := Start(t, func(p *Peer) {
		result <- p.Handshake(64, "5.0")
	})

	conn, err := net.DialTCP("tcp", nil, server.Addr())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(IOTimeout))

	announcement := make([]byte, 2)
	if _, err := io.ReadFull(conn, announcement); err != nil {
		t.Fatalf("read announcement: %v", err)
	}
	if string(announcement) != "64" {
		t.Fatalf("announcement = %q, want %q", announcement, "64")
	}

	ack, err := chat.EncodeFrame(chat.Envelope{
		Kind:    chat.KindControl,
		Attrib:  chat.Attributes{chat.AttrBuffer},
		Content: "ACK64",
	}, 64)
	if err != nil {
		t.Fatalf("encode ack: %v", err)
	}
	conn.Write(ack)

	frame := make([]byte, 64)
	if _, err := io.ReadFull(conn, frame); err != nil {
		t.Fatalf("read timeout frame: %v", err)
	}
	env, err := chat.DecodeFrame(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Kind != chat.KindControl || !env.Attrib.Has(chat.AttrTimeout) || env.Content != "5.0" {
		t.Errorf("timeout frame = %+v", env)
	}

	select {
	case err := <-result:
		if err != nil {
			t.Errorf("Handshake failed: %v", err)
		}
	case <-time.After(IOTimeout):
		t.Fatal("timeout waiting for Handshake")
	}
}

func TestPeer_ExpectAckRejectsWrongSize(t *testing.T) {
	result := make(chan error, 1)
	server := Start(t, func(p *Peer) {
		result <- p.Handshake(64, "5.0")
	})

	conn, err := net.DialTCP("tcp", nil, server.Addr())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(IOTimeout))

	io.ReadFull(conn, make([]byte, 2))
	ack, _ := chat.EncodeFrame(chat.Envelope{
		Kind:    chat.KindControl,
		Attrib:  chat.Attributes{chat.AttrBuffer},
		Content: "ACK32",
	}, 64)
	conn.Write(ack)

	select {
	case err := <-result:
		if err == nil {
			t.Error("expected Handshake to reject a wrong acknowledgement")
		}
	case <-time.After(IOTimeout):
		t.Fatal("timeout waiting for Handshake")
	}
}

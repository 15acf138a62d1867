package registry

import (
	"bufio"
	"net"
	"testing"

	"github.com/thuanbk2010/simple-chat/internal/protocol"
)

func TestHandleLogin(t *testing.T) {
	h := newTestHandle(t)

	if h.LoggedIn() {
		t.Error("New handle must not be logged in")
	}

	if h.Login() != "" {
		t.Errorf("Expected empty login, got '%s'", h.Login())
	}

	h.SetLogin("alice")

	if !h.LoggedIn() {
		t.Error("Expected handle to be logged in after SetLogin")
	}

	if h.Login() != "alice" {
		t.Errorf("Expected login 'alice', got '%s'", h.Login())
	}
}

func TestHandleSend(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	h := NewHandle(server)
	defer h.Close()

	received := make(chan string, 1)
	go func() {
		reader := bufio.NewReader(client)
		line, err := reader.ReadString('\n')
		if err != nil {
			received <- "read error: " + err.Error()
			return
		}
		received <- line
	}()

	msg := protocol.Message{Opcode: protocol.OpcodeMessage, Payload: "alice: hi"}
	if err := h.Send(msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if got := <-received; got != "Malice: hi\n" {
		t.Errorf("Expected %q on the wire, got %q", "Malice: hi\n", got)
	}
}

func TestHandleSendAfterClose(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	h := NewHandle(server)
	if err := h.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	msg := protocol.Message{Opcode: protocol.OpcodeMessage, Payload: "too late"}
	if err := h.Send(msg); err == nil {
		t.Error("Expected Send to fail after Close")
	}
}

func TestHandleCloseIsIdempotent(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	h := NewHandle(server)

	if err := h.Close(); err != nil {
		t.Fatalf("First close failed: %v", err)
	}

	// Second close must not attempt to close the conn again
	if err := h.Close(); err != nil {
		t.Errorf("Second close returned error: %v", err)
	}
}

func TestHandleRemoteEndpoint(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer listener.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		accepted <- conn
	}()

	client, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer client.Close()

	serverConn := <-accepted
	defer serverConn.Close()

	h := NewHandle(serverConn)

	clientAddr := client.LocalAddr().(*net.TCPAddr)
	if h.RemotePort() != clientAddr.Port {
		t.Errorf("Expected recorded port %d, got %d", clientAddr.Port, h.RemotePort())
	}

	if !h.RemoteIP().Equal(clientAddr.IP) {
		t.Errorf("Expected recorded IP %s, got %s", clientAddr.IP, h.RemoteIP())
	}
}

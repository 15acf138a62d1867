package relay

import (
	"bytes"
	"log/slog"
	"net"
	"os"
	"testing"
	"time"

	"github.com/thuanbk2010/simple-chat/internal/config"
	"github.com/thuanbk2010/simple-chat/internal/metrics"
	"github.com/thuanbk2010/simple-chat/internal/registry"
)

// Shared across the package tests: promauto registers globally, so the
// metrics set is created once per test binary.
var testMetrics = metrics.NewMetrics()

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newUDPReceiver binds a loopback UDP socket acting as a relay target
func newUDPReceiver(t *testing.T) *net.UDPConn {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("Failed to bind UDP receiver: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}

// handleWithPort creates a registered-client handle whose recorded TCP
// endpoint uses the given local port. Binding TCP on a port that is
// only bound for UDP is fine, which is exactly what a colocated chat
// client does: same port number on both transports.
func handleWithPort(t *testing.T, port int) *registry.Handle {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	t.Cleanup(func() {
		listener.Close()
	})

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		accepted <- conn
	}()

	dialer := net.Dialer{LocalAddr: &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: port}}
	client, err := dialer.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatalf("Failed to dial from port %d: %v", port, err)
	}
	t.Cleanup(func() {
		client.Close()
	})

	serverConn := <-accepted
	t.Cleanup(func() {
		serverConn.Close()
	})

	return registry.NewHandle(serverConn)
}

func startTestRelay(t *testing.T, cfg *config.RelayConfig, reg *registry.Registry) *Relay {
	t.Helper()

	r := NewRelay(cfg, testLogger(), reg, testMetrics)
	if err := r.Start(); err != nil {
		t.Fatalf("Failed to start relay: %v", err)
	}
	t.Cleanup(func() {
		r.Stop()
	})

	return r
}

func expectDatagram(t *testing.T, conn *net.UDPConn, want []byte) {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 65536)
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("Expected datagram %q, read failed: %v", want, err)
	}

	if !bytes.Equal(buf[:n], want) {
		t.Fatalf("Expected datagram %q, got %q", want, buf[:n])
	}
}

func expectNoDatagram(t *testing.T, conn *net.UDPConn) {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 65536)
	n, _, err := conn.ReadFromUDP(buf)
	if err == nil {
		t.Fatalf("Expected no datagram, got %q", buf[:n])
	}

	if netErr, ok := err.(net.Error); !ok || !netErr.Timeout() {
		t.Fatalf("Expected read timeout, got: %v", err)
	}
}

func TestBroadcastExcludesSenderPort(t *testing.T) {
	reg := registry.NewRegistry(testLogger(), testMetrics)

	u1 := newUDPReceiver(t)
	u2 := newUDPReceiver(t)

	port1 := u1.LocalAddr().(*net.UDPAddr).Port
	port2 := u2.LocalAddr().(*net.UDPAddr).Port

	reg.Add(handleWithPort(t, port1))
	reg.Add(handleWithPort(t, port2))

	cfg := &config.RelayConfig{UDPPort: 0, BufferSize: 10000, Mode: config.ModeBroadcast}
	r := startTestRelay(t, cfg, reg)

	relayAddr := &net.UDPAddr{
		IP:   net.ParseIP("127.0.0.1"),
		Port: r.LocalAddr().(*net.UDPAddr).Port,
	}

	payload := []byte("hello over udp")
	if _, err := u1.WriteToUDP(payload, relayAddr); err != nil {
		t.Fatalf("Failed to send datagram: %v", err)
	}

	// Every handle with a different port gets the verbatim payload,
	// the handle matching the source port gets nothing.
	expectDatagram(t, u2, payload)
	expectNoDatagram(t, u1)
}

func TestBroadcastFromUnregisteredSender(t *testing.T) {
	reg := registry.NewRegistry(testLogger(), testMetrics)

	u1 := newUDPReceiver(t)
	u2 := newUDPReceiver(t)
	sender := newUDPReceiver(t)

	reg.Add(handleWithPort(t, u1.LocalAddr().(*net.UDPAddr).Port))
	reg.Add(handleWithPort(t, u2.LocalAddr().(*net.UDPAddr).Port))

	cfg := &config.RelayConfig{UDPPort: 0, BufferSize: 10000, Mode: config.ModeBroadcast}
	r := startTestRelay(t, cfg, reg)

	relayAddr := &net.UDPAddr{
		IP:   net.ParseIP("127.0.0.1"),
		Port: r.LocalAddr().(*net.UDPAddr).Port,
	}

	payload := []byte("from outside")
	if _, err := sender.WriteToUDP(payload, relayAddr); err != nil {
		t.Fatalf("Failed to send datagram: %v", err)
	}

	// Source port matches no handle, so all registered handles receive
	expectDatagram(t, u1, payload)
	expectDatagram(t, u2, payload)
}

func TestBroadcastWithEmptyRegistry(t *testing.T) {
	reg := registry.NewRegistry(testLogger(), testMetrics)

	sender := newUDPReceiver(t)

	cfg := &config.RelayConfig{UDPPort: 0, BufferSize: 10000, Mode: config.ModeBroadcast}
	r := startTestRelay(t, cfg, reg)

	relayAddr := &net.UDPAddr{
		IP:   net.ParseIP("127.0.0.1"),
		Port: r.LocalAddr().(*net.UDPAddr).Port,
	}

	if _, err := sender.WriteToUDP([]byte("nobody home"), relayAddr); err != nil {
		t.Fatalf("Failed to send datagram: %v", err)
	}

	// Nothing to relay to; the loop must keep running
	expectNoDatagram(t, sender)
}

// startMulticastRelay binds a receiver and a relay whose fixed
// destination is the receiver's port. The group address is pointed at
// loopback so the test observes the send without real multicast
// routing; the port offset and the fixed-destination policy are what
// is under test. Port pairs can collide with other sockets, so the
// setup retries.
func startMulticastRelay(t *testing.T, reg *registry.Registry) (*Relay, *net.UDPConn) {
	t.Helper()

	for attempt := 0; attempt < 10; attempt++ {
		receiver, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
		if err != nil {
			t.Fatalf("Failed to bind receiver: %v", err)
		}

		port := receiver.LocalAddr().(*net.UDPAddr).Port
		cfg := &config.RelayConfig{
			UDPPort:        port + 1,
			BufferSize:     10000,
			Mode:           config.ModeMulticast,
			MulticastGroup: "127.0.0.1",
		}

		r := NewRelay(cfg, testLogger(), reg, testMetrics)
		if err := r.Start(); err != nil {
			receiver.Close()
			continue
		}

		t.Cleanup(func() {
			r.Stop()
			receiver.Close()
		})
		return r, receiver
	}

	t.Fatal("Could not find a free UDP port pair")
	return nil, nil
}

func TestMulticastRelaysOnceToFixedDestination(t *testing.T) {
	reg := registry.NewRegistry(testLogger(), testMetrics)

	r, groupReceiver := startMulticastRelay(t, reg)

	sender := newUDPReceiver(t)
	relayAddr := &net.UDPAddr{
		IP:   net.ParseIP("127.0.0.1"),
		Port: r.LocalAddr().(*net.UDPAddr).Port,
	}

	payload := []byte("to the group")
	if _, err := sender.WriteToUDP(payload, relayAddr); err != nil {
		t.Fatalf("Failed to send datagram: %v", err)
	}

	// Exactly one copy arrives at the fixed destination even though
	// the registry is empty.
	expectDatagram(t, groupReceiver, payload)
	expectNoDatagram(t, groupReceiver)
}

func TestMulticastIgnoresRegistry(t *testing.T) {
	reg := registry.NewRegistry(testLogger(), testMetrics)

	clientSocket := newUDPReceiver(t)
	reg.Add(handleWithPort(t, clientSocket.LocalAddr().(*net.UDPAddr).Port))

	r, groupReceiver := startMulticastRelay(t, reg)

	sender := newUDPReceiver(t)
	relayAddr := &net.UDPAddr{
		IP:   net.ParseIP("127.0.0.1"),
		Port: r.LocalAddr().(*net.UDPAddr).Port,
	}

	payload := []byte("group only")
	if _, err := sender.WriteToUDP(payload, relayAddr); err != nil {
		t.Fatalf("Failed to send datagram: %v", err)
	}

	// The registered client is not addressed in multicast mode
	expectDatagram(t, groupReceiver, payload)
	expectNoDatagram(t, clientSocket)
}

func TestStopTerminatesReceiveLoop(t *testing.T) {
	reg := registry.NewRegistry(testLogger(), testMetrics)

	cfg := &config.RelayConfig{UDPPort: 0, BufferSize: 10000, Mode: config.ModeBroadcast}
	r := NewRelay(cfg, testLogger(), reg, testMetrics)
	if err := r.Start(); err != nil {
		t.Fatalf("Failed to start relay: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- r.Stop()
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Stop returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return, receive loop still running")
	}
}

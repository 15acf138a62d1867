package registry

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/thuanbk2010/simple-chat/internal/protocol"
)

// Handle is the server-side record of one connected chat client. The
// TCP connection is owned by the handle's session: only that session
// reads from it, and the handle is the single place writes go through.
// The datagram relay sees only the address and port for comparison,
// never the connection itself.
type Handle struct {
	conn        net.Conn
	remoteIP    net.IP
	remotePort  int
	connectedAt time.Time

	mu    sync.RWMutex // guards login
	login string

	closeOnce sync.Once
	closeErr  error
}

// NewHandle creates a handle for an accepted connection. The remote
// endpoint is recorded at construction time so the relay can compare
// addresses without touching the connection.
func NewHandle(conn net.Conn) *Handle {
	h := &Handle{
		conn:        conn,
		connectedAt: time.Now(),
	}

	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		h.remoteIP = addr.IP
		h.remotePort = addr.Port
	}

	return h
}

// Send writes one encoded protocol line to the client. The write
// blocks until the peer accepts it or the connection fails.
//
// Two sessions broadcasting at the same time may both write to this
// handle's connection; the registry lock serializes snapshot access,
// not socket writes. That interleaving is a known race in this design
// and is accepted under best-effort delivery.
func (h *Handle) Send(msg protocol.Message) error {
	_, err := io.WriteString(h.conn, protocol.EncodeLine(msg))
	return err
}

// Conn returns the underlying connection for the owning session's
// read loop.
func (h *Handle) Conn() net.Conn {
	return h.conn
}

// SetLogin assigns the client's login name
func (h *Handle) SetLogin(login string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.login = login
}

// Login returns the client's login name, empty until a login line
// has been processed.
func (h *Handle) Login() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.login
}

// LoggedIn checks if a login has been assigned
func (h *Handle) LoggedIn() bool {
	return h.Login() != ""
}

// RemoteIP returns the client's remote IP as recorded at accept time
func (h *Handle) RemoteIP() net.IP {
	return h.remoteIP
}

// RemotePort returns the client's remote TCP port as recorded at
// accept time. The datagram broadcast policy keys on this value.
func (h *Handle) RemotePort() int {
	return h.remotePort
}

// RemoteAddr returns the client's remote address as a string
func (h *Handle) RemoteAddr() string {
	return h.conn.RemoteAddr().String()
}

// ConnectedAt returns when the connection was accepted
func (h *Handle) ConnectedAt() time.Time {
	return h.connectedAt
}

// Close releases the underlying connection. Safe to call from both
// the quit path and the deferred cleanup path; only the first call
// closes the connection.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.closeErr = h.conn.Close()
	})
	return h.closeErr
}

// Info returns monitoring information for this handle
func (h *Handle) Info() ClientInfo {
	return ClientInfo{
		Address:     h.RemoteAddr(),
		Login:       h.Login(),
		ConnectedAt: h.connectedAt,
		Uptime:      time.Since(h.connectedAt),
	}
}

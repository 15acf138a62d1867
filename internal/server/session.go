package server

import (
	"bufio"
	"log/slog"
	"strconv"

	"github.com/thuanbk2010/simple-chat/internal/metrics"
	"github.com/thuanbk2010/simple-chat/internal/protocol"
	"github.com/thuanbk2010/simple-chat/internal/registry"
)

// Notification texts appended after the login name
const (
	joinedText = " has just been logged in. Hello!"
	leftText   = " has just been logged out. Bye!"
)

// session runs the per-connection protocol state machine. It reads
// lines from its own socket, dispatches on the leading opcode byte and
// fans messages out to every other registered handle.
type session struct {
	handle   *registry.Handle
	registry *registry.Registry
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// newSession creates a session for a registered handle
func newSession(h *registry.Handle, reg *registry.Registry, logger *slog.Logger, m *metrics.Metrics) *session {
	return &session{
		handle:   h,
		registry: reg,
		logger:   logger,
		metrics:  m,
	}
}

// run is the session read loop. It exits on an explicit quit line or
// on a read failure, and in both cases removes the handle from the
// registry exactly once. An abnormal disconnect removes silently: no
// left notification goes out.
func (s *session) run() {
	defer func() {
		s.registry.Remove(s.handle)
		if err := s.handle.Close(); err != nil {
			s.logger.Warn("Error closing connection",
				slog.String("remote_addr", s.handle.RemoteAddr()),
				slog.String("error", err.Error()),
			)
		}
	}()

	scanner := bufio.NewScanner(s.handle.Conn())
	for scanner.Scan() {
		msg, err := protocol.DecodeLine(scanner.Text())
		if err != nil {
			// Empty line, nothing to dispatch on. Not surfaced to the
			// sender.
			s.logger.Debug("Dropping malformed line",
				slog.String("remote_addr", s.handle.RemoteAddr()),
				slog.String("error", err.Error()),
			)
			continue
		}

		s.metrics.RecordLineReceived()
		s.logger.Debug("Line received",
			slog.String("remote_addr", s.handle.RemoteAddr()),
			slog.String("opcode", protocol.OpcodeString(msg.Opcode)),
			slog.Int("payload_size", len(msg.Payload)),
		)

		switch msg.Opcode {
		case protocol.OpcodeLogin:
			s.handleLogin(msg.Payload)

		case protocol.OpcodeMessage:
			s.handleMessage(msg.Payload)

		case protocol.OpcodeQuit:
			s.handleQuit(msg.Payload)
			return

		default:
			// Unrecognized opcodes are ignored, the session stays up
			// and the sender gets no diagnostic.
			s.logger.Debug("Ignoring unrecognized opcode",
				slog.String("remote_addr", s.handle.RemoteAddr()),
				slog.String("opcode", protocol.OpcodeString(msg.Opcode)),
			)
		}
	}

	if err := scanner.Err(); err != nil {
		s.logger.Info("Client read failed, removing silently",
			slog.String("remote_addr", s.handle.RemoteAddr()),
			slog.String("login", s.handle.Login()),
			slog.String("error", err.Error()),
		)
	}
}

// handleLogin assigns the login and announces the new member together
// with an updated member count to every other client.
func (s *session) handleLogin(name string) {
	s.handle.SetLogin(name)
	s.metrics.RecordLogin()

	s.logger.Info("Client logged in",
		slog.String("remote_addr", s.handle.RemoteAddr()),
		slog.String("login", name),
	)

	s.broadcast(protocol.Message{Opcode: protocol.OpcodeMessage, Payload: name + joinedText})
	s.broadcast(protocol.Message{Opcode: protocol.OpcodeStatus, Payload: strconv.Itoa(s.registry.Count())})
}

// handleMessage relays a chat line to every other client. Lines from
// clients that have not logged in yet are dropped without any error
// back to the sender.
func (s *session) handleMessage(text string) {
	if !s.handle.LoggedIn() {
		s.logger.Debug("Dropping message from anonymous client",
			slog.String("remote_addr", s.handle.RemoteAddr()),
		)
		return
	}

	s.broadcast(protocol.Message{
		Opcode:  protocol.OpcodeMessage,
		Payload: s.handle.Login() + ": " + text,
	})
}

// handleQuit announces the departure and the post-quit member count to
// every other client, then releases the connection. The registry
// removal itself happens in the deferred cleanup shared with the
// failure path.
func (s *session) handleQuit(text string) {
	s.metrics.RecordQuit()

	if text == "" {
		text = leftText
	}

	s.broadcast(protocol.Message{Opcode: protocol.OpcodeMessage, Payload: s.handle.Login() + text})
	s.broadcast(protocol.Message{Opcode: protocol.OpcodeStatus, Payload: strconv.Itoa(s.registry.Count() - 1)})

	s.logger.Info("Client logged out",
		slog.String("remote_addr", s.handle.RemoteAddr()),
		slog.String("login", s.handle.Login()),
	)

	if err := s.handle.Close(); err != nil {
		s.logger.Warn("Error closing connection on quit",
			slog.String("remote_addr", s.handle.RemoteAddr()),
			slog.String("error", err.Error()),
		)
	}
}

// broadcast sends a line to every registered handle except this
// session's own. A failed send to one recipient is logged and skipped;
// the remaining recipients still get the line.
func (s *session) broadcast(msg protocol.Message) {
	delivered := 0

	for _, h := range s.registry.Snapshot() {
		if h == s.handle {
			continue
		}

		if err := h.Send(msg); err != nil {
			s.metrics.RecordBroadcastError()
			s.logger.Warn("Failed to send to recipient",
				slog.String("recipient_addr", h.RemoteAddr()),
				slog.String("opcode", protocol.OpcodeString(msg.Opcode)),
				slog.String("error", err.Error()),
			)
			continue
		}
		delivered++
	}

	s.metrics.RecordBroadcast(delivered)
}

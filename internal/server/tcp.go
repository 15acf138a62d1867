package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/thuanbk2010/simple-chat/internal/config"
	"github.com/thuanbk2010/simple-chat/internal/metrics"
	"github.com/thuanbk2010/simple-chat/internal/protocol"
	"github.com/thuanbk2010/simple-chat/internal/registry"
)

// welcomeText is sent once to every newly accepted client, to that
// client only.
const welcomeText = "Welcome to C.H.A.T. !"

// TCPServer accepts chat client connections and runs one session
// goroutine per connection. Sessions communicate only through the
// shared registry and their own sockets.
type TCPServer struct {
	listener net.Listener
	config   *config.ServerConfig
	logger   *slog.Logger
	registry *registry.Registry
	metrics  *metrics.Metrics

	// Concurrency management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTCPServer creates a new chat server instance
func NewTCPServer(cfg *config.ServerConfig, logger *slog.Logger, reg *registry.Registry, m *metrics.Metrics) *TCPServer {
	ctx, cancel := context.WithCancel(context.Background())

	return &TCPServer{
		config:   cfg,
		logger:   logger,
		registry: reg,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start binds the chat port and begins accepting connections. A bind
// failure is fatal; the caller should not continue without the
// listener.
func (s *TCPServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.BindAddress, s.config.TCPPort)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on TCP %s: %w", addr, err)
	}

	s.listener = listener

	s.logger.Info("TCP chat server started",
		slog.String("address", listener.Addr().String()),
	)

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Addr returns the bound listener address, nil before Start
func (s *TCPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and the connections of all registered
// clients, then waits for their sessions to finish cleanup.
func (s *TCPServer) Stop() error {
	s.logger.Info("Stopping TCP chat server...")

	s.cancel()

	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			s.logger.Warn("Error closing TCP listener", slog.String("error", err.Error()))
		}
	}

	// Closing the connections makes the session read loops fail, which
	// drives each session through its normal cleanup path.
	for _, h := range s.registry.Snapshot() {
		if err := h.Close(); err != nil {
			s.logger.Warn("Error closing client connection",
				slog.String("remote_addr", h.RemoteAddr()),
				slog.String("error", err.Error()),
			)
		}
	}

	s.wg.Wait()

	s.logger.Info("TCP chat server stopped")
	return nil
}

// acceptLoop is the main connection accepting loop
func (s *TCPServer) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}

			// A closed listener ends the loop; any other accept
			// failure is logged and the loop continues.
			if errors.Is(err, net.ErrClosed) {
				s.logger.Info("TCP listener closed, accept loop stopping")
				return
			}

			s.metrics.RecordAcceptError()
			s.logger.Error("Failed to accept connection", slog.String("error", err.Error()))
			continue
		}

		s.metrics.RecordConnectionAccepted()
		s.logger.Info("New client connection",
			slog.String("remote_addr", conn.RemoteAddr().String()),
		)

		// Register before the session starts reading and before the
		// welcome line goes out.
		handle := registry.NewHandle(conn)
		s.registry.Add(handle)

		sess := newSession(handle, s.registry, s.logger, s.metrics)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sess.run()
		}()

		if err := handle.Send(protocol.Message{Opcode: protocol.OpcodeMessage, Payload: welcomeText}); err != nil {
			s.logger.Warn("Failed to send welcome line",
				slog.String("remote_addr", handle.RemoteAddr()),
				slog.String("error", err.Error()),
			)
		}
	}
}

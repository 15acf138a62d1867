package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/thuanbk2010/simple-chat/internal/config"
	"github.com/thuanbk2010/simple-chat/internal/metrics"
	"github.com/thuanbk2010/simple-chat/internal/registry"
)

// readDeadlineInterval bounds how long a blocking receive can delay
// the shutdown check.
const readDeadlineInterval = 1 * time.Second

// Relay is the UDP datagram fan-out loop. It reads datagrams from one
// socket and relays them according to the delivery policy fixed at
// startup: either to every registered chat client except the sender
// (broadcast), or once to a fixed multicast group (multicast).
//
// The broadcast policy compares source and recorded ports only. All
// participants are assumed to share one network address and to be told
// apart solely by port, which holds for colocated clients on the same
// host and for nothing more general than that.
//
// The relay reads the registry for addressing and never mutates it.
type Relay struct {
	conn     *net.UDPConn
	config   *config.RelayConfig
	logger   *slog.Logger
	registry *registry.Registry
	metrics  *metrics.Metrics

	// Multicast destination, resolved at Start in multicast mode
	groupAddr *net.UDPAddr

	// Concurrency management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRelay creates a new datagram relay instance
func NewRelay(cfg *config.RelayConfig, logger *slog.Logger, reg *registry.Registry, m *metrics.Metrics) *Relay {
	ctx, cancel := context.WithCancel(context.Background())

	return &Relay{
		config:   cfg,
		logger:   logger,
		registry: reg,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start binds the UDP socket and begins the receive loop. A bind
// failure is fatal.
func (r *Relay) Start() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf(":%d", r.config.UDPPort))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	r.conn = conn

	if r.config.Mode == config.ModeMulticast {
		groupIP := net.ParseIP(r.config.MulticastGroup)
		if groupIP == nil {
			conn.Close()
			return fmt.Errorf("invalid multicast group address: %s", r.config.MulticastGroup)
		}
		r.groupAddr = &net.UDPAddr{IP: groupIP, Port: r.config.MulticastPort()}
	}

	r.logger.Info("UDP relay started",
		slog.String("address", conn.LocalAddr().String()),
		slog.String("mode", r.config.Mode),
		slog.Int("buffer_size", r.config.BufferSize),
	)

	r.wg.Add(1)
	go r.receiveLoop()

	return nil
}

// LocalAddr returns the bound socket address, nil before Start
func (r *Relay) LocalAddr() net.Addr {
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Stop signals the receive loop to finish and waits for it. Shutdown
// is cooperative: an in-progress blocking receive is not interrupted
// beyond the read deadline tick.
func (r *Relay) Stop() error {
	r.logger.Info("Stopping UDP relay...")

	r.cancel()

	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			r.logger.Warn("Error closing UDP socket", slog.String("error", err.Error()))
		}
	}

	r.wg.Wait()

	r.logger.Info("UDP relay stopped")
	return nil
}

// receiveLoop is the single long-running datagram loop. The shutdown
// flag is checked once per iteration between blocking receives.
func (r *Relay) receiveLoop() {
	defer r.wg.Done()

	buffer := make([]byte, r.config.BufferSize)

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Info("Receive loop stopping due to context cancellation")
			return
		default:
		}

		if err := r.conn.SetReadDeadline(time.Now().Add(readDeadlineInterval)); err != nil {
			r.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := r.conn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}

			select {
			case <-r.ctx.Done():
				return
			default:
				r.logger.Error("Failed to read datagram", slog.String("error", err.Error()))
				continue
			}
		}

		r.metrics.RecordDatagramReceived()
		r.logger.Debug("Datagram received",
			slog.String("remote_addr", remoteAddr.String()),
			slog.Int("size", n),
		)

		payload := buffer[:n]
		switch r.config.Mode {
		case config.ModeMulticast:
			r.relayMulticast(payload)
		default:
			r.relayBroadcast(payload, remoteAddr.Port)
		}
	}
}

// relayBroadcast sends the verbatim payload to every registered client
// whose recorded TCP port differs from the datagram's source port.
// A failed send to one target is logged and skipped.
func (r *Relay) relayBroadcast(payload []byte, sourcePort int) {
	for _, h := range r.registry.Snapshot() {
		if h.RemotePort() == sourcePort {
			continue
		}

		target := &net.UDPAddr{IP: h.RemoteIP(), Port: h.RemotePort()}
		if _, err := r.conn.WriteToUDP(payload, target); err != nil {
			r.metrics.RecordRelayError()
			r.logger.Warn("Failed to relay datagram",
				slog.String("target", target.String()),
				slog.String("error", err.Error()),
			)
			continue
		}

		r.metrics.RecordDatagramRelayed()
		r.logger.Debug("Datagram relayed",
			slog.String("target", target.String()),
			slog.Int("size", len(payload)),
		)
	}
}

// relayMulticast sends the verbatim payload once to the fixed group
// address, regardless of how many clients are registered.
func (r *Relay) relayMulticast(payload []byte) {
	if _, err := r.conn.WriteToUDP(payload, r.groupAddr); err != nil {
		r.metrics.RecordRelayError()
		r.logger.Warn("Failed to relay datagram to multicast group",
			slog.String("group", r.groupAddr.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	r.metrics.RecordDatagramRelayed()
	r.logger.Debug("Datagram relayed to multicast group",
		slog.String("group", r.groupAddr.String()),
		slog.Int("size", len(payload)),
	)
}

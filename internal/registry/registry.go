package registry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/thuanbk2010/simple-chat/internal/metrics"
)

// Registry is the shared, concurrency-safe collection of active client
// handles. Adds, removes, snapshots and counts are mutually exclusive
// under a single mutex, so a snapshot taken for a broadcast is never
// corrupted by a concurrent registration. Handles added or removed
// after a snapshot was taken are not reflected in that snapshot; the
// fan-out works on the membership as of broadcast start.
type Registry struct {
	mu      sync.Mutex
	handles []*Handle
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRegistry creates an empty client registry
func NewRegistry(logger *slog.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		handles: make([]*Handle, 0),
		logger:  logger,
		metrics: m,
	}
}

// Add registers a client handle. The handle must be registered before
// its session starts reading protocol lines and before the welcome
// line is sent.
func (r *Registry) Add(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.handles {
		if existing == h {
			r.logger.Warn("Handle already registered, skipping",
				slog.String("remote_addr", h.RemoteAddr()),
			)
			return
		}
	}

	r.handles = append(r.handles, h)
	r.metrics.SetActiveClients(len(r.handles))

	r.logger.Info("Client registered",
		slog.String("remote_addr", h.RemoteAddr()),
		slog.Int("active_clients", len(r.handles)),
	)
}

// Remove unregisters a client handle. Removing a handle that is not
// registered is a no-op, so the session cleanup path may run it
// unconditionally regardless of how the session ended.
func (r *Registry) Remove(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.handles {
		if existing == h {
			r.handles = append(r.handles[:i], r.handles[i+1:]...)
			r.metrics.SetActiveClients(len(r.handles))

			r.logger.Info("Client removed",
				slog.String("remote_addr", h.RemoteAddr()),
				slog.String("login", h.Login()),
				slog.Int("active_clients", len(r.handles)),
			)
			return
		}
	}
}

// Snapshot returns a defensive copy of the currently registered
// handles in insertion order. Broadcasts iterate the copy, never the
// live collection.
func (r *Registry) Snapshot() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make([]*Handle, len(r.handles))
	copy(snapshot, r.handles)
	return snapshot
}

// Count returns the number of currently registered handles. The value
// is a point-in-time snapshot and may be stale by the time the caller
// reads it.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Infos returns monitoring information for all registered handles
func (r *Registry) Infos() []ClientInfo {
	snapshot := r.Snapshot()

	infos := make([]ClientInfo, 0, len(snapshot))
	for _, h := range snapshot {
		infos = append(infos, h.Info())
	}
	return infos
}

// ClientInfo represents one registered client for monitoring and APIs
type ClientInfo struct {
	Address     string        `json:"address"`
	Login       string        `json:"login,omitempty"`
	ConnectedAt time.Time     `json:"connected_at"`
	Uptime      time.Duration `json:"uptime"`
}

// Package ws implements the authenticated WebSocket session layer: token
// auth, task submission with streamed progress, cancellation, and fan-out
// broadcasts to every connected device.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/opencli/daemon/pkg/domain"
	"github.com/opencli/daemon/pkg/store"
)

const defaultWriteTimeout = 10 * time.Second

// Manager owns the device→session map and the process-wide cancellation
// set. One instance is shared by every WebSocket listener.
type Manager struct {
	registry *domain.Registry
	store    *store.Store
	secret   string
	logger   *slog.Logger

	// Authenticated sessions, one per device.
	sessions map[string]*Session
	mu       sync.RWMutex

	cancelled   map[string]bool
	cancelledMu sync.Mutex

	writeTimeout time.Duration
}

// New creates a session manager. store may be nil; task lifecycle events are
// then not persisted.
func New(registry *domain.Registry, st *store.Store, secret string, logger *slog.Logger) *Manager {
	return &Manager{
		registry:     registry,
		store:        st,
		secret:       secret,
		logger:       logger.With("component", "ws"),
		sessions:     make(map[string]*Session),
		cancelled:    make(map[string]bool),
		writeTimeout: defaultWriteTimeout,
	}
}

// HTTPHandler upgrades plain HTTP requests; used by the standalone
// WebSocket listener.
func (m *Manager) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// Local daemon, clients connect from app webviews and LAN
			// devices with arbitrary origins.
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		m.HandleConnection(r.Context(), conn)
	})
}

// MarkCancelled adds a task to the cancellation set. Idempotent.
func (m *Manager) MarkCancelled(taskID string) {
	m.cancelledMu.Lock()
	defer m.cancelledMu.Unlock()
	m.cancelled[taskID] = true
}

// IsCancelled reports whether a task has been cancelled. Long-running work
// polls this between suspension points.
func (m *Manager) IsCancelled(taskID string) bool {
	m.cancelledMu.Lock()
	defer m.cancelledMu.Unlock()
	return m.cancelled[taskID]
}

// ClearCancelled removes a task from the cancellation set once its run has
// fully settled.
func (m *Manager) ClearCancelled(taskID string) {
	m.cancelledMu.Lock()
	defer m.cancelledMu.Unlock()
	delete(m.cancelled, taskID)
}

// ActiveSessions returns the number of authenticated sessions.
func (m *Manager) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// ConnectedDevices returns the device ids of all authenticated sessions,
// sorted for stable output.
func (m *Manager) ConnectedDevices() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Broadcast sends one payload to every authenticated session. Delivery is
// best-effort: sessions whose send fails are evicted after the iteration,
// and the remaining sessions still receive the payload.
func (m *Manager) Broadcast(payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		m.logger.Warn("failed to marshal broadcast", "error", err)
		return
	}

	m.mu.RLock()
	snapshot := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		snapshot = append(snapshot, s)
	}
	m.mu.RUnlock()

	var dead []*Session
	for _, s := range snapshot {
		if err := s.sendRaw(data); err != nil {
			m.logger.Warn("evicting session after failed broadcast",
				"device_id", s.deviceID, "error", err)
			dead = append(dead, s)
		}
	}
	for _, s := range dead {
		m.evict(s)
	}
}

// register binds a session to its device id, replacing and closing any prior
// session for the same device.
func (m *Manager) register(s *Session) {
	m.mu.Lock()
	prior := m.sessions[s.deviceID]
	m.sessions[s.deviceID] = s
	m.mu.Unlock()

	if prior != nil && prior != s {
		m.logger.Info("replacing existing session", "device_id", s.deviceID)
		prior.close(websocket.StatusNormalClosure, "replaced by new connection")
	}
}

// evict removes a session from the map if it is still the registered one for
// its device, then closes it.
func (m *Manager) evict(s *Session) {
	m.mu.Lock()
	if m.sessions[s.deviceID] == s {
		delete(m.sessions, s.deviceID)
	}
	m.mu.Unlock()
	s.close(websocket.StatusNormalClosure, "")
}

// recordEvent persists a task lifecycle event; failures are logged, never
// surfaced to the client.
func (m *Manager) recordEvent(ctx context.Context, eventType string, payload map[string]any) {
	if m.store == nil {
		return
	}
	if _, err := m.store.AppendEvent(ctx, eventType, payload); err != nil {
		m.logger.Warn("failed to record status event", "event_type", eventType, "error", err)
	}
}

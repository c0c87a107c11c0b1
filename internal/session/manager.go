package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Options configures a Manager.
type Options struct {
	Archive Archive
	Labels  Labeler
	Now     func() time.Time
}

// Manager owns the live sessions. Sessions share nothing but the service
// clients.
type Manager struct {
	svc     Services
	archive Archive
	labels  Labeler
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates an empty manager.
func NewManager(svc Services, opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		svc:      svc,
		archive:  opts.Archive,
		labels:   opts.Labels,
		now:      opts.Now,
		sessions: map[string]*Session{},
	}
}

// Create starts a new session for operator.
func (m *Manager) Create(operator string) *Session {
	s := newSession(uuid.NewString(), operator, m.svc, m.archive, m.labels, m.now)
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	slog.Debug("session created", "session", s.ID, "operator", operator)
	return s
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Delete drops a session. In-flight actions finish on their own.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)
	return true
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep removes sessions idle for longer than idle, skipping busy ones, and
// returns how many were removed.
func (m *Manager) Sweep(idle time.Duration) int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		if s.Busy() || s.idleSince(now) <= idle {
			continue
		}
		delete(m.sessions, id)
		removed++
	}
	if removed > 0 {
		slog.Info("idle sessions removed", "count", removed, "remaining", len(m.sessions))
	}
	return removed
}

// RunSweeper sweeps idle sessions until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, idle time.Duration) {
	interval := max(idle/4, time.Second)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Sweep(idle)
		}
	}
}

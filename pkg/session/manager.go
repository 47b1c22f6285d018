package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AnarchoFatSats/comercial-mva/pkg/funnel"
	"github.com/AnarchoFatSats/comercial-mva/pkg/leads"
)

// DefaultIdleTTL is how long an untouched in-progress session is kept.
const DefaultIdleTTL = 2 * time.Hour

// Manager keeps server-side sessions keyed by id and serializes every call
// against the same session. Different sessions never contend beyond the
// brief map lookup.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry
	ttl     time.Duration
	clock   func() time.Time
	logger  *slog.Logger
}

type entry struct {
	mu       sync.Mutex
	s        *FormSession
	lastSeen time.Time
	gone     atomic.Bool
}

// NewManager creates a manager that forgets sessions idle for longer than ttl.
func NewManager(ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultIdleTTL
	}
	return &Manager{
		entries: make(map[string]*entry),
		ttl:     ttl,
		clock:   time.Now,
		logger:  slog.Default().With("component", "session"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// Start creates a session for the funnel and returns its first state.
func (m *Manager) Start(f *funnel.Funnel, tracking leads.Tracking) State {
	s := New(f, tracking).WithClock(m.clock)
	m.mu.Lock()
	m.entries[s.ID()] = &entry{s: s, lastSeen: m.clock()}
	m.mu.Unlock()
	m.logger.Debug("session started", "session_id", s.ID(), "funnel", f.ID)
	return s.State()
}

// Do runs fn with exclusive access to the session. fn must not call back
// into the Manager for the same id except Discard.
func (m *Manager) Do(id string, fn func(*FormSession) error) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	if ok {
		e.lastSeen = m.clock()
	}
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone.Load() {
		return ErrSessionNotFound
	}
	return fn(e.s)
}

// Discard drops a session, typically after its record has been handed off.
func (m *Manager) Discard(id string) {
	m.mu.Lock()
	e, ok := m.entries[id]
	delete(m.entries, id)
	m.mu.Unlock()
	if ok {
		e.gone.Store(true)
	}
}

// Sweep removes sessions idle past the TTL and returns how many were
// dropped. Sessions busy in Do are left for the next sweep.
func (m *Manager) Sweep() int {
	cutoff := m.clock().Add(-m.ttl)
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, e := range m.entries {
		if e.lastSeen.After(cutoff) || !e.mu.TryLock() {
			continue
		}
		e.gone.Store(true)
		e.mu.Unlock()
		delete(m.entries, id)
		n++
	}
	if n > 0 {
		m.logger.Info("expired idle sessions", "count", n)
	}
	return n
}

// RunSweeper sweeps every interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Sweep()
		}
	}
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

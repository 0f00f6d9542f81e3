// Package session keeps one pipeline controller per client session in
// memory, together with the temporary files selected into it, and reaps
// sessions that have been idle for too long.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/maauso/screenshot-api/internal/pipeline"
	"github.com/maauso/screenshot-api/internal/session/id"
	"github.com/maauso/screenshot-api/internal/storage"
)

// ErrSessionNotFound is returned when a session cannot be found by ID.
var ErrSessionNotFound = errors.New("session not found")

// Session is one client's pipeline.
type Session struct {
	// ID is the unique identifier for this session.
	ID string
	// Controller drives the session's pipeline.
	Controller *pipeline.Controller
	// CreatedAt is when the session was created.
	CreatedAt time.Time

	mu        sync.Mutex
	lastSeen  time.Time
	tempPaths []string
}

// Track records a temporary file owned by the session. It is removed when
// the session ends.
func (s *Session) Track(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tempPaths = append(s.tempPaths, path)
}

// LastSeen returns when the session was last accessed.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) takePaths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := s.tempPaths
	s.tempPaths = nil
	return paths
}

// ControllerFactory builds the controller of a new session.
type ControllerFactory func(sessionID string) *pipeline.Controller

// Hooks are notified when sessions open and close.
type Hooks interface {
	SessionOpened()
	SessionClosed()
}

type nopHooks struct{}

func (nopHooks) SessionOpened() {}
func (nopHooks) SessionClosed() {}

// Manager is an in-memory session registry.
// It uses a map with RWMutex for thread-safe access.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	factory ControllerFactory
	temp    storage.Storage
	ttl     time.Duration
	hooks   Hooks
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithHooks sets the open/close hooks.
func WithHooks(h Hooks) Option {
	return func(m *Manager) {
		if h != nil {
			m.hooks = h
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager. Sessions idle for longer than ttl are
// removed by Reap; a zero ttl disables reaping.
func NewManager(factory ControllerFactory, temp storage.Storage, ttl time.Duration, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		sessions: make(map[string]*Session),
		factory:  factory,
		temp:     temp,
		ttl:      ttl,
		hooks:    nopHooks{},
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create opens a new session with a fresh controller.
func (m *Manager) Create() *Session {
	now := m.now()
	sid := id.Generate()
	s := &Session{
		ID:         sid,
		Controller: m.factory(sid),
		CreatedAt:  now,
		lastSeen:   now,
	}

	m.mu.Lock()
	m.sessions[sid] = s
	m.mu.Unlock()

	m.hooks.SessionOpened()
	m.logger.Info("session created", slog.String("session_id", sid))
	return s
}

// Get returns the session with the given ID and marks it as used.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.touch(m.now())
	return s, nil
}

// List returns all sessions ordered by creation time.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	result := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		result = append(result, s)
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// Delete tears down a session: its controller is closed and its temporary
// files are removed.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	return m.teardown(ctx, s)
}

// Reap removes sessions idle for longer than the TTL and returns how many
// were removed.
func (m *Manager) Reap(ctx context.Context) int {
	if m.ttl <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.ttl)

	var expired []*Session
	m.mu.Lock()
	for sid, s := range m.sessions {
		if s.LastSeen().Before(cutoff) {
			expired = append(expired, s)
			delete(m.sessions, sid)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		if err := m.teardown(ctx, s); err != nil {
			m.logger.Warn("failed to clean up expired session",
				slog.String("session_id", s.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if len(expired) > 0 {
		m.logger.Info("expired sessions reaped", slog.Int("count", len(expired)))
	}
	return len(expired)
}

// Run reaps expired sessions every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if m.ttl <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Reap(ctx)
		}
	}
}

// Close tears down every session.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		if err := m.teardown(ctx, s); err != nil {
			m.logger.Warn("failed to clean up session",
				slog.String("session_id", s.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (m *Manager) teardown(ctx context.Context, s *Session) error {
	s.Controller.Close()
	m.hooks.SessionClosed()
	m.logger.Info("session closed", slog.String("session_id", s.ID))

	paths := s.takePaths()
	if len(paths) == 0 || m.temp == nil {
		return nil
	}
	return m.temp.CleanupTemp(ctx, paths)
}

package voice

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"voice-commerce-service/internal/observability/metrics"
	"voice-commerce-service/internal/service/interpreter"
	"voice-commerce-service/internal/service/queue"
	"voice-commerce-service/internal/service/utterance"
)

// Config tunes new sessions.
type Config struct {
	DebounceWindow time.Duration
	QueueSize      int
	IdleTimeout    time.Duration
}

func DefaultConfig() Config {
	return Config{
		DebounceWindow: interpreter.DefaultDebounceWindow,
		QueueSize:      16,
		IdleTimeout:    10 * time.Minute,
	}
}

type Option func(*Manager)

// WithClock replaces time.Now for sessions and their interpreters.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager owns the live sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	ctx    context.Context
	cancel context.CancelFunc

	dispatcher Dispatcher
	publisher  Publisher
	cfg        Config
	now        func() time.Time
	metrics    *metrics.Metrics
}

// NewManager creates a manager. publisher may be nil.
func NewManager(d Dispatcher, publisher Publisher, cfg Config, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = def.DebounceWindow
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		sessions:   make(map[string]*Session),
		ctx:        ctx,
		cancel:     cancel,
		dispatcher: d,
		publisher:  publisher,
		cfg:        cfg,
		now:        time.Now,
		metrics:    metrics.DefaultMetrics,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start opens a listening session for userID with fresh interpreter state.
func (m *Manager) Start(userID string) *Session {
	id := uuid.NewString()
	now := m.now()

	s := &Session{
		id:        id,
		userID:    userID,
		createdAt: now,
		now:       m.now,
		interp: interpreter.New(
			interpreter.WithDebounceWindow(m.cfg.DebounceWindow),
			interpreter.WithClock(m.now),
		),
		dispatcher:   m.dispatcher,
		publisher:    m.publisher,
		queue:        queue.New(m.cfg.QueueSize),
		ids:          utterance.NewGenerator(id),
		metrics:      m.metrics,
		logger:       newSessionLogger(id, userID),
		lastActivity: now,
		onStop:       m.remove,
	}
	s.utterance = utterance.NewLifecycle(s.ids.Next())

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	go s.queue.Start(m.ctx)

	m.metrics.RecordSessionStart()
	m.metrics.RecordUtteranceCreated()
	s.logger.Info().Msg("Voice session started")
	return s
}

// Get returns a live session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// GetForUser returns a live session owned by userID. Sessions of other users
// are reported as not found.
func (m *Manager) GetForUser(id, userID string) (*Session, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if s.userID != userID {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// LatestForUser returns the most recently started live session owned by
// userID.
func (m *Manager) LatestForUser(userID string) (*Session, bool) {
	var latest *Session
	for _, s := range m.list() {
		if s.userID != userID || s.Stopped() {
			continue
		}
		if latest == nil || s.createdAt.After(latest.createdAt) {
			latest = s
		}
	}
	return latest, latest != nil
}

// Stop stops and forgets a session.
func (m *Manager) Stop(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.Stop()
	return nil
}

// StopAll stops every session and the manager's workers.
func (m *Manager) StopAll() {
	for _, s := range m.list() {
		s.Stop()
	}
	m.cancel()
}

// Active returns the number of live sessions.
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sessions returns snapshots of the live sessions, oldest first.
func (m *Manager) Sessions() []Info {
	list := m.list()
	out := make([]Info, len(list))
	for i, s := range list {
		out[i] = s.Info()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ReapIdle stops sessions with no activity for longer than the idle timeout
// and returns how many were stopped.
func (m *Manager) ReapIdle() int {
	if m.cfg.IdleTimeout <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.cfg.IdleTimeout)

	n := 0
	for _, s := range m.list() {
		if s.Info().LastActivity.Before(cutoff) {
			s.logger.Info().Dur("idleTimeout", m.cfg.IdleTimeout).Msg("Stopping idle voice session")
			s.Stop()
			n++
		}
	}
	return n
}

func (m *Manager) list() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.id)
	m.mu.Unlock()
}

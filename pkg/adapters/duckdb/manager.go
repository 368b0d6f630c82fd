package duckdb

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-datachat/pkg/apperrors"
)

const (
	DefaultMaxSessions     = 100
	DefaultSessionTTL      = time.Hour
	DefaultCleanupInterval = 1 * time.Minute
)

// ManagerConfig holds configuration for the session manager.
type ManagerConfig struct {
	MaxSessions int
	TTL         time.Duration
	// Session is the template applied to every session the manager creates.
	// Its ID field is ignored.
	Session SessionOptions
	// CleanupInterval controls the background purge. A negative value
	// disables the janitor goroutine.
	CleanupInterval time.Duration
	Now             func() time.Time
}

// Manager bounds and expires the set of live sessions. Every mutation of
// the session map, including TTL purges and capacity checks, runs under mu.
type Manager struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	maxSessions int
	ttl         time.Duration
	template    SessionOptions
	now         func() time.Time
	stopped     bool
	stopChan    chan struct{}
	logger      *zap.Logger
}

// ManagerStats contains statistics about the session manager state.
type ManagerStats struct {
	TotalSessions     int `json:"total_sessions"`
	MaxSessions       int `json:"max_sessions"`
	TTLSeconds        int `json:"ttl_seconds"`
	OldestIdleSeconds int `json:"oldest_idle_seconds"`
}

// NewManager creates a session manager. Unless disabled, it starts a
// background purge that runs until Close is called.
func NewManager(cfg ManagerConfig, logger *zap.Logger) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSessionTTL
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Session.Now == nil {
		cfg.Session.Now = cfg.Now
	}

	m := &Manager{
		sessions:    make(map[string]*Session),
		maxSessions: cfg.MaxSessions,
		ttl:         cfg.TTL,
		template:    cfg.Session,
		now:         cfg.Now,
		stopChan:    make(chan struct{}),
		logger:      logger.Named("session-manager"),
	}

	if cfg.CleanupInterval > 0 {
		go m.cleanupLoop(cfg.CleanupInterval)
	}
	return m
}

// CreateSession registers a new session for path. An empty id is replaced
// with a generated one; an existing session with the same id is closed and
// replaced. Expired sessions are purged before the capacity check.
func (m *Manager) CreateSession(path, id string) (*Session, error) {
	m.mu.Lock()
	expired := m.purgeExpiredLocked()

	var replaced *Session
	if id != "" {
		replaced = m.sessions[id]
		delete(m.sessions, id)
	}

	if len(m.sessions) >= m.maxSessions {
		if replaced != nil {
			m.sessions[id] = replaced
		}
		m.mu.Unlock()
		closeSessions(expired)
		m.logger.Warn("Session capacity reached", zap.Int("max_sessions", m.maxSessions))
		return nil, fmt.Errorf("Maximum number of sessions (%d) reached: %w", m.maxSessions, apperrors.ErrCapacityReached)
	}

	opts := m.template
	opts.ID = id
	session, err := NewSession(path, opts, m.logger)
	if err != nil {
		if replaced != nil {
			m.sessions[id] = replaced
		}
		m.mu.Unlock()
		closeSessions(expired)
		return nil, err
	}
	m.sessions[session.ID()] = session
	total := len(m.sessions)
	m.mu.Unlock()

	if replaced != nil {
		expired = append(expired, replaced)
	}
	closeSessions(expired)

	m.logger.Info("Created session",
		zap.String("session_id", session.ID()),
		zap.Int("total_sessions", total),
	)
	return session, nil
}

// GetSession returns the session for id, or nil when it is unknown or has
// been idle longer than the TTL. Expired sessions are closed and removed.
func (m *Manager) GetSession(id string) *Session {
	m.mu.Lock()
	session, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	if m.isExpired(session) {
		delete(m.sessions, id)
		m.mu.Unlock()
		m.logger.Debug("Session expired", zap.String("session_id", id))
		session.Close()
		return nil
	}
	session.touch()
	m.mu.Unlock()
	return session
}

// GetOrCreate returns the live session for id when it reads path, and
// otherwise creates one. A live session bound to a different file is
// replaced under the same id.
func (m *Manager) GetOrCreate(path, id string) (*Session, error) {
	if id != "" {
		if s := m.GetSession(id); s != nil {
			if s.Path() == path {
				return s, nil
			}
			m.logger.Info("Session bound to a different file, replacing",
				zap.String("session_id", id),
			)
		}
	}
	return m.CreateSession(path, id)
}

// RemoveSession closes and removes the session. It reports whether the
// session existed.
func (m *Manager) RemoveSession(id string) bool {
	m.mu.Lock()
	session, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return false
	}
	session.Close()
	m.logger.Debug("Removed session", zap.String("session_id", id))
	return true
}

// Count returns the number of registered sessions, expired or not.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseAll closes and removes every session but keeps the manager usable.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	closeSessions(all)
	if len(all) > 0 {
		m.logger.Info("Closed all sessions", zap.Int("count", len(all)))
	}
}

// Close stops the background purge and closes every session.
// This method is idempotent and safe to call multiple times.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	close(m.stopChan)
	m.mu.Unlock()

	m.CloseAll()
	m.logger.Info("Session manager closed")
	return nil
}

// Stats returns statistics about the manager. Safe to call concurrently.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	stats := ManagerStats{
		TotalSessions: len(m.sessions),
		MaxSessions:   m.maxSessions,
		TTLSeconds:    int(m.ttl.Seconds()),
	}
	for _, s := range m.sessions {
		idle := int(now.Sub(s.LastAccessed()).Seconds())
		if idle > stats.OldestIdleSeconds {
			stats.OldestIdleSeconds = idle
		}
	}
	return stats
}

func (m *Manager) isExpired(s *Session) bool {
	return m.now().Sub(s.LastAccessed()) > m.ttl
}

// purgeExpiredLocked unregisters expired sessions and returns them so the
// caller can close them after releasing mu. Caller must hold mu.
func (m *Manager) purgeExpiredLocked() []*Session {
	var expired []*Session
	for id, s := range m.sessions {
		if m.isExpired(s) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	if len(expired) > 0 {
		m.logger.Info("Purged expired sessions",
			zap.Int("count", len(expired)),
			zap.Int("remaining", len(m.sessions)),
		)
	}
	return expired
}

// PurgeExpired removes every session idle longer than the TTL.
func (m *Manager) PurgeExpired() int {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return 0
	}
	expired := m.purgeExpiredLocked()
	m.mu.Unlock()

	closeSessions(expired)
	return len(expired)
}

func (m *Manager) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.PurgeExpired()
		case <-m.stopChan:
			return
		}
	}
}

func closeSessions(sessions []*Session) {
	for _, s := range sessions {
		s.Close()
	}
}

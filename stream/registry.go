package stream

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"faceforge/core"
	"faceforge/metrics"
	"faceforge/swap"
)

// SessionInfo pairs a session id with its stats snapshot for listings.
type SessionInfo struct {
	SessionID string `json:"session_id"`
	Stats     Stats  `json:"stats"`
}

// Registry is the process-wide table of live sessions. The lock guards map
// membership only; it is never held across decoding or substitution work.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	engine      swap.Engine
	jpegQuality int
	logger      *core.Logger
	metrics     *metrics.Metrics
}

// NewRegistry creates an empty session registry. All sessions share the one
// engine handle. m may be nil.
func NewRegistry(engine swap.Engine, jpegQuality int, logger *core.Logger, m *metrics.Metrics) *Registry {
	if jpegQuality <= 0 {
		jpegQuality = core.DefaultJPEGQuality
	}
	return &Registry{
		sessions:    make(map[string]*Session),
		engine:      engine,
		jpegQuality: jpegQuality,
		logger:      logger,
		metrics:     m,
	}
}

// Create allocates a session bound to conn. An empty id is replaced with a
// generated one; an id already in use is an error and the caller keeps
// ownership of conn.
func (r *Registry) Create(id string, conn Conn) (*Session, error) {
	if id == "" {
		id = uuid.New().String()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; exists {
		return nil, fmt.Errorf("session %q already exists", id)
	}

	session := newSession(id, conn, r.engine, r.jpegQuality, r.logger, r.metrics)
	r.sessions[id] = session

	if r.metrics != nil {
		r.metrics.SessionsCreated.Inc()
		r.metrics.ActiveSessions.Set(float64(len(r.sessions)))
	}
	r.logger.Info("stream session connected", "session_id", id)
	return session, nil
}

// Get returns the session for id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, exists := r.sessions[id]
	return session, exists
}

// Remove tears down the session for id and closes its connection. Removing an
// absent id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	session, exists := r.sessions[id]
	if exists {
		delete(r.sessions, id)
	}
	remaining := len(r.sessions)
	r.mu.Unlock()

	if !exists {
		return
	}

	session.Close()

	if r.metrics != nil {
		r.metrics.SessionsClosed.Inc()
		r.metrics.ActiveSessions.Set(float64(remaining))
		r.metrics.SessionDuration.Observe(time.Since(session.StartTime).Seconds())
	}
	r.logger.Info("stream session disconnected",
		"session_id", id,
		"duration", time.Since(session.StartTime).String(),
	)
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns a point-in-time snapshot of all sessions and their stats,
// never a live view.
func (r *Registry) List() []SessionInfo {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, SessionInfo{SessionID: s.ID, Stats: s.Stats()})
	}
	return infos
}

// Stop closes every live session. Used on server shutdown.
func (r *Registry) Stop() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	if r.metrics != nil {
		r.metrics.ActiveSessions.Set(0)
	}
	r.logger.Info("session registry stopped", "closed_sessions", len(sessions))
}

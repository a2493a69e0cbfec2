package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joeblew999/geo-coverage/internal/auth"
	"github.com/joeblew999/geo-coverage/internal/coverage"
)

// ErrSessionNotFound is returned for an unknown or closed session ID.
var ErrSessionNotFound = eris.New("service: session not found")

// ErrTooManySessions is returned by Create when the session limit is reached.
var ErrTooManySessions = eris.New("service: too many sessions")

// CatalogFactory builds the catalog for one session's tokens.
type CatalogFactory func(tokens *auth.TokenStore) coverage.Catalog

// MapSourceFactory builds the map source for one session's tokens.
type MapSourceFactory func(tokens *auth.TokenStore) coverage.MapSource

// Session pairs a coverage controller with its authorization state.
type Session struct {
	ID         string
	CreatedAt  time.Time
	Controller *coverage.Controller
	Auth       *auth.Session

	unsubscribe func()
	lastSeen    atomic.Int64 // unix nanoseconds
	streams     atomic.Int32
}

func (s *Session) touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

// Attach marks the session as watched by a live stream until the returned
// func is called. Attached sessions are never reaped.
func (s *Session) Attach() (detach func()) {
	s.streams.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { s.streams.Add(-1) })
	}
}

func (s *Session) idleSince(now time.Time) time.Duration {
	if s.streams.Load() > 0 {
		return 0
	}
	return now.Sub(time.Unix(0, s.lastSeen.Load()))
}

// Info returns the session summary.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:         s.ID,
		CreatedAt:  s.CreatedAt,
		Authorized: s.Auth.IsAuthorized(),
	}
}

// SessionService manages sessions.
type SessionService struct {
	cfg      coverage.Config
	catalogs CatalogFactory
	maps     MapSourceFactory
	bus      *EventBus
	max      int
	now      func() time.Time

	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewSessionService creates a new session service. max bounds the number
// of live sessions; zero means unbounded.
func NewSessionService(cfg coverage.Config, catalogs CatalogFactory, maps MapSourceFactory, max int) *SessionService {
	return &SessionService{
		cfg:      cfg,
		catalogs: catalogs,
		maps:     maps,
		bus:      NewEventBus(),
		max:      max,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Bus returns the event bus session changes are published on.
func (s *SessionService) Bus() *EventBus {
	return s.bus
}

// Create starts a new session with its own controller.
func (s *SessionService) Create() (*Session, error) {
	s.mu.Lock()
	if s.max > 0 && len(s.sessions) >= s.max {
		s.mu.Unlock()
		return nil, ErrTooManySessions
	}

	sess := &Session{
		ID:        uuid.NewString(),
		CreatedAt: s.now().UTC(),
		Auth:      auth.NewSession(),
	}
	sess.touch(s.now())
	cfg := s.cfg
	cfg.Logger = zap.L().Named("coverage").With(zap.String("session", sess.ID))
	sess.Controller = coverage.New(cfg, s.catalogs(sess.Auth.Tokens()), s.maps(sess.Auth.Tokens()))

	id := sess.ID
	sess.unsubscribe = sess.Controller.Subscribe(func(coverage.State) {
		s.bus.Publish(Event{Session: id, Action: ActionUpdated})
	})
	s.sessions[id] = sess
	s.mu.Unlock()

	zap.L().Info("session created", zap.String("session", id))
	s.bus.Publish(Event{Session: id, Action: ActionCreated})
	return sess, nil
}

// Get returns a live session by ID.
func (s *SessionService) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, eris.Wrapf(ErrSessionNotFound, "session %q", id)
	}
	sess.touch(s.now())
	return sess, nil
}

// List returns a summary of every live session.
func (s *SessionService) List() []SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Info())
	}
	return out
}

// Delete closes a session's controller and forgets it.
func (s *SessionService) Delete(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if !ok {
		return eris.Wrapf(ErrSessionNotFound, "session %q", id)
	}
	closeSession(sess)
	zap.L().Info("session closed", zap.String("session", id))
	s.bus.Publish(Event{Session: id, Action: ActionClosed})
	return nil
}

// Reap closes every session that has no attached stream and has not been
// looked up for longer than ttl. It returns the number of sessions closed.
func (s *SessionService) Reap(ttl time.Duration) int {
	now := s.now()
	var idle []string
	s.mu.RLock()
	for id, sess := range s.sessions {
		if sess.idleSince(now) > ttl {
			idle = append(idle, id)
		}
	}
	s.mu.RUnlock()

	n := 0
	for _, id := range idle {
		if err := s.Delete(id); err == nil {
			n++
		}
	}
	if n > 0 {
		zap.L().Info("reaped idle sessions", zap.Int("count", n), zap.Duration("ttl", ttl))
	}
	return n
}

// RunReaper calls Reap every interval until ctx is done. A non-positive ttl
// disables reaping.
func (s *SessionService) RunReaper(ctx context.Context, ttl, interval time.Duration) {
	if ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = ttl / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Reap(ttl)
		}
	}
}

// Close tears down every session.
func (s *SessionService) Close() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for id, sess := range sessions {
		closeSession(sess)
		s.bus.Publish(Event{Session: id, Action: ActionClosed})
	}
}

func closeSession(sess *Session) {
	sess.unsubscribe()
	sess.Controller.Close()
	sess.Auth.Deauthorize()
}

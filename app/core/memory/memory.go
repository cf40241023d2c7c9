// Package memory keeps short-lived per-session conversation state: a rolling
// message window plus arbitrary context values, all evicted on a TTL.
package memory

import (
	"strings"
	"sync"
	"time"

	"peeragent/app/pkg/logger"
	"peeragent/app/pkg/types"
)

// Session holds one conversation's history and scratch context. Access goes
// through Store methods; callers receive copies.
type session struct {
	messages  []types.ChatMessage
	context   map[string]interface{}
	createdAt time.Time
	updatedAt time.Time
}

// Store is a TTL-bounded in-memory session store.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*session

	ttl    time.Duration
	window int
}

func NewStore(ttl time.Duration, window int) *Store {
	if ttl <= 0 {
		ttl = 60 * time.Minute
	}
	if window <= 0 {
		window = 10
	}
	return &Store{
		sessions: make(map[string]*session),
		ttl:      ttl,
		window:   window,
	}
}

// AddMessage appends a message to the session, creating it on first use.
// Touching a session resets its TTL clock.
func (s *Store) AddMessage(sessionID string, msg types.ChatMessage) {
	if strings.TrimSpace(sessionID) == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.sessions[sessionID]
	if sess == nil {
		sess = &session{
			context:   make(map[string]interface{}),
			createdAt: time.Now(),
		}
		s.sessions[sessionID] = sess
	}
	sess.messages = append(sess.messages, msg)
	sess.updatedAt = time.Now()
}

// History returns the most recent messages of the session, newest last,
// bounded by the configured window. Expired sessions read as empty.
func (s *Store) History(sessionID string) []types.ChatMessage {
	s.mu.RLock()
	sess := s.sessions[sessionID]
	s.mu.RUnlock()

	if sess == nil || s.expired(sess) {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := sess.messages
	if len(msgs) > s.window {
		msgs = msgs[len(msgs)-s.window:]
	}
	out := make([]types.ChatMessage, len(msgs))
	copy(out, msgs)
	return out
}

// SetContext stores a scratch value on the session, creating it if needed.
func (s *Store) SetContext(sessionID, key string, value interface{}) {
	if strings.TrimSpace(sessionID) == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.sessions[sessionID]
	if sess == nil {
		sess = &session{
			context:   make(map[string]interface{}),
			createdAt: time.Now(),
		}
		s.sessions[sessionID] = sess
	}
	sess.context[key] = value
	sess.updatedAt = time.Now()
}

// Context reads a scratch value from the session.
func (s *Store) Context(sessionID, key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess := s.sessions[sessionID]
	if sess == nil || s.expiredLocked(sess) {
		return nil, false
	}
	v, ok := sess.context[key]
	return v, ok
}

// Clear drops a session immediately.
func (s *Store) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Len reports the number of live sessions, counting expired ones not yet
// swept.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep removes expired sessions and returns how many were dropped.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if s.expiredLocked(sess) {
			delete(s.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		logger.Debug("Swept %d expired sessions", removed)
	}
	return removed
}

func (s *Store) expired(sess *session) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiredLocked(sess)
}

func (s *Store) expiredLocked(sess *session) bool {
	return time.Since(sess.updatedAt) > s.ttl
}

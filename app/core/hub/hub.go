// Package hub tracks live duplex client connections, one per session, and
// the in-flight conversation bookkeeping each session carries between
// messages.
package hub

import (
	"errors"
	"sync"
	"time"

	"peeragent/app/pkg/logger"
)

// ErrNotConnected means no live transport is registered for the session.
var ErrNotConnected = errors.New("session not connected")

// Transport is a live duplex connection. WriteJSON must be safe to call from
// the hub goroutine; Close must be idempotent.
type Transport interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Conversation is the per-session dialogue bookkeeping: the answers gathered
// so far and the question batch the client has not answered yet.
type Conversation struct {
	Task      string
	TaskID    string
	Rounds    int
	Answers   map[string]string
	Pending   []string
	UpdatedAt time.Time
}

type entry struct {
	transport    Transport
	lastActivity time.Time
	conversation *Conversation
}

// Hub owns all live connections. At most one transport is registered per
// session; a reconnect closes and replaces the previous one.
type Hub struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func New() *Hub {
	return &Hub{entries: make(map[string]*entry)}
}

// Connect registers the transport for the session, closing any prior one.
func (h *Hub) Connect(sessionID string, transport Transport) {
	h.mu.Lock()
	prior := h.entries[sessionID]
	h.entries[sessionID] = &entry{transport: transport, lastActivity: time.Now()}
	h.mu.Unlock()

	if prior != nil {
		_ = prior.transport.Close()
		logger.Info("Session %s reconnected, prior transport closed", sessionID)
	} else {
		logger.Info("Session %s connected", sessionID)
	}
}

// Disconnect removes the session if the given transport is still the
// registered one. A stale transport (already replaced by a reconnect) is a
// no-op so the replacement survives.
func (h *Hub) Disconnect(sessionID string, transport Transport) {
	h.mu.Lock()
	defer h.mu.Unlock()

	current := h.entries[sessionID]
	if current == nil {
		return
	}
	if transport != nil && current.transport != transport {
		return
	}
	delete(h.entries, sessionID)
	_ = current.transport.Close()
	logger.Info("Session %s disconnected", sessionID)
}

// Send delivers a message to one session. A write failure deregisters the
// session so no zombie entry lingers.
func (h *Hub) Send(sessionID string, message interface{}) error {
	h.mu.Lock()
	e := h.entries[sessionID]
	if e != nil {
		e.lastActivity = time.Now()
	}
	h.mu.Unlock()

	if e == nil {
		return ErrNotConnected
	}

	if err := h.write(e.transport, message); err != nil {
		logger.Warn("Send to session %s failed, dropping connection: %v", sessionID, err)
		h.Disconnect(sessionID, e.transport)
		return err
	}
	return nil
}

// Broadcast delivers a message to every connected session, dropping the ones
// whose transport fails.
func (h *Hub) Broadcast(message interface{}) int {
	h.mu.RLock()
	snapshot := make(map[string]Transport, len(h.entries))
	for id, e := range h.entries {
		snapshot[id] = e.transport
	}
	h.mu.RUnlock()

	delivered := 0
	for id, transport := range snapshot {
		if err := h.write(transport, message); err != nil {
			logger.Warn("Broadcast to session %s failed, dropping connection: %v", id, err)
			h.Disconnect(id, transport)
			continue
		}
		delivered++
	}
	return delivered
}

func (h *Hub) IsConnected(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.entries[sessionID]
	return ok
}

// Count reports the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Conversation returns the session's dialogue bookkeeping, creating it on
// first use. Returns nil for sessions that are not connected.
func (h *Hub) Conversation(sessionID string) *Conversation {
	h.mu.Lock()
	defer h.mu.Unlock()

	e := h.entries[sessionID]
	if e == nil {
		return nil
	}
	if e.conversation == nil {
		e.conversation = &Conversation{Answers: make(map[string]string)}
	}
	e.conversation.UpdatedAt = time.Now()
	return e.conversation
}

// ResetConversation clears the session's dialogue bookkeeping, typically
// after a diagnosis completes.
func (h *Hub) ResetConversation(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e := h.entries[sessionID]; e != nil {
		e.conversation = nil
	}
}

func (h *Hub) write(transport Transport, message interface{}) error {
	return transport.WriteJSON(message)
}

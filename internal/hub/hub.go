// Package hub tracks the live connections of every authenticated user and
// fans events out to them. It is the single serialization point for
// presence: a user is online exactly while their connection set is
// non-empty, and the Join/Leave return values report the transitions so
// callers can broadcast each one exactly once.
package hub

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/Jishnu-21/chat-app/internal/events"
)

// Sender is the minimal interface the hub needs from a connection: the
// ability to push an event frame to the connected client.
type Sender interface {
	Send(env events.Envelope) error
}

// Hub manages active connections for users. It maps user ids to one or
// more live connections so events can be pushed to all currently-connected
// devices of a user.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]map[string]Sender // userID -> connID -> sender
	owners map[string]string            // connID -> userID, for Leave lookup
	logger *slog.Logger
}

// New creates a new hub instance.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		conns:  make(map[string]map[string]Sender),
		owners: make(map[string]string),
		logger: logger,
	}
}

// Join registers a connection for the given user and returns the connection
// id to pass to Leave when the connection closes. wentOnline is true only
// when this join moved the user's connection set from empty to non-empty;
// registering the same sender twice is a no-op that returns the existing id.
func (h *Hub) Join(userID string, s Sender) (connID string, wentOnline bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.conns[userID]
	if !ok {
		group = make(map[string]Sender)
		h.conns[userID] = group
	}

	// Duplicate-handle safety: the same connection must not count twice
	// for presence purposes.
	for id, existing := range group {
		if existing == s {
			return id, false
		}
	}

	connID = uuid.NewString()
	group[connID] = s
	h.owners[connID] = userID

	return connID, len(group) == 1
}

// Leave removes a connection from whichever user's set holds it, looked up
// by connection id. wentOffline is true only when this leave emptied the
// user's connection set. Leaving an unknown id is a no-op, so racing
// teardown paths cannot double-report an offline transition.
func (h *Hub) Leave(connID string) (userID string, wentOffline bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	userID, ok := h.owners[connID]
	if !ok {
		return "", false
	}
	delete(h.owners, connID)

	group := h.conns[userID]
	delete(group, connID)
	if len(group) == 0 {
		delete(h.conns, userID)
		return userID, true
	}

	return userID, false
}

// SendToUser delivers an event to every live connection of the given user.
// A user with no connections is a silent no-op: nothing is queued or
// persisted here, durability is the caller's concern. Delivery is
// best-effort; a failing sender is logged and left for its own read/write
// pumps to tear down, which keeps Leave the single presence authority.
func (h *Hub) SendToUser(userID string, env events.Envelope) {
	h.mu.RLock()
	group := h.conns[userID]
	senders := make([]Sender, 0, len(group))
	for _, s := range group {
		senders = append(senders, s)
	}
	h.mu.RUnlock()

	for _, s := range senders {
		if err := s.Send(env); err != nil {
			h.logger.Warn("event delivery failed", "userID", userID, "event", env.Event, "error", err)
		}
	}
}

// Broadcast delivers an event to every connection of every user. Used for
// presence announcements, which go to all connected parties.
func (h *Hub) Broadcast(env events.Envelope) {
	h.mu.RLock()
	var senders []Sender
	for _, group := range h.conns {
		for _, s := range group {
			senders = append(senders, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range senders {
		if err := s.Send(env); err != nil {
			h.logger.Warn("broadcast delivery failed", "event", env.Event, "error", err)
		}
	}
}

// IsOnline reports whether the user currently has at least one live
// connection. Presence is derived from the connection set, never stored.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID]) > 0
}

// ConnectionCount returns how many live connections the user has.
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// OnlineUsers returns the ids of all users with at least one connection.
func (h *Hub) OnlineUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	users := make([]string, 0, len(h.conns))
	for userID := range h.conns {
		users = append(users, userID)
	}
	return users
}

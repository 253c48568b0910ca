// Package realtime implements the websocket gateway: connection
// bookkeeping, per-conversation rooms and the chat event protocol.
package realtime

import (
	"encoding/json"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-chat/internal/model"
	"github.com/capitalize-ai/support-chat/pkg/logger"
	"github.com/capitalize-ai/support-chat/pkg/metrics"
)

// Mirror receives a copy of every broadcast event. Publish must not block.
type Mirror interface {
	Publish(evt *model.Event, payload []byte)
}

// Hub tracks live connections and the conversation rooms they joined.
// It implements service.Broadcaster.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Conn
	// rooms maps conversation id to member connections by connection id.
	rooms map[string]map[string]*Conn
	// joined maps connection id to the conversation ids it joined.
	joined map[string]map[string]struct{}

	mirror Mirror
	logger *logger.Logger
}

// NewHub creates an empty hub. mirror may be nil.
func NewHub(mirror Mirror, log *logger.Logger) *Hub {
	return &Hub{
		conns:  make(map[string]*Conn),
		rooms:  make(map[string]map[string]*Conn),
		joined: make(map[string]map[string]struct{}),
		mirror: mirror,
		logger: log.Component("hub"),
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.id] = c
	h.joined[c.id] = make(map[string]struct{})
}

// Unregister removes a connection from the hub and every room it joined,
// then closes it.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	for convID := range h.joined[c.id] {
		h.removeLocked(convID, c.id)
	}
	delete(h.joined, c.id)
	delete(h.conns, c.id)
	h.mu.Unlock()

	c.close(websocket.StatusNormalClosure, "")
}

// Join subscribes c to the conversation's room. Joining twice is a no-op.
func (h *Hub) Join(c *Conn, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c.id]; !ok {
		return
	}
	room, ok := h.rooms[conversationID]
	if !ok {
		room = make(map[string]*Conn)
		h.rooms[conversationID] = room
	}
	room[c.id] = c
	h.joined[c.id][conversationID] = struct{}{}
}

// Leave unsubscribes c from the conversation's room.
func (h *Hub) Leave(c *Conn, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(conversationID, c.id)
	if j, ok := h.joined[c.id]; ok {
		delete(j, conversationID)
	}
}

func (h *Hub) removeLocked(conversationID, connID string) {
	room, ok := h.rooms[conversationID]
	if !ok {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(h.rooms, conversationID)
	}
}

// InRoom reports whether c joined the conversation's room.
func (h *Hub) InRoom(c *Conn, conversationID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[conversationID][c.id]
	return ok
}

// RoomSize returns the number of connections in the conversation's room.
func (h *Hub) RoomSize(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[conversationID])
}

// ConnectionCount returns the number of registered connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Broadcast encodes evt once and queues it on every connection in the
// event's room, skipping connections of excludeUserID. It never blocks.
func (h *Hub) Broadcast(evt *model.Event, excludeUserID string) {
	payload, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("failed to encode event",
			zap.String("event", string(evt.Type)), zap.Error(err))
		return
	}

	h.mu.RLock()
	room := h.rooms[evt.ConversationID]
	targets := make([]*Conn, 0, len(room))
	for _, c := range room {
		if excludeUserID != "" && c.identity.UserID == excludeUserID {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(payload)
	}
	metrics.EventsBroadcast.WithLabelValues(string(evt.Type)).Inc()

	if h.mirror != nil {
		h.mirror.Publish(evt, payload)
	}
}

// Send queues evt on a single connection.
func (h *Hub) Send(c *Conn, evt *model.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("failed to encode event",
			zap.String("event", string(evt.Type)), zap.Error(err))
		return
	}
	c.enqueue(payload)
}

// Close closes every registered connection.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[string]*Conn)
	h.rooms = make(map[string]map[string]*Conn)
	h.joined = make(map[string]map[string]struct{})
	h.mu.Unlock()

	for _, c := range conns {
		c.close(websocket.StatusGoingAway, "server shutting down")
	}
}

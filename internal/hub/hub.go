// Package hub delivers room broadcasts to the connections of this process.
// Cross-process delivery goes through RedisFanout, which feeds every
// process's Hub from one pub/sub channel.
package hub

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
)

// Envelope is one broadcast. ExceptConn skips a single connection (usually
// the sender); OnlyUser restricts delivery to one user's connections.
type Envelope struct {
	RoomID     string          `json:"roomId"`
	Event      string          `json:"event"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ExceptConn string          `json:"exceptConn,omitempty"`
	OnlyUser   string          `json:"onlyUser,omitempty"`
}

// NewEnvelope marshals payload into an envelope for roomID.
func NewEnvelope(roomID, event string, payload any) (Envelope, error) {
	env := Envelope{RoomID: roomID, Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return env, err
		}
		env.Payload = data
	}
	return env, nil
}

// Subscriber is a connection registered in a room. Deliver must not block.
type Subscriber interface {
	ConnID() string
	UserID() string
	Deliver(env Envelope)
}

// Hub manages the rooms with at least one local subscriber
type Hub struct {
	rooms map[string]*Room
	mu    sync.RWMutex
}

// Room is the local subscriber set of one canvas room
type Room struct {
	ID          string
	subscribers map[string]Subscriber
	mu          sync.RWMutex
}

// New creates an empty hub
func New() *Hub {
	return &Hub{rooms: make(map[string]*Room)}
}

// Join registers sub in roomID, creating the room on first use.
func (h *Hub) Join(roomID string, sub Subscriber) {
	h.mu.Lock()
	room, ok := h.rooms[roomID]
	if !ok {
		room = &Room{ID: roomID, subscribers: make(map[string]Subscriber)}
		h.rooms[roomID] = room
		log.Debug().Str("component", "hub").Str("room", roomID).Msg("room created")
	}
	// under h.mu so Leave cannot drop the room in between
	room.mu.Lock()
	room.subscribers[sub.ConnID()] = sub
	room.mu.Unlock()
	h.mu.Unlock()
}

// Leave removes a connection and drops the room once it is empty.
func (h *Hub) Leave(roomID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[roomID]
	if !ok {
		return
	}

	room.mu.Lock()
	delete(room.subscribers, connID)
	empty := len(room.subscribers) == 0
	room.mu.Unlock()

	if empty {
		delete(h.rooms, roomID)
		log.Debug().Str("component", "hub").Str("room", roomID).Msg("room removed")
	}
}

// Size returns the number of local subscribers in roomID.
func (h *Hub) Size(roomID string) int {
	h.mu.RLock()
	room, ok := h.rooms[roomID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}

	room.mu.RLock()
	defer room.mu.RUnlock()
	return len(room.subscribers)
}

// Dispatch delivers env to the matching local subscribers.
func (h *Hub) Dispatch(env Envelope) {
	h.mu.RLock()
	room, ok := h.rooms[env.RoomID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	room.mu.RLock()
	targets := make([]Subscriber, 0, len(room.subscribers))
	for _, sub := range room.subscribers {
		if sub.ConnID() == env.ExceptConn {
			continue
		}
		if env.OnlyUser != "" && sub.UserID() != env.OnlyUser {
			continue
		}
		targets = append(targets, sub)
	}
	room.mu.RUnlock()

	for _, sub := range targets {
		sub.Deliver(env)
	}
}

// Publish dispatches locally. Used when the process runs without Redis
// fan-out, e.g. in tests.
func (h *Hub) Publish(_ context.Context, env Envelope) error {
	h.Dispatch(env)
	return nil
}

// Package collab coordinates realtime editing sessions: room joins, peer
// sourced document sync, edit fan-out and departure announcements.
//
// The hub holds no document text. A newcomer's content comes from the sync
// replies of the members already in the room.
package collab

import (
	"errors"
	"fmt"
	"sync"

	"realtime-editor/core"
	"realtime-editor/presence"

	"github.com/sirupsen/logrus"
)

var (
	// ErrUnjoinedRoom is returned for a change or sync that references a room
	// the sender never joined. The event is dropped.
	ErrUnjoinedRoom = errors.New("operation on a room the connection has not joined")
	// ErrMalformedPayload is returned for events missing required fields.
	ErrMalformedPayload = errors.New("malformed event payload")
	// ErrStaleSync is returned when a sync reply arrives after the target
	// already received a live edit in every room it shares with the sender.
	ErrStaleSync = errors.New("sync reply superseded by a live edit")
)

// Emitter delivers one event to one connection. Delivery is best effort.
type Emitter interface {
	Emit(to core.ConnectionID, event string, payload any) error
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(to core.ConnectionID, event string, payload any) error

func (f EmitterFunc) Emit(to core.ConnectionID, event string, payload any) error {
	return f(to, event, payload)
}

// Hub handles every inbound event as one step under a single lock, so
// announcements are always computed from a consistent roster. conns holds
// the sync state of every connected socket per joined room.
type Hub struct {
	mu       sync.Mutex
	registry *presence.Registry
	emitter  Emitter
	typing   TypingScope
	conns    map[core.ConnectionID]map[core.RoomID]State
}

func NewHub(registry *presence.Registry, emitter Emitter, typing TypingScope) *Hub {
	if typing == "" {
		typing = TypingScopeRoom
	}
	return &Hub{
		registry: registry,
		emitter:  emitter,
		typing:   typing,
		conns:    make(map[core.ConnectionID]map[core.RoomID]State),
	}
}

// Registry exposes the presence registry backing the hub.
func (h *Hub) Registry() *presence.Registry {
	return h.registry
}

// Connect records a new transport connection.
func (h *Hub) Connect(id core.ConnectionID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[id]; !ok {
		h.conns[id] = make(map[core.RoomID]State)
	}
	logrus.WithField("socket_id", id).Debug("Socket connected")
}

// state returns the position of id in room. Unknown connections report
// StateDisconnected, rooms not joined yet StateConnecting.
func (h *Hub) state(id core.ConnectionID, room core.RoomID) State {
	rooms, ok := h.conns[id]
	if !ok {
		return StateDisconnected
	}
	if st, ok := rooms[room]; ok {
		return st
	}
	return StateConnecting
}

func (h *Hub) setState(id core.ConnectionID, room core.RoomID, st State) {
	rooms, ok := h.conns[id]
	if !ok {
		rooms = make(map[core.RoomID]State)
		h.conns[id] = rooms
	}
	rooms[room] = st
}

// Join registers the presence of id, adds it to the room and announces the
// new roster to every member, the joiner included. Receiving the
// announcement is what makes each member send its text to the joiner.
func (h *Hub) Join(id core.ConnectionID, req JoinRequest) error {
	if req.RoomID == "" {
		return fmt.Errorf("join: room id is required: %w", ErrMalformedPayload)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.registry.RegisterPresence(id, req.Username, req.Avatar)
	if _, err := h.registry.JoinRoom(id, req.RoomID); err != nil {
		return fmt.Errorf("join %s: %w", req.RoomID, err)
	}
	h.setState(id, req.RoomID, StateJoined)

	members := h.registry.MembersOf(req.RoomID)
	logrus.WithFields(logrus.Fields{
		"socket_id": id,
		"room_id":   req.RoomID,
		"username":  req.Username,
		"members":   len(members),
	}).Info("Socket joined room")

	announcement := JoinedEvent{
		Clients:  members,
		Username: req.Username,
		SocketID: id,
	}
	for _, m := range members {
		h.emit(m.SocketID, EventJoined, announcement)
	}

	h.setState(id, req.RoomID, StateSyncPending)
	return nil
}

// CodeChange relays a live edit to every member of room except the sender.
func (h *Hub) CodeChange(sender core.ConnectionID, room core.RoomID, code string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.registry.IsMember(sender, room) {
		return fmt.Errorf("code change from %s to %s: %w", sender, room, ErrUnjoinedRoom)
	}

	event := CodeChangeEvent{Code: code}
	for _, m := range h.registry.MembersOf(room) {
		if m.SocketID == sender {
			continue
		}
		h.emit(m.SocketID, EventCodeChange, event)
		if h.state(m.SocketID, room) == StateSyncPending {
			h.setState(m.SocketID, room, StateSynced)
		}
	}
	return nil
}

// SyncCode delivers a peer's text to exactly one connection, framed as a
// regular code change. The reply carries no room, so it is accepted when the
// target is still waiting for text in any room it shares with the sender.
func (h *Hub) SyncCode(sender, target core.ConnectionID, code string) error {
	if target == "" {
		return fmt.Errorf("sync: target socket id is required: %w", ErrMalformedPayload)
	}
	// The joiner answers its own announcement too; it already has that text.
	if target == sender {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	shared := h.registry.SharedRooms(sender, target)
	if len(shared) == 0 {
		return fmt.Errorf("sync from %s to %s: %w", sender, target, ErrUnjoinedRoom)
	}
	pending := false
	for _, room := range shared {
		if h.state(target, room) != StateSynced {
			pending = true
			break
		}
	}
	if !pending {
		return fmt.Errorf("sync from %s to %s: %w", sender, target, ErrStaleSync)
	}

	h.emit(target, EventCodeChange, CodeChangeEvent{Code: code})
	return nil
}

// Typing forwards an ephemeral typing signal according to the configured scope.
func (h *Hub) Typing(sender core.ConnectionID, username string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	signal := TypingSignal{Username: username}
	if h.typing == TypingScopeGlobal {
		for id := range h.conns {
			if id != sender {
				h.emit(id, EventTyping, signal)
			}
		}
		return
	}

	delivered := map[core.ConnectionID]bool{sender: true}
	for _, room := range h.registry.RoomsOf(sender) {
		for _, m := range h.registry.MembersOf(room) {
			if delivered[m.SocketID] {
				continue
			}
			delivered[m.SocketID] = true
			h.emit(m.SocketID, EventTyping, signal)
		}
	}
}

// Disconnect announces the departure of id to the other members of each of
// its rooms and then drops it from the registry.
func (h *Hub) Disconnect(id core.ConnectionID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, _ := h.registry.Presence(id)
	rooms := h.registry.RoomsOf(id)
	event := DisconnectedEvent{SocketID: id, Username: p.DisplayName}
	for _, room := range rooms {
		for _, m := range h.registry.MembersOf(room) {
			if m.SocketID != id {
				h.emit(m.SocketID, EventDisconnected, event)
			}
		}
	}

	h.registry.RemoveConnection(id)
	delete(h.conns, id)
	logrus.WithFields(logrus.Fields{
		"socket_id": id,
		"rooms":     len(rooms),
	}).Info("Socket disconnected")
}

func (h *Hub) emit(to core.ConnectionID, event string, payload any) {
	if err := h.emitter.Emit(to, event, payload); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"socket_id": to,
			"event":     event,
		}).Warn("Failed to emit event")
	}
}

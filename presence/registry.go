// Package presence tracks live connections, the presence record each one
// chose, and the rooms each one joined.
package presence

import (
	"errors"
	"sort"
	"sync"

	"realtime-editor/core"

	"github.com/sirupsen/logrus"
)

// ErrUnknownConnection is returned when a room operation names a connection
// without a presence record.
var ErrUnknownConnection = errors.New("connection has no presence record")

type connection struct {
	presence core.Presence
	rooms    []core.RoomID
}

// Registry owns both the connection -> presence map and the room -> members
// map. A single lock covers both so a connection is never observed in a room
// without its presence record.
type Registry struct {
	mu          sync.RWMutex
	connections map[core.ConnectionID]*connection
	// rooms keeps members in join order. Empty rooms are deleted.
	rooms map[core.RoomID][]core.ConnectionID
}

func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[core.ConnectionID]*connection),
		rooms:       make(map[core.RoomID][]core.ConnectionID),
	}
}

// RegisterPresence inserts or overwrites the presence record of id.
func (r *Registry) RegisterPresence(id core.ConnectionID, displayName, avatar string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := core.Presence{DisplayName: displayName, Avatar: avatar}
	if c, ok := r.connections[id]; ok {
		c.presence = p
		return
	}
	r.connections[id] = &connection{presence: p}
}

// JoinRoom adds id to room. It returns false when id was already a member.
func (r *Registry) JoinRoom(id core.ConnectionID, room core.RoomID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.connections[id]
	if !ok {
		return false, ErrUnknownConnection
	}
	for _, joined := range c.rooms {
		if joined == room {
			return false, nil
		}
	}

	c.rooms = append(c.rooms, room)
	r.rooms[room] = append(r.rooms[room], id)
	logrus.WithFields(logrus.Fields{
		"socket_id": id,
		"room_id":   room,
		"members":   len(r.rooms[room]),
	}).Debug("Connection joined room")
	return true, nil
}

// MembersOf returns a snapshot of the roster of room in join order.
func (r *Registry) MembersOf(room core.RoomID) []core.Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.rooms[room]
	members := make([]core.Member, 0, len(ids))
	for _, id := range ids {
		c := r.connections[id]
		members = append(members, core.Member{
			SocketID: id,
			Username: c.presence.DisplayName,
			Avatar:   c.presence.Avatar,
		})
	}
	return members
}

// RemoveConnection deletes the presence record of id and removes it from
// every room. It returns the rooms it was removed from, in join order.
func (r *Registry) RemoveConnection(id core.ConnectionID) []core.RoomID {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.connections[id]
	if !ok {
		return nil
	}
	delete(r.connections, id)

	for _, room := range c.rooms {
		members := r.rooms[room]
		for i, member := range members {
			if member == id {
				members = append(members[:i:i], members[i+1:]...)
				break
			}
		}
		if len(members) == 0 {
			delete(r.rooms, room)
			continue
		}
		r.rooms[room] = members
	}
	return c.rooms
}

// Presence returns the presence record of id.
func (r *Registry) Presence(id core.ConnectionID) (core.Presence, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connections[id]
	if !ok {
		return core.Presence{}, false
	}
	return c.presence, true
}

// RoomsOf returns the rooms id belongs to, in join order.
func (r *Registry) RoomsOf(id core.ConnectionID) []core.RoomID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connections[id]
	if !ok {
		return nil
	}
	rooms := make([]core.RoomID, len(c.rooms))
	copy(rooms, c.rooms)
	return rooms
}

// IsMember reports whether id currently belongs to room.
func (r *Registry) IsMember(id core.ConnectionID, room core.RoomID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connections[id]
	if !ok {
		return false
	}
	for _, joined := range c.rooms {
		if joined == room {
			return true
		}
	}
	return false
}

// SharedRooms returns the rooms both a and b belong to, in a's join order.
func (r *Registry) SharedRooms(a, b core.ConnectionID) []core.RoomID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ca, ok := r.connections[a]
	if !ok {
		return nil
	}
	cb, ok := r.connections[b]
	if !ok {
		return nil
	}
	var shared []core.RoomID
	for _, ra := range ca.rooms {
		for _, rb := range cb.rooms {
			if ra == rb {
				shared = append(shared, ra)
				break
			}
		}
	}
	return shared
}

// Connections returns every connection with a presence record.
func (r *Registry) Connections() []core.ConnectionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]core.ConnectionID, 0, len(r.connections))
	for id := range r.connections {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Rooms returns every tracked room with its member count, largest first.
func (r *Registry) Rooms() []core.RoomSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rooms := make([]core.RoomSummary, 0, len(r.rooms))
	for id, members := range r.rooms {
		rooms = append(rooms, core.RoomSummary{ID: id, Users: len(members)})
	}
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].Users == rooms[j].Users {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].Users > rooms[j].Users
	})
	return rooms
}

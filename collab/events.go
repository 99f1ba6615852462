package collab

import "realtime-editor/core"

// Socket event names shared with the editor client.
const (
	EventJoin         = "join"
	EventJoined       = "joined"
	EventCodeChange   = "code-change"
	EventSyncCode     = "sync-code"
	EventDisconnected = "disconnected"
	EventTyping       = "typing"
)

type (
	// JoinRequest is sent by a client entering a room.
	JoinRequest struct {
		RoomID   core.RoomID `json:"roomId"`
		Username string      `json:"username"`
		Avatar   string      `json:"avatar"`
	}

	// CodeChangeRequest carries a live edit for every other member of a room.
	CodeChangeRequest struct {
		RoomID core.RoomID `json:"roomId"`
		Code   *string     `json:"code"`
	}

	// SyncCodeRequest carries a peer's current text for one newly joined connection.
	SyncCodeRequest struct {
		SocketID core.ConnectionID `json:"socketId"`
		Code     *string           `json:"code"`
	}

	// TypingSignal is the ephemeral "user is typing" notification.
	TypingSignal struct {
		Username string `json:"username"`
	}

	// JoinedEvent announces a join to every member of the room, the joiner included.
	JoinedEvent struct {
		Clients  []core.Member     `json:"clients"`
		Username string            `json:"username"`
		SocketID core.ConnectionID `json:"socketId"`
	}

	// CodeChangeEvent is used both for live edits and sync replies.
	CodeChangeEvent struct {
		Code string `json:"code"`
	}

	// DisconnectedEvent announces a departure to the remaining members of a room.
	DisconnectedEvent struct {
		SocketID core.ConnectionID `json:"socketId"`
		Username string            `json:"username"`
	}
)

package core

type (
	// ConnectionID identifies one live realtime connection.
	ConnectionID string

	// RoomID is the caller supplied name of a room. The server never allocates or validates it.
	RoomID string

	// Presence is the display metadata a connection chose when joining.
	Presence struct {
		DisplayName string
		Avatar      string
	}

	// Member is one entry of a room roster.
	Member struct {
		SocketID ConnectionID `json:"socketId"`
		Username string       `json:"username"`
		Avatar   string       `json:"avatar,omitempty"`
	}

	// RoomSummary is the size of one tracked room.
	RoomSummary struct {
		ID    RoomID `json:"id"`
		Users int    `json:"users"`
	}
)

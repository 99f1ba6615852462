package collab

import "fmt"

// State is the position of a connection in the join/sync lifecycle.
type State int

const (
	StateConnecting State = iota
	StateJoined
	// StateSyncPending accepts sync replies. The last one delivered wins.
	StateSyncPending
	// StateSynced is entered once a live edit reached the connection; sync
	// replies arriving afterwards are stale and dropped.
	StateSynced
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateSyncPending:
		return "sync-pending"
	case StateSynced:
		return "synced"
	case StateDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// TypingScope selects who receives a typing signal.
type TypingScope string

const (
	// TypingScopeRoom delivers to members of the sender's rooms.
	TypingScopeRoom TypingScope = "room"
	// TypingScopeGlobal delivers to every connected client.
	TypingScopeGlobal TypingScope = "global"
)

// ParseTypingScope maps a configuration value to a TypingScope.
func ParseTypingScope(v string) (TypingScope, error) {
	switch TypingScope(v) {
	case TypingScopeRoom, "":
		return TypingScopeRoom, nil
	case TypingScopeGlobal:
		return TypingScopeGlobal, nil
	}
	return "", fmt.Errorf("unknown typing scope %q", v)
}

package collab

import (
	"errors"
	"sync"
	"testing"

	"realtime-editor/core"
	"realtime-editor/presence"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	To      core.ConnectionID
	Event   string
	Payload any
}

type recorder struct {
	mu   sync.Mutex
	sent []sent
}

func (r *recorder) Emit(to core.ConnectionID, event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{To: to, Event: event, Payload: payload})
	return nil
}

func (r *recorder) take() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sent
	r.sent = nil
	return out
}

func (r *recorder) to(id core.ConnectionID, event string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, s := range r.sent {
		if s.To == id && s.Event == event {
			out = append(out, s.Payload)
		}
	}
	return out
}

func newTestHub(scope TypingScope) (*Hub, *recorder) {
	rec := &recorder{}
	return NewHub(presence.NewRegistry(), rec, scope), rec
}

func str(s string) *string { return &s }

func mustJoin(t *testing.T, h *Hub, id core.ConnectionID, name string, room core.RoomID) {
	t.Helper()
	h.Connect(id)
	require.NoError(t, h.Join(id, JoinRequest{RoomID: room, Username: name, Avatar: name + ".png"}))
}

func TestJoin_SoleMemberReceivesOwnAnnouncement(t *testing.T) {
	h, rec := newTestHub(TypingScopeRoom)

	mustJoin(t, h, "u1", "U1", "abc")

	got := rec.take()
	require.Len(t, got, 1)
	assert.Equal(t, core.ConnectionID("u1"), got[0].To)
	assert.Equal(t, EventJoined, got[0].Event)
	assert.Equal(t, JoinedEvent{
		Clients:  []core.Member{{SocketID: "u1", Username: "U1", Avatar: "U1.png"}},
		Username: "U1",
		SocketID: "u1",
	}, got[0].Payload)
	assert.Equal(t, StateSyncPending, h.state("u1", "abc"))
}

func TestJoin_AnnouncesToEveryMemberIncludingJoiner(t *testing.T) {
	h, rec := newTestHub(TypingScopeRoom)
	mustJoin(t, h, "u1", "U1", "abc")
	mustJoin(t, h, "u2", "U2", "abc")
	rec.take()

	mustJoin(t, h, "u3", "U3", "abc")

	got := rec.take()
	require.Len(t, got, 3)
	recipients := map[core.ConnectionID]int{}
	for _, s := range got {
		assert.Equal(t, EventJoined, s.Event)
		ev := s.Payload.(JoinedEvent)
		assert.Equal(t, core.ConnectionID("u3"), ev.SocketID)
		assert.Equal(t, "U3", ev.Username)
		assert.Len(t, ev.Clients, 3)
		recipients[s.To]++
	}
	assert.Equal(t, map[core.ConnectionID]int{"u1": 1, "u2": 1, "u3": 1}, recipients)
}

func TestJoin_DoesNotAnnounceToOtherRooms(t *testing.T) {
	h, rec := newTestHub(TypingScopeRoom)
	mustJoin(t, h, "other", "O", "xyz")
	rec.take()

	mustJoin(t, h, "u1", "U1", "abc")

	assert.Empty(t, rec.to("other", EventJoined))
}

func TestJoin_RequiresRoomID(t *testing.T) {
	h, rec := newTestHub(TypingScopeRoom)
	h.Connect("u1")

	err := h.Join("u1", JoinRequest{Username: "U1"})
	require.ErrorIs(t, err, ErrMalformedPayload)
	assert.Empty(t, rec.take())
	_, ok := h.Registry().Presence("u1")
	assert.False(t, ok)
}

func TestJoin_SyncStateIsPerRoom(t *testing.T) {
	h, _ := newTestHub(TypingScopeRoom)
	mustJoin(t, h, "u1", "U1", "abc")
	mustJoin(t, h, "u2", "U2", "abc")
	require.NoError(t, h.CodeChange("u1", "abc", "x"))
	require.Equal(t, StateSynced, h.state("u2", "abc"))

	require.NoError(t, h.Join("u2", JoinRequest{RoomID: "def", Username: "U2"}))
	assert.Equal(t, StateSyncPending, h.state("u2", "def"))
	assert.Equal(t, StateSynced, h.state("u2", "abc"))
	assert.Equal(t, StateConnecting, h.state("u2", "never-joined"))
}

func TestJoin_RejoinResetsSyncState(t *testing.T) {
	h, _ := newTestHub(TypingScopeRoom)
	mustJoin(t, h, "u1", "U1", "abc")
	mustJoin(t, h, "u2", "U2", "abc")
	require.NoError(t, h.CodeChange("u1", "abc", "x"))

	require.NoError(t, h.Join("u2", JoinRequest{RoomID: "abc", Username: "U2"}))
	assert.Equal(t, StateSyncPending, h.state("u2", "abc"))
}

func TestCodeChange_ReachesOtherMembersOnly(t *testing.T) {
	h, rec := newTestHub(TypingScopeRoom)
	mustJoin(t, h, "u1", "U1", "abc")
	mustJoin(t, h, "u2", "U2", "abc")
	mustJoin(t, h, "u3", "U3", "abc")
	mustJoin(t, h, "x1", "X1", "xyz")
	rec.take()

	require.NoError(t, h.CodeChange("u1", "abc", "print(1)"))

	got := rec.take()
	require.Len(t, got, 2)
	for _, s := range got {
		assert.Equal(t, EventCodeChange, s.Event)
		assert.Equal(t, CodeChangeEvent{Code: "print(1)"}, s.Payload)
		assert.NotEqual(t, core.ConnectionID("u1"), s.To)
		assert.NotEqual(t, core.ConnectionID("x1"), s.To)
	}
}

func TestCodeChange_UnjoinedRoomIgnored(t *testing.T) {
	h, rec := newTestHub(TypingScopeRoom)
	mustJoin(t, h, "u1", "U1", "abc")
	mustJoin(t, h, "x1", "X1", "xyz")
	rec.take()

	err := h.CodeChange("u1", "xyz", "intrusion")
	require.ErrorIs(t, err, ErrUnjoinedRoom)
	assert.Empty(t, rec.take())

	err = h.CodeChange("ghost", "abc", "intrusion")
	require.ErrorIs(t, err, ErrUnjoinedRoom)
	assert.Empty(t, rec.take())
}

func TestSyncCode_DirectToTarget(t *testing.T) {
	h, rec := newTestHub(TypingScopeRoom)
	mustJoin(t, h, "u1", "U1", "abc")
	mustJoin(t, h, "u2", "U2", "abc")
	mustJoin(t, h, "u3", "U3", "abc")
	rec.take()

	require.NoError(t, h.SyncCode("u1", "u3", "hello"))

	got := rec.take()
	require.Len(t, got, 1)
	assert.Equal(t, sent{To: "u3", Event: EventCodeChange, Payload: CodeChangeEvent{Code: "hello"}}, got[0])
}

func TestSyncCode_SelfAddressedIsDropped(t *testing.T) {
	h, rec := newTestHub(TypingScopeRoom)
	mustJoin(t, h, "u1", "U1", "abc")
	rec.take()

	require.NoError(t, h.SyncCode("u1", "u1", "mine"))
	assert.Empty(t, rec.take())
}

func TestSyncCode_RequiresSharedRoom(t *testing.T) {
	h, rec := newTestHub(TypingScopeRoom)
	mustJoin(t, h, "u1", "U1", "abc")
	mustJoin(t, h, "x1", "X1", "xyz")
	rec.take()

	require.ErrorIs(t, h.SyncCode("u1", "x1", "leak"), ErrUnjoinedRoom)
	require.ErrorIs(t, h.SyncCode("u1", "ghost", "leak"), ErrUnjoinedRoom)
	require.ErrorIs(t, h.SyncCode("u1", "", "leak"), ErrMalformedPayload)
	assert.Empty(t, rec.take())
}

func TestSyncCode_LastReplyWins(t *testing.T) {
	h, rec := newTestHub(TypingScopeRoom)
	mustJoin(t, h, "u1", "U1", "abc")
	mustJoin(t, h, "u2", "U2", "abc")
	mustJoin(t, h, "u3", "U3", "abc")
	rec.take()

	require.NoError(t, h.SyncCode("u1", "u3", "first"))
	require.NoError(t, h.SyncCode("u2", "u3", "second"))

	replies := rec.to("u3", EventCodeChange)
	require.Len(t, replies, 2)
	assert.Equal(t, CodeChangeEvent{Code: "second"}, replies[len(replies)-1])
}

func TestSyncCode_StaleAfterLiveEdit(t *testing.T) {
	h, rec := newTestHub(TypingScopeRoom)
	mustJoin(t, h, "u1", "U1", "abc")
	mustJoin(t, h, "u2", "U2", "abc")
	mustJoin(t, h, "u3", "U3", "abc")
	rec.take()

	require.NoError(t, h.CodeChange("u1", "abc", "fresh edit"))
	assert.Equal(t, StateSynced, h.state("u3", "abc"))

	err := h.SyncCode("u2", "u3", "stale")
	require.ErrorIs(t, err, ErrStaleSync)

	replies := rec.to("u3", EventCodeChange)
	require.Len(t, replies, 1)
	assert.Equal(t, CodeChangeEvent{Code: "fresh edit"}, replies[0])
}

// A connection already editing one room joins a second one: the live edits
// of the first room must not make the seed for the second look stale.
func TestSyncCode_SeedsSecondRoomAfterEditsInFirst(t *testing.T) {
	h, rec := newTestHub(TypingScopeRoom)
	mustJoin(t, h, "a1", "A1", "roomA")
	mustJoin(t, h, "u2", "U2", "roomA")
	mustJoin(t, h, "b1", "B1", "roomB")
	require.NoError(t, h.CodeChange("a1", "roomA", "roomA edit"))
	require.Equal(t, StateSynced, h.state("u2", "roomA"))

	require.NoError(t, h.Join("u2", JoinRequest{RoomID: "roomB", Username: "U2"}))
	require.NoError(t, h.CodeChange("a1", "roomA", "another roomA edit"))
	rec.take()

	require.NoError(t, h.SyncCode("b1", "u2", "roomB seed"))

	assert.Equal(t, []any{CodeChangeEvent{Code: "roomB seed"}}, rec.to("u2", EventCodeChange))
	assert.Equal(t, StateSyncPending, h.state("u2", "roomB"))
}

func TestSyncCode_StaleOnlyWhenEverySharedRoomSynced(t *testing.T) {
	h, rec := newTestHub(TypingScopeRoom)
	mustJoin(t, h, "u1", "U1", "abc")
	require.NoError(t, h.Join("u1", JoinRequest{RoomID: "def", Username: "U1"}))
	mustJoin(t, h, "u2", "U2", "abc")
	require.NoError(t, h.Join("u2", JoinRequest{RoomID: "def", Username: "U2"}))

	require.NoError(t, h.CodeChange("u1", "abc", "abc edit"))
	require.NoError(t, h.SyncCode("u1", "u2", "def seed"))

	require.NoError(t, h.CodeChange("u1", "def", "def edit"))
	rec.take()
	require.ErrorIs(t, h.SyncCode("u1", "u2", "late"), ErrStaleSync)
	assert.Empty(t, rec.take())
}

func TestDisconnect_AnnouncesPerRoomAndRemoves(t *testing.T) {
	h, rec := newTestHub(TypingScopeRoom)
	mustJoin(t, h, "u1", "U1", "abc")
	require.NoError(t, h.Join("u1", JoinRequest{RoomID: "def", Username: "U1"}))
	mustJoin(t, h, "u2", "U2", "abc")
	mustJoin(t, h, "u3", "U3", "def")
	mustJoin(t, h, "x1", "X1", "xyz")
	rec.take()

	h.Disconnect("u1")

	got := rec.take()
	require.Len(t, got, 2)
	assert.ElementsMatch(t, []sent{
		{To: "u2", Event: EventDisconnected, Payload: DisconnectedEvent{SocketID: "u1", Username: "U1"}},
		{To: "u3", Event: EventDisconnected, Payload: DisconnectedEvent{SocketID: "u1", Username: "U1"}},
	}, got)

	for _, room := range []core.RoomID{"abc", "def"} {
		for _, m := range h.Registry().MembersOf(room) {
			assert.NotEqual(t, core.ConnectionID("u1"), m.SocketID)
		}
	}
	assert.Equal(t, StateDisconnected, h.state("u1", "abc"))
}

func TestDisconnect_SoleMemberRoomVanishes(t *testing.T) {
	h, rec := newTestHub(TypingScopeRoom)
	mustJoin(t, h, "u1", "U1", "abc")
	rec.take()

	h.Disconnect("u1")

	assert.Empty(t, rec.take())
	assert.Empty(t, h.Registry().Rooms())
}

func TestDisconnect_NeverJoined(t *testing.T) {
	h, rec := newTestHub(TypingScopeRoom)
	h.Connect("u1")

	h.Disconnect("u1")

	assert.Empty(t, rec.take())
	assert.Equal(t, StateDisconnected, h.state("u1", "abc"))
}

func TestTyping_RoomScope(t *testing.T) {
	h, rec := newTestHub(TypingScopeRoom)
	mustJoin(t, h, "u1", "U1", "abc")
	require.NoError(t, h.Join("u1", JoinRequest{RoomID: "def", Username: "U1"}))
	mustJoin(t, h, "u2", "U2", "abc")
	require.NoError(t, h.Join("u2", JoinRequest{RoomID: "def", Username: "U2"}))
	mustJoin(t, h, "u3", "U3", "def")
	mustJoin(t, h, "x1", "X1", "xyz")
	h.Connect("lobby")
	rec.take()

	h.Typing("u1", "U1")

	got := rec.take()
	require.Len(t, got, 2, "u2 shares two rooms but is notified once")
	assert.ElementsMatch(t, []sent{
		{To: "u2", Event: EventTyping, Payload: TypingSignal{Username: "U1"}},
		{To: "u3", Event: EventTyping, Payload: TypingSignal{Username: "U1"}},
	}, got)
}

func TestTyping_GlobalScope(t *testing.T) {
	h, rec := newTestHub(TypingScopeGlobal)
	mustJoin(t, h, "u1", "U1", "abc")
	mustJoin(t, h, "x1", "X1", "xyz")
	h.Connect("lobby")
	rec.take()

	h.Typing("u1", "U1")

	got := rec.take()
	require.Len(t, got, 2)
	var to []core.ConnectionID
	for _, s := range got {
		to = append(to, s.To)
	}
	assert.ElementsMatch(t, []core.ConnectionID{"x1", "lobby"}, to)
}

func TestEmitFailureDoesNotAffectOthers(t *testing.T) {
	rec := &recorder{}
	failing := EmitterFunc(func(to core.ConnectionID, event string, payload any) error {
		if to == "broken" {
			return errors.New("transport closed")
		}
		return rec.Emit(to, event, payload)
	})
	h := NewHub(presence.NewRegistry(), failing, TypingScopeRoom)
	mustJoin(t, h, "broken", "B", "abc")
	mustJoin(t, h, "u1", "U1", "abc")
	rec.take()

	require.NoError(t, h.CodeChange("u1", "abc", "a"))
	require.NoError(t, h.Join("u2", JoinRequest{RoomID: "abc", Username: "U2"}))

	assert.Len(t, rec.to("u1", EventJoined), 1)
	assert.Len(t, rec.to("u2", EventJoined), 1)
	assert.Len(t, h.Registry().MembersOf("abc"), 3)
}

// Two identities edit room "abc": the newcomer is seeded by its peer and
// the roster follows joins and departures.
func TestScenario_JoinSyncDisconnect(t *testing.T) {
	h, rec := newTestHub(TypingScopeRoom)

	mustJoin(t, h, "u1", "U1", "abc")
	assert.Equal(t, []core.Member{{SocketID: "u1", Username: "U1", Avatar: "U1.png"}}, h.Registry().MembersOf("abc"))
	rec.take()

	mustJoin(t, h, "u2", "U2", "abc")
	roster := []core.Member{
		{SocketID: "u1", Username: "U1", Avatar: "U1.png"},
		{SocketID: "u2", Username: "U2", Avatar: "U2.png"},
	}
	for _, id := range []core.ConnectionID{"u1", "u2"} {
		joined := rec.to(id, EventJoined)
		require.Len(t, joined, 1)
		assert.Equal(t, roster, joined[0].(JoinedEvent).Clients)
	}

	// Both answer the announcement; only u1's reply reaches u2.
	require.NoError(t, h.SyncCode("u1", "u2", "hello"))
	require.NoError(t, h.SyncCode("u2", "u2", ""))
	view := rec.to("u2", EventCodeChange)
	require.Len(t, view, 1)
	assert.Equal(t, "hello", view[0].(CodeChangeEvent).Code)
	rec.take()

	h.Disconnect("u1")
	got := rec.take()
	require.Len(t, got, 1)
	assert.Equal(t, sent{To: "u2", Event: EventDisconnected, Payload: DisconnectedEvent{SocketID: "u1", Username: "U1"}}, got[0])
	assert.Equal(t, []core.Member{{SocketID: "u2", Username: "U2", Avatar: "U2.png"}}, h.Registry().MembersOf("abc"))
}

func TestConcurrentEventsKeepRosterConsistent(t *testing.T) {
	h, _ := newTestHub(TypingScopeRoom)
	var wg sync.WaitGroup
	ids := []core.ConnectionID{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, id := range ids {
		wg.Add(1)
		go func(id core.ConnectionID) {
			defer wg.Done()
			h.Connect(id)
			_ = h.Join(id, JoinRequest{RoomID: "abc", Username: string(id)})
			_ = h.CodeChange(id, "abc", "text from "+string(id))
			h.Typing(id, string(id))
			if id < "e" {
				h.Disconnect(id)
			}
		}(id)
	}
	wg.Wait()

	members := h.Registry().MembersOf("abc")
	assert.Len(t, members, 4)
	for _, m := range members {
		assert.GreaterOrEqual(t, string(m.SocketID), "e")
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "sync-pending", StateSyncPending.String())
	assert.Equal(t, "State(42)", State(42).String())
}

func TestParseTypingScope(t *testing.T) {
	for in, want := range map[string]TypingScope{"": TypingScopeRoom, "room": TypingScopeRoom, "global": TypingScopeGlobal} {
		got, err := ParseTypingScope(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseTypingScope("galaxy")
	assert.Error(t, err)
}

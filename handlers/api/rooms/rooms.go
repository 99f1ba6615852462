package rooms

import (
	"net/http"

	"realtime-editor/core"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// Directory is the read side of the presence registry.
type Directory interface {
	Rooms() []core.RoomSummary
	MembersOf(room core.RoomID) []core.Member
	Connections() []core.ConnectionID
}

// SessionCounter reports how many identities hold an active session.
type SessionCounter interface {
	Len() int
}

// Online is the body of the online summary.
type Online struct {
	Connections int `json:"connections"`
	Sessions    int `json:"sessions"`
	Rooms       int `json:"rooms"`
}

func HandleListRooms(dir Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, dir.Rooms())
	}
}

func HandleOnline(dir Directory, sessions SessionCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, Online{
			Connections: len(dir.Connections()),
			Sessions:    sessions.Len(),
			Rooms:       len(dir.Rooms()),
		})
	}
}

// HandleListMembers returns the roster of one room. Rooms exist only while
// they have members, so an empty roster is reported as not found.
func HandleListMembers(dir Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomId")
		if roomID == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Room id is required"})
			return
		}

		members := dir.MembersOf(core.RoomID(roomID))
		if len(members) == 0 {
			logrus.WithField("room_id", roomID).Debug("Roster requested for unknown room")
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, map[string]string{"error": "Room not found"})
			return
		}

		render.JSON(w, r, members)
	}
}

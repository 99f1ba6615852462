// Package websocket binds the Socket.IO transport to the collaboration hub.
package websocket

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"realtime-editor/collab"
	"realtime-editor/config"
	"realtime-editor/core"
	"realtime-editor/middleware"
	"realtime-editor/sessions"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

// errUnauthorized is the message a refused client receives as connect_error.
const errUnauthorized = "unauthorized"

// Authenticator verifies a session token presented during the handshake.
type Authenticator func(token string) (*sessions.Claims, error)

// NewAuthenticator checks tokens against the session guard, as the HTTP
// middleware does.
func NewAuthenticator(tokens *sessions.Tokens, guard *sessions.Guard) Authenticator {
	return func(token string) (*sessions.Claims, error) {
		return middleware.Authenticate(tokens, guard, token)
	}
}

// roomEmitter addresses a single connection through the private room every
// socket joins on connect.
type roomEmitter struct {
	srv *socketio.Server
}

func (e roomEmitter) Emit(to core.ConnectionID, event string, payload any) error {
	return e.srv.To(socketio.Room(to)).Emit(event, payload)
}

// SetupSocketIO creates the Socket.IO server and the hub it drives. When
// auth is nil every handshake is admitted.
func SetupSocketIO(cfg *config.Config, newHub func(collab.Emitter) *collab.Hub, auth Authenticator) (*socketio.Server, *collab.Hub) {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(cfg.MaxHTTPBufferSize)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	opts.SetCors(&types.Cors{
		Origin:      corsOrigin(cfg.AllowedOrigins),
		Credentials: true,
	})
	ioo := socketio.NewServer(nil, opts)
	hub := newHub(roomEmitter{srv: ioo})

	if auth != nil {
		ioo.Use(func(socket *socketio.Socket, next func(*socketio.ExtendedError)) {
			claims, err := auth(handshakeToken(socket.Handshake()))
			if err != nil {
				logrus.WithError(err).WithField("socket_id", socket.Id()).Warn("Socket handshake rejected")
				next(socketio.NewExtendedError(errUnauthorized, nil))
				return
			}
			socket.SetData(claims)
			next(nil)
		})
	}

	ioo.On("connection", func(clients ...any) {
		socket := clients[0].(*socketio.Socket)
		bindSocket(socket, hub)
	})
	return ioo, hub
}

func corsOrigin(origins []string) any {
	if len(origins) == 0 {
		return "*"
	}
	if len(origins) == 1 {
		return origins[0]
	}
	return origins
}

func bindSocket(socket *socketio.Socket, hub *collab.Hub) {
	me := core.ConnectionID(socket.Id())
	log := logrus.WithField("socket_id", me)
	if claims, ok := socket.Data().(*sessions.Claims); ok {
		log = log.WithField("identity", claims.Subject)
	}
	hub.Connect(me)

	socket.On(collab.EventJoin, func(datas ...any) {
		var req collab.JoinRequest
		if err := decodePayload(datas, &req); err != nil {
			log.WithError(err).Warn("Dropping join")
			return
		}
		if err := hub.Join(me, req); err != nil {
			log.WithError(err).Warn("Join failed")
		}
	})

	socket.On(collab.EventCodeChange, func(datas ...any) {
		var req collab.CodeChangeRequest
		if err := decodePayload(datas, &req); err != nil || req.Code == nil {
			log.WithError(err).Warn("Dropping code change")
			return
		}
		if err := hub.CodeChange(me, req.RoomID, *req.Code); err != nil {
			log.WithError(err).Warn("Code change dropped")
		}
	})

	socket.On(collab.EventSyncCode, func(datas ...any) {
		var req collab.SyncCodeRequest
		if err := decodePayload(datas, &req); err != nil {
			log.WithError(err).Warn("Dropping sync")
			return
		}
		// A client whose editor is not ready yet answers with null.
		if req.Code == nil {
			log.WithField("target", req.SocketID).Debug("Ignoring empty sync")
			return
		}
		if err := hub.SyncCode(me, req.SocketID, *req.Code); err != nil {
			entry := log.WithError(err).WithField("target", req.SocketID)
			if errors.Is(err, collab.ErrStaleSync) {
				entry.Debug("Sync dropped")
				return
			}
			entry.Warn("Sync dropped")
		}
	})

	socket.On(collab.EventTyping, func(datas ...any) {
		var signal collab.TypingSignal
		if err := decodePayload(datas, &signal); err != nil {
			log.WithError(err).Debug("Dropping typing signal")
			return
		}
		hub.Typing(me, signal.Username)
	})

	socket.On("disconnecting", func(...any) {
		hub.Disconnect(me)
	})
	socket.On("disconnect", func(...any) {
		socket.RemoveAllListeners("")
	})
}

// decodePayload maps the first event argument onto into. Clients send
// plain JSON objects, which arrive as map[string]any.
func decodePayload(datas []any, into any) error {
	if len(datas) == 0 || datas[0] == nil {
		return fmt.Errorf("empty event: %w", collab.ErrMalformedPayload)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           into,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(datas[0]); err != nil {
		return fmt.Errorf("%w: %v", collab.ErrMalformedPayload, err)
	}
	return nil
}

// handshakeToken returns the session token from the handshake auth object,
// then from the Authorization header or session cookie.
func handshakeToken(h *socketio.Handshake) string {
	if h == nil {
		return ""
	}
	if auth, ok := h.Auth.(map[string]any); ok {
		if token, ok := auth["token"].(string); ok && token != "" {
			return strings.TrimPrefix(token, "Bearer ")
		}
	}
	header := http.Header{}
	for k, values := range h.Headers {
		for _, v := range values {
			header.Add(k, v)
		}
	}
	return middleware.TokenFromRequest(&http.Request{Header: header})
}

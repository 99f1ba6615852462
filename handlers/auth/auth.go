package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"realtime-editor/core"
	"realtime-editor/middleware"
	"realtime-editor/sessions"

	"github.com/go-chi/render"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const stateCookie = "oauthstate"

// Redirect targets after a callback, read by the editor's home page.
const (
	ErrorAlreadyLoggedIn = "already_logged_in"
	ErrorAuthFailed      = "auth_failed"
)

// Handler serves the login, callback, session query and logout routes.
type Handler struct {
	provider      Provider
	guard         *sessions.Guard
	tokens        *sessions.Tokens
	store         core.UserStore
	secureCookies bool
}

func NewHandler(provider Provider, guard *sessions.Guard, tokens *sessions.Tokens, store core.UserStore, secureCookies bool) *Handler {
	return &Handler{
		provider:      provider,
		guard:         guard,
		tokens:        tokens,
		store:         store,
		secureCookies: secureCookies,
	}
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// sessionID returns the browser session id, minting one when absent.
func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(sessions.SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	sid := ulid.Make().String()
	h.setCookie(w, sessions.SessionCookie, sid, h.tokens.TTL())
	return sid
}

func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func failRedirect(w http.ResponseWriter, r *http.Request, reason string) {
	http.Redirect(w, r, "/?error="+reason, http.StatusTemporaryRedirect)
}

// HandleLogin redirects the browser to the identity provider.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		http.Error(w, "Failed to generate state for login", http.StatusInternalServerError)
		return
	}
	h.sessionID(w, r)
	h.setCookie(w, stateCookie, state, 10*time.Minute)
	http.Redirect(w, r, h.provider.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// HandleCallback completes the provider round trip and binds the browser
// session to the identity. A second browser for an identity that is already
// logged in is sent back with error=already_logged_in.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	log := logrus.WithField("provider", h.provider.Name())

	state, err := r.Cookie(stateCookie)
	if err != nil || state.Value == "" || state.Value != r.FormValue("state") {
		log.Warn("OAuth state mismatch")
		failRedirect(w, r, ErrorAuthFailed)
		return
	}
	h.clearCookie(w, stateCookie)

	if providerErr := r.FormValue("error"); providerErr != "" {
		log.WithField("error", providerErr).Warn("Provider refused authentication")
		failRedirect(w, r, ErrorAuthFailed)
		return
	}
	code := r.FormValue("code")
	if code == "" {
		log.Error("no code in callback")
		failRedirect(w, r, ErrorAuthFailed)
		return
	}

	user, err := h.provider.Identify(r.Context(), code)
	if err != nil {
		log.WithError(err).Error("Failed to identify user")
		failRedirect(w, r, ErrorAuthFailed)
		return
	}

	sid := h.sessionID(w, r)
	log = log.WithFields(logrus.Fields{"identity": user.Subject, "session_id": sid})

	wasActive := h.guard.IsActive(user.Subject, sid)
	if err := h.guard.TryAcquire(user.Subject, sid); err != nil {
		if errors.Is(err, sessions.ErrAlreadyActive) {
			log.Warn("Login rejected, identity already has an active session")
			failRedirect(w, r, ErrorAlreadyLoggedIn)
			return
		}
		log.WithError(err).Error("Failed to acquire session")
		failRedirect(w, r, ErrorAuthFailed)
		return
	}

	if err := h.store.Save(r.Context(), user); err != nil {
		log.WithError(err).Warn("Failed to store user profile")
	}

	token, err := h.tokens.Issue(user, sid)
	if err != nil {
		log.WithError(err).Error("Failed to create session token")
		if !wasActive {
			h.guard.ReleaseSession(user.Subject, sid)
		}
		failRedirect(w, r, ErrorAuthFailed)
		return
	}

	h.setCookie(w, sessions.TokenCookie, token, h.tokens.TTL())
	log.Info("User logged in")
	http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
}

func (h *Handler) HandleFailure(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, map[string]any{"success": false, "message": "authentication failed"})
}

// HandleLoginSuccess reports the authenticated user. It must run behind
// middleware.AuthJWT; the editor polls it before joining a room.
func (h *Handler) HandleLoginSuccess(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, map[string]any{"success": false, "message": "user failed to authenticate."})
		return
	}

	user, err := h.store.Get(r.Context(), claims.Subject)
	if err != nil {
		if !errors.Is(err, core.ErrUserNotFound) {
			logrus.WithError(err).WithField("identity", claims.Subject).Warn("Failed to load user profile")
		}
		user = &core.User{Subject: claims.Subject, Login: claims.Login, Name: claims.Name}
		if claims.AvatarURL != "" {
			user.AvatarURLs = []string{claims.AvatarURL}
		}
	}

	render.JSON(w, r, map[string]any{
		"success": true,
		"message": "user has successfully authenticated",
		"user":    user,
	})
}

// HandleLogout frees the identity for a new session and clears the cookies.
// Only the session holding the identity can release it. Expired tokens are
// accepted so a user returning after the token lifetime is not locked out.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	claims, err := h.tokens.ParseExpired(middleware.TokenFromRequest(r))
	switch {
	case err != nil:
		logrus.WithError(err).Debug("Logout without a session token")
	case h.guard.ReleaseSession(claims.Subject, claims.SessionID()):
		logrus.WithField("identity", claims.Subject).Info("User logged out")
	default:
		logrus.WithFields(logrus.Fields{
			"identity":   claims.Subject,
			"session_id": claims.SessionID(),
		}).Warn("Logout from a session that does not hold the identity")
	}

	h.clearCookie(w, sessions.TokenCookie)
	h.clearCookie(w, sessions.SessionCookie)
	http.Redirect(w, r, "/", http.StatusFound)
}

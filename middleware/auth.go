package middleware

import (
	"context"
	"net/http"
	"strings"

	"realtime-editor/sessions"

	"github.com/go-chi/render"
)

type contextKey string

const ClaimsContextKey = contextKey("claims")

// TokenFromRequest returns the session token from the Authorization bearer
// header, falling back to the session cookie.
func TokenFromRequest(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			return parts[1]
		}
		return ""
	}
	if cookie, err := r.Cookie(sessions.TokenCookie); err == nil {
		return cookie.Value
	}
	return ""
}

// Authenticate verifies a token and checks that its session is still the
// active one for its identity.
func Authenticate(tokens *sessions.Tokens, guard *sessions.Guard, token string) (*sessions.Claims, error) {
	claims, err := tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	if !guard.IsActive(claims.Subject, claims.SessionID()) {
		return nil, sessions.ErrInvalidToken
	}
	return claims, nil
}

// AuthJWT rejects requests without a valid, non-superseded session token.
func AuthJWT(tokens *sessions.Tokens, guard *sessions.Guard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, map[string]any{"success": false, "message": "user failed to authenticate."})
				return
			}

			claims, err := Authenticate(tokens, guard, token)
			if err != nil {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, map[string]any{"success": false, "message": "user failed to authenticate."})
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext returns the claims stored by AuthJWT.
func ClaimsFromContext(ctx context.Context) (*sessions.Claims, bool) {
	claims, ok := ctx.Value(ClaimsContextKey).(*sessions.Claims)
	return claims, ok
}

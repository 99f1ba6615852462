package sessions

import (
	"errors"
	"fmt"
	"time"

	"realtime-editor/core"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// SessionCookie holds the browser session id bound to an identity by the guard.
	SessionCookie = "collab_sid"
	// TokenCookie holds the signed session token issued after login.
	TokenCookie = "collab_token"
)

var ErrInvalidToken = errors.New("invalid session token")

// Claims is the payload of a session token. ID carries the session id.
type Claims struct {
	jwt.RegisteredClaims
	Login     string `json:"login,omitempty"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// SessionID returns the session the token was issued for.
func (c *Claims) SessionID() string {
	return c.ID
}

// Tokens signs and verifies session tokens with an HMAC secret.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokens(secret []byte, ttl time.Duration) *Tokens {
	return &Tokens{secret: secret, ttl: ttl, now: time.Now}
}

// Issue creates a token binding user to sessionID.
func (t *Tokens) Issue(user *core.User, sessionID string) (string, error) {
	if len(t.secret) == 0 {
		return "", errors.New("JWT secret is not configured")
	}
	now := t.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Subject,
			ID:        sessionID,
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Login:     user.Login,
		Name:      user.DisplayName(),
		AvatarURL: user.Avatar(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Parse verifies tokenString and returns its claims.
func (t *Tokens) Parse(tokenString string) (*Claims, error) {
	return t.parse(tokenString, jwt.WithTimeFunc(t.now))
}

// ParseExpired verifies only the signature of tokenString, so an expired
// token still names the session it was issued for. Logout uses it to free
// the identity after the token lifetime has passed.
func (t *Tokens) ParseExpired(tokenString string) (*Claims, error) {
	return t.parse(tokenString, jwt.WithoutClaimsValidation())
}

func (t *Tokens) parse(tokenString string, opts ...jwt.ParserOption) (*Claims, error) {
	if tokenString == "" || len(t.secret) == 0 {
		return nil, ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// TTL is the lifetime of issued tokens.
func (t *Tokens) TTL() time.Duration {
	return t.ttl
}

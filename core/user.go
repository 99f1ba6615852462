package core

import (
	"context"
	"errors"
	"time"
)

// ErrUserNotFound is returned by a UserStore when no profile is stored for a subject.
var ErrUserNotFound = errors.New("user not found")

type (
	// User is the profile yielded by the identity provider after a successful login.
	User struct {
		Subject    string    `json:"id"`
		Login      string    `json:"login,omitempty"`
		Email      string    `json:"email,omitempty"`
		Name       string    `json:"displayName"`
		AvatarURLs []string  `json:"photos,omitempty"`
		Provider   string    `json:"provider,omitempty"`
		CreatedAt  time.Time `json:"createdAt"`
		UpdatedAt  time.Time `json:"updatedAt"`
	}

	// UserStore keeps the profiles of users that authenticated at least once.
	// It holds no session state.
	UserStore interface {
		// Get returns the profile stored for subject or ErrUserNotFound.
		Get(ctx context.Context, subject string) (*User, error)

		// Save creates or replaces the profile, preserving CreatedAt of an existing entry.
		Save(ctx context.Context, user *User) error
	}
)

// Avatar returns the first avatar reference, or "" when the provider gave none.
func (u *User) Avatar() string {
	if u == nil || len(u.AvatarURLs) == 0 {
		return ""
	}
	return u.AvatarURLs[0]
}

// DisplayName falls back to the login when the provider has no full name.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.Name != "" {
		return u.Name
	}
	return u.Login
}

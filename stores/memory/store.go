package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"realtime-editor/core"

	"github.com/sirupsen/logrus"
)

// memStore keeps user profiles for the lifetime of the process.
type memStore struct {
	mu    sync.RWMutex
	users map[string]core.User
}

// NewStore creates a new in-memory store.
func NewStore() *memStore {
	return &memStore{users: make(map[string]core.User)}
}

func (s *memStore) Get(ctx context.Context, subject string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[subject]
	if !ok {
		logrus.WithField("identity", subject).Debug("User profile not found")
		return nil, fmt.Errorf("get %s: %w", subject, core.ErrUserNotFound)
	}
	user.AvatarURLs = append([]string(nil), user.AvatarURLs...)
	return &user, nil
}

func (s *memStore) Save(ctx context.Context, user *core.User) error {
	if user.Subject == "" {
		return fmt.Errorf("user subject cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.users[user.Subject]; ok {
		user.CreatedAt = existing.CreatedAt
	} else {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	stored := *user
	stored.AvatarURLs = append([]string(nil), user.AvatarURLs...)
	s.users[user.Subject] = stored
	logrus.WithField("identity", user.Subject).Info("User profile saved")
	return nil
}

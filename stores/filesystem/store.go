package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"realtime-editor/core"

	"github.com/sirupsen/logrus"
)

// fsStore writes one JSON file per user under basePath/users.
type fsStore struct {
	mu       sync.Mutex
	basePath string
}

// NewStore creates a new filesystem-based store.
func NewStore(basePath string) (*fsStore, error) {
	if err := os.MkdirAll(filepath.Join(basePath, "users"), 0755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	return &fsStore{basePath: basePath}, nil
}

// userPath maps a subject to a file name. Subjects are escaped so they can
// never name a path outside the users directory.
func (s *fsStore) userPath(subject string) (string, error) {
	name := url.PathEscape(subject)
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("invalid user subject %q", subject)
	}
	return filepath.Join(s.basePath, "users", name+".json"), nil
}

func (s *fsStore) Get(ctx context.Context, subject string) (*core.User, error) {
	filePath, err := s.userPath(subject)
	if err != nil {
		return nil, err
	}
	log := logrus.WithFields(logrus.Fields{"identity": subject, "file_path": filePath})

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug("User profile not found")
			return nil, fmt.Errorf("get %s: %w", subject, core.ErrUserNotFound)
		}
		log.WithError(err).Error("Failed to read user profile")
		return nil, err
	}

	var user core.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", subject, err)
	}
	return &user, nil
}

func (s *fsStore) Save(ctx context.Context, user *core.User) error {
	if user.Subject == "" {
		return fmt.Errorf("user subject cannot be empty")
	}
	filePath, err := s.userPath(user.Subject)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{"identity": user.Subject, "file_path": filePath})

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, err := s.Get(ctx, user.Subject); err == nil {
		user.CreatedAt = existing.CreatedAt
	} else {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user %s: %w", user.Subject, err)
	}

	// Write then rename so readers never see a partial file.
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.WithError(err).Error("Failed to write user profile")
		return err
	}
	if err := os.Rename(tmp, filePath); err != nil {
		log.WithError(err).Error("Failed to write user profile")
		return err
	}
	log.Info("User profile saved")
	return nil
}

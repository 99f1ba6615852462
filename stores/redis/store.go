package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"realtime-editor/core"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "realtime-editor:user:"

type redisStore struct {
	client goredis.Cmdable
	now    func() time.Time
}

// NewStore connects to Redis and checks the connection.
func NewStore(ctx context.Context, addr, password string, db int) (*redisStore, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}
	return NewStoreWithClient(client), nil
}

func NewStoreWithClient(client goredis.Cmdable) *redisStore {
	return &redisStore{client: client, now: time.Now}
}

func userKey(subject string) string {
	return keyPrefix + subject
}

func (s *redisStore) Get(ctx context.Context, subject string) (*core.User, error) {
	data, err := s.client.Get(ctx, userKey(subject)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("get %s: %w", subject, core.ErrUserNotFound)
		}
		logrus.WithError(err).WithField("identity", subject).Error("Failed to read user profile from redis")
		return nil, err
	}

	var user core.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", subject, err)
	}
	return &user, nil
}

func (s *redisStore) Save(ctx context.Context, user *core.User) error {
	if user.Subject == "" {
		return fmt.Errorf("user subject cannot be empty")
	}

	now := s.now().UTC()
	existing, err := s.Get(ctx, user.Subject)
	switch {
	case err == nil:
		user.CreatedAt = existing.CreatedAt
	case errors.Is(err, core.ErrUserNotFound):
		user.CreatedAt = now
	default:
		return err
	}
	user.UpdatedAt = now

	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user %s: %w", user.Subject, err)
	}
	if err := s.client.Set(ctx, userKey(user.Subject), data, 0).Err(); err != nil {
		return fmt.Errorf("save user %s: %w", user.Subject, err)
	}
	logrus.WithField("identity", user.Subject).Info("User profile saved")
	return nil
}

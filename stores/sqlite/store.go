package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"realtime-editor/core"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db *sql.DB
}

// NewStore opens the database and creates the users table when missing.
func NewStore(dataSourceName string) (*sqliteStore, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	usersTableStmt := `
	CREATE TABLE IF NOT EXISTS users (
		subject TEXT PRIMARY KEY,
		login TEXT,
		email TEXT,
		name TEXT,
		avatar_urls TEXT,
		provider TEXT,
		created_at DATETIME,
		updated_at DATETIME
	);`
	if _, err = db.Exec(usersTableStmt); err != nil {
		db.Close()
		return nil, fmt.Errorf("create users table: %w", err)
	}

	return &sqliteStore{db}, nil
}

func (s *sqliteStore) Get(ctx context.Context, subject string) (*core.User, error) {
	log := logrus.WithField("identity", subject)

	var (
		user    core.User
		avatars string
	)
	user.Subject = subject
	err := s.db.QueryRowContext(ctx,
		"SELECT login, email, name, avatar_urls, provider, created_at, updated_at FROM users WHERE subject = ?", subject,
	).Scan(&user.Login, &user.Email, &user.Name, &avatars, &user.Provider, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("User profile not found")
			return nil, fmt.Errorf("get %s: %w", subject, core.ErrUserNotFound)
		}
		log.WithError(err).Error("Failed to retrieve user profile")
		return nil, err
	}
	if avatars != "" {
		if err := json.Unmarshal([]byte(avatars), &user.AvatarURLs); err != nil {
			return nil, fmt.Errorf("decode avatars of %s: %w", subject, err)
		}
	}
	return &user, nil
}

func (s *sqliteStore) Save(ctx context.Context, user *core.User) error {
	if user.Subject == "" {
		return fmt.Errorf("user subject cannot be empty")
	}
	avatars, err := json.Marshal(user.AvatarURLs)
	if err != nil {
		return fmt.Errorf("encode avatars: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var createdAt time.Time
	err = tx.QueryRowContext(ctx, "SELECT created_at FROM users WHERE subject = ?", user.Subject).Scan(&createdAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		createdAt = now
		_, err = tx.ExecContext(ctx,
			"INSERT INTO users (subject, login, email, name, avatar_urls, provider, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			user.Subject, user.Login, user.Email, user.Name, string(avatars), user.Provider, createdAt, now)
	case err == nil:
		_, err = tx.ExecContext(ctx,
			"UPDATE users SET login = ?, email = ?, name = ?, avatar_urls = ?, provider = ?, updated_at = ? WHERE subject = ?",
			user.Login, user.Email, user.Name, string(avatars), user.Provider, now, user.Subject)
	}
	if err != nil {
		logrus.WithError(err).WithField("identity", user.Subject).Error("Failed to save user profile")
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	user.CreatedAt = createdAt
	user.UpdatedAt = now
	logrus.WithField("identity", user.Subject).Info("User profile saved")
	return nil
}

// Close releases the database handle.
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// CredentialKey is the only settings row the client persists.
const CredentialKey = "token"

type Store struct {
	DB *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}

func (s *Store) LoadCredential(ctx context.Context) (string, error) {
	value, err := s.getSetting(ctx, CredentialKey)
	if err != nil {
		return "", fmt.Errorf("load credential: %w", err)
	}
	return value, nil
}

func (s *Store) SaveCredential(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("save credential: empty token")
	}
	if err := s.setSetting(ctx, CredentialKey, token); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

func (s *Store) DeleteCredential(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", CredentialKey); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

func (s *Store) getSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.DB.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *Store) setSetting(ctx context.Context, key, value string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`, key, value)
	return err
}

func (s *Store) countSettings(ctx context.Context) (int, error) {
	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM settings").Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

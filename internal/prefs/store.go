// Package prefs stores per-actor display preferences in Redis.
package prefs

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Preference keys.
const (
	KeyTheme           = "theme"
	KeyFiscalStartYear = "fiscal_start_year"
)

// Themes accepted by the view layer.
const (
	ThemeLight  = "light"
	ThemeDark   = "dark"
	ThemeSystem = "system"
)

// Store keeps one Redis hash per actor.
type Store struct {
	client *redis.Client
}

// NewStore constructs a Store.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) key(userID int64) string {
	return "prefs:" + strconv.FormatInt(userID, 10)
}

// Theme returns the stored theme, or ThemeSystem when unset.
func (s *Store) Theme(ctx context.Context, userID int64) (string, error) {
	v, err := s.client.HGet(ctx, s.key(userID), KeyTheme).Result()
	if errors.Is(err, redis.Nil) {
		return ThemeSystem, nil
	}
	if err != nil {
		return "", fmt.Errorf("prefs: theme: %w", err)
	}
	return v, nil
}

// SetTheme persists the theme.
func (s *Store) SetTheme(ctx context.Context, userID int64, theme string) error {
	if err := s.client.HSet(ctx, s.key(userID), KeyTheme, theme).Err(); err != nil {
		return fmt.Errorf("prefs: set theme: %w", err)
	}
	return nil
}

// FiscalStartYear returns the stored start year, if any.
func (s *Store) FiscalStartYear(ctx context.Context, userID int64) (int, bool, error) {
	v, err := s.client.HGet(ctx, s.key(userID), KeyFiscalStartYear).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("prefs: fiscal start year: %w", err)
	}
	year, err := strconv.Atoi(v)
	if err != nil {
		// A corrupt value behaves like an unset one.
		return 0, false, nil
	}
	return year, true, nil
}

// SetFiscalStartYear persists the start year.
func (s *Store) SetFiscalStartYear(ctx context.Context, userID int64, year int) error {
	if err := s.client.HSet(ctx, s.key(userID), KeyFiscalStartYear, year).Err(); err != nil {
		return fmt.Errorf("prefs: set fiscal start year: %w", err)
	}
	return nil
}

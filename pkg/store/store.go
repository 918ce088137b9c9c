// Package store persists the channel registry and per-user statistics.
//
// Three drivers share one contract: sqlite (default), redis and memory. The
// two collections are independent; no operation spans both.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/seqbot/pkg/fsub"
)

var (
	// ErrUserNotFound is returned by GetUser for an unknown user.
	ErrUserNotFound = errors.New("store: user not found")
	// ErrNegativeDelta is returned when a counter would be decremented.
	ErrNegativeDelta = errors.New("store: files sequenced delta must not be negative")
)

// Driver names accepted by Open.
const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// UserStat is the per-user record behind the leaderboard.
type UserStat struct {
	UserID         int64
	DisplayName    string
	FilesSequenced int64
	FirstSeen      time.Time
	LastSeen       time.Time
}

// Store is the full persistence surface of the bot.
type Store interface {
	fsub.ChannelStore

	// TouchUser records that the user interacted with the bot. An empty
	// displayName keeps the stored one.
	TouchUser(ctx context.Context, userID int64, displayName string) error
	// AddFilesSequenced creates the user if needed, adds n to their counter
	// and overwrites their display name.
	AddFilesSequenced(ctx context.Context, userID int64, displayName string, n int) error
	GetUser(ctx context.Context, userID int64) (UserStat, error)
	CountUsers(ctx context.Context) (int, error)
	// TopUsers returns up to limit users with a non-zero counter, highest first.
	TopUsers(ctx context.Context, limit int) ([]UserStat, error)
	Close() error
}

// Config selects and configures a driver.
type Config struct {
	Driver string
	// Path is the sqlite database file.
	Path  string
	Redis RedisConfig
}

// Open creates the store selected by cfg.Driver.
func Open(cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverSQLite:
		return NewSQLiteStore(cfg.Path)
	case DriverRedis:
		return NewRedisStore(cfg.Redis)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harun/seqbot/pkg/fsub"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS fsub_channels (
		id INTEGER PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		username TEXT NOT NULL DEFAULT '',
		invite_link TEXT NOT NULL DEFAULT '',
		added_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS users (
		user_id INTEGER PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		files_sequenced INTEGER NOT NULL DEFAULT 0,
		first_seen INTEGER NOT NULL,
		last_seen INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_files ON users(files_sequenced DESC);
`

// SQLiteStore is the default single-node driver.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single writer connection avoids SQLITE_BUSY between goroutines
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) ListChannels(ctx context.Context) ([]fsub.Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, username, invite_link, added_at FROM fsub_channels ORDER BY added_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	var channels []fsub.Channel
	for rows.Next() {
		var ch fsub.Channel
		var addedAt int64
		if err := rows.Scan(&ch.ID, &ch.Title, &ch.Username, &ch.InviteLink, &addedAt); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		ch.AddedAt = time.Unix(0, addedAt)
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

func (s *SQLiteStore) UpsertChannel(ctx context.Context, ch fsub.Channel) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fsub_channels (id, title, username, invite_link, added_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			username = excluded.username,
			invite_link = excluded.invite_link,
			added_at = excluded.added_at`,
		ch.ID, ch.Title, ch.Username, ch.InviteLink, ch.AddedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("upsert channel: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteChannel(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM fsub_channels WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete channel: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) TouchUser(ctx context.Context, userID int64, displayName string) error {
	now := s.now().UnixNano()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (user_id, display_name, files_sequenced, first_seen, last_seen)
		VALUES (?, ?, 0, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE users.display_name END,
			last_seen = excluded.last_seen`,
		userID, displayName, now, now)
	if err != nil {
		return fmt.Errorf("touch user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AddFilesSequenced(ctx context.Context, userID int64, displayName string, n int) error {
	if n < 0 {
		return ErrNegativeDelta
	}

	now := s.now().UnixNano()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (user_id, display_name, files_sequenced, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			files_sequenced = users.files_sequenced + excluded.files_sequenced,
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE users.display_name END,
			last_seen = excluded.last_seen`,
		userID, displayName, n, now, now)
	if err != nil {
		return fmt.Errorf("add files sequenced: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, userID int64) (UserStat, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, display_name, files_sequenced, first_seen, last_seen
		FROM users WHERE user_id = ?`, userID)

	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return UserStat{}, ErrUserNotFound
	}
	if err != nil {
		return UserStat{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) TopUsers(ctx context.Context, limit int) ([]UserStat, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, display_name, files_sequenced, first_seen, last_seen
		FROM users WHERE files_sequenced > 0
		ORDER BY files_sequenced DESC, user_id ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top users: %w", err)
	}
	defer rows.Close()

	var users []UserStat
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(r rowScanner) (UserStat, error) {
	var u UserStat
	var firstSeen, lastSeen int64
	if err := r.Scan(&u.UserID, &u.DisplayName, &u.FilesSequenced, &firstSeen, &lastSeen); err != nil {
		return UserStat{}, err
	}
	u.FirstSeen = time.Unix(0, firstSeen)
	u.LastSeen = time.Unix(0, lastSeen)
	return u, nil
}

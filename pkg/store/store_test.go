package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/harun/seqbot/pkg/fsub"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLite(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "data", "seqbot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newRedis(t *testing.T) Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreFromClient(client, "test:")
	t.Cleanup(func() { s.Close() })
	return s
}

func drivers() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		DriverMemory: func(t *testing.T) Store { return NewMemoryStore() },
		DriverSQLite: newSQLite,
		DriverRedis:  newRedis,
	}
}

func TestStore_Channels(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, open := range drivers() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			empty, err := s.ListChannels(ctx)
			require.NoError(t, err)
			assert.Empty(t, empty)

			require.NoError(t, s.UpsertChannel(ctx, fsub.Channel{ID: -200, Title: "Second", AddedAt: base.Add(2 * time.Second)}))
			require.NoError(t, s.UpsertChannel(ctx, fsub.Channel{ID: -100, Title: "First", Username: "first", AddedAt: base}))

			list, err := s.ListChannels(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, int64(-100), list[0].ID)
			assert.Equal(t, "first", list[0].Username)
			assert.True(t, base.Equal(list[0].AddedAt))
			assert.Equal(t, int64(-200), list[1].ID)

			// update keeps position
			require.NoError(t, s.UpsertChannel(ctx, fsub.Channel{ID: -100, Title: "Renamed", InviteLink: "https://t.me/+x", AddedAt: base}))
			list, err = s.ListChannels(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "Renamed", list[0].Title)
			assert.Equal(t, "https://t.me/+x", list[0].InviteLink)

			removed, err := s.DeleteChannel(ctx, -100)
			require.NoError(t, err)
			assert.True(t, removed)

			removed, err = s.DeleteChannel(ctx, -100)
			require.NoError(t, err)
			assert.False(t, removed)

			list, err = s.ListChannels(ctx)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "Second", list[0].Title)
		})
	}
}

func TestStore_Users(t *testing.T) {
	for name, open := range drivers() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			_, err := s.GetUser(ctx, 1)
			assert.ErrorIs(t, err, ErrUserNotFound)

			require.NoError(t, s.TouchUser(ctx, 1, "alice"))
			require.NoError(t, s.TouchUser(ctx, 1, ""))

			u, err := s.GetUser(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, "alice", u.DisplayName)
			assert.Equal(t, int64(0), u.FilesSequenced)
			assert.False(t, u.LastSeen.Before(u.FirstSeen))

			require.NoError(t, s.AddFilesSequenced(ctx, 1, "Alice B", 3))
			require.NoError(t, s.AddFilesSequenced(ctx, 1, "Alice C", 2))

			u, err = s.GetUser(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, int64(5), u.FilesSequenced)
			assert.Equal(t, "Alice C", u.DisplayName)

			// creates on first increment
			require.NoError(t, s.AddFilesSequenced(ctx, 2, "bob", 9))
			u, err = s.GetUser(ctx, 2)
			require.NoError(t, err)
			assert.Equal(t, int64(9), u.FilesSequenced)

			assert.ErrorIs(t, s.AddFilesSequenced(ctx, 2, "bob", -1), ErrNegativeDelta)

			n, err := s.CountUsers(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, n)
		})
	}
}

func TestStore_TopUsers(t *testing.T) {
	for name, open := range drivers() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			require.NoError(t, s.TouchUser(ctx, 10, "idle"))
			require.NoError(t, s.AddFilesSequenced(ctx, 11, "few", 2))
			require.NoError(t, s.AddFilesSequenced(ctx, 12, "most", 30))
			require.NoError(t, s.AddFilesSequenced(ctx, 13, "some", 7))

			top, err := s.TopUsers(ctx, 2)
			require.NoError(t, err)
			require.Len(t, top, 2)
			assert.Equal(t, int64(12), top[0].UserID)
			assert.Equal(t, "most", top[0].DisplayName)
			assert.Equal(t, int64(30), top[0].FilesSequenced)
			assert.Equal(t, int64(13), top[1].UserID)

			all, err := s.TopUsers(ctx, 0)
			require.NoError(t, err)
			require.Len(t, all, 3, "users without sequenced files are not ranked")
			assert.Equal(t, int64(11), all[2].UserID)
		})
	}
}

func TestOpen(t *testing.T) {
	s, err := Open(Config{Driver: DriverMemory})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(Config{Path: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	mr := miniredis.RunT(t)
	s, err = Open(Config{Driver: DriverRedis, Redis: RedisConfig{Addr: mr.Addr()}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(Config{Driver: "etcd"})
	assert.Error(t, err)

	_, err = Open(Config{Driver: DriverRedis})
	assert.Error(t, err)
}

func TestRedisStore_Closed(t *testing.T) {
	s := newRedis(t)
	require.NoError(t, s.Close())

	_, err := s.ListChannels(context.Background())
	assert.ErrorIs(t, err, ErrStoreClosed)
}

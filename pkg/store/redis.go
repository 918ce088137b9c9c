package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/harun/seqbot/pkg/fsub"
	"github.com/redis/go-redis/v9"
)

// ErrStoreClosed is returned by RedisStore after Close.
var ErrStoreClosed = errors.New("store: closed")

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix for all keys (default: "seqbot:").
	Prefix string
}

// RedisStore shares state between several bot processes.
//
// Layout:
//
//	<prefix>channels          zset of channel ids scored by added_at (ms)
//	<prefix>channel:<id>      hash title, username, invite_link, added_at
//	<prefix>users             zset of user ids scored by files sequenced
//	<prefix>user:<id>         hash name, files, first_seen, last_seen
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisStoreFromClient(client, cfg.Prefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "seqbot:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

func (s *RedisStore) channelsKey() string { return s.prefix + "channels" }

func (s *RedisStore) channelKey(id int64) string {
	return s.prefix + "channel:" + strconv.FormatInt(id, 10)
}

func (s *RedisStore) usersKey() string { return s.prefix + "users" }

func (s *RedisStore) userKey(id int64) string {
	return s.prefix + "user:" + strconv.FormatInt(id, 10)
}

func (s *RedisStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *RedisStore) ListChannels(ctx context.Context) ([]fsub.Channel, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	ids, err := s.client.ZRange(ctx, s.channelsKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list channel ids: %w", err)
	}

	channels := make([]fsub.Channel, 0, len(ids))
	for _, raw := range ids {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("channel id %q: %w", raw, err)
		}

		vals, err := s.client.HMGet(ctx, s.channelKey(id), "title", "username", "invite_link", "added_at").Result()
		if err != nil {
			return nil, fmt.Errorf("load channel %d: %w", id, err)
		}
		addedAt, _ := strconv.ParseInt(hashString(vals[3]), 10, 64)

		channels = append(channels, fsub.Channel{
			ID:         id,
			Title:      hashString(vals[0]),
			Username:   hashString(vals[1]),
			InviteLink: hashString(vals[2]),
			AddedAt:    time.Unix(0, addedAt),
		})
	}
	return channels, nil
}

func (s *RedisStore) UpsertChannel(ctx context.Context, ch fsub.Channel) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.channelKey(ch.ID),
			"title", ch.Title,
			"username", ch.Username,
			"invite_link", ch.InviteLink,
			"added_at", strconv.FormatInt(ch.AddedAt.UnixNano(), 10),
		)
		pipe.ZAdd(ctx, s.channelsKey(), redis.Z{
			Score:  float64(ch.AddedAt.UnixMilli()),
			Member: strconv.FormatInt(ch.ID, 10),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert channel: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteChannel(ctx context.Context, id int64) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}

	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.ZRem(ctx, s.channelsKey(), strconv.FormatInt(id, 10))
		pipe.Del(ctx, s.channelKey(id))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete channel: %w", err)
	}
	return removed.Val() > 0, nil
}

func (s *RedisStore) TouchUser(ctx context.Context, userID int64, displayName string) error {
	return s.updateUser(ctx, userID, displayName, 0)
}

func (s *RedisStore) AddFilesSequenced(ctx context.Context, userID int64, displayName string, n int) error {
	if n < 0 {
		return ErrNegativeDelta
	}
	return s.updateUser(ctx, userID, displayName, n)
}

func (s *RedisStore) updateUser(ctx context.Context, userID int64, displayName string, n int) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	key := s.userKey(userID)
	member := strconv.FormatInt(userID, 10)
	now := strconv.FormatInt(s.now().UnixNano(), 10)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, "first_seen", now)
		pipe.HSet(ctx, key, "last_seen", now)
		if displayName != "" {
			pipe.HSet(ctx, key, "name", displayName)
		}
		pipe.ZAddNX(ctx, s.usersKey(), redis.Z{Score: 0, Member: member})
		if n > 0 {
			pipe.HIncrBy(ctx, key, "files", int64(n))
			pipe.ZIncrBy(ctx, s.usersKey(), float64(n), member)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update user %d: %w", userID, err)
	}
	return nil
}

func (s *RedisStore) GetUser(ctx context.Context, userID int64) (UserStat, error) {
	if err := s.checkOpen(); err != nil {
		return UserStat{}, err
	}

	vals, err := s.client.HGetAll(ctx, s.userKey(userID)).Result()
	if err != nil {
		return UserStat{}, fmt.Errorf("get user: %w", err)
	}
	if len(vals) == 0 {
		return UserStat{}, ErrUserNotFound
	}
	return userFromHash(userID, vals), nil
}

func (s *RedisStore) CountUsers(ctx context.Context) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	n, err := s.client.ZCard(ctx, s.usersKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return int(n), nil
}

func (s *RedisStore) TopUsers(ctx context.Context, limit int) ([]UserStat, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	opt := &redis.ZRangeBy{Min: "(0", Max: "+inf"}
	if limit > 0 {
		opt.Count = int64(limit)
	}
	ranked, err := s.client.ZRevRangeByScoreWithScores(ctx, s.usersKey(), opt).Result()
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}

	users := make([]UserStat, 0, len(ranked))
	for _, z := range ranked {
		member, _ := z.Member.(string)
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("leaderboard member %q: %w", member, err)
		}

		vals, err := s.client.HGetAll(ctx, s.userKey(id)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("load user %d: %w", id, err)
		}
		u := userFromHash(id, vals)
		u.FilesSequenced = int64(z.Score)
		users = append(users, u)
	}
	return users, nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

func userFromHash(userID int64, vals map[string]string) UserStat {
	files, _ := strconv.ParseInt(vals["files"], 10, 64)
	first, _ := strconv.ParseInt(vals["first_seen"], 10, 64)
	last, _ := strconv.ParseInt(vals["last_seen"], 10, 64)
	return UserStat{
		UserID:         userID,
		DisplayName:    vals["name"],
		FilesSequenced: files,
		FirstSeen:      time.Unix(0, first),
		LastSeen:       time.Unix(0, last),
	}
}

func hashString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

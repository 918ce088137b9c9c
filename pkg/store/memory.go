package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/harun/seqbot/pkg/fsub"
)

// MemoryStore keeps everything in process memory. It is used by tests and
// for throwaway local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	channels []fsub.Channel
	users    map[int64]*UserStat
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[int64]*UserStat),
		now:   time.Now,
	}
}

func (m *MemoryStore) ListChannels(ctx context.Context) ([]fsub.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.channels), nil
}

func (m *MemoryStore) UpsertChannel(ctx context.Context, ch fsub.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.channels {
		if m.channels[i].ID == ch.ID {
			m.channels[i] = ch
			return nil
		}
	}
	m.channels = append(m.channels, ch)
	slices.SortStableFunc(m.channels, func(a, b fsub.Channel) int {
		return a.AddedAt.Compare(b.AddedAt)
	})
	return nil
}

func (m *MemoryStore) DeleteChannel(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := slices.IndexFunc(m.channels, func(c fsub.Channel) bool { return c.ID == id })
	if i < 0 {
		return false, nil
	}
	m.channels = slices.Delete(m.channels, i, i+1)
	return true, nil
}

func (m *MemoryStore) TouchUser(ctx context.Context, userID int64, displayName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := m.userLocked(userID)
	if displayName != "" {
		u.DisplayName = displayName
	}
	return nil
}

func (m *MemoryStore) AddFilesSequenced(ctx context.Context, userID int64, displayName string, n int) error {
	if n < 0 {
		return ErrNegativeDelta
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	u := m.userLocked(userID)
	u.FilesSequenced += int64(n)
	if displayName != "" {
		u.DisplayName = displayName
	}
	return nil
}

// userLocked returns the user record, creating it, and bumps LastSeen.
func (m *MemoryStore) userLocked(userID int64) *UserStat {
	now := m.now()
	u, ok := m.users[userID]
	if !ok {
		u = &UserStat{UserID: userID, FirstSeen: now}
		m.users[userID] = u
	}
	u.LastSeen = now
	return u
}

func (m *MemoryStore) GetUser(ctx context.Context, userID int64) (UserStat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[userID]
	if !ok {
		return UserStat{}, ErrUserNotFound
	}
	return *u, nil
}

func (m *MemoryStore) CountUsers(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

func (m *MemoryStore) TopUsers(ctx context.Context, limit int) ([]UserStat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []UserStat
	for _, u := range m.users {
		if u.FilesSequenced > 0 {
			out = append(out, *u)
		}
	}
	slices.SortFunc(out, func(a, b UserStat) int {
		if c := cmp.Compare(b.FilesSequenced, a.FilesSequenced); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

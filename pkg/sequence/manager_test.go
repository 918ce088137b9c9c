package sequence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/harun/seqbot/pkg/commandqueue"
	"github.com/harun/seqbot/pkg/fsub"
	"github.com/harun/seqbot/pkg/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const user int64 = 77

type fakeGate struct {
	mu       sync.Mutex
	decision fsub.Decision
	err      error
}

func (g *fakeGate) Check(ctx context.Context, userID int64) (fsub.Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.decision, g.err
}

func (g *fakeGate) set(d fsub.Decision, err error) {
	g.mu.Lock()
	g.decision, g.err = d, err
	g.mu.Unlock()
}

type fakeForwarder struct {
	mu     sync.Mutex
	sent   []ItemRef
	dests  []int64
	failOn map[int]error
	onCall func(n int)
	calls  int
}

func (f *fakeForwarder) ForwardItem(ctx context.Context, dest int64, ref ItemRef) error {
	f.mu.Lock()
	f.calls++
	n := f.calls
	hook := f.onCall
	err := f.failOn[ref.MessageID]
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.sent = append(f.sent, ref)
	f.dests = append(f.dests, dest)
	f.mu.Unlock()
	return nil
}

func (f *fakeForwarder) sentIDs() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]int, len(f.sent))
	for i, r := range f.sent {
		ids[i] = r.MessageID
	}
	return ids
}

type failingStats struct{ err error }

func (s failingStats) AddFilesSequenced(ctx context.Context, userID int64, displayName string, n int) error {
	return s.err
}

type fixture struct {
	manager   *Manager
	gate      *fakeGate
	forwarder *fakeForwarder
	store     *store.MemoryStore
}

func newFixture(t *testing.T, interval time.Duration) *fixture {
	t.Helper()
	queue := commandqueue.New(zerolog.Nop())
	t.Cleanup(func() { queue.Close() })

	f := &fixture{
		gate:      &fakeGate{decision: fsub.Decision{Allowed: true}},
		forwarder: &fakeForwarder{},
		store:     store.NewMemoryStore(),
	}
	f.manager = NewManager(queue, f.gate, f.forwarder, f.store, Config{ReplayInterval: interval}, zerolog.Nop())
	return f
}

func file(name string, msgID int) Item {
	return Item{Name: name, Ref: ItemRef{ChatID: user, MessageID: msgID}, Kind: "document"}
}

func TestManager_EndToEndOrdering(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	_, err := f.manager.Start(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, Active, f.manager.State(user))

	for i, name := range []string{"ep3.mkv", "ep1.mkv", "ep2.mkv"} {
		n, err := f.manager.Append(ctx, user, file(name, 100+i))
		require.NoError(t, err)
		assert.Equal(t, i+1, n)
	}

	report, err := f.manager.End(ctx, user, "alice")
	require.NoError(t, err)

	assert.Equal(t, []int{101, 102, 100}, f.forwarder.sentIDs())
	assert.Equal(t, []int64{user, user, user}, f.forwarder.dests)
	assert.Equal(t, 3, report.Delivered)
	assert.Empty(t, report.Failures)
	require.Len(t, report.Ordered, 3)
	assert.Equal(t, "ep1.mkv", report.Ordered[0].Name)

	stat, err := f.store.GetUser(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stat.FilesSequenced)
	assert.Equal(t, "alice", stat.DisplayName)

	assert.Equal(t, Idle, f.manager.State(user))
	assert.Equal(t, 0, f.manager.ActiveSessions())
}

func TestManager_StartDenied(t *testing.T) {
	f := newFixture(t, 0)
	missing := []fsub.Channel{{ID: -1, Title: "News"}}
	f.gate.set(fsub.Decision{Allowed: false, Missing: missing}, nil)

	_, err := f.manager.Start(context.Background(), user)

	var denied *GateDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, missing, denied.Missing)
	assert.Equal(t, Idle, f.manager.State(user))
}

func TestManager_GateErrorDenies(t *testing.T) {
	f := newFixture(t, 0)
	gateErr := errors.New("registry unavailable")
	f.gate.set(fsub.Decision{}, gateErr)

	_, err := f.manager.Start(context.Background(), user)

	var denied *GateDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Empty(t, denied.Missing)
	assert.ErrorIs(t, err, gateErr)
}

func TestManager_RestartOverwrites(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	first, err := f.manager.Start(ctx, user)
	require.NoError(t, err)
	_, err = f.manager.Append(ctx, user, file("a.mkv", 1))
	require.NoError(t, err)
	_, err = f.manager.Append(ctx, user, file("b.mkv", 2))
	require.NoError(t, err)

	second, err := f.manager.Start(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Discarded)
	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.Equal(t, 0, f.manager.Buffered(user))
}

func TestManager_AppendWithoutSession(t *testing.T) {
	f := newFixture(t, 0)

	_, err := f.manager.Append(context.Background(), user, file("ep1.mkv", 1))
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestManager_EndWithoutSession(t *testing.T) {
	f := newFixture(t, 0)

	_, err := f.manager.End(context.Background(), user, "alice")
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestManager_EndEmpty(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	_, err := f.manager.Start(ctx, user)
	require.NoError(t, err)

	_, err = f.manager.End(ctx, user, "alice")
	assert.ErrorIs(t, err, ErrEmptySequence)
	assert.Equal(t, Idle, f.manager.State(user))

	_, err = f.store.GetUser(ctx, user)
	assert.ErrorIs(t, err, store.ErrUserNotFound)
}

func TestManager_EndDeniedKeepsBuffer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	_, err := f.manager.Start(ctx, user)
	require.NoError(t, err)
	_, err = f.manager.Append(ctx, user, file("ep1.mkv", 1))
	require.NoError(t, err)

	f.gate.set(fsub.Decision{Allowed: false, Missing: []fsub.Channel{{ID: -1}}}, nil)
	_, err = f.manager.End(ctx, user, "alice")

	var denied *GateDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, Active, f.manager.State(user))
	assert.Equal(t, 1, f.manager.Buffered(user))
	assert.Empty(t, f.forwarder.sentIDs())

	// after joining the same buffer is replayed
	f.gate.set(fsub.Decision{Allowed: true}, nil)
	report, err := f.manager.End(ctx, user, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Delivered)
}

func TestManager_ReplayFailureSkipsAndContinues(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	f.forwarder.failOn = map[int]error{2: errors.New("message to copy not found")}

	_, err := f.manager.Start(ctx, user)
	require.NoError(t, err)
	for i, name := range []string{"E03.mkv", "E02.mkv", "E01.mkv"} {
		_, err := f.manager.Append(ctx, user, file(name, 3-i))
		require.NoError(t, err)
	}

	report, err := f.manager.End(ctx, user, "alice")
	require.NoError(t, err)

	assert.Equal(t, []int{1, 3}, f.forwarder.sentIDs())
	assert.Equal(t, 2, report.Delivered)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, 2, report.Failures[0].Position)
	assert.Equal(t, "E02.mkv", report.Failures[0].Item.Name)

	stat, err := f.store.GetUser(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stat.FilesSequenced)
}

func TestManager_AllFailedRecordsNoStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	f.forwarder.failOn = map[int]error{1: errors.New("gone")}

	_, err := f.manager.Start(ctx, user)
	require.NoError(t, err)
	_, err = f.manager.Append(ctx, user, file("ep1.mkv", 1))
	require.NoError(t, err)

	report, err := f.manager.End(ctx, user, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, report.Delivered)

	_, err = f.store.GetUser(ctx, user)
	assert.ErrorIs(t, err, store.ErrUserNotFound)
	assert.Equal(t, Idle, f.manager.State(user))
}

func TestManager_StatsErrorIsReported(t *testing.T) {
	ctx := context.Background()
	queue := commandqueue.New(zerolog.Nop())
	t.Cleanup(func() { queue.Close() })

	statsErr := errors.New("db locked")
	fwd := &fakeForwarder{}
	m := NewManager(queue, &fakeGate{decision: fsub.Decision{Allowed: true}}, fwd, failingStats{err: statsErr}, Config{}, zerolog.Nop())

	_, err := m.Start(ctx, user)
	require.NoError(t, err)
	_, err = m.Append(ctx, user, file("ep1.mkv", 1))
	require.NoError(t, err)

	report, err := m.End(ctx, user, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Delivered)
	assert.ErrorIs(t, report.StatsErr, statsErr)
	assert.Equal(t, Idle, m.State(user))
}

func TestManager_ReplayIsPaced(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 30*time.Millisecond)

	_, err := f.manager.Start(ctx, user)
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		_, err := f.manager.Append(ctx, user, file("x.mkv", i))
		require.NoError(t, err)
	}

	start := time.Now()
	report, err := f.manager.End(ctx, user, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, report.Delivered)
	assert.GreaterOrEqual(t, time.Since(start), 55*time.Millisecond)
}

func TestManager_CancelMarksRemainingFailed(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.forwarder.onCall = func(n int) { cancel() }

	_, err := f.manager.Start(ctx, user)
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		_, err := f.manager.Append(ctx, user, file("ep"+string(rune('0'+i))+".mkv", i))
		require.NoError(t, err)
	}

	report, err := f.manager.End(ctx, user, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Delivered)
	require.Len(t, report.Failures, 2)
	assert.Equal(t, 2, report.Failures[0].Position)
	assert.Equal(t, 3, report.Failures[1].Position)
	assert.Equal(t, Idle, f.manager.State(user))
}

func TestManager_AppendDuringReplayWaits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.forwarder.onCall = func(n int) {
		once.Do(func() { close(started) })
		<-release
	}

	_, err := f.manager.Start(ctx, user)
	require.NoError(t, err)
	_, err = f.manager.Append(ctx, user, file("ep1.mkv", 1))
	require.NoError(t, err)

	endDone := make(chan error, 1)
	go func() {
		_, err := f.manager.End(ctx, user, "alice")
		endDone <- err
	}()
	<-started

	appendDone := make(chan error, 1)
	go func() {
		_, err := f.manager.Append(ctx, user, file("ep2.mkv", 2))
		appendDone <- err
	}()

	select {
	case <-appendDone:
		t.Fatal("append completed while replay was running")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-endDone)
	assert.ErrorIs(t, <-appendDone, ErrNoActiveSession)
}

func TestManager_UsersDoNotBlockEachOther(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	release := make(chan struct{})
	var once sync.Once
	started := make(chan struct{})
	f.forwarder.onCall = func(n int) {
		once.Do(func() { close(started) })
		<-release
	}
	defer close(release)

	_, err := f.manager.Start(ctx, user)
	require.NoError(t, err)
	_, err = f.manager.Append(ctx, user, file("ep1.mkv", 1))
	require.NoError(t, err)

	go func() { _, _ = f.manager.End(ctx, user, "alice") }()
	<-started

	_, err = f.manager.Start(ctx, user+1)
	require.NoError(t, err)
	assert.Equal(t, Active, f.manager.State(user+1))
}

func TestGateDeniedError_Message(t *testing.T) {
	err := &GateDeniedError{Missing: []fsub.Channel{{ID: 1}, {ID: 2}}}
	assert.Contains(t, err.Error(), "2 required")
	assert.Nil(t, err.Unwrap())
}

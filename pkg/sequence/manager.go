package sequence

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/harun/seqbot/internal/tracing"
	"github.com/harun/seqbot/pkg/commandqueue"
	"github.com/harun/seqbot/pkg/episode"
	"github.com/harun/seqbot/pkg/fsub"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

// DefaultReplayInterval is the pause between two replayed files.
const DefaultReplayInterval = time.Second

// Gatekeeper decides whether a user may start or end a session.
type Gatekeeper interface {
	Check(ctx context.Context, userID int64) (fsub.Decision, error)
}

// Forwarder re-sends a buffered item to dest.
type Forwarder interface {
	ForwardItem(ctx context.Context, dest int64, ref ItemRef) error
}

// StatsRecorder persists the per-user counter.
type StatsRecorder interface {
	AddFilesSequenced(ctx context.Context, userID int64, displayName string, n int) error
}

// Observer receives lifecycle notifications, typically for metrics.
type Observer interface {
	SessionStarted()
	ItemBuffered()
	SequenceCompleted(report *Report)
}

// Config holds manager settings.
type Config struct {
	ReplayInterval time.Duration
}

// Manager owns every user's session. Operations for one user run one at a
// time, in call order, on that user's queue lane.
type Manager struct {
	queue     *commandqueue.CommandQueue
	gate      Gatekeeper
	forwarder Forwarder
	stats     StatsRecorder
	observer  Observer
	interval  time.Duration
	logger    zerolog.Logger
	now       func() time.Time

	mu       sync.RWMutex
	sessions map[int64]*Session
}

// NewManager creates a session manager.
func NewManager(queue *commandqueue.CommandQueue, gate Gatekeeper, forwarder Forwarder, stats StatsRecorder, cfg Config, logger zerolog.Logger) *Manager {
	interval := cfg.ReplayInterval
	if interval < 0 {
		interval = 0
	}

	return &Manager{
		queue:     queue,
		gate:      gate,
		forwarder: forwarder,
		stats:     stats,
		interval:  interval,
		logger:    logger.With().Str("component", "sequence").Logger(),
		now:       time.Now,
		sessions:  make(map[int64]*Session),
	}
}

// SetObserver installs a lifecycle observer.
func (m *Manager) SetObserver(o Observer) {
	m.observer = o
}

func laneKey(userID int64) string {
	return "seq:" + strconv.FormatInt(userID, 10)
}

// Start opens a new session for userID after an admission check. An existing
// session is replaced.
func (m *Manager) Start(ctx context.Context, userID int64) (StartResult, error) {
	v, err := m.queue.Do(ctx, laneKey(userID), func(ctx context.Context) (interface{}, error) {
		if err := m.admit(ctx, userID); err != nil {
			return nil, err
		}

		id, err := gonanoid.New()
		if err != nil {
			return nil, fmt.Errorf("generate session id: %w", err)
		}

		m.mu.Lock()
		var discarded int
		if prev, ok := m.sessions[userID]; ok {
			discarded = len(prev.Items)
		}
		m.sessions[userID] = &Session{ID: id, Owner: userID, StartedAt: m.now()}
		m.mu.Unlock()

		m.logger.Info().
			Int64("user_id", userID).
			Str("session_id", id).
			Int("discarded", discarded).
			Msg("Sequence started")

		if m.observer != nil {
			m.observer.SessionStarted()
		}
		return StartResult{SessionID: id, Discarded: discarded}, nil
	})
	if err != nil {
		return StartResult{}, err
	}
	return v.(StartResult), nil
}

// Append buffers item for userID and returns the new buffer length.
func (m *Manager) Append(ctx context.Context, userID int64, item Item) (int, error) {
	v, err := m.queue.Do(ctx, laneKey(userID), func(ctx context.Context) (interface{}, error) {
		m.mu.Lock()
		s, ok := m.sessions[userID]
		if !ok {
			m.mu.Unlock()
			return nil, ErrNoActiveSession
		}
		if item.ReceivedAt.IsZero() {
			item.ReceivedAt = m.now()
		}
		s.Items = append(s.Items, item)
		n := len(s.Items)
		m.mu.Unlock()

		m.logger.Debug().
			Int64("user_id", userID).
			Str("session_id", s.ID).
			Str("name", item.Name).
			Int("buffered", n).
			Msg("Item buffered")

		if m.observer != nil {
			m.observer.ItemBuffered()
		}
		return n, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// End closes the session of userID: the buffer is ordered by episode number,
// replayed to the user's private chat and counted toward their statistics.
// Items that fail to replay are skipped and listed in the report.
func (m *Manager) End(ctx context.Context, userID int64, displayName string) (*Report, error) {
	v, err := m.queue.Do(ctx, laneKey(userID), func(ctx context.Context) (interface{}, error) {
		if err := m.admit(ctx, userID); err != nil {
			return nil, err
		}

		m.mu.Lock()
		s, ok := m.sessions[userID]
		if ok && len(s.Items) == 0 {
			delete(m.sessions, userID)
		}
		m.mu.Unlock()

		if !ok {
			return nil, ErrNoActiveSession
		}
		if len(s.Items) == 0 {
			m.logger.Info().Int64("user_id", userID).Str("session_id", s.ID).Msg("Empty sequence discarded")
			return nil, ErrEmptySequence
		}

		report := m.replay(ctx, s, displayName)

		m.mu.Lock()
		if cur, ok := m.sessions[userID]; ok && cur == s {
			delete(m.sessions, userID)
		}
		m.mu.Unlock()

		if m.observer != nil {
			m.observer.SequenceCompleted(report)
		}
		return report, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Report), nil
}

func (m *Manager) replay(ctx context.Context, s *Session, displayName string) *Report {
	ctx, span := tracing.StartSpan(ctx, "seqbot.sequence", "sequence.replay",
		attribute.String("session_id", s.ID),
		attribute.Int64("user_id", s.Owner),
		attribute.Int("items", len(s.Items)),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, m.logger).With().Str("session_id", s.ID).Logger()
	start := m.now()

	ordered := episode.Ordered(s.Items, func(it Item) string { return it.Name })
	report := &Report{SessionID: s.ID, Ordered: ordered}

	limiter := rate.NewLimiter(rate.Every(m.interval), 1)
	for i, item := range ordered {
		if err := limiter.Wait(ctx); err != nil {
			for j := i; j < len(ordered); j++ {
				report.Failures = append(report.Failures, ReplayFailure{Position: j + 1, Item: ordered[j], Err: err})
			}
			logger.Warn().Err(err).Int("remaining", len(ordered)-i).Msg("Replay interrupted")
			break
		}

		if logger.GetLevel() <= zerolog.DebugLevel {
			key, rule := episode.Explain(item.Name)
			logger.Debug().Str("name", item.Name).Int("key", key).Str("rule", rule).Int("position", i+1).Msg("Replaying item")
		}

		if err := m.forwarder.ForwardItem(ctx, s.Owner, item.Ref); err != nil {
			logger.Warn().Err(err).Str("name", item.Name).Int("position", i+1).Msg("Replay of item failed, skipping")
			report.Failures = append(report.Failures, ReplayFailure{Position: i + 1, Item: item, Err: err})
			continue
		}
		report.Delivered++
	}

	if report.Delivered > 0 {
		if err := m.stats.AddFilesSequenced(ctx, s.Owner, displayName, report.Delivered); err != nil {
			logger.Error().Err(err).Int("delivered", report.Delivered).Msg("Failed to record sequence statistics")
			report.StatsErr = err
		}
	}

	report.Duration = m.now().Sub(start)
	if len(report.Failures) > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d item(s) failed", len(report.Failures)))
	}
	span.SetAttributes(attribute.Int("delivered", report.Delivered))

	logger.Info().
		Int("delivered", report.Delivered).
		Int("failed", len(report.Failures)).
		Dur("duration", report.Duration).
		Msg("Sequence completed")

	return report
}

func (m *Manager) admit(ctx context.Context, userID int64) error {
	decision, err := m.gate.Check(ctx, userID)
	if err != nil {
		return &GateDeniedError{Err: err}
	}
	if !decision.Allowed {
		return &GateDeniedError{Missing: decision.Missing}
	}
	return nil
}

// State returns whether userID has an open session.
func (m *Manager) State(userID int64) State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.sessions[userID]; ok {
		return Active
	}
	return Idle
}

// Buffered returns the number of items in the open session of userID.
func (m *Manager) Buffered(userID int64) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if s, ok := m.sessions[userID]; ok {
		return len(s.Items)
	}
	return 0
}

// ActiveSessions returns the number of open sessions.
func (m *Manager) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

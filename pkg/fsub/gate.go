package fsub

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ChannelSource supplies the current registry.
type ChannelSource interface {
	Channels(ctx context.Context) ([]Channel, error)
}

// GateObserver receives gate outcomes, typically for metrics.
type GateObserver interface {
	ObserveGateCheck(allowed bool)
	ObserveMembershipFailure()
}

// Decision is the outcome of a gate check. Missing lists unsatisfied
// channels in registry order.
type Decision struct {
	Allowed bool
	Missing []Channel
}

// Gate decides whether a user has joined every required channel. It fails
// closed: a lookup that errors, or a status it does not recognize, counts as
// not joined.
type Gate struct {
	channels ChannelSource
	members  MembershipChecker
	observer GateObserver
	logger   zerolog.Logger
}

// NewGate creates a gate over channels using members for lookups.
func NewGate(channels ChannelSource, members MembershipChecker, logger zerolog.Logger) *Gate {
	return &Gate{
		channels: channels,
		members:  members,
		logger:   logger.With().Str("component", "fsub_gate").Logger(),
	}
}

// SetObserver installs an observer for check outcomes.
func (g *Gate) SetObserver(o GateObserver) {
	g.observer = o
}

// Check evaluates userID against the registry. A registry read failure
// returns a denied decision together with the error.
func (g *Gate) Check(ctx context.Context, userID int64) (Decision, error) {
	channels, err := g.channels.Channels(ctx)
	if err != nil {
		g.observeCheck(false)
		return Decision{Allowed: false}, fmt.Errorf("read channel registry: %w", err)
	}

	if len(channels) == 0 {
		g.observeCheck(true)
		return Decision{Allowed: true}, nil
	}

	joined := make([]bool, len(channels))
	var eg errgroup.Group
	for i, ch := range channels {
		eg.Go(func() error {
			status, err := g.members.Membership(ctx, ch.ID, userID)
			if err != nil {
				g.logger.Warn().
					Err(err).
					Int64("channel_id", ch.ID).
					Int64("user_id", userID).
					Msg("Membership lookup failed")
				if g.observer != nil {
					g.observer.ObserveMembershipFailure()
				}
				return nil
			}
			joined[i] = status.IsMember()
			return nil
		})
	}
	_ = eg.Wait()

	var missing []Channel
	for i, ch := range channels {
		if !joined[i] {
			missing = append(missing, ch)
		}
	}

	decision := Decision{Allowed: len(missing) == 0, Missing: missing}
	g.observeCheck(decision.Allowed)
	return decision, nil
}

func (g *Gate) observeCheck(allowed bool) {
	if g.observer != nil {
		g.observer.ObserveGateCheck(allowed)
	}
}

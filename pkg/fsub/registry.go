package fsub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Registry action names passed to a MutationRecorder.
const (
	ActionAdded   = "channel_added"
	ActionUpdated = "channel_updated"
	ActionRemoved = "channel_removed"
)

// MutationRecorder receives every successful registry change.
type MutationRecorder interface {
	RecordChannelMutation(ctx context.Context, action string, actor int64, ch Channel)
}

// Registry is the operator-managed list of required channels.
type Registry struct {
	store      ChannelStore
	operatorID int64
	recorder   MutationRecorder
	logger     zerolog.Logger
	now        func() time.Time

	// mu serializes mutations so the capacity check and the write are atomic.
	mu sync.Mutex
}

// NewRegistry creates a registry backed by store. Only operatorID may mutate it.
func NewRegistry(store ChannelStore, operatorID int64, logger zerolog.Logger) *Registry {
	return &Registry{
		store:      store,
		operatorID: operatorID,
		logger:     logger.With().Str("component", "fsub_registry").Logger(),
		now:        time.Now,
	}
}

// SetRecorder installs an audit recorder for mutations.
func (r *Registry) SetRecorder(rec MutationRecorder) {
	r.recorder = rec
}

// IsOperator reports whether userID may manage the registry.
func (r *Registry) IsOperator(userID int64) bool {
	return r.operatorID != 0 && userID == r.operatorID
}

// Add registers ch, or refreshes its display data when ch.ID is already
// registered. updated is true in the latter case. Updating never counts
// against the capacity.
func (r *Registry) Add(ctx context.Context, actor int64, ch Channel) (updated bool, err error) {
	if !r.IsOperator(actor) {
		return false, ErrUnauthorized
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.store.ListChannels(ctx)
	if err != nil {
		return false, fmt.Errorf("list channels: %w", err)
	}

	for _, existing := range current {
		if existing.ID == ch.ID {
			ch.AddedAt = existing.AddedAt
			updated = true
			break
		}
	}

	if !updated {
		if len(current) >= MaxChannels {
			return false, ErrCapacityExceeded
		}
		ch.AddedAt = r.now()
	}

	if err := r.store.UpsertChannel(ctx, ch); err != nil {
		return false, fmt.Errorf("save channel %d: %w", ch.ID, err)
	}

	action := ActionAdded
	if updated {
		action = ActionUpdated
	}
	r.logger.Info().
		Int64("channel_id", ch.ID).
		Str("title", ch.Title).
		Str("action", action).
		Msg("Channel registry changed")
	r.record(ctx, action, actor, ch)

	return updated, nil
}

// Remove unregisters the channel with the given id.
func (r *Registry) Remove(ctx context.Context, actor int64, id int64) error {
	if !r.IsOperator(actor) {
		return ErrUnauthorized
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed, err := r.store.DeleteChannel(ctx, id)
	if err != nil {
		return fmt.Errorf("delete channel %d: %w", id, err)
	}
	if !removed {
		return ErrNotFound
	}

	r.logger.Info().Int64("channel_id", id).Str("action", ActionRemoved).Msg("Channel registry changed")
	r.record(ctx, ActionRemoved, actor, Channel{ID: id})
	return nil
}

// List returns the registry for the operator.
func (r *Registry) List(ctx context.Context, actor int64) ([]Channel, error) {
	if !r.IsOperator(actor) {
		return nil, ErrUnauthorized
	}
	return r.Channels(ctx)
}

// Channels returns the registry without an authorization check.
func (r *Registry) Channels(ctx context.Context) ([]Channel, error) {
	channels, err := r.store.ListChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	return channels, nil
}

func (r *Registry) record(ctx context.Context, action string, actor int64, ch Channel) {
	if r.recorder != nil {
		r.recorder.RecordChannelMutation(ctx, action, actor, ch)
	}
}

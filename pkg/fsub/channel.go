// Package fsub implements the forced-subscription admission gate: a small
// operator-managed registry of channels and a check that a user belongs to
// every one of them.
package fsub

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// MaxChannels bounds the registry size.
const MaxChannels = 3

var (
	// ErrCapacityExceeded is returned when adding a new channel to a full registry.
	ErrCapacityExceeded = errors.New("fsub: channel limit reached")
	// ErrNotFound is returned when removing a channel that is not registered.
	ErrNotFound = errors.New("fsub: channel not registered")
	// ErrUnauthorized is returned when a non-operator mutates or lists the registry.
	ErrUnauthorized = errors.New("fsub: operator only")
)

// Channel is a required subscription target.
type Channel struct {
	ID         int64
	Title      string
	Username   string
	InviteLink string
	AddedAt    time.Time
}

// DisplayName returns the best human label for the channel.
func (c Channel) DisplayName() string {
	switch {
	case c.Title != "":
		return c.Title
	case c.Username != "":
		return "@" + c.Username
	default:
		return strconv.FormatInt(c.ID, 10)
	}
}

// JoinURL returns a link a user can follow to join the channel, or "" when
// none is known.
func (c Channel) JoinURL() string {
	if c.InviteLink != "" {
		return c.InviteLink
	}
	if c.Username != "" {
		return "https://t.me/" + c.Username
	}
	return ""
}

// ChannelStore persists the registry. ListChannels returns entries in
// AddedAt order.
type ChannelStore interface {
	ListChannels(ctx context.Context) ([]Channel, error)
	UpsertChannel(ctx context.Context, ch Channel) error
	DeleteChannel(ctx context.Context, id int64) (bool, error)
}

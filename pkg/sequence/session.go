// Package sequence buffers the files a user sends during a sequence session
// and, when the session ends, replays them ordered by episode number.
package sequence

import (
	"errors"
	"fmt"
	"time"

	"github.com/harun/seqbot/pkg/fsub"
)

var (
	// ErrNoActiveSession is returned when the user has no open session.
	ErrNoActiveSession = errors.New("sequence: no active session")
	// ErrEmptySequence is returned when a session is ended with nothing buffered.
	ErrEmptySequence = errors.New("sequence: no files buffered")
)

// GateDeniedError reports a failed admission check. Missing is empty when
// the check itself could not be performed, in which case Err is set.
type GateDeniedError struct {
	Missing []fsub.Channel
	Err     error
}

func (e *GateDeniedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("admission check failed: %v", e.Err)
	}
	return fmt.Sprintf("not subscribed to %d required channel(s)", len(e.Missing))
}

func (e *GateDeniedError) Unwrap() error {
	return e.Err
}

// State of a user's sequence.
type State int

const (
	Idle State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

// ItemRef locates a message so it can be re-sent without re-uploading.
type ItemRef struct {
	ChatID    int64
	MessageID int
}

// Item is one buffered file.
type Item struct {
	Name       string
	Ref        ItemRef
	Kind       string
	ReceivedAt time.Time
}

// Session is a user's open buffering window.
type Session struct {
	ID        string
	Owner     int64
	StartedAt time.Time
	Items     []Item
}

// StartResult describes a newly opened session. Discarded counts items of a
// previous session that the new one replaced.
type StartResult struct {
	SessionID string
	Discarded int
}

// ReplayFailure is an item that could not be re-sent. Position is 1-based
// within the ordered sequence.
type ReplayFailure struct {
	Position int
	Item     Item
	Err      error
}

// Report summarizes a completed sequence.
type Report struct {
	SessionID string
	Ordered   []Item
	Delivered int
	Failures  []ReplayFailure

	// StatsErr is set when the replay succeeded but the counter update did not.
	StatsErr error
	Duration time.Duration
}

package daemon

import (
	"sync"
	"time"
)

// pendingInputs remembers which operators were prompted for a channel
// reference. An entry is consumed by the operator's next text message or
// dropped once it is older than ttl.
type pendingInputs struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[int64]pendingInput
}

type pendingInput struct {
	armedAt time.Time
	// prompt message, edited once the input arrives
	chatID    int64
	messageID int
}

func newPendingInputs(ttl time.Duration) *pendingInputs {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &pendingInputs{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[int64]pendingInput),
	}
}

// Arm records a prompt for userID, replacing any earlier one.
func (p *pendingInputs) Arm(userID, chatID int64, messageID int) {
	p.mu.Lock()
	p.entries[userID] = pendingInput{armedAt: p.now(), chatID: chatID, messageID: messageID}
	p.mu.Unlock()
}

// Take consumes the prompt for userID. It reports false when none is armed or
// it has expired.
func (p *pendingInputs) Take(userID int64) (pendingInput, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	in, ok := p.entries[userID]
	if !ok {
		return pendingInput{}, false
	}
	delete(p.entries, userID)

	if p.now().Sub(in.armedAt) > p.ttl {
		return pendingInput{}, false
	}
	return in, true
}

// Cancel drops the prompt for userID.
func (p *pendingInputs) Cancel(userID int64) {
	p.mu.Lock()
	delete(p.entries, userID)
	p.mu.Unlock()
}

// Expire removes stale prompts and returns how many were dropped.
func (p *pendingInputs) Expire() int {
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for id, in := range p.entries {
		if now.Sub(in.armedAt) > p.ttl {
			delete(p.entries, id)
			n++
		}
	}
	return n
}

// Len returns the number of armed prompts, stale ones included.
func (p *pendingInputs) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

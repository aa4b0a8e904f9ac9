// Package conversation tracks which channels are in an active conversation
// and whether a non-mention message may be answered.
package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"basegraph.app/parley/common/clock"
)

type Config struct {
	FollowUpTimeout time.Duration
	MaxFollowUps    int
}

// State is a read-only view of one channel.
type State struct {
	ChannelID      string    `json:"channel_id"`
	Active         bool      `json:"active"`
	FollowUpCount  int       `json:"follow_up_count"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ActivatedAt    time.Time `json:"activated_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

type channelState struct {
	lastActivityAt time.Time
	activatedAt    time.Time
	followUpCount  int
	active         bool

	// generation increments on each activation; an expiry callback only
	// deactivates the activation that scheduled it.
	generation uint64
	expiry     clock.Timer

	// token serializes turns within the channel.
	token chan struct{}
}

// Tracker owns per-channel conversation state. Entries are never removed,
// only deactivated.
type Tracker struct {
	cfg   Config
	clock clock.Clock

	mu       sync.Mutex
	channels map[string]*channelState
}

func NewTracker(cfg Config, clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.Real()
	}
	return &Tracker{
		cfg:      cfg,
		clock:    clk,
		channels: make(map[string]*channelState),
	}
}

// entry returns the state for channelID, creating it. Caller holds t.mu.
func (t *Tracker) entry(channelID string) *channelState {
	st, ok := t.channels[channelID]
	if !ok {
		st = &channelState{token: make(chan struct{}, 1)}
		t.channels[channelID] = st
	}
	return st
}

// OnMention (re)activates the channel: the follow-up count goes back to zero and
// any pending expiry is replaced by one at now + FollowUpTimeout.
func (t *Tracker) OnMention(channelID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.entry(channelID)
	now := t.clock.Now()

	if st.expiry != nil {
		st.expiry.Stop()
	}

	st.generation++
	st.active = true
	st.followUpCount = 0
	st.lastActivityAt = now
	st.activatedAt = now

	gen := st.generation
	st.expiry = t.clock.AfterFunc(t.cfg.FollowUpTimeout, func() {
		t.expire(channelID, gen)
	})
}

func (t *Tracker) expire(channelID string, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.channels[channelID]
	if !ok || st.generation != gen || !st.active {
		return
	}
	st.active = false
	st.expiry = nil
	slog.Debug("conversation expired", "channel_id", channelID, "follow_ups", st.followUpCount)
}

// IsEligibleFollowUp reports whether a non-mention message in channelID may be
// answered. Reaching the follow-up cap deactivates the channel.
func (t *Tracker) IsEligibleFollowUp(channelID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.channels[channelID]
	if !ok || !st.active {
		return false
	}

	if st.followUpCount >= t.cfg.MaxFollowUps {
		t.deactivateLocked(st)
		slog.Debug("follow-up cap reached", "channel_id", channelID, "max", t.cfg.MaxFollowUps)
		return false
	}

	return true
}

// RecordResponseSent counts a delivered follow-up response.
func (t *Tracker) RecordResponseSent(channelID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.entry(channelID)
	st.followUpCount++
	st.lastActivityAt = t.clock.Now()
}

// Touch refreshes the last activity time without counting a follow-up.
func (t *Tracker) Touch(channelID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entry(channelID).lastActivityAt = t.clock.Now()
}

// Deactivate ends the conversation in channelID immediately.
func (t *Tracker) Deactivate(channelID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if st, ok := t.channels[channelID]; ok {
		t.deactivateLocked(st)
	}
}

func (t *Tracker) deactivateLocked(st *channelState) {
	st.active = false
	if st.expiry != nil {
		st.expiry.Stop()
		st.expiry = nil
	}
}

// Acquire blocks until the caller holds channelID's turn token or ctx is done.
// The returned release must be called exactly once.
func (t *Tracker) Acquire(ctx context.Context, channelID string) (func(), error) {
	t.mu.Lock()
	token := t.entry(channelID).token
	t.mu.Unlock()

	select {
	case token <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-token })
	}, nil
}

// Snapshot returns the current state of channelID. ok is false for unseen channels.
func (t *Tracker) Snapshot(channelID string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.channels[channelID]
	if !ok {
		return State{}, false
	}

	s := State{
		ChannelID:      channelID,
		Active:         st.active,
		FollowUpCount:  st.followUpCount,
		LastActivityAt: st.lastActivityAt,
		ActivatedAt:    st.activatedAt,
	}
	if st.active {
		s.ExpiresAt = st.activatedAt.Add(t.cfg.FollowUpTimeout)
	}
	return s, true
}

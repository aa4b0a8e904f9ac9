package brain

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"basegraph.app/parley/common/clock"
	"basegraph.app/parley/internal/platform"
)

const streamCursor = " ▌"

// streamSink shows a reply as it streams in: the first text posts a reply to
// the trigger, later text edits it at most once per interval.
type streamSink struct {
	ctx       context.Context
	client    platform.Client
	clock     clock.Clock
	channelID string
	replyToID string
	interval  time.Duration

	mu        sync.Mutex
	buf       strings.Builder
	messageID string
	lastFlush time.Time
	shown     string
}

func newStreamSink(ctx context.Context, client platform.Client, clk clock.Clock, trigger platform.Message, interval time.Duration) *streamSink {
	return &streamSink{
		ctx:       ctx,
		client:    client,
		clock:     clk,
		channelID: trigger.ChannelID,
		replyToID: trigger.ID,
		interval:  interval,
	}
}

// Reset discards buffered text ahead of a new model call.
func (s *streamSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Reset()
}

// OnText buffers a delta and flushes when the interval has passed.
func (s *streamSink) OnText(delta string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf.WriteString(delta)
	now := s.clock.Now()
	if !s.lastFlush.IsZero() && now.Sub(s.lastFlush) < s.interval {
		return
	}
	s.flushLocked(now)
}

func (s *streamSink) flushLocked(now time.Time) {
	preview := strings.TrimSpace(s.buf.String())
	if preview == "" {
		return
	}
	preview = previewText(preview, s.client.MessageLimit())
	if preview == s.shown {
		return
	}

	if s.messageID == "" {
		id, err := s.client.Reply(s.ctx, s.channelID, s.replyToID, preview)
		if err != nil {
			slog.WarnContext(s.ctx, "posting streamed reply failed", "error", err)
			return
		}
		s.messageID = id
	} else if err := s.client.EditMessage(s.ctx, s.channelID, s.messageID, preview); err != nil {
		slog.WarnContext(s.ctx, "editing streamed reply failed", "error", err)
		return
	}

	s.shown = preview
	s.lastFlush = now
}

// postedID returns the id of the streamed reply, empty if nothing was posted.
func (s *streamSink) postedID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messageID
}

// previewText fits in-progress text into one message, cursor included.
func previewText(text string, limit int) string {
	budget := limit - len([]rune(streamCursor))
	runes := []rune(text)
	if len(runes) > budget {
		return string(runes[:budget-1]) + "…" + streamCursor
	}
	return text + streamCursor
}

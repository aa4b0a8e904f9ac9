package brain

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"basegraph.app/parley/common/clock"
	"basegraph.app/parley/common/id"
	"basegraph.app/parley/common/llm"
	"basegraph.app/parley/common/logger"
	"basegraph.app/parley/internal/chunker"
	"basegraph.app/parley/internal/conversation"
	"basegraph.app/parley/internal/platform"
)

type ResponderConfig struct {
	HistoryLimit         int
	Streaming            bool
	StreamUpdateInterval time.Duration
}

// Responder handles inbound chat messages: it decides whether to answer, builds
// context, runs the orchestrator and delivers the reply.
type Responder struct {
	platform     platform.Client
	tracker      *conversation.Tracker
	contexts     *ContextBuilder
	orchestrator *ToolOrchestrator
	ids          *id.Generator
	clock        clock.Clock
	cfg          ResponderConfig
}

func NewResponder(
	client platform.Client,
	tracker *conversation.Tracker,
	contexts *ContextBuilder,
	orchestrator *ToolOrchestrator,
	ids *id.Generator,
	clk clock.Clock,
	cfg ResponderConfig,
) *Responder {
	if cfg.StreamUpdateInterval <= 0 {
		cfg.StreamUpdateInterval = time.Second
	}
	return &Responder{
		platform:     client,
		tracker:      tracker,
		contexts:     contexts,
		orchestrator: orchestrator,
		ids:          ids,
		clock:        clk,
		cfg:          cfg,
	}
}

// OnInboundMessage is called once per platform message. Turns in one channel run
// one at a time; different channels proceed concurrently.
func (r *Responder) OnInboundMessage(ctx context.Context, msg platform.Message) {
	self := r.platform.Self()
	if msg.Author.ID == self.ID || msg.Author.Bot {
		return
	}

	mode := ModeFollowUp
	if msg.MentionsSelf || msg.IsDM {
		mode = ModeMention
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ChannelID: logger.Ptr(msg.ChannelID),
		MessageID: logger.Ptr(msg.ID),
		Mode:      logger.Ptr(string(mode)),
		Component: "parley.brain.responder",
	})
	if msg.GuildID != "" {
		ctx = logger.WithLogFields(ctx, logger.LogFields{GuildID: logger.Ptr(msg.GuildID)})
	}

	release, err := r.tracker.Acquire(ctx, msg.ChannelID)
	if err != nil {
		slog.WarnContext(ctx, "gave up waiting for channel", "error", err)
		return
	}
	defer release()

	switch mode {
	case ModeMention:
		r.tracker.OnMention(msg.ChannelID)
	case ModeFollowUp:
		if !r.tracker.IsEligibleFollowUp(msg.ChannelID) {
			return
		}
	}

	r.runTurn(ctx, msg, mode)
}

func (r *Responder) runTurn(ctx context.Context, msg platform.Message, mode Mode) {
	turnID := r.ids.NextString()
	ctx = logger.WithLogFields(ctx, logger.LogFields{TurnID: logger.Ptr(turnID)})

	span := logger.StartSpan(ctx, "parley.turn")
	defer span.End()
	span.SetAttributes(attribute.String("parley.mode", string(mode)))
	ctx = span.Context()

	start := r.clock.Now()
	slog.InfoContext(ctx, "turn started", "author", msg.Author.Name)

	if err := r.platform.SendTyping(ctx, msg.ChannelID); err != nil {
		slog.DebugContext(ctx, "typing indicator failed", "error", err)
	}

	built, err := r.contexts.BuildContext(ctx, msg.ChannelID, r.cfg.HistoryLimit)
	if err != nil {
		slog.WarnContext(ctx, "turn abandoned while building context", "error", err)
		return
	}
	messages := built.Messages
	if n := len(messages); n == 0 || messages[n-1].Role != llm.RoleUser {
		messages = append(messages, r.contexts.Message(ctx, msg))
	}

	turn := Turn{
		ChannelID: msg.ChannelID,
		Mode:      mode,
		Messages:  messages,
		System: buildSystemPrompt(promptInput{
			self:      r.platform.Self(),
			mode:      mode,
			latest:    msg,
			auxiliary: built.Auxiliary,
			now:       start,
		}),
	}

	// Follow-up replies may turn out to be a decline, so they are never streamed.
	var sink *streamSink
	if r.cfg.Streaming && mode == ModeMention {
		sink = newStreamSink(ctx, r.platform, r.clock, msg, r.cfg.StreamUpdateInterval)
		turn.OnText = sink.OnText
		turn.BeforeCall = sink.Reset
	}

	outcome, err := r.orchestrator.Run(ctx, turn)

	var text string
	switch {
	case err != nil:
		span.RecordError(err)
		slog.ErrorContext(ctx, "turn failed",
			"error", err,
			"class", llm.Classify(err).String())
		text = UserMessageFor(err)
	case outcome.Declined:
		slog.InfoContext(ctx, "follow-up declined",
			"duration_ms", r.clock.Now().Sub(start).Milliseconds())
		return
	default:
		text = outcome.Text
	}

	streamedID := ""
	if sink != nil {
		streamedID = sink.postedID()
	}
	if !deliver(ctx, r.platform, msg, text, streamedID) {
		return
	}

	if mode == ModeFollowUp {
		r.tracker.RecordResponseSent(msg.ChannelID)
	} else {
		r.tracker.Touch(msg.ChannelID)
	}

	slog.InfoContext(ctx, "turn completed",
		"duration_ms", r.clock.Now().Sub(start).Milliseconds(),
		"model_calls", outcome.ModelCalls,
		"tool_rounds", outcome.Rounds,
		"context_messages", len(messages),
		"context_dropped", built.Dropped)
}

// deliver posts text as a reply to trigger followed by ordered channel sends.
// When a streamed reply exists its message is edited into the first chunk.
// It reports whether the first chunk reached the channel.
func deliver(ctx context.Context, client platform.Client, trigger platform.Message, text, streamedID string) bool {
	chunks := chunker.Chunk(text, client.MessageLimit())
	if len(chunks) == 0 {
		return false
	}

	if streamedID != "" {
		if err := client.EditMessage(ctx, trigger.ChannelID, streamedID, chunks[0]); err != nil {
			slog.WarnContext(ctx, "finalizing streamed reply failed, sending instead", "error", err)
			streamedID = ""
		}
	}

	if streamedID == "" {
		_, err := client.Reply(ctx, trigger.ChannelID, trigger.ID, chunks[0])
		if err != nil {
			slog.WarnContext(ctx, "reply failed, sending to channel", "error", err)
			if _, err := client.Send(ctx, trigger.ChannelID, chunks[0]); err != nil {
				slog.ErrorContext(ctx, "delivering response failed", "error", err)
				return false
			}
		}
	}

	for i, chunk := range chunks[1:] {
		if _, err := client.Send(ctx, trigger.ChannelID, chunk); err != nil {
			slog.ErrorContext(ctx, "delivering continuation chunk failed",
				"chunk", i+2,
				"chunks", len(chunks),
				"error", err)
			break
		}
	}

	slog.DebugContext(ctx, "response delivered", "chunks", len(chunks), "chars", len(text))
	return true
}

package brain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"basegraph.app/parley/common/llm"
	"basegraph.app/parley/common/logger"
)

const (
	DefaultMaxToolRounds = 5

	// FallbackResponse is sent when even the tools-disabled final call yields no text.
	FallbackResponse = "I looked into this but couldn't put together an answer. Could you rephrase or narrow the question?"
)

// State is where a turn is in the model/tool exchange.
type State int

const (
	StateAwaitingModel State = iota
	StateExecutingTools
	StateDone
	StateForcedFinal
)

func (s State) String() string {
	switch s {
	case StateAwaitingModel:
		return "awaiting_model"
	case StateExecutingTools:
		return "executing_tools"
	case StateDone:
		return "done"
	case StateForcedFinal:
		return "forced_final"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type OrchestratorConfig struct {
	MaxToolRounds int
	MaxTokens     int
}

// Turn is the input for one orchestrated exchange.
type Turn struct {
	ChannelID string
	Mode      Mode
	System    string
	Messages  []llm.Message

	// OnText receives streamed text deltas. BeforeCall runs ahead of every model call.
	OnText     func(delta string)
	BeforeCall func()
}

// Outcome is the result of Run.
type Outcome struct {
	Text        string
	Declined    bool
	Rounds      int // rounds in which tools were executed
	ModelCalls  int
	Transitions []State
	Messages    []llm.Message // final running message list

	PromptTokens     int
	CompletionTokens int
}

func (o *Outcome) enter(s State) {
	o.Transitions = append(o.Transitions, s)
}

// Final is the terminal state of the turn.
func (o Outcome) Final() State {
	if len(o.Transitions) == 0 {
		return StateAwaitingModel
	}
	return o.Transitions[len(o.Transitions)-1]
}

// ToolOrchestrator drives the model through tool rounds until it answers in text.
type ToolOrchestrator struct {
	llm   llm.AgentClient
	tools *ToolExecutor
	cfg   OrchestratorConfig
}

func NewToolOrchestrator(client llm.AgentClient, executor *ToolExecutor, cfg OrchestratorConfig) *ToolOrchestrator {
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = DefaultMaxToolRounds
	}
	return &ToolOrchestrator{llm: client, tools: executor, cfg: cfg}
}

// Run sends the turn to the model, executing requested tools for at most
// MaxToolRounds rounds. When the cap is hit one more call is made with tools
// disabled, so a turn makes at most MaxToolRounds+1 model calls.
//
// In follow-up mode a reply containing NoResponseMarker declines the turn.
func (o *ToolOrchestrator) Run(ctx context.Context, turn Turn) (Outcome, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "parley.brain.orchestrator"})
	start := time.Now()

	out := Outcome{}
	messages := slices.Clone(turn.Messages)
	defs := o.tools.Definitions()

	defer func() {
		slog.InfoContext(ctx, "orchestration finished",
			"duration_ms", time.Since(start).Milliseconds(),
			"final_state", out.Final().String(),
			"rounds", out.Rounds,
			"model_calls", out.ModelCalls,
			"declined", out.Declined,
			"prompt_tokens", out.PromptTokens,
			"completion_tokens", out.CompletionTokens)
	}()

	out.enter(StateAwaitingModel)

	for out.Rounds < o.cfg.MaxToolRounds {
		resp, err := o.call(ctx, turn, &out, messages, defs, false)
		if err != nil {
			out.Messages = messages
			return out, err
		}

		if len(resp.ToolCalls) == 0 {
			out.enter(StateDone)
			out.Messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
			o.finish(&out, turn.Mode, resp.Content)
			return out, nil
		}

		out.enter(StateExecutingTools)
		out.Rounds++

		slog.DebugContext(ctx, "executing tool round",
			"round", out.Rounds,
			"tool_calls", len(resp.ToolCalls))

		results := o.tools.ExecuteTools(ctx, ToolScope{ChannelID: turn.ChannelID}, resp.ToolCalls)

		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls},
			llm.Message{Role: llm.RoleUser, ToolResults: results},
		)
		out.enter(StateAwaitingModel)
	}

	slog.WarnContext(ctx, "tool round cap reached, forcing final answer", "rounds", out.Rounds)
	out.enter(StateForcedFinal)

	resp, err := o.call(ctx, turn, &out, messages, defs, true)
	out.Messages = messages
	switch {
	case errors.Is(err, llm.ErrUnexpectedResponse):
		slog.WarnContext(ctx, "forced final call returned no text, using fallback", "error", err)
		o.finish(&out, turn.Mode, FallbackResponse)
		return out, nil
	case err != nil:
		return out, err
	}

	text := resp.Content
	if strings.TrimSpace(text) == "" {
		text = FallbackResponse
	}
	out.Messages = append(out.Messages, llm.Message{Role: llm.RoleAssistant, Content: text})
	o.finish(&out, turn.Mode, text)
	return out, nil
}

func (o *ToolOrchestrator) call(
	ctx context.Context,
	turn Turn,
	out *Outcome,
	messages []llm.Message,
	defs []llm.Tool,
	final bool,
) (*llm.AgentResponse, error) {
	span := logger.StartSpan(ctx, "parley.model_call")
	defer span.End()
	span.SetAttributes(
		attribute.Int("parley.model_call", out.ModelCalls+1),
		attribute.Bool("parley.tools_disabled", final),
	)

	if turn.BeforeCall != nil {
		turn.BeforeCall()
	}

	out.ModelCalls++
	resp, err := o.llm.ChatWithTools(span.Context(), llm.AgentRequest{
		System:       turn.System,
		Messages:     messages,
		Tools:        defs,
		MaxTokens:    o.cfg.MaxTokens,
		DisableTools: final,
		OnText:       turn.OnText,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("model call %d: %w", out.ModelCalls, err)
	}

	out.PromptTokens += resp.PromptTokens
	out.CompletionTokens += resp.CompletionTokens
	return resp, nil
}

func (o *ToolOrchestrator) finish(out *Outcome, mode Mode, text string) {
	if mode == ModeFollowUp && strings.Contains(text, NoResponseMarker) {
		out.Declined = true
		return
	}
	text, _ = SanitizeReply(text)
	out.Text = strings.TrimSpace(text)
	if out.Text == "" {
		out.Text = FallbackResponse
	}
}

package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields added to every log record emitted with the context.
// A turn sets them once and all downstream logging (context assembly, model calls,
// tool execution, delivery) carries them without passing them around.
type LogFields struct {
	ChannelID *string // Chat platform channel
	GuildID   *string // Guild/server, empty for DMs
	MessageID *string // Triggering platform message
	TurnID    *string // Snowflake id for one turn
	Mode      *string // "mention" or "follow_up"
	Tool      *string // Tool name while a tool call executes
	Component string  // Component name, e.g. "parley.brain.orchestrator"
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	merged := mergeFields(GetLogFields(ctx), fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, update LogFields) LogFields {
	result := existing

	pick := func(dst **string, src *string) {
		if src != nil {
			*dst = src
		}
	}
	pick(&result.ChannelID, update.ChannelID)
	pick(&result.GuildID, update.GuildID)
	pick(&result.MessageID, update.MessageID)
	pick(&result.TurnID, update.TurnID)
	pick(&result.Mode, update.Mode)
	pick(&result.Tool, update.Tool)

	if update.Component != "" {
		result.Component = update.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{ChannelID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate shortens s to at most maxLen runes, appending "..." if anything was cut.
func Truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

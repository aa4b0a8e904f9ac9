package brain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"basegraph.app/parley/common/llm"
	"basegraph.app/parley/common/logger"
	"basegraph.app/parley/internal/platform"
	"basegraph.app/parley/internal/search"
	"basegraph.app/parley/internal/tools"
)

const defaultMaxParallelTools = 4

// ErrToolUnavailable is returned for a known tool whose backend is not configured.
var ErrToolUnavailable = errors.New("tool not available")

type WebSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]search.Result, error)
}

type SourceReader interface {
	Read(path string, offset, limit int) (string, error)
}

type HistoryReader interface {
	FetchRecentMessages(ctx context.Context, channelID string, limit int, before string) ([]platform.Message, error)
}

// ToolBackends are the collaborators behind each tool. A nil backend disables its tool.
type ToolBackends struct {
	Search  WebSearcher
	Pages   PageFetcher
	Source  SourceReader
	History HistoryReader
}

// ToolScope is what a tool call may touch: the channel the turn runs in.
type ToolScope struct {
	ChannelID string
}

// ToolExecutor runs the tool calls of one round.
type ToolExecutor struct {
	backends    ToolBackends
	maxParallel int
}

func NewToolExecutor(backends ToolBackends, maxParallel int) *ToolExecutor {
	if maxParallel <= 0 {
		maxParallel = defaultMaxParallelTools
	}
	return &ToolExecutor{backends: backends, maxParallel: maxParallel}
}

// Kinds lists the tools with a configured backend.
func (e *ToolExecutor) Kinds() []tools.Kind {
	var kinds []tools.Kind
	for _, k := range tools.AllKinds {
		if e.available(k) {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func (e *ToolExecutor) Definitions() []llm.Tool {
	return tools.Definitions(e.Kinds()...)
}

func (e *ToolExecutor) available(k tools.Kind) bool {
	switch k {
	case tools.KindWebSearch:
		return e.backends.Search != nil
	case tools.KindFetchURL:
		return e.backends.Pages != nil
	case tools.KindReadSource:
		return e.backends.Source != nil
	case tools.KindReadHistory:
		return e.backends.History != nil
	default:
		return false
	}
}

// ExecuteTools runs calls concurrently and returns one result per call, in call
// order. A failing or panicking call yields an error result for its id only.
func (e *ToolExecutor) ExecuteTools(ctx context.Context, scope ToolScope, calls []llm.ToolCall) []llm.ToolResult {
	results := make([]llm.ToolResult, len(calls))

	var g errgroup.Group
	g.SetLimit(e.maxParallel)

	for i, tc := range calls {
		g.Go(func() error {
			results[i] = e.executeOne(ctx, scope, tc)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (e *ToolExecutor) executeOne(ctx context.Context, scope ToolScope, tc llm.ToolCall) (result llm.ToolResult) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Tool: logger.Ptr(tc.Name)})
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "tool panicked", "panic", r)
			result = errorResult(tc.ID, fmt.Errorf("tool %s failed unexpectedly", tc.Name))
		}
	}()

	span := logger.StartSpan(ctx, "parley.tool."+tc.Name)
	defer span.End()

	call, err := tools.Decode(tc)
	if err != nil {
		slog.WarnContext(ctx, "invalid tool call", "error", err, "arguments", logger.Truncate(tc.Arguments, 200))
		return errorResult(tc.ID, err)
	}

	content, err := e.dispatch(span.Context(), scope, call)
	if err != nil {
		span.RecordError(err)
		slog.WarnContext(ctx, "tool call failed",
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err)
		return errorResult(tc.ID, err)
	}

	slog.DebugContext(ctx, "tool call completed",
		"duration_ms", time.Since(start).Milliseconds(),
		"result_chars", len(content))

	return llm.ToolResult{CallID: tc.ID, Content: content}
}

func errorResult(callID string, err error) llm.ToolResult {
	return llm.ToolResult{CallID: callID, Content: "Error: " + err.Error(), IsError: true}
}

func (e *ToolExecutor) dispatch(ctx context.Context, scope ToolScope, call tools.Call) (string, error) {
	if !e.available(call.Kind) {
		return "", fmt.Errorf("%s: %w", call.Kind, ErrToolUnavailable)
	}

	switch call.Kind {
	case tools.KindWebSearch:
		return e.webSearch(ctx, *call.WebSearch)
	case tools.KindFetchURL:
		return e.fetchURL(ctx, *call.FetchURL)
	case tools.KindReadSource:
		in := *call.ReadSource
		return e.backends.Source.Read(in.Path, in.Offset, in.Limit)
	case tools.KindReadHistory:
		return e.readHistory(ctx, scope, *call.ReadHistory)
	default:
		return "", fmt.Errorf("%w: %s", tools.ErrUnknownTool, call.Kind)
	}
}

func (e *ToolExecutor) webSearch(ctx context.Context, in tools.WebSearchInput) (string, error) {
	results, err := e.backends.Search.Search(ctx, in.Query, in.Limit)
	if err != nil {
		return "", fmt.Errorf("searching %q: %w", in.Query, err)
	}
	return search.Format(in.Query, results), nil
}

func (e *ToolExecutor) fetchURL(ctx context.Context, in tools.FetchURLInput) (string, error) {
	page, err := e.backends.Pages.Fetch(ctx, in.URL)
	if err != nil {
		return "", err
	}

	if page.IsImage {
		return fmt.Sprintf("%s is an image (%s). Its content cannot be read as text.", page.URL, page.ContentType), nil
	}

	var sb strings.Builder
	if page.Title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", page.Title)
	}
	fmt.Fprintf(&sb, "URL: %s\n\n", page.URL)
	sb.WriteString(page.Content)
	return sb.String(), nil
}

func (e *ToolExecutor) readHistory(ctx context.Context, scope ToolScope, in tools.ReadHistoryInput) (string, error) {
	msgs, err := e.backends.History.FetchRecentMessages(ctx, scope.ChannelID, in.Limit, in.Before)
	if err != nil {
		return "", fmt.Errorf("reading channel history: %w", err)
	}
	if len(msgs) == 0 {
		return "No older messages.", nil
	}

	slices.Reverse(msgs)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d messages, oldest first:\n", len(msgs))
	for _, m := range msgs {
		fmt.Fprintf(&sb, "\n[%s] (id %s) %s: %s", m.Timestamp.UTC().Format(time.RFC3339), m.ID, m.Author.Name, m.Content)
		for _, a := range m.Attachments {
			fmt.Fprintf(&sb, " [Attachment: %s]", a.Filename)
		}
	}
	return sb.String(), nil
}

package brain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"basegraph.app/parley/common/llm"
	"basegraph.app/parley/common/logger"
	"basegraph.app/parley/internal/budget"
	"basegraph.app/parley/internal/fetcher"
	"basegraph.app/parley/internal/platform"
)

const (
	// maxContextImages bounds how many images (newest first) are sent inline.
	maxContextImages = 4

	continuationOpener = "(earlier conversation continues)"
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"'` + "`" + `]+`)

// PageFetcher reads web pages.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (fetcher.Page, error)
}

// AttachmentDownloader downloads raw attachment bytes.
type AttachmentDownloader interface {
	Download(ctx context.Context, url string, maxBytes int64) ([]byte, string, error)
}

type ContextConfig struct {
	TokenBudget     int
	PreserveRecent  int
	URLFetchEnabled bool
	URLLookback     int
}

// Auxiliary is fetched page text attached to the system prompt.
type Auxiliary struct {
	URL     string
	Title   string
	Content string
}

// Context is the bounded conversation handed to the model for one turn.
type Context struct {
	Messages        []llm.Message
	Auxiliary       *Auxiliary
	Dropped         int
	EstimatedTokens int
	HasImages       bool
}

// ContextBuilder turns recent channel history into a role-alternating, budgeted
// message list.
type ContextBuilder struct {
	platform   platform.Client
	pages      PageFetcher
	downloader AttachmentDownloader
	budgeter   *budget.Budgeter
	cfg        ContextConfig
}

// NewContextBuilder creates a ContextBuilder. pages may be nil to disable URL
// context; downloader may be nil, in which case images become placeholders.
func NewContextBuilder(
	client platform.Client,
	pages PageFetcher,
	downloader AttachmentDownloader,
	budgeter *budget.Budgeter,
	cfg ContextConfig,
) *ContextBuilder {
	return &ContextBuilder{
		platform:   client,
		pages:      pages,
		downloader: downloader,
		budgeter:   budgeter,
		cfg:        cfg,
	}
}

// BuildContext fetches up to limit recent messages of channelID and returns them
// oldest first, trimmed to the token budget. A failed history fetch yields an
// empty context; only cancellation is returned as an error.
func (b *ContextBuilder) BuildContext(ctx context.Context, channelID string, limit int) (Context, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "parley.brain.context"})

	history, err := b.platform.FetchRecentMessages(ctx, channelID, limit, "")
	if err != nil {
		if ctx.Err() != nil {
			return Context{}, ctx.Err()
		}
		slog.WarnContext(ctx, "fetching channel history failed, continuing without history", "error", err)
		history = nil
	}
	slices.Reverse(history)

	var out Context

	inline := b.selectImages(history)
	out.HasImages = len(inline) > 0

	messages := make([]llm.Message, 0, len(history))
	for _, m := range history {
		if msg, ok := b.convert(ctx, m, inline); ok {
			messages = append(messages, msg)
		}
	}

	if b.cfg.URLFetchEnabled && b.pages != nil {
		out.Auxiliary = b.fetchLinkedPage(ctx, history)
	}

	trimmed := b.budgeter.Trim(messages, b.cfg.TokenBudget, b.cfg.PreserveRecent)
	out.Messages = normalizeRoles(trimmed.Messages)
	out.Dropped = trimmed.Dropped
	out.EstimatedTokens = trimmed.EstimatedTokens

	slog.DebugContext(ctx, "context built",
		"history", len(history),
		"messages", len(out.Messages),
		"dropped", out.Dropped,
		"estimated_tokens", out.EstimatedTokens,
		"images", len(inline),
		"linked_page", out.Auxiliary != nil)

	return out, nil
}

// Message converts a single platform message, images included. Used when the
// history could not be read and the trigger is all the model gets.
func (b *ContextBuilder) Message(ctx context.Context, m platform.Message) llm.Message {
	inline := make(map[string]bool)
	for _, a := range m.Attachments {
		if _, ok := a.ImageType(); ok {
			inline[a.ID] = true
		}
	}
	msg, ok := b.convert(ctx, m, inline)
	if !ok {
		return llm.Message{Role: llm.RoleUser, Content: "(empty message)"}
	}
	return msg
}

// selectImages picks the newest user-posted images to send inline.
func (b *ContextBuilder) selectImages(history []platform.Message) map[string]bool {
	selfID := b.platform.Self().ID
	inline := make(map[string]bool)

	for i := len(history) - 1; i >= 0 && len(inline) < maxContextImages; i-- {
		m := history[i]
		if m.Author.ID == selfID {
			continue
		}
		for j := len(m.Attachments) - 1; j >= 0 && len(inline) < maxContextImages; j-- {
			if _, ok := m.Attachments[j].ImageType(); ok {
				inline[m.Attachments[j].ID] = true
			}
		}
	}
	return inline
}

func (b *ContextBuilder) convert(ctx context.Context, m platform.Message, inline map[string]bool) (llm.Message, bool) {
	if m.Author.ID == b.platform.Self().ID {
		text := strings.TrimSpace(m.Content)
		for _, a := range m.Attachments {
			text = joinNonEmpty(text, attachmentPlaceholder(a))
		}
		if text == "" {
			return llm.Message{}, false
		}
		return llm.Message{Role: llm.RoleAssistant, Content: text}, true
	}

	var parts []llm.Part
	text := strings.TrimSpace(m.Content)
	if text != "" {
		text = m.Author.Name + ": " + text
	}

	for _, a := range m.Attachments {
		mediaType, isImage := a.ImageType()
		switch {
		case isImage && inline[a.ID]:
			part, ok := b.imagePart(ctx, a, mediaType)
			if ok {
				parts = append(parts, part)
			} else {
				text = joinNonEmpty(text, part.Text)
			}
		case isImage:
			text = joinNonEmpty(text, fmt.Sprintf("[Image: %s]", a.Filename))
		default:
			text = joinNonEmpty(text, attachmentPlaceholder(a))
		}
	}

	if text == "" && len(parts) == 0 {
		return llm.Message{}, false
	}

	msg := llm.Message{Role: llm.RoleUser, Name: m.Author.Name}
	if len(parts) == 0 {
		msg.Content = text
		return msg, true
	}
	if text == "" {
		text = m.Author.Name + " shared an image:"
	}
	msg.Parts = append([]llm.Part{llm.TextPart(text)}, parts...)
	return msg, true
}

// imagePart downloads and verifies an image attachment. When the bytes cannot be
// used it returns a text part holding a placeholder and ok=false.
func (b *ContextBuilder) imagePart(ctx context.Context, a platform.Attachment, mediaType string) (llm.Part, bool) {
	placeholder := func(reason string) (llm.Part, bool) {
		return llm.TextPart(fmt.Sprintf("[Image: %s (%s)]", a.Filename, reason)), false
	}

	if b.downloader == nil {
		return placeholder("not loaded")
	}
	if a.Size > fetcher.MaxImageBytes {
		return placeholder("larger than 10 MB")
	}

	data, _, err := b.downloader.Download(ctx, a.URL, fetcher.MaxImageBytes)
	switch {
	case errors.Is(err, fetcher.ErrTooLarge):
		return placeholder("larger than 10 MB")
	case errors.Is(err, fetcher.ErrEmpty):
		return placeholder("empty file")
	case err != nil:
		slog.WarnContext(ctx, "image download failed", "attachment", a.Filename, "error", err)
		return placeholder("could not be downloaded")
	}

	detected := mimetype.Detect(data)
	if !detected.Is(mediaType) {
		slog.WarnContext(ctx, "image signature mismatch",
			"attachment", a.Filename,
			"declared", mediaType,
			"detected", detected.String())
		return placeholder("unreadable or not a valid " + strings.TrimPrefix(mediaType, "image/"))
	}

	return llm.ImagePart(mediaType, data), true
}

// fetchLinkedPage fetches the most recently mentioned URL within the lookback window.
func (b *ContextBuilder) fetchLinkedPage(ctx context.Context, history []platform.Message) *Auxiliary {
	url := latestURL(history, b.cfg.URLLookback)
	if url == "" {
		return nil
	}

	page, err := b.pages.Fetch(ctx, url)
	if err != nil {
		slog.WarnContext(ctx, "fetching linked page failed", "url", url, "error", err)
		return nil
	}
	if page.IsImage || strings.TrimSpace(page.Content) == "" {
		return nil
	}

	content, _ := fetcher.Truncate(page.Content, fetcher.MaxTextChars)
	return &Auxiliary{URL: url, Title: page.Title, Content: content}
}

// latestURL returns the last URL in the newest message that has one, looking at
// most lookback messages back.
func latestURL(history []platform.Message, lookback int) string {
	stop := max(len(history)-lookback, 0)
	for i := len(history) - 1; i >= stop; i-- {
		found := urlPattern.FindAllString(history[i].Content, -1)
		if len(found) > 0 {
			return cleanURL(found[len(found)-1])
		}
	}
	return ""
}

func cleanURL(u string) string {
	u = strings.TrimRight(u, ".,;:!?*_~")
	if strings.HasSuffix(u, ")") && !strings.Contains(u, "(") {
		u = strings.TrimRight(u, ")")
	}
	return u
}

func attachmentPlaceholder(a platform.Attachment) string {
	kind := a.ContentType
	if kind == "" {
		kind = "unknown type"
	}
	return fmt.Sprintf("[Attachment: %s (%s)]", a.Filename, kind)
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "\n" + b
	}
}

// normalizeRoles merges consecutive same-role messages and opens with a user
// message, so roles strictly alternate.
func normalizeRoles(messages []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages)+1)
	for _, m := range messages {
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1] = merge(out[n-1], m)
			continue
		}
		out = append(out, m)
	}

	if len(out) > 0 && out[0].Role == llm.RoleAssistant {
		out = append([]llm.Message{{Role: llm.RoleUser, Content: continuationOpener}}, out...)
	}
	return out
}

func merge(a, b llm.Message) llm.Message {
	merged := llm.Message{Role: a.Role}
	if a.Name == b.Name {
		merged.Name = a.Name
	}

	if len(a.Parts) == 0 && len(b.Parts) == 0 {
		merged.Content = joinNonEmpty(a.Content, b.Content)
		return merged
	}

	merged.Parts = slices.Concat(asParts(a), asParts(b))
	return merged
}

func asParts(m llm.Message) []llm.Part {
	if len(m.Parts) > 0 {
		return m.Parts
	}
	if m.Content == "" {
		return nil
	}
	return []llm.Part{llm.TextPart(m.Content)}
}

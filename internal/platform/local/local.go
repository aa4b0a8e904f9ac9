// Package local is an in-process chat platform backing the ask CLI: one
// channel, history kept in memory, replies written to an io.Writer.
package local

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"basegraph.app/parley/internal/platform"
)

const (
	ChannelID    = "local"
	messageLimit = 4000
)

var (
	selfUser = platform.User{ID: "parley", Name: "parley", Bot: true}
	userUser = platform.User{ID: "you", Name: "you"}
)

type Platform struct {
	out io.Writer

	mu       sync.Mutex
	messages []platform.Message // oldest first
	nextID   int
}

func New(out io.Writer) *Platform {
	return &Platform{out: out}
}

// Post records a user message and returns it as an inbound event.
// Every CLI line addresses parley directly.
func (p *Platform) Post(text string) platform.Message {
	return p.append(userUser, text, true)
}

func (p *Platform) append(author platform.User, text string, mention bool) platform.Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	msg := platform.Message{
		ID:           strconv.Itoa(p.nextID),
		ChannelID:    ChannelID,
		Author:       author,
		Content:      text,
		Timestamp:    time.Now(),
		MentionsSelf: mention,
		IsDM:         true,
	}
	p.messages = append(p.messages, msg)
	return msg
}

func (p *Platform) Self() platform.User { return selfUser }

func (p *Platform) MessageLimit() int { return messageLimit }

func (p *Platform) FetchRecentMessages(_ context.Context, _ string, limit int, before string) ([]platform.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	end := len(p.messages)
	if before != "" {
		end = 0
		for i, m := range p.messages {
			if m.ID == before {
				end = i
				break
			}
		}
	}

	var out []platform.Message
	for i := end - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, p.messages[i])
	}
	return out, nil
}

func (p *Platform) SendTyping(context.Context, string) error {
	fmt.Fprintln(p.out, "…")
	return nil
}

func (p *Platform) Reply(ctx context.Context, channelID, _ string, text string) (string, error) {
	return p.Send(ctx, channelID, text)
}

func (p *Platform) Send(_ context.Context, _ string, text string) (string, error) {
	msg := p.append(selfUser, text, false)
	fmt.Fprintf(p.out, "\n%s\n", text)
	return msg.ID, nil
}

func (p *Platform) EditMessage(_ context.Context, _ string, messageID, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.messages {
		if p.messages[i].ID == messageID {
			p.messages[i].Content = text
			fmt.Fprintf(p.out, "\n(edited) %s\n", text)
			return nil
		}
	}
	return fmt.Errorf("message %s: %w", messageID, platform.ErrNotFound)
}

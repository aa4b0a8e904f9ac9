// Package discord adapts a discordgo gateway session to platform.Client.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"basegraph.app/parley/internal/platform"
	"github.com/bwmarrin/discordgo"
)

// MessageLimit is Discord's per-message character cap.
const MessageLimit = 2000

const maxFetch = 100

// session is the part of *discordgo.Session the adapter uses.
type session interface {
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendReply(channelID, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Client is a platform.Client backed by the Discord gateway and REST API.
type Client struct {
	gateway *discordgo.Session
	api     session

	mu   sync.RWMutex
	self platform.User
}

func New(token string) (*Client, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	c := &Client{gateway: s, api: s}
	s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		c.setSelf(r.User)
		slog.Info("discord session ready", "user", r.User.Username, "guilds", len(r.Guilds))
	})
	return c, nil
}

// newWithSession builds a Client around an existing API surface.
func newWithSession(api session, self platform.User) *Client {
	return &Client{api: api, self: self}
}

// OnMessage registers handler for every message created in channels parley can see.
// Handlers run on discordgo's event goroutines.
func (c *Client) OnMessage(ctx context.Context, handler func(context.Context, platform.Message)) {
	c.gateway.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Message == nil || m.Author == nil {
			return
		}
		handler(ctx, c.convert(m.Message))
	})
}

// Open connects to the gateway and waits for the identity to be known.
func (c *Client) Open() error {
	if err := c.gateway.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	if u := c.gateway.State.User; u != nil {
		c.setSelf(u)
	}
	return nil
}

func (c *Client) Close() error {
	return c.gateway.Close()
}

func (c *Client) setSelf(u *discordgo.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.self = platform.User{ID: u.ID, Name: u.Username, Bot: u.Bot}
}

func (c *Client) Self() platform.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.self
}

func (c *Client) MessageLimit() int {
	return MessageLimit
}

func (c *Client) FetchRecentMessages(ctx context.Context, channelID string, limit int, before string) ([]platform.Message, error) {
	if limit > maxFetch {
		limit = maxFetch
	}
	msgs, err := c.api.ChannelMessages(channelID, limit, before, "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch channel messages: %w", wrapRESTError(err))
	}

	out := make([]platform.Message, 0, len(msgs))
	for _, m := range msgs {
		if m == nil || m.Author == nil {
			continue
		}
		out = append(out, c.convert(m))
	}
	return out, nil
}

func (c *Client) SendTyping(ctx context.Context, channelID string) error {
	if err := c.api.ChannelTyping(channelID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send typing: %w", wrapRESTError(err))
	}
	return nil
}

func (c *Client) Reply(ctx context.Context, channelID, replyToID, text string) (string, error) {
	ref := &discordgo.MessageReference{MessageID: replyToID, ChannelID: channelID}
	m, err := c.api.ChannelMessageSendReply(channelID, text, ref, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("send reply: %w", wrapRESTError(err))
	}
	return m.ID, nil
}

func (c *Client) Send(ctx context.Context, channelID, text string) (string, error) {
	m, err := c.api.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("send message: %w", wrapRESTError(err))
	}
	return m.ID, nil
}

func (c *Client) EditMessage(ctx context.Context, channelID, messageID, text string) error {
	if _, err := c.api.ChannelMessageEdit(channelID, messageID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("edit message: %w", wrapRESTError(err))
	}
	return nil
}

// convert maps a discordgo message, rewriting user mentions to readable names.
func (c *Client) convert(m *discordgo.Message) platform.Message {
	self := c.Self()

	msg := platform.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Author: platform.User{
			ID:   m.Author.ID,
			Name: displayName(m.Author),
			Bot:  m.Author.Bot,
		},
		Timestamp: m.Timestamp,
		IsDM:      m.GuildID == "",
	}

	content := m.Content
	for _, u := range m.Mentions {
		if u == nil {
			continue
		}
		if u.ID == self.ID {
			msg.MentionsSelf = true
		}
		name := "@" + displayName(u)
		content = strings.ReplaceAll(content, "<@"+u.ID+">", name)
		content = strings.ReplaceAll(content, "<@!"+u.ID+">", name)
	}
	msg.Content = content

	for _, a := range m.Attachments {
		if a == nil {
			continue
		}
		msg.Attachments = append(msg.Attachments, platform.Attachment{
			ID:          a.ID,
			Filename:    a.Filename,
			URL:         a.URL,
			ContentType: a.ContentType,
			Size:        a.Size,
		})
	}

	return msg
}

func displayName(u *discordgo.User) string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

func wrapRESTError(err error) error {
	if restErr, ok := err.(*discordgo.RESTError); ok && restErr.Response != nil && restErr.Response.StatusCode == 404 {
		return fmt.Errorf("%w: %v", platform.ErrNotFound, err)
	}
	return err
}

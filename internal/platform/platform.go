// Package platform describes the chat platform parley talks to.
package platform

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"
)

var ErrNotFound = errors.New("not found")

type User struct {
	ID   string
	Name string
	Bot  bool
}

type Attachment struct {
	ID          string
	Filename    string
	URL         string
	ContentType string // declared by the platform, may be empty
	Size        int
}

// Message is a chat message as parley sees it.
type Message struct {
	ID          string
	ChannelID   string
	GuildID     string // empty for direct messages
	Author      User
	Content     string
	Attachments []Attachment
	Timestamp   time.Time

	// MentionsSelf is set when the message explicitly addresses parley.
	MentionsSelf bool
	IsDM         bool
}

// Client is the subset of a chat platform parley needs.
type Client interface {
	// Self is the identity parley posts as.
	Self() User

	// FetchRecentMessages returns up to limit messages, newest first, optionally
	// only those older than the message id before.
	FetchRecentMessages(ctx context.Context, channelID string, limit int, before string) ([]Message, error)

	SendTyping(ctx context.Context, channelID string) error
	Reply(ctx context.Context, channelID, replyToID, text string) (string, error)
	Send(ctx context.Context, channelID, text string) (string, error)
	EditMessage(ctx context.Context, channelID, messageID, text string) error

	// MessageLimit is the maximum characters in one message.
	MessageLimit() int
}

var supportedImageTypes = map[string]string{
	"image/jpeg": "image/jpeg",
	"image/jpg":  "image/jpeg",
	"image/png":  "image/png",
	"image/gif":  "image/gif",
	"image/webp": "image/webp",
}

var supportedImageExts = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// ImageType classifies an attachment as a supported image, by declared content
// type first and file extension second. ok is false for anything else.
func (a Attachment) ImageType() (string, bool) {
	if ct := strings.ToLower(strings.TrimSpace(strings.Split(a.ContentType, ";")[0])); ct != "" {
		if mt, ok := supportedImageTypes[ct]; ok {
			return mt, true
		}
	}
	mt, ok := supportedImageExts[strings.ToLower(path.Ext(a.Filename))]
	return mt, ok
}

// HasImage reports whether any attachment is a supported image.
func (m Message) HasImage() bool {
	for _, a := range m.Attachments {
		if _, ok := a.ImageType(); ok {
			return true
		}
	}
	return false
}

package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"basegraph.app/parley/internal/conversation"
	"basegraph.app/parley/internal/http/dto"
)

type ConversationSource interface {
	Snapshot(channelID string) (conversation.State, bool)
}

type ConversationHandler struct {
	conversations ConversationSource
	maxFollowUps  int
}

func NewConversationHandler(conversations ConversationSource, maxFollowUps int) *ConversationHandler {
	return &ConversationHandler{conversations: conversations, maxFollowUps: maxFollowUps}
}

func (h *ConversationHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	channelID := c.Param("channel_id")

	st, ok := h.conversations.Snapshot(channelID)
	if !ok {
		slog.DebugContext(ctx, "conversation not found", "channel_id", channelID)
		c.JSON(http.StatusNotFound, gin.H{"error": "no conversation for this channel"})
		return
	}

	c.JSON(http.StatusOK, dto.ToConversationResponse(st, h.maxFollowUps))
}

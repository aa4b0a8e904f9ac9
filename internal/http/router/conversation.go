package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/parley/internal/http/handler"
)

func ConversationRouter(rg *gin.RouterGroup, h *handler.ConversationHandler) {
	rg.GET("/:channel_id/conversation", h.Get)
}

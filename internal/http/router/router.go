package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/parley/internal/http/handler"
)

type RouterConfig struct {
	MaxFollowUps int
}

func SetupRoutes(router *gin.Engine, conversations handler.ConversationSource, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		conversationHandler := handler.NewConversationHandler(conversations, cfg.MaxFollowUps)
		ConversationRouter(v1.Group("/channels"), conversationHandler)
	}
}

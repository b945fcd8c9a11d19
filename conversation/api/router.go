package api

import (
	"school-portal/backend/pkg/jwt"
	"school-portal/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterConversationRoutes mounts the conversation endpoints on an authenticated group
func RegisterConversationRoutes(api *gin.RouterGroup, h *ConversationHandler) {
	conv := api.Group("/conversations")
	{
		conv.POST("", withActor(h.Create))
		conv.GET("", withActor(h.List))
		conv.GET("/:id", withActor(h.Get))
		conv.POST("/:id/messages", withActor(h.AppendMessage))
		conv.POST("/:id/read", withActor(h.MarkRead))
		conv.PUT("/:id/status", withActor(h.SetStatus))
		conv.PATCH("/:id/context", withActor(h.SetContext))
		conv.POST("/:id/participants", withActor(h.AddParticipants))
		conv.DELETE("/:id/participants", withActor(h.RemoveParticipants))
		conv.PUT("/:id/tags", withActor(h.SetTags))
		conv.PATCH("/:id/analytics", withActor(h.SetAnalytics))
	}

	admin := api.Group("/admin", middleware.RequireRole(jwt.RoleAdmin))
	{
		admin.POST("/conversations/archive", withActor(h.ArchiveStale))
	}
}

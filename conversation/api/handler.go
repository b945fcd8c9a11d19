package api

import (
	"net/http"
	"strconv"

	"school-portal/backend/conversation/models"
	"school-portal/backend/conversation/service"
	apperrors "school-portal/backend/pkg/errors"
	"school-portal/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// ConversationHandler exposes the conversation service over HTTP
type ConversationHandler struct {
	service              *service.ConversationService
	defaultArchiveWindow int
}

func NewConversationHandler(svc *service.ConversationService, defaultArchiveDays int) *ConversationHandler {
	if defaultArchiveDays <= 0 {
		defaultArchiveDays = models.DefaultArchiveAge
	}
	return &ConversationHandler{service: svc, defaultArchiveWindow: defaultArchiveDays}
}

func actorFrom(c *gin.Context) (service.Actor, bool) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		return service.Actor{}, false
	}
	return service.Actor{ID: claims.UserID, Role: models.Role(claims.Role)}, true
}

// withActor resolves the caller and hands off to fn, or rejects the request
func withActor(fn func(c *gin.Context, actor service.Actor)) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorFrom(c)
		if !ok {
			c.Error(apperrors.NewUnauthorizedError("AUTH_REQUIRED", "Authentication required"))
			return
		}
		fn(c, actor)
	}
}

func respond(c *gin.Context, status int, conv *models.Conversation, err error) {
	if err != nil {
		c.Error(toAppError(err))
		return
	}
	c.JSON(status, models.NewView(conv))
}

func (h *ConversationHandler) Create(c *gin.Context, actor service.Actor) {
	var in service.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.Error(badRequest("Invalid request body", err))
		return
	}
	conv, err := h.service.Create(c.Request.Context(), actor, in)
	respond(c, http.StatusCreated, conv, err)
}

func (h *ConversationHandler) List(c *gin.Context, actor service.Actor) {
	q := h.service.Query()

	userID := c.Query("user")
	switch {
	case userID == "" && !actor.IsAdmin():
		userID = actor.ID
	case userID != "" && userID != actor.ID && !actor.IsAdmin():
		c.Error(apperrors.NewForbiddenError(apperrors.CodeForbidden, "Only admins may list other users' conversations"))
		return
	}
	if userID != "" {
		q = q.ByUser(userID)
	}

	if ok, _ := strconv.ParseBool(c.Query("active")); ok {
		q = q.Active()
	} else if status := c.Query("status"); status != "" {
		q = q.WithStatus(models.Status(status))
	}
	if role := c.Query("role"); role != "" {
		q = q.ByRole(models.Role(role))
	}
	if ok, _ := strconv.ParseBool(c.Query("unread")); ok {
		q = q.WithUnreadMessages()
	}

	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.Error(badRequest("limit must be a positive integer", err))
			return
		}
		limit = min(n, maxListLimit)
	}
	q = q.Limit(limit)

	views := make([]models.View, 0, limit)
	for conv, err := range q.All(c.Request.Context()) {
		if err != nil {
			c.Error(toAppError(err))
			return
		}
		views = append(views, models.NewView(conv))
	}

	c.JSON(http.StatusOK, gin.H{
		"conversations": views,
		"count":         len(views),
	})
}

func (h *ConversationHandler) Get(c *gin.Context, actor service.Actor) {
	conv, err := h.service.GetFor(c.Request.Context(), actor, c.Param("id"))
	respond(c, http.StatusOK, conv, err)
}

func (h *ConversationHandler) AppendMessage(c *gin.Context, actor service.Actor) {
	var in service.MessageInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.Error(badRequest("Invalid request body", err))
		return
	}
	conv, err := h.service.AppendMessage(c.Request.Context(), actor, c.Param("id"), in)
	respond(c, http.StatusCreated, conv, err)
}

type markReadRequest struct {
	MessageIDs []string `json:"messageIds" binding:"required"`
}

func (h *ConversationHandler) MarkRead(c *gin.Context, actor service.Actor) {
	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(badRequest("Invalid request body", err))
		return
	}
	conv, err := h.service.MarkRead(c.Request.Context(), actor, c.Param("id"), req.MessageIDs)
	respond(c, http.StatusOK, conv, err)
}

type statusRequest struct {
	Status models.Status `json:"status" binding:"required"`
}

func (h *ConversationHandler) SetStatus(c *gin.Context, actor service.Actor) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(badRequest("Invalid request body", err))
		return
	}
	conv, err := h.service.SetStatus(c.Request.Context(), actor, c.Param("id"), req.Status)
	respond(c, http.StatusOK, conv, err)
}

func (h *ConversationHandler) SetContext(c *gin.Context, actor service.Actor) {
	var patch models.ContextPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.Error(badRequest("Invalid request body", err))
		return
	}
	conv, err := h.service.SetContext(c.Request.Context(), actor, c.Param("id"), patch)
	respond(c, http.StatusOK, conv, err)
}

type participantsRequest struct {
	Participants []string `json:"participants" binding:"required"`
}

func (h *ConversationHandler) AddParticipants(c *gin.Context, actor service.Actor) {
	var req participantsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(badRequest("Invalid request body", err))
		return
	}
	conv, err := h.service.AddParticipants(c.Request.Context(), actor, c.Param("id"), req.Participants)
	respond(c, http.StatusOK, conv, err)
}

func (h *ConversationHandler) RemoveParticipants(c *gin.Context, actor service.Actor) {
	var req participantsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(badRequest("Invalid request body", err))
		return
	}
	conv, err := h.service.RemoveParticipants(c.Request.Context(), actor, c.Param("id"), req.Participants)
	respond(c, http.StatusOK, conv, err)
}

type tagsRequest struct {
	Tags []string `json:"tags"`
}

func (h *ConversationHandler) SetTags(c *gin.Context, actor service.Actor) {
	var req tagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(badRequest("Invalid request body", err))
		return
	}
	conv, err := h.service.SetTags(c.Request.Context(), actor, c.Param("id"), req.Tags)
	respond(c, http.StatusOK, conv, err)
}

type analyticsRequest struct {
	SentimentScore      *float64 `json:"sentimentScore"`
	AverageResponseTime *float64 `json:"averageResponseTime"`
}

func (h *ConversationHandler) SetAnalytics(c *gin.Context, actor service.Actor) {
	var req analyticsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(badRequest("Invalid request body", err))
		return
	}
	conv, err := h.service.SetAnalytics(c.Request.Context(), actor, c.Param("id"), req.SentimentScore, req.AverageResponseTime)
	respond(c, http.StatusOK, conv, err)
}

type archiveRequest struct {
	ThresholdDays *int `json:"thresholdDays"`
}

func (h *ConversationHandler) ArchiveStale(c *gin.Context, _ service.Actor) {
	var req archiveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(badRequest("Invalid request body", err))
			return
		}
	}
	days := h.defaultArchiveWindow
	if req.ThresholdDays != nil {
		days = *req.ThresholdDays
	}

	n, err := h.service.ArchiveStale(c.Request.Context(), days)
	if err != nil {
		c.Error(toAppError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"archived": n, "thresholdDays": days})
}

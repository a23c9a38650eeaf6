package api

import (
	"net/http"
	"strconv"

	"booking-inbox/client/internal/ui"
	apperrors "booking-inbox/client/pkg/errors"

	"github.com/gin-gonic/gin"
)

// InboxController serves the conversation list
type InboxController struct {
	views *Views
}

// NewInboxController creates a new inbox controller
func NewInboxController(views *Views) *InboxController {
	return &InboxController{views: views}
}

// RegisterRoutes registers the inbox routes
func (h *InboxController) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/inbox")
	{
		group.GET("", h.List)
		group.POST("/resync", h.Resync)
		group.POST("/start", h.Start)
		group.POST("/:id/open", h.Open)
		group.DELETE("/:id", h.Delete)
	}
}

type resyncRequest struct {
	Trigger string `json:"trigger"`
}

// List returns the conversation list, loading it on first access
func (h *InboxController) List(c *gin.Context) {
	if err := h.views.ensureInbox(c.Request.Context()); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, h.views.Inbox().Snapshot())
}

// Resync reloads the list after the frontend became visible again
func (h *InboxController) Resync(c *gin.Context) {
	var req resyncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(apperrors.NewBadRequestError("INVALID_REQUEST", "Invalid request format"))
			return
		}
	}

	aggregator := h.views.Inbox()
	if err := aggregator.Resync(c.Request.Context(), ui.ParseTrigger(req.Trigger)); apperrors.Is(err, apperrors.ErrNoToken) {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, aggregator.Snapshot())
}

type startRequest struct {
	RecipientID string `json:"recipientId" binding:"required"`
}

// Start opens or creates the conversation with a recipient
func (h *InboxController) Start(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewBadRequestError("INVALID_REQUEST", "recipientId is required"))
		return
	}

	rec := ui.NewRecorder(true)
	err := h.views.Inbox().StartConversation(c.Request.Context(), req.RecipientID, rec)
	respond(c, rec, err, nil)
}

// Open marks a conversation seen and navigates to it
func (h *InboxController) Open(c *gin.Context) {
	rec := ui.NewRecorder(true)
	h.views.Inbox().OpenConversation(c.Request.Context(), c.Param("id"), rec)
	respond(c, rec, nil, nil)
}

// Delete removes a conversation. Without confirm=true the question is
// returned unanswered and nothing is deleted.
func (h *InboxController) Delete(c *gin.Context) {
	confirmed, _ := strconv.ParseBool(c.Query("confirm"))
	rec := ui.NewRecorder(confirmed)

	aggregator := h.views.Inbox()
	err := aggregator.DeleteConversation(c.Request.Context(), c.Param("id"), rec)
	if err == nil && confirmed {
		h.views.Close(c.Param("id"))
	}

	respond(c, rec, err, aggregator.Snapshot())
}

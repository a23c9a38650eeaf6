package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"booking-inbox/client/internal/thread"
	"booking-inbox/client/internal/ui"
	apperrors "booking-inbox/client/pkg/errors"
	"booking-inbox/client/pkg/logger"

	"github.com/gin-gonic/gin"
)

// maxUploadSize bounds a send request, attachment included
const maxUploadSize = 25 << 20

// ThreadController serves conversation views
type ThreadController struct {
	views *Views
}

// NewThreadController creates a new thread controller
func NewThreadController(views *Views) *ThreadController {
	return &ThreadController{views: views}
}

// RegisterRoutes registers the conversation view routes
func (h *ThreadController) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/threads")
	{
		group.GET("/:id", h.Get)
		group.POST("/:id/resync", h.Resync)
		group.POST("/:id/send", h.Send)
		group.DELETE("/:id", h.Close)
	}
}

// Get mounts the view on first access and returns it
func (h *ThreadController) Get(c *gin.Context) {
	s, err := h.views.Open(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, renderThread(s))
}

// Resync repeats the mark-seen and fetch pair after the frontend became visible again
func (h *ThreadController) Resync(c *gin.Context) {
	var req resyncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(apperrors.NewBadRequestError("INVALID_REQUEST", "Invalid request format"))
			return
		}
	}

	s := h.views.Thread(c.Param("id"))
	if err := s.Resync(c.Request.Context(), ui.ParseTrigger(req.Trigger)); apperrors.Is(err, apperrors.ErrNoToken) {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, renderThread(s))
}

// Send posts the draft: a multipart form with content and an optional file,
// or a JSON body with content only
func (h *ThreadController) Send(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)

	draft, err := readDraft(c)
	if err != nil {
		logger.FromContext(c).Warn("Unreadable send request", "error", err.Error())
		_ = c.Error(apperrors.NewBadRequestError("INVALID_REQUEST", "Invalid message draft"))
		return
	}

	s := h.views.Thread(c.Param("id"))
	rec := ui.NewRecorder(true)
	err = s.HandleSend(c.Request.Context(), draft, rec)
	respond(c, rec, err, renderThread(s))
}

func readDraft(c *gin.Context) (thread.Draft, error) {
	if strings.HasPrefix(c.ContentType(), "application/json") {
		var body struct {
			Content string `json:"content"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			return thread.Draft{}, err
		}
		return thread.Draft{Text: body.Content}, nil
	}

	draft := thread.Draft{Text: c.PostForm("content")}
	header, err := c.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return draft, nil
	}
	if err != nil {
		return thread.Draft{}, err
	}

	f, err := header.Open()
	if err != nil {
		return thread.Draft{}, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return thread.Draft{}, err
	}
	draft.File = &thread.File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}
	return draft, nil
}

// Close unmounts the view
func (h *ThreadController) Close(c *gin.Context) {
	h.views.Close(c.Param("id"))
	c.Status(http.StatusNoContent)
}

package api

import (
	"context"
	"errors"
	"net/http"

	"booking-inbox/client/pkg/apiclient"
	apperrors "booking-inbox/client/pkg/errors"
	"booking-inbox/client/pkg/logger"
	"booking-inbox/client/pkg/middleware"
	"booking-inbox/client/pkg/session"

	"github.com/gin-gonic/gin"
)

// Authenticator exchanges credentials for a bearer token
type Authenticator interface {
	Login(ctx context.Context, email, password string) (apiclient.LoginResult, error)
}

// SessionController handles sign-in and sign-out
type SessionController struct {
	store *session.Store
	auth  Authenticator
}

// NewSessionController creates a new session controller
func NewSessionController(store *session.Store, auth Authenticator) *SessionController {
	return &SessionController{store: store, auth: auth}
}

// RegisterRoutes registers the session routes
func (h *SessionController) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/session")
	{
		group.GET("", h.Current)
		group.POST("", h.Login)
		group.DELETE("", h.Logout)
	}
}

type loginRequest struct {
	Token string `json:"token"`
	User  *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Role string `json:"role"`
	} `json:"user"`

	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login signs in with a token handed over by the frontend, or with
// credentials forwarded to the API
func (h *SessionController) Login(c *gin.Context) {
	log := logger.FromContext(c)

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn("Error binding JSON for login", "error", err.Error())
		_ = c.Error(apperrors.NewBadRequestError("INVALID_REQUEST", "Invalid request format"))
		return
	}

	token := req.Token
	var profile session.Profile
	if req.User != nil {
		profile = session.Profile{ID: req.User.ID, Name: req.User.Name, Role: req.User.Role}
	}

	if token == "" {
		if req.Email == "" || req.Password == "" {
			_ = c.Error(apperrors.NewBadRequestError("INVALID_REQUEST", "token or email and password are required"))
			return
		}
		result, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			if apperrors.IsStatus(err, http.StatusUnauthorized) || apperrors.IsStatus(err, http.StatusBadRequest) {
				_ = c.Error(apperrors.NewUnauthorizedError("INVALID_CREDENTIALS", "Invalid email or password"))
				return
			}
			_ = c.Error(err)
			return
		}
		token = result.Token
		profile = session.Profile{ID: result.User.ID, Name: result.User.Name, Role: result.User.Role}
	}

	identity, err := h.store.Login(c.Request.Context(), token, profile)
	if err != nil {
		_ = c.Error(sessionError(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"identity": identity.Redacted()})
}

func sessionError(err error) error {
	switch {
	case errors.Is(err, session.ErrTokenExpired):
		return apperrors.NewUnauthorizedError("TOKEN_EXPIRED", err.Error())
	case errors.Is(err, session.ErrEmptyToken),
		errors.Is(err, session.ErrInvalidRole),
		errors.Is(err, session.ErrMissingID):
		return apperrors.NewBadRequestError("INVALID_SESSION", err.Error())
	}
	return apperrors.NewUnauthorizedError("INVALID_TOKEN", err.Error())
}

// Logout destroys the session
func (h *SessionController) Logout(c *gin.Context) {
	h.store.Logout(c.Request.Context())
	c.Status(http.StatusNoContent)
}

// Current returns the signed-in identity without its credential
func (h *SessionController) Current(c *gin.Context) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		_ = c.Error(apperrors.ErrNoToken)
		return
	}
	c.JSON(http.StatusOK, gin.H{"identity": identity.Redacted()})
}

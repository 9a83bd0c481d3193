package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/blueprintstore/internal/apperr"
	"github.com/mbd888/blueprintstore/internal/logging"
)

var (
	errMissingCredentials = apperr.Validation("missing_credentials", "Username and password are required")
	errBadCredentials     = apperr.Unauthorized("invalid_credentials", "Invalid credentials")
)

// Handler provides admin login endpoints.
type Handler struct {
	manager *Manager
}

// NewHandler creates a new auth handler.
func NewHandler(m *Manager) *Handler {
	return &Handler{manager: m}
}

// RegisterRoutes sets up auth routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/auth/login", h.Login)
	r.POST("/auth/verify", RequireAdmin(h.manager), h.Verify)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func userView(claims *Claims) gin.H {
	return gin.H{"username": claims.Username, "role": claims.Role}
}

// Login handles POST /api/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Password == "" {
		apperr.Respond(c, errMissingCredentials)
		return
	}

	token, claims, err := h.manager.Login(req.Username, req.Password)
	switch {
	case errors.Is(err, ErrNotConfigured):
		apperr.Respond(c, errAdminDisabled)
		return
	case errors.Is(err, ErrInvalidCredentials):
		logging.L(c.Request.Context()).Warn("admin login failed", "ip", c.ClientIP())
		apperr.Respond(c, errBadCredentials)
		return
	case err != nil:
		apperr.Respond(c, apperr.Upstream("login_failed", err))
		return
	}

	logging.L(c.Request.Context()).Info("admin logged in", "username", claims.Username)
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"token":     token,
		"expiresAt": claims.ExpiresAt.Time,
		"user":      userView(claims),
	})
}

// Verify handles POST /api/auth/verify
func (h *Handler) Verify(c *gin.Context) {
	claims, _ := AdminFrom(c)
	c.JSON(http.StatusOK, gin.H{"success": true, "user": userView(claims)})
}

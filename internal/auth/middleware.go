package auth

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/blueprintstore/internal/apperr"
)

// ContextKeyAdmin is the gin context key holding the admin *Claims.
const ContextKeyAdmin = "adminClaims"

var (
	errTokenMissing  = apperr.Unauthorized("token_missing", "Admin token required")
	errTokenInvalid  = apperr.Unauthorized("token_invalid", "Invalid or expired token")
	errAdminDisabled = apperr.Misconfigured("admin_not_configured", "Admin login is not configured")
)

// RequireAdmin rejects requests without a valid admin bearer token.
func RequireAdmin(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearer(c.GetHeader("Authorization"))
		if !ok {
			apperr.Respond(c, errTokenMissing)
			return
		}
		claims, err := m.Verify(token)
		if errors.Is(err, ErrNotConfigured) {
			apperr.Respond(c, errAdminDisabled)
			return
		}
		if err != nil {
			apperr.Respond(c, errTokenInvalid)
			return
		}
		c.Set(ContextKeyAdmin, claims)
		c.Next()
	}
}

// AdminFrom returns the authenticated admin, if any.
func AdminFrom(c *gin.Context) (*Claims, bool) {
	v, ok := c.Get(ContextKeyAdmin)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}

func bearer(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

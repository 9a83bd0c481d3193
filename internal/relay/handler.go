package relay

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/blueprintstore/internal/apperr"
)

// Handler exposes the relay over HTTP.
type Handler struct {
	relay *Relay
}

// NewHandler creates a relay handler.
func NewHandler(r *Relay) *Handler {
	return &Handler{relay: r}
}

// RegisterRoutes sets up relay routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/send", h.Send)
}

type sendRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Send handles POST /api/webhooks/send
func (h *Handler) Send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.Validation("invalid_request", "Request body must be {type, data}"))
		return
	}

	reply, err := h.relay.Send(c.Request.Context(), req.Type, req.Data)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	resp := gin.H{"success": true}
	if reply.JSON != nil {
		resp["response"] = reply.JSON
	} else {
		resp["response"] = reply.Text
	}
	c.JSON(http.StatusOK, resp)
}

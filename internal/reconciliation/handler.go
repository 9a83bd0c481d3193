package reconciliation

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/blueprintstore/internal/apperr"
	"github.com/mbd888/blueprintstore/internal/logging"
)

var errDisabled = apperr.Misconfigured("reconciliation_disabled", "Payment processor is not configured")

// Handler exposes on-demand reconciliation to admins.
type Handler struct {
	service *Service
}

// NewHandler creates a handler. A nil service answers with a config error.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterAdminRoutes sets up routes on a group that already requires an
// admin session.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/reconcile", h.Reconcile)
}

// Reconcile handles POST /api/admin/reconcile
func (h *Handler) Reconcile(c *gin.Context) {
	if h.service == nil {
		apperr.Respond(c, errDisabled)
		return
	}
	report, err := h.service.RunAll(c.Request.Context())
	if err != nil {
		apperr.Respond(c, apperr.Upstream("reconciliation_failed", err))
		return
	}
	logging.L(c.Request.Context()).Info("manual reconciliation run",
		"checked", report.Checked, "completed", report.Completed, "failed", report.Failed)
	c.JSON(http.StatusOK, report)
}

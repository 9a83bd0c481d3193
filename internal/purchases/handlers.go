package purchases

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/blueprintstore/internal/apperr"
	"github.com/mbd888/blueprintstore/internal/pagination"
)

var (
	errInvalidCursor    = apperr.Validation("invalid_cursor", "cursor is not valid")
	errPurchaseNotFound = apperr.NotFound("purchase_not_found", "Purchase not found")
)

// Handler exposes the purchase history to admins.
type Handler struct {
	store Store
}

// NewHandler creates a purchase history handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterAdminRoutes sets up routes on a group that already requires an
// admin session.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/purchases", h.ListPurchases)
	r.GET("/purchases/:intentId", h.GetPurchase)
}

// ListPurchases handles GET /api/admin/purchases?blueprintId=&limit=&cursor=
func (h *Handler) ListPurchases(c *gin.Context) {
	after, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		apperr.Respond(c, errInvalidCursor)
		return
	}
	limit := pagination.ParseLimit(c.Query("limit"))

	items, err := h.store.List(c.Request.Context(), Query{
		BlueprintID: c.Query("blueprintId"),
		Limit:       limit + 1,
		After:       after,
	})
	if err != nil {
		apperr.Respond(c, apperr.Upstream("purchase_store_error", err))
		return
	}

	page, next, more := pagination.ComputePage(items, limit, func(p *Purchase) (time.Time, string) {
		return p.CreatedAt, p.ID
	})
	if page == nil {
		page = []*Purchase{}
	}
	c.JSON(http.StatusOK, gin.H{
		"purchases":  page,
		"count":      len(page),
		"nextCursor": next,
		"hasMore":    more,
	})
}

// GetPurchase handles GET /api/admin/purchases/:intentId
func (h *Handler) GetPurchase(c *gin.Context) {
	p, err := h.store.GetByIntent(c.Request.Context(), c.Param("intentId"))
	if errors.Is(err, ErrNotFound) {
		apperr.Respond(c, errPurchaseNotFound)
		return
	}
	if err != nil {
		apperr.Respond(c, apperr.Upstream("purchase_store_error", err))
		return
	}
	c.JSON(http.StatusOK, p)
}

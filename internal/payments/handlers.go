package payments

import (
	"errors"
	"io"
	"math"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/blueprintstore/internal/apperr"
)

var errInvalidBody = apperr.Validation("invalid_request", "Request body must be valid JSON")

// Handler provides HTTP endpoints for payments.
type Handler struct {
	manager *Manager
}

// NewHandler creates a new payments handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// RegisterRoutes sets up the payment routes on the root group. The intent
// endpoints sit at the site root where the storefront calls them.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/create-payment-intent", h.CreatePaymentIntent)
	r.POST("/confirm-payment", h.ConfirmPayment)
	r.POST("/api/create-checkout-session", h.CreateCheckoutSession)
	r.GET("/api/verify-checkout-session/:sessionId", h.VerifyCheckoutSession)
}

// createIntentRequest is the storefront's payment form body. Amount is in
// minor units.
type createIntentRequest struct {
	BlueprintID string  `json:"blueprintId"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
}

type confirmRequest struct {
	IntentID       string `json:"intentId"`
	LegacyIntentID string `json:"payment_intent_id"`
}

type checkoutRequest struct {
	BlueprintID string `json:"blueprintId"`
}

// CreatePaymentIntent handles POST /create-payment-intent
func (h *Handler) CreatePaymentIntent(c *gin.Context) {
	var req createIntentRequest
	if !bind(c, &req) {
		return
	}
	if req.Amount != math.Trunc(req.Amount) {
		apperr.Respond(c, ErrInvalidAmount)
		return
	}

	out, err := h.manager.CreateIntent(c.Request.Context(), CreateIntentRequest{
		BlueprintID: req.BlueprintID,
		Amount:      int64(req.Amount),
		Currency:    req.Currency,
	})
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"clientSecret":      out.ClientSecret,
		"intentId":          out.IntentID,
		"client_secret":     out.ClientSecret,
		"payment_intent_id": out.IntentID,
	})
}

// ConfirmPayment handles POST /confirm-payment
func (h *Handler) ConfirmPayment(c *gin.Context) {
	var req confirmRequest
	if !bind(c, &req) {
		return
	}
	intentID := req.IntentID
	if intentID == "" {
		intentID = req.LegacyIntentID
	}

	out, err := h.manager.ConfirmPayment(c.Request.Context(), intentID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"accessToken":  out.AccessToken,
		"blueprintId":  out.BlueprintID,
		"access_token": out.AccessToken,
		"blueprint_id": out.BlueprintID,
	})
}

// CreateCheckoutSession handles POST /api/create-checkout-session
func (h *Handler) CreateCheckoutSession(c *gin.Context) {
	var req checkoutRequest
	if !bind(c, &req) {
		return
	}

	origin := c.GetHeader("Origin")
	out, err := h.manager.CreateCheckoutSession(c.Request.Context(), req.BlueprintID, origin)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"checkout_url": out.CheckoutURL,
		"session_id":   out.SessionID,
	})
}

// VerifyCheckoutSession handles GET /api/verify-checkout-session/:sessionId
func (h *Handler) VerifyCheckoutSession(c *gin.Context) {
	st, err := h.manager.RetrieveSession(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	if st.State != SessionPaid {
		c.JSON(http.StatusOK, gin.H{
			"success":        false,
			"payment_status": string(st.State),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"payment_status": "completed",
		"blueprint_id":   st.BlueprintID,
		"session": gin.H{
			"id":             st.SessionID,
			"amount_total":   st.AmountTotal,
			"currency":       st.Currency,
			"customer_email": st.CustomerEmail,
		},
	})
}

// bind decodes the JSON body. An empty body decodes to the zero request so
// the operation reports the missing fields itself.
func bind(c *gin.Context, dst any) bool {
	err := c.ShouldBindJSON(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		apperr.Respond(c, err)
		return false
	}
	apperr.Respond(c, errInvalidBody)
	return false
}

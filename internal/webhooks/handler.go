package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/blueprintstore/internal/apperr"
	"github.com/mbd888/blueprintstore/internal/logging"
	"github.com/mbd888/blueprintstore/internal/metrics"
	"github.com/mbd888/blueprintstore/internal/payments"
	"github.com/mbd888/blueprintstore/internal/traces"
	"github.com/stripe/stripe-go/v81/webhook"
)

// MaxBodySize bounds webhook payloads.
const MaxBodySize = 1 << 20

// SignatureHeader carries the processor's payload signature.
const SignatureHeader = "Stripe-Signature"

// Event types acted on.
const (
	EventIntentSucceeded   = "payment_intent.succeeded"
	EventIntentFailed      = "payment_intent.payment_failed"
	EventCheckoutCompleted = "checkout.session.completed"
)

var (
	errInvalidSignature = apperr.Validation("invalid_signature", "Invalid webhook signature")
	errNotConfigured    = apperr.Misconfigured("webhook_not_configured", "Webhook secret is not configured")
)

// Transitioner applies webhook-driven payment transitions.
type Transitioner interface {
	MarkSucceeded(ctx context.Context, intentID string) (payments.Outcome, error)
	MarkFailed(ctx context.Context, intentID string) (payments.Outcome, error)
}

// Handler receives processor webhooks.
type Handler struct {
	secret   string
	payments Transitioner
	ledger   Ledger
}

// NewHandler creates a webhook handler. A nil ledger uses a MemoryLedger.
func NewHandler(secret string, p Transitioner, ledger Ledger) *Handler {
	if ledger == nil {
		ledger = NewMemoryLedger()
	}
	return &Handler{secret: secret, payments: p, ledger: ledger}
}

// RegisterRoutes sets up the webhook receiver routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhook/payment", h.Receive)
	r.POST("/webhook/stripe", h.Receive)
}

type intentObject struct {
	ID string `json:"id"`
}

type checkoutObject struct {
	ID            string            `json:"id"`
	PaymentStatus string            `json:"payment_status"`
	PaymentIntent string            `json:"payment_intent"`
	Metadata      map[string]string `json:"metadata"`
}

// Receive handles POST /webhook/payment. The signature is checked before
// anything else; a bad signature gets a bare 400 and changes nothing.
func (h *Handler) Receive(c *gin.Context) {
	ctx := c.Request.Context()
	if h.secret == "" {
		apperr.Respond(c, errNotConfigured)
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodySize)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	sig := c.GetHeader(SignatureHeader)
	if strings.TrimSpace(sig) == "" {
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "bad_signature").Inc()
		apperr.Respond(c, errInvalidSignature)
		return
	}
	event, err := webhook.ConstructEventWithOptions(payload, sig, h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "bad_signature").Inc()
		logging.L(ctx).Warn("webhook signature rejected", "error", err)
		apperr.Respond(c, errInvalidSignature)
		return
	}

	eventType := string(event.Type)
	ctx, span := traces.StartSpan(ctx, "webhooks.Receive", traces.EventType(eventType))
	outcome, err := h.process(ctx, event.ID, eventType, event.Data.Raw)
	traces.End(span, err)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues(eventType, "error").Inc()
		logging.L(ctx).Error("webhook processing failed",
			"event_id", event.ID, "type", eventType, "error", err)
		apperr.Respond(c, apperr.Upstream("webhook_processing_failed", err))
		return
	}

	metrics.WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
	resp := gin.H{"received": true}
	if outcome == "duplicate" {
		resp["duplicate"] = true
	}
	c.JSON(http.StatusOK, resp)
}

// process claims the event id and dispatches it. A failed dispatch releases
// the claim so the processor's retry is handled.
func (h *Handler) process(ctx context.Context, eventID, eventType string, raw json.RawMessage) (string, error) {
	claimed, err := h.ledger.Claim(ctx, eventID, eventType)
	if err != nil {
		return "", fmt.Errorf("claim event: %w", err)
	}
	if !claimed {
		logging.L(ctx).Info("duplicate webhook event ignored", "event_id", eventID, "type", eventType)
		return "duplicate", nil
	}

	outcome, err := h.dispatch(ctx, eventType, raw)
	if err != nil {
		if relErr := h.ledger.Release(ctx, eventID); relErr != nil {
			logging.L(ctx).Error("failed to release webhook event", "event_id", eventID, "error", relErr)
		}
		return "", err
	}
	return outcome, nil
}

func (h *Handler) dispatch(ctx context.Context, eventType string, raw json.RawMessage) (string, error) {
	switch eventType {
	case EventIntentSucceeded, EventIntentFailed:
		var obj intentObject
		if err := json.Unmarshal(raw, &obj); err != nil || obj.ID == "" {
			return "", errors.Join(errors.New("decode payment intent"), err)
		}
		var (
			outcome payments.Outcome
			err     error
		)
		if eventType == EventIntentSucceeded {
			outcome, err = h.payments.MarkSucceeded(ctx, obj.ID)
		} else {
			outcome, err = h.payments.MarkFailed(ctx, obj.ID)
		}
		if err != nil {
			return "", err
		}
		if outcome == payments.OutcomeUnknownPayment {
			logging.L(ctx).Warn("webhook for unknown payment", "intent_id", obj.ID, "type", eventType)
		}
		return string(outcome), nil

	case EventCheckoutCompleted:
		var obj checkoutObject
		if err := json.Unmarshal(raw, &obj); err != nil {
			return "", fmt.Errorf("decode checkout session: %w", err)
		}
		logging.L(ctx).Info("checkout session completed",
			"session_id", obj.ID,
			"payment_status", obj.PaymentStatus,
			"blueprint_id", obj.Metadata[payments.MetaBlueprintID])
		return "acknowledged", nil

	default:
		logging.L(ctx).Debug("webhook event ignored", "type", eventType)
		return "ignored", nil
	}
}

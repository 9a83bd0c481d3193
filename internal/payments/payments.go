// Package payments manages payment intents and hosted checkout sessions
// against the payment processor, and owns the pending -> completed|failed
// lifecycle of each payment record.
package payments

import (
	"errors"
	"time"

	"github.com/mbd888/blueprintstore/internal/apperr"
)

// Store errors
var (
	ErrNotFound        = errors.New("payments: record not found")
	ErrDuplicate       = errors.New("payments: record already exists")
	ErrAlreadyTerminal = errors.New("payments: record already terminal")
)

// Errors surfaced to API callers.
var (
	ErrMissingFields       = apperr.Validation("missing_fields", "blueprintId and amount are required")
	ErrMissingIntentID     = apperr.Validation("missing_intent_id", "intentId is required")
	ErrMissingSessionID    = apperr.Validation("missing_session_id", "sessionId is required")
	ErrInvalidAmount       = apperr.Validation("invalid_amount", "Amount does not match the blueprint price")
	ErrCurrencyMismatch    = apperr.Validation("invalid_currency", "Currency does not match the blueprint currency")
	ErrMissingOrigin       = apperr.Validation("missing_origin", "Cannot build checkout redirect URLs without an Origin")
	ErrNotSucceeded        = apperr.Validation("payment_not_succeeded", "Payment has not succeeded")
	ErrBlueprintNotFound   = apperr.NotFound("blueprint_not_found", "Blueprint not found")
	ErrPaymentNotFound     = apperr.NotFound("payment_not_found", "Payment not found")
	ErrSessionNotFound     = apperr.NotFound("session_not_found", "Checkout session not found")
	ErrPriceNotConfigured  = apperr.Unconfigured("price_not_configured", "No processor price is configured for this blueprint")
	ErrProcessorNotEnabled = apperr.Misconfigured("processor_not_configured", "Payment processor is not configured")
)

// Status is the lifecycle state of a payment record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Record tracks one payment intent from creation to its terminal state.
type Record struct {
	IntentID    string     `json:"intentId"`
	BlueprintID string     `json:"blueprintId"`
	Amount      int64      `json:"amount"` // minor units
	Currency    string     `json:"currency"`
	Status      Status     `json:"status"`
	AccessToken string     `json:"-"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	FailedAt    *time.Time `json:"failedAt,omitempty"`
}

// Source labels which path drove a transition.
type Source string

const (
	SourceConfirm Source = "confirm"
	SourceWebhook Source = "webhook"
)

// Outcome reports what a webhook-driven transition did.
type Outcome string

const (
	OutcomeCompleted      Outcome = "completed"
	OutcomeFailed         Outcome = "failed"
	OutcomeAlreadyFinal   Outcome = "already_terminal"
	OutcomeUnknownPayment Outcome = "unknown_payment"
)

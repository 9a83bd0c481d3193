package payments

import (
	"context"
	"errors"
)

// ErrProcessorObjectMissing is returned by a Processor when the intent or
// session id does not exist on the processor side.
var ErrProcessorObjectMissing = errors.New("payments: processor object not found")

// Processor statuses of a payment intent that settle it.
const (
	IntentSucceeded = "succeeded"
	IntentCanceled  = "canceled"
)

// Checkout payment states as reported by the processor.
const (
	CheckoutPaid   = "paid"
	CheckoutUnpaid = "unpaid"
)

// IntentParams describes a payment intent to create.
type IntentParams struct {
	Amount         int64
	Currency       string
	BlueprintID    string
	BlueprintTitle string
}

// Intent is the processor's view of a payment intent.
type Intent struct {
	ID           string
	ClientSecret string
	Status       string
	Amount       int64
	Currency     string
	Metadata     map[string]string
}

// CheckoutParams describes a hosted checkout session to create.
type CheckoutParams struct {
	PriceID        string
	BlueprintID    string
	BlueprintTitle string
	SuccessURL     string
	CancelURL      string
}

// CheckoutSession is the processor's view of a hosted checkout session.
type CheckoutSession struct {
	ID              string
	URL             string
	PaymentStatus   string
	PaymentIntentID string
	AmountTotal     int64
	Currency        string
	CustomerEmail   string
	Metadata        map[string]string
}

// Processor is the subset of the payment processor API the store uses.
type Processor interface {
	CreateIntent(ctx context.Context, p IntentParams) (*Intent, error)
	GetIntent(ctx context.Context, id string) (*Intent, error)
	CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error)
}

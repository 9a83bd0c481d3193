package payments

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// Metadata keys attached to processor objects.
const (
	MetaBlueprintID    = "blueprintId"
	MetaBlueprintTitle = "blueprintTitle"
)

// StripeProcessor implements Processor with the Stripe API.
type StripeProcessor struct {
	api *client.API
}

var _ Processor = (*StripeProcessor)(nil)

// NewStripeProcessor creates a processor whose HTTP calls are bounded by
// timeout. A per-client backend avoids the package-level stripe.Key.
func NewStripeProcessor(secretKey string, timeout time.Duration) *StripeProcessor {
	return newStripeProcessor(secretKey, timeout, "")
}

// newStripeProcessor points the API backend at baseURL when it is set.
func newStripeProcessor(secretKey string, timeout time.Duration, baseURL string) *StripeProcessor {
	httpClient := &http.Client{Timeout: timeout}
	cfg := &stripe.BackendConfig{HTTPClient: httpClient}
	if baseURL != "" {
		cfg.URL = stripe.String(baseURL)
		cfg.MaxNetworkRetries = stripe.Int64(0)
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, cfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, cfg),
	}
	return &StripeProcessor{api: client.New(secretKey, backends)}
}

func (s *StripeProcessor) CreateIntent(ctx context.Context, p IntentParams) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Params:   stripe.Params{Context: ctx},
		Amount:   stripe.Int64(p.Amount),
		Currency: stripe.String(p.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.AddMetadata(MetaBlueprintID, p.BlueprintID)
	params.AddMetadata(MetaBlueprintTitle, p.BlueprintTitle)

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return intentFromStripe(pi), nil
}

func (s *StripeProcessor) GetIntent(ctx context.Context, id string) (*Intent, error) {
	pi, err := s.api.PaymentIntents.Get(id, &stripe.PaymentIntentParams{Params: stripe.Params{Context: ctx}})
	if err != nil {
		return nil, mapStripeError(err)
	}
	return intentFromStripe(pi), nil
}

func (s *StripeProcessor) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Params:             stripe.Params{Context: ctx},
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(p.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
	}
	params.AddMetadata(MetaBlueprintID, p.BlueprintID)
	params.AddMetadata(MetaBlueprintTitle, p.BlueprintTitle)

	cs, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return sessionFromStripe(cs), nil
}

func (s *StripeProcessor) GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	cs, err := s.api.CheckoutSessions.Get(id, &stripe.CheckoutSessionParams{Params: stripe.Params{Context: ctx}})
	if err != nil {
		return nil, mapStripeError(err)
	}
	return sessionFromStripe(cs), nil
}

func intentFromStripe(pi *stripe.PaymentIntent) *Intent {
	return &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		Metadata:     pi.Metadata,
	}
}

func sessionFromStripe(cs *stripe.CheckoutSession) *CheckoutSession {
	out := &CheckoutSession{
		ID:            cs.ID,
		URL:           cs.URL,
		PaymentStatus: string(cs.PaymentStatus),
		AmountTotal:   cs.AmountTotal,
		Currency:      string(cs.Currency),
		Metadata:      cs.Metadata,
	}
	if cs.PaymentIntent != nil {
		out.PaymentIntentID = cs.PaymentIntent.ID
	}
	if cs.CustomerDetails != nil {
		out.CustomerEmail = cs.CustomerDetails.Email
	}
	return out
}

func mapStripeError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) && (se.Code == stripe.ErrorCodeResourceMissing || se.HTTPStatusCode == http.StatusNotFound) {
		return errors.Join(ErrProcessorObjectMissing, err)
	}
	return err
}

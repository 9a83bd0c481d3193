// Package paymentstest provides an in-memory payment processor for tests.
package paymentstest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mbd888/blueprintstore/internal/payments"
)

// Processor is a fake payments.Processor. Intents are created in the
// "requires_payment_method" state and move with SetIntentStatus.
type Processor struct {
	mu       sync.Mutex
	intents  map[string]*payments.Intent
	sessions map[string]*payments.CheckoutSession
	seq      int

	// NextIntentID, when set, is used for the next created intent.
	NextIntentID string
	// Err, when set, is returned by every call.
	Err error

	// BeforeGetIntent, when set, runs at the start of GetIntent outside the
	// fake's lock, standing in for the network round trip.
	BeforeGetIntent func(id string)

	// Calls counts processor calls by method name.
	Calls map[string]int
	// LastCheckout holds the parameters of the last created session.
	LastCheckout payments.CheckoutParams
}

var _ payments.Processor = (*Processor)(nil)

// New creates an empty fake processor.
func New() *Processor {
	return &Processor{
		intents:  make(map[string]*payments.Intent),
		sessions: make(map[string]*payments.CheckoutSession),
		Calls:    make(map[string]int),
	}
}

func (p *Processor) CreateIntent(_ context.Context, params payments.IntentParams) (*payments.Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls["CreateIntent"]++
	if p.Err != nil {
		return nil, p.Err
	}

	p.seq++
	id := p.NextIntentID
	p.NextIntentID = ""
	if id == "" {
		id = fmt.Sprintf("pi_test_%d", p.seq)
	}
	in := &payments.Intent{
		ID:           id,
		ClientSecret: id + "_secret",
		Status:       "requires_payment_method",
		Amount:       params.Amount,
		Currency:     params.Currency,
		Metadata: map[string]string{
			payments.MetaBlueprintID:    params.BlueprintID,
			payments.MetaBlueprintTitle: params.BlueprintTitle,
		},
	}
	p.intents[id] = in
	cp := *in
	return &cp, nil
}

func (p *Processor) GetIntent(_ context.Context, id string) (*payments.Intent, error) {
	if p.BeforeGetIntent != nil {
		p.BeforeGetIntent(id)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls["GetIntent"]++
	if p.Err != nil {
		return nil, p.Err
	}
	in, ok := p.intents[id]
	if !ok {
		return nil, fmt.Errorf("intent %s: %w", id, payments.ErrProcessorObjectMissing)
	}
	cp := *in
	return &cp, nil
}

func (p *Processor) CreateCheckoutSession(_ context.Context, params payments.CheckoutParams) (*payments.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls["CreateCheckoutSession"]++
	if p.Err != nil {
		return nil, p.Err
	}

	p.seq++
	id := fmt.Sprintf("cs_test_%d", p.seq)
	p.LastCheckout = params
	cs := &payments.CheckoutSession{
		ID:            id,
		URL:           "https://checkout.example.test/" + id,
		PaymentStatus: payments.CheckoutUnpaid,
		Currency:      "eur",
		Metadata: map[string]string{
			payments.MetaBlueprintID:    params.BlueprintID,
			payments.MetaBlueprintTitle: params.BlueprintTitle,
		},
	}
	p.sessions[id] = cs
	cp := *cs
	return &cp, nil
}

func (p *Processor) GetCheckoutSession(_ context.Context, id string) (*payments.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls["GetCheckoutSession"]++
	if p.Err != nil {
		return nil, p.Err
	}
	cs, ok := p.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, payments.ErrProcessorObjectMissing)
	}
	cp := *cs
	return &cp, nil
}

// SetIntentStatus changes the processor-side status of an intent.
func (p *Processor) SetIntentStatus(id, status string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	in, ok := p.intents[id]
	if !ok {
		return errors.New("paymentstest: unknown intent " + id)
	}
	in.Status = status
	return nil
}

// PutSession registers a checkout session directly.
func (p *Processor) PutSession(cs payments.CheckoutSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[cs.ID] = &cs
}

// CallCount returns how often method was called.
func (p *Processor) CallCount(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Calls[method]
}

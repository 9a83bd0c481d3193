package payments

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/mbd888/blueprintstore/internal/apperr"
	"github.com/mbd888/blueprintstore/internal/catalog"
	"github.com/mbd888/blueprintstore/internal/logging"
	"github.com/mbd888/blueprintstore/internal/metrics"
	"github.com/mbd888/blueprintstore/internal/syncutil"
	"github.com/mbd888/blueprintstore/internal/traces"
)

// ErrMissingBlueprintID is returned when a checkout request names no blueprint.
var ErrMissingBlueprintID = apperr.Validation("missing_blueprint_id", "blueprintId is required")

// sideEffectTimeout bounds the listeners run after a completion.
const sideEffectTimeout = 15 * time.Second

// checkoutSessionPlaceholder is substituted by the processor on redirect.
const checkoutSessionPlaceholder = "{CHECKOUT_SESSION_ID}"

// TokenIssuer mints the download token for a completed payment.
type TokenIssuer interface {
	Issue(blueprintID, intentID string) (string, error)
}

// CompletionListener is notified once per record that transitions to
// completed. Implementations handle their own failures.
type CompletionListener interface {
	PaymentCompleted(ctx context.Context, rec *Record)
}

// Options configures a Manager.
type Options struct {
	// PriceIDs maps blueprint id to processor price id for hosted checkout.
	PriceIDs map[string]string
	// BaseURL is used for checkout redirects when the caller sent no Origin.
	BaseURL string
}

// Manager creates payment intents and checkout sessions and drives payment
// records to their terminal state.
type Manager struct {
	catalog   catalog.Store
	store     Store
	processor Processor
	tokens    TokenIssuer
	listeners []CompletionListener
	locks     *syncutil.KeyedMutex
	priceIDs  map[string]string
	baseURL   string
	now       func() time.Time
}

// NewManager creates a payment manager. A nil processor leaves every
// processor-backed operation failing with ErrProcessorNotEnabled.
func NewManager(cat catalog.Store, store Store, processor Processor, tokens TokenIssuer, opts Options) *Manager {
	priceIDs := make(map[string]string, len(opts.PriceIDs))
	for k, v := range opts.PriceIDs {
		priceIDs[k] = v
	}
	return &Manager{
		catalog:   cat,
		store:     store,
		processor: processor,
		tokens:    tokens,
		locks:     syncutil.NewKeyedMutex(),
		priceIDs:  priceIDs,
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		now:       time.Now,
	}
}

// AddListener registers l for completion notifications. Not safe for use
// after the manager starts serving.
func (m *Manager) AddListener(l CompletionListener) {
	m.listeners = append(m.listeners, l)
}

// WithClock overrides the time source.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// PriceIDs returns a copy of the blueprint -> price id map.
func (m *Manager) PriceIDs() map[string]string {
	out := make(map[string]string, len(m.priceIDs))
	for k, v := range m.priceIDs {
		out[k] = v
	}
	return out
}

// CreateIntentRequest is the input of CreateIntent.
type CreateIntentRequest struct {
	BlueprintID string
	Amount      int64 // minor units
	Currency    string
}

// CreatedIntent is returned to the client to complete payment.
type CreatedIntent struct {
	ClientSecret string
	IntentID     string
}

// CreateIntent validates the amount against the catalog price, creates a
// processor intent and records it as pending. No record is written unless
// every step succeeds.
func (m *Manager) CreateIntent(ctx context.Context, req CreateIntentRequest) (_ *CreatedIntent, err error) {
	ctx, span := traces.StartSpan(ctx, "payments.CreateIntent",
		traces.BlueprintID(req.BlueprintID), traces.Amount(req.Amount))
	defer func() { traces.End(span, err) }()

	result := "rejected"
	defer func() { metrics.PaymentIntentsTotal.WithLabelValues(result).Inc() }()

	if req.BlueprintID == "" || req.Amount == 0 {
		return nil, ErrMissingFields
	}
	bp, err := m.blueprint(ctx, req.BlueprintID)
	if err != nil {
		return nil, err
	}
	if req.Amount != bp.AmountMinor() {
		return nil, ErrInvalidAmount
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = bp.Currency
	}
	if currency != strings.ToLower(bp.Currency) {
		return nil, ErrCurrencyMismatch
	}
	if m.processor == nil {
		return nil, ErrProcessorNotEnabled
	}

	intent, err := m.processor.CreateIntent(ctx, IntentParams{
		Amount:         req.Amount,
		Currency:       currency,
		BlueprintID:    bp.ID,
		BlueprintTitle: bp.Title,
	})
	if err != nil {
		result = "processor_error"
		return nil, apperr.Upstream("processor_error", err)
	}

	rec := &Record{
		IntentID:    intent.ID,
		BlueprintID: bp.ID,
		Amount:      req.Amount,
		Currency:    currency,
		Status:      StatusPending,
		CreatedAt:   m.now().UTC(),
	}
	if err := m.store.Create(ctx, rec); err != nil {
		result = "store_error"
		return nil, apperr.Upstream("payment_store_error", err)
	}

	result = "created"
	logging.L(ctx).Info("payment intent created",
		"intent_id", intent.ID, "blueprint_id", bp.ID, "amount", req.Amount, "currency", currency)
	return &CreatedIntent{ClientSecret: intent.ClientSecret, IntentID: intent.ID}, nil
}

// Confirmation carries the token for a completed payment.
type Confirmation struct {
	AccessToken string
	BlueprintID string
}

// ConfirmPayment checks the intent with the processor and, when it has
// succeeded, completes the record and issues a token. Confirming an already
// completed payment returns the token issued the first time.
func (m *Manager) ConfirmPayment(ctx context.Context, intentID string) (_ *Confirmation, err error) {
	ctx, span := traces.StartSpan(ctx, "payments.ConfirmPayment", traces.IntentID(intentID))
	defer func() { traces.End(span, err) }()

	if intentID == "" {
		return nil, ErrMissingIntentID
	}

	// The processor is asked outside the per-intent lock; confirmLocked
	// re-reads the record under it.
	rec, err := m.record(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if done, err := settled(rec); done || err != nil {
		if err != nil {
			return nil, err
		}
		return &Confirmation{AccessToken: rec.AccessToken, BlueprintID: rec.BlueprintID}, nil
	}

	if m.processor == nil {
		return nil, ErrProcessorNotEnabled
	}
	intent, err := m.processor.GetIntent(ctx, intentID)
	if errors.Is(err, ErrProcessorObjectMissing) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, apperr.Upstream("processor_error", err)
	}
	if intent.Status != IntentSucceeded {
		return nil, ErrNotSucceeded.WithMessage("Payment has not succeeded (status: " + intent.Status + ")")
	}

	unlock, err := m.locks.LockContext(ctx, intentID)
	if err != nil {
		return nil, err
	}
	rec, completed, err := m.confirmLocked(ctx, intentID)
	unlock()
	if err != nil {
		return nil, err
	}
	if completed {
		m.notify(ctx, rec)
	}
	return &Confirmation{AccessToken: rec.AccessToken, BlueprintID: rec.BlueprintID}, nil
}

// confirmLocked re-reads the record under the intent lock, since a webhook
// may have settled it while the processor was being asked.
func (m *Manager) confirmLocked(ctx context.Context, intentID string) (*Record, bool, error) {
	rec, err := m.record(ctx, intentID)
	if err != nil {
		return nil, false, err
	}
	if done, err := settled(rec); done || err != nil {
		return rec, false, err
	}
	return m.complete(ctx, rec, SourceConfirm)
}

// settled reports whether rec is already terminal. A failed payment is
// never confirmable.
func settled(rec *Record) (bool, error) {
	switch rec.Status {
	case StatusCompleted:
		return true, nil
	case StatusFailed:
		return true, ErrNotSucceeded
	}
	return false, nil
}

// MarkSucceeded completes a pending record on behalf of the processor
// webhook. An unknown intent id is not an error.
func (m *Manager) MarkSucceeded(ctx context.Context, intentID string) (_ Outcome, err error) {
	ctx, span := traces.StartSpan(ctx, "payments.MarkSucceeded", traces.IntentID(intentID))
	defer func() { traces.End(span, err) }()

	unlock, err := m.locks.LockContext(ctx, intentID)
	if err != nil {
		return "", err
	}
	rec, err := m.store.Get(ctx, intentID)
	if errors.Is(err, ErrNotFound) {
		unlock()
		return OutcomeUnknownPayment, nil
	}
	if err != nil {
		unlock()
		return "", apperr.Upstream("payment_store_error", err)
	}
	if rec.Status.Terminal() {
		unlock()
		return OutcomeAlreadyFinal, nil
	}
	rec, completed, err := m.complete(ctx, rec, SourceWebhook)
	unlock()
	if err != nil {
		return "", err
	}
	if !completed {
		return OutcomeAlreadyFinal, nil
	}
	m.notify(ctx, rec)
	return OutcomeCompleted, nil
}

// MarkFailed moves a pending record to failed.
func (m *Manager) MarkFailed(ctx context.Context, intentID string) (_ Outcome, err error) {
	ctx, span := traces.StartSpan(ctx, "payments.MarkFailed", traces.IntentID(intentID))
	defer func() { traces.End(span, err) }()

	unlock, err := m.locks.LockContext(ctx, intentID)
	if err != nil {
		return "", err
	}
	defer unlock()

	_, err = m.store.Fail(ctx, intentID, m.now().UTC())
	switch {
	case errors.Is(err, ErrNotFound):
		return OutcomeUnknownPayment, nil
	case errors.Is(err, ErrAlreadyTerminal):
		return OutcomeAlreadyFinal, nil
	case err != nil:
		return "", apperr.Upstream("payment_store_error", err)
	}
	metrics.PaymentTransitionsTotal.WithLabelValues(string(SourceWebhook), string(StatusFailed)).Inc()
	logging.L(ctx).Info("payment failed", "intent_id", intentID)
	return OutcomeFailed, nil
}

// complete issues a token and performs the pending -> completed transition.
// The bool reports whether this call made the transition; losing a race to
// another process returns the winner's record.
func (m *Manager) complete(ctx context.Context, rec *Record, source Source) (*Record, bool, error) {
	token, err := m.tokens.Issue(rec.BlueprintID, rec.IntentID)
	if err != nil {
		return nil, false, apperr.Upstream("token_error", err)
	}

	updated, err := m.store.Complete(ctx, rec.IntentID, token, m.now().UTC())
	if errors.Is(err, ErrAlreadyTerminal) {
		current, getErr := m.record(ctx, rec.IntentID)
		if getErr != nil {
			return nil, false, getErr
		}
		if current.Status != StatusCompleted {
			return nil, false, ErrNotSucceeded
		}
		return current, false, nil
	}
	if err != nil {
		return nil, false, apperr.Upstream("payment_store_error", err)
	}

	metrics.PaymentTransitionsTotal.WithLabelValues(string(source), string(StatusCompleted)).Inc()
	metrics.AccessTokensIssuedTotal.Inc()
	logging.L(ctx).Info("payment completed",
		"intent_id", updated.IntentID, "blueprint_id", updated.BlueprintID, "source", string(source))
	return updated, true, nil
}

// notify runs completion listeners on a context detached from the request so
// a client disconnect does not cut them short.
func (m *Manager) notify(ctx context.Context, rec *Record) {
	if len(m.listeners) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(logging.Detached(ctx), sideEffectTimeout)
	defer cancel()
	for _, l := range m.listeners {
		cp := *rec
		l.PaymentCompleted(ctx, &cp)
	}
}

// CreatedSession is a hosted checkout session the client redirects to.
type CreatedSession struct {
	CheckoutURL string
	SessionID   string
}

// CreateCheckoutSession starts a hosted checkout for a blueprint using its
// configured processor price. origin is the caller's site root.
func (m *Manager) CreateCheckoutSession(ctx context.Context, blueprintID, origin string) (_ *CreatedSession, err error) {
	ctx, span := traces.StartSpan(ctx, "payments.CreateCheckoutSession", traces.BlueprintID(blueprintID))
	defer func() { traces.End(span, err) }()

	result := "rejected"
	defer func() { metrics.CheckoutSessionsTotal.WithLabelValues(result).Inc() }()

	if blueprintID == "" {
		return nil, ErrMissingBlueprintID
	}
	bp, err := m.blueprint(ctx, blueprintID)
	if err != nil {
		return nil, err
	}
	priceID := m.priceIDs[bp.ID]
	if priceID == "" {
		logging.L(ctx).Warn("no checkout price configured", "blueprint_id", bp.ID)
		return nil, ErrPriceNotConfigured
	}
	base := strings.TrimRight(origin, "/")
	if base == "" {
		base = m.baseURL
	}
	if base == "" {
		return nil, ErrMissingOrigin
	}
	if m.processor == nil {
		return nil, ErrProcessorNotEnabled
	}

	cs, err := m.processor.CreateCheckoutSession(ctx, CheckoutParams{
		PriceID:        priceID,
		BlueprintID:    bp.ID,
		BlueprintTitle: bp.Title,
		SuccessURL:     successURL(base, bp.ID),
		CancelURL:      base + "/marketplace.html?cancelled=true",
	})
	if err != nil {
		result = "processor_error"
		return nil, apperr.Upstream("processor_error", err)
	}

	result = "created"
	logging.L(ctx).Info("checkout session created", "session_id", cs.ID, "blueprint_id", bp.ID)
	return &CreatedSession{CheckoutURL: cs.URL, SessionID: cs.ID}, nil
}

func successURL(base, blueprintID string) string {
	return base + "/stripe-success.html?blueprint=" + url.QueryEscape(blueprintID) +
		"&session_id=" + checkoutSessionPlaceholder
}

// SessionState is the simplified payment state of a checkout session.
type SessionState string

const (
	SessionPaid    SessionState = "paid"
	SessionPending SessionState = "pending"
	SessionOther   SessionState = "other"
)

// SessionStatus describes a checkout session for the success page.
type SessionStatus struct {
	SessionID     string
	State         SessionState
	PaymentStatus string
	BlueprintID   string
	AmountTotal   int64
	Currency      string
	CustomerEmail string
}

// RetrieveSession reports the payment state of a checkout session. It does
// not change any local state.
func (m *Manager) RetrieveSession(ctx context.Context, sessionID string) (_ *SessionStatus, err error) {
	ctx, span := traces.StartSpan(ctx, "payments.RetrieveSession", traces.SessionID(sessionID))
	defer func() { traces.End(span, err) }()

	if sessionID == "" {
		return nil, ErrMissingSessionID
	}
	if m.processor == nil {
		return nil, ErrProcessorNotEnabled
	}
	cs, err := m.processor.GetCheckoutSession(ctx, sessionID)
	if errors.Is(err, ErrProcessorObjectMissing) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, apperr.Upstream("processor_error", err)
	}

	state := SessionOther
	switch cs.PaymentStatus {
	case CheckoutPaid:
		state = SessionPaid
	case CheckoutUnpaid:
		state = SessionPending
	}
	return &SessionStatus{
		SessionID:     cs.ID,
		State:         state,
		PaymentStatus: cs.PaymentStatus,
		BlueprintID:   cs.Metadata[MetaBlueprintID],
		AmountTotal:   cs.AmountTotal,
		Currency:      cs.Currency,
		CustomerEmail: cs.CustomerEmail,
	}, nil
}

// Completed reports whether intentID has a completed record for
// blueprintID. Store errors count as not completed.
func (m *Manager) Completed(ctx context.Context, intentID, blueprintID string) bool {
	rec, err := m.store.Get(ctx, intentID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logging.L(ctx).Error("payment lookup failed", "intent_id", intentID, "error", err)
		}
		return false
	}
	return rec.Status == StatusCompleted && rec.BlueprintID == blueprintID
}

func (m *Manager) blueprint(ctx context.Context, id string) (*catalog.Blueprint, error) {
	bp, err := m.catalog.Get(ctx, id)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, ErrBlueprintNotFound
	}
	if err != nil {
		return nil, apperr.Upstream("catalog_error", err)
	}
	return bp, nil
}

func (m *Manager) record(ctx context.Context, intentID string) (*Record, error) {
	rec, err := m.store.Get(ctx, intentID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, apperr.Upstream("payment_store_error", err)
	}
	return rec, nil
}

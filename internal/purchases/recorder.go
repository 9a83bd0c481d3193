package purchases

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/blueprintstore/internal/circuitbreaker"
	"github.com/mbd888/blueprintstore/internal/idgen"
	"github.com/mbd888/blueprintstore/internal/logging"
	"github.com/mbd888/blueprintstore/internal/metrics"
	"github.com/mbd888/blueprintstore/internal/payments"
	"github.com/mbd888/blueprintstore/internal/retry"
)

const breakerKey = "purchase_store"

// Recorder writes a purchase for each completed payment. Failures are
// logged and counted; they never reach the payment flow.
type Recorder struct {
	store   Store
	policy  retry.Policy
	breaker *circuitbreaker.Breaker
	now     func() time.Time
}

var _ payments.CompletionListener = (*Recorder)(nil)

// NewRecorder creates a recorder with the default retry policy.
func NewRecorder(store Store, breaker *circuitbreaker.Breaker) *Recorder {
	if breaker == nil {
		breaker = circuitbreaker.New(5, 30*time.Second)
	}
	return &Recorder{
		store:   store,
		policy:  retry.DefaultPolicy(),
		breaker: breaker,
		now:     time.Now,
	}
}

// WithPolicy overrides the retry policy.
func (r *Recorder) WithPolicy(p retry.Policy) *Recorder {
	r.policy = p
	return r
}

// PaymentCompleted implements payments.CompletionListener.
func (r *Recorder) PaymentCompleted(ctx context.Context, rec *payments.Record) {
	pur := &Purchase{
		ID:          idgen.WithPrefix("pur_"),
		IntentID:    rec.IntentID,
		BlueprintID: rec.BlueprintID,
		Amount:      rec.Amount,
		Currency:    rec.Currency,
		Status:      StatusCompleted,
		CreatedAt:   r.now().UTC(),
	}

	var inserted bool
	err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		err := r.breaker.Execute(breakerKey, func() error {
			var err error
			inserted, err = r.store.Insert(ctx, pur)
			return err
		})
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		metrics.SideEffectFailuresTotal.WithLabelValues("purchase_record").Inc()
		logging.L(ctx).Error("failed to record purchase",
			"intent_id", rec.IntentID, "blueprint_id", rec.BlueprintID, "error", err)
		return
	}
	if !inserted {
		logging.L(ctx).Debug("purchase already recorded", "intent_id", rec.IntentID)
		return
	}
	logging.L(ctx).Info("purchase recorded",
		"purchase_id", pur.ID, "intent_id", rec.IntentID, "blueprint_id", rec.BlueprintID)
}

// Package reconciliation settles payments left pending when the processor
// webhook never arrived, by asking the processor for the intent status.
package reconciliation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mbd888/blueprintstore/internal/logging"
	"github.com/mbd888/blueprintstore/internal/pagination"
	"github.com/mbd888/blueprintstore/internal/payments"
)

const (
	// DefaultMinAge leaves young intents to the webhook.
	DefaultMinAge = 15 * time.Minute
	// DefaultBatch is the page size of one pending listing.
	DefaultBatch = 100
	// DefaultMaxPerRun caps the records checked per run.
	DefaultMaxPerRun = 1000
)

// PendingLister finds pending payment records.
type PendingLister interface {
	ListPending(ctx context.Context, q payments.PendingQuery) ([]*payments.Record, error)
}

// IntentLookup reads the processor-side intent.
type IntentLookup interface {
	GetIntent(ctx context.Context, id string) (*payments.Intent, error)
}

// Transitioner applies the terminal transition.
type Transitioner interface {
	MarkSucceeded(ctx context.Context, intentID string) (payments.Outcome, error)
	MarkFailed(ctx context.Context, intentID string) (payments.Outcome, error)
}

// Report summarizes one reconciliation run.
type Report struct {
	Checked      int           `json:"checked"`
	Completed    int           `json:"completed"`
	Failed       int           `json:"failed"`
	StillPending int           `json:"stillPending"`
	Missing      int           `json:"missing"`
	Errors       int           `json:"errors"`
	DurationMs   int64         `json:"durationMs"`
	Timestamp    time.Time     `json:"timestamp"`

	duration time.Duration
}

// Service reconciles stale pending payments.
//
// Records the processor keeps open (abandoned checkouts, unknown intents)
// stay pending forever, so each run resumes after the last record the
// previous run checked and wraps to the oldest once the listing is
// exhausted. Every stale record is therefore revisited however many stay
// stuck ahead of it.
type Service struct {
	pending   PendingLister
	intents   IntentLookup
	payments  Transitioner
	minAge    time.Duration
	batch     int
	maxPerRun int
	now       func() time.Time

	mu     sync.Mutex // one run at a time; guards cursor
	cursor *pagination.Cursor
}

// NewService creates a reconciliation service.
func NewService(pending PendingLister, intents IntentLookup, p Transitioner) *Service {
	return &Service{
		pending:  pending,
		intents:  intents,
		payments: p,
		minAge:    DefaultMinAge,
		batch:     DefaultBatch,
		maxPerRun: DefaultMaxPerRun,
		now:       time.Now,
	}
}

// WithMinAge sets how old a pending record must be before it is checked.
func (s *Service) WithMinAge(d time.Duration) *Service {
	if d > 0 {
		s.minAge = d
	}
	return s
}

// WithLimits sets the listing page size and the per-run cap.
func (s *Service) WithLimits(batch, maxPerRun int) *Service {
	if batch > 0 {
		s.batch = batch
	}
	if maxPerRun > 0 {
		s.maxPerRun = maxPerRun
	}
	return s
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// RunAll checks up to the per-run cap of stale pending records, resuming
// where the previous run stopped. Per-record failures are counted in the
// report; only a failed listing returns an error.
func (s *Service) RunAll(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.now()
	report := &Report{Timestamp: start.UTC()}
	defer func() {
		report.duration = s.now().Sub(start)
		report.DurationMs = report.duration.Milliseconds()
		observe(report)
	}()

	cutoff := start.Add(-s.minAge)
	log := logging.L(ctx)
	for report.Checked < s.maxPerRun && ctx.Err() == nil {
		limit := min(s.batch, s.maxPerRun-report.Checked)
		records, err := s.pending.ListPending(ctx, payments.PendingQuery{
			CreatedBefore: cutoff,
			After:         s.cursor,
			Limit:         limit,
		})
		if err != nil {
			reconcileErrors.Inc()
			return nil, err
		}

		for _, rec := range records {
			if ctx.Err() != nil {
				break
			}
			report.Checked++
			s.cursor = &pagination.Cursor{CreatedAt: rec.CreatedAt, ID: rec.IntentID}
			if err := s.reconcile(ctx, rec, report); err != nil {
				report.Errors++
				reconcileErrors.Inc()
				log.Warn("reconcile payment failed", "intent_id", rec.IntentID, "error", err)
			}
		}

		if len(records) < limit {
			s.cursor = nil
			break
		}
	}

	if report.Completed > 0 || report.Failed > 0 {
		log.Info("reconciliation settled payments",
			"checked", report.Checked,
			"completed", report.Completed,
			"failed", report.Failed,
		)
	}
	return report, nil
}

func (s *Service) reconcile(ctx context.Context, rec *payments.Record, report *Report) error {
	intent, err := s.intents.GetIntent(ctx, rec.IntentID)
	if errors.Is(err, payments.ErrProcessorObjectMissing) {
		report.Missing++
		logging.L(ctx).Warn("pending payment unknown to processor", "intent_id", rec.IntentID)
		return nil
	}
	if err != nil {
		return err
	}

	var outcome payments.Outcome
	switch intent.Status {
	case payments.IntentSucceeded:
		outcome, err = s.payments.MarkSucceeded(ctx, rec.IntentID)
	case payments.IntentCanceled:
		outcome, err = s.payments.MarkFailed(ctx, rec.IntentID)
	default:
		report.StillPending++
		return nil
	}
	if err != nil {
		return err
	}

	switch outcome {
	case payments.OutcomeCompleted:
		report.Completed++
	case payments.OutcomeFailed:
		report.Failed++
	}
	return nil
}

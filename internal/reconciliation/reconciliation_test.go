package reconciliation_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/blueprintstore/internal/accesstoken"
	"github.com/mbd888/blueprintstore/internal/catalog"
	"github.com/mbd888/blueprintstore/internal/payments"
	"github.com/mbd888/blueprintstore/internal/payments/paymentstest"
	"github.com/mbd888/blueprintstore/internal/reconciliation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	store     *payments.MemoryStore
	processor *paymentstest.Processor
	manager   *payments.Manager
	service   *reconciliation.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	cat := catalog.NewMemoryStore()
	_, err := catalog.SeedStore(ctx, cat, catalog.Seed(time.Now().UTC()))
	require.NoError(t, err)
	issuer, err := accesstoken.NewIssuer("reconcile-test-secret-0123456789ab", 0)
	require.NoError(t, err)

	f := &fixture{store: payments.NewMemoryStore(), processor: paymentstest.New()}
	f.manager = payments.NewManager(cat, f.store, f.processor, issuer, payments.Options{})
	later := time.Now().Add(time.Hour)
	f.service = reconciliation.NewService(f.store, f.processor, f.manager).
		WithClock(func() time.Time { return later })
	return f
}

func (f *fixture) intent(t *testing.T, id string) {
	t.Helper()
	f.processor.NextIntentID = id
	_, err := f.manager.CreateIntent(context.Background(), payments.CreateIntentRequest{
		BlueprintID: "lead-generation-system", Amount: 9700, Currency: "eur",
	})
	require.NoError(t, err)
}

func TestRunAll_SettlesByProcessorStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.intent(t, "pi_paid")
	f.intent(t, "pi_cancelled")
	f.intent(t, "pi_waiting")
	require.NoError(t, f.processor.SetIntentStatus("pi_paid", payments.IntentSucceeded))
	require.NoError(t, f.processor.SetIntentStatus("pi_cancelled", payments.IntentCanceled))

	report, err := f.service.RunAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 1, report.Completed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.StillPending)
	assert.Zero(t, report.Errors)

	paid, err := f.store.Get(ctx, "pi_paid")
	require.NoError(t, err)
	assert.Equal(t, payments.StatusCompleted, paid.Status)
	assert.NotEmpty(t, paid.AccessToken)

	cancelled, err := f.store.Get(ctx, "pi_cancelled")
	require.NoError(t, err)
	assert.Equal(t, payments.StatusFailed, cancelled.Status)

	// Second run only sees what is still pending
	report, err = f.service.RunAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
}

func TestRunAll_StuckRecordsDoNotHideNewerPayments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < reconciliation.DefaultBatch; i++ {
		f.intent(t, fmt.Sprintf("pi_abandoned_%03d", i))
	}
	f.intent(t, "pi_zz_paid")
	require.NoError(t, f.processor.SetIntentStatus("pi_zz_paid", payments.IntentSucceeded))

	report, err := f.service.RunAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, reconciliation.DefaultBatch+1, report.Checked)
	assert.Equal(t, reconciliation.DefaultBatch, report.StillPending)
	assert.Equal(t, 1, report.Completed)

	paid, err := f.store.Get(ctx, "pi_zz_paid")
	require.NoError(t, err)
	assert.Equal(t, payments.StatusCompleted, paid.Status)
}

func TestRunAll_ResumesAcrossRuns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.service.WithLimits(2, 2)
	f.intent(t, "pi_stuck_a")
	f.intent(t, "pi_stuck_b")
	f.intent(t, "pi_stuck_c")
	f.intent(t, "pi_zz_paid")
	require.NoError(t, f.processor.SetIntentStatus("pi_zz_paid", payments.IntentSucceeded))

	report, err := f.service.RunAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Zero(t, report.Completed)

	report, err = f.service.RunAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 1, report.Completed, "picked up after the stuck records")

	// Listing exhausted, the cursor wraps to the oldest record
	report, err = f.service.RunAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Checked)

	report, err = f.service.RunAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
}

func TestReport_DurationInMilliseconds(t *testing.T) {
	f := newFixture(t)
	calls := 0
	base := time.Now().Add(time.Hour)
	f.service.WithClock(func() time.Time {
		calls++
		if calls == 1 {
			return base
		}
		return base.Add(1500 * time.Millisecond)
	})

	report, err := f.service.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1500), report.DurationMs)

	data, err := json.Marshal(report)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"durationMs":1500`)
}

func TestRunAll_SkipsYoungRecords(t *testing.T) {
	f := newFixture(t)
	f.intent(t, "pi_new")
	require.NoError(t, f.processor.SetIntentStatus("pi_new", payments.IntentSucceeded))

	svc := reconciliation.NewService(f.store, f.processor, f.manager)
	report, err := svc.RunAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Checked, "left to the webhook")
}

func TestRunAll_CountsProcessorErrors(t *testing.T) {
	f := newFixture(t)
	f.intent(t, "pi_1")
	f.processor.Err = errors.New("stripe down")

	report, err := f.service.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Errors)
}

func TestHandler(t *testing.T) {
	f := newFixture(t)
	f.intent(t, "pi_1")
	require.NoError(t, f.processor.SetIntentStatus("pi_1", payments.IntentSucceeded))

	r := gin.New()
	reconciliation.NewHandler(f.service).RegisterAdminRoutes(r.Group("/api/admin"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/admin/reconcile", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"completed":1`)

	r = gin.New()
	reconciliation.NewHandler(nil).RegisterAdminRoutes(r.Group("/api/admin"))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/admin/reconcile", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

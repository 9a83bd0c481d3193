package payments_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/blueprintstore/internal/payments"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupRouter(t *testing.T) (*gin.Engine, *fixture) {
	t.Helper()
	f := newFixture(t)
	r := gin.New()
	payments.NewHandler(f.manager).RegisterRoutes(r.Group(""))
	return r, f
}

func do(r *gin.Engine, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(bytes.NewReader(w.Body.Bytes())).Decode(&out))
	return out
}

func TestHandler_CreatePaymentIntent(t *testing.T) {
	r, f := setupRouter(t)
	f.processor.NextIntentID = "pi_123"

	w := do(r, http.MethodPost, "/create-payment-intent",
		`{"blueprintId":"lead-generation-system","amount":9700,"currency":"eur"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, "pi_123", body["intentId"])
	assert.Equal(t, "pi_123_secret", body["clientSecret"])
	assert.Equal(t, "pi_123", body["payment_intent_id"])
}

func TestHandler_CreatePaymentIntent_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"empty body", ``, http.StatusBadRequest, "missing_fields"},
		{"bad json", `{"blueprintId":`, http.StatusBadRequest, "invalid_request"},
		{"unknown blueprint", `{"blueprintId":"nope","amount":9700}`, http.StatusNotFound, "blueprint_not_found"},
		{"wrong amount", `{"blueprintId":"lead-generation-system","amount":97}`, http.StatusBadRequest, "invalid_amount"},
		{"fractional amount", `{"blueprintId":"lead-generation-system","amount":9700.5}`, http.StatusBadRequest, "invalid_amount"},
		{"wrong currency", `{"blueprintId":"lead-generation-system","amount":9700,"currency":"usd"}`, http.StatusBadRequest, "invalid_currency"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := setupRouter(t)
			w := do(r, http.MethodPost, "/create-payment-intent", tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decode(t, w)["error"])
		})
	}
}

func TestHandler_ConfirmPayment(t *testing.T) {
	r, f := setupRouter(t)
	id := f.createIntent(t, "pi_conf")

	w := do(r, http.MethodPost, "/confirm-payment", `{"intentId":"pi_conf"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "payment_not_succeeded", decode(t, w)["error"])

	require.NoError(t, f.processor.SetIntentStatus(id, payments.IntentSucceeded))
	w = do(r, http.MethodPost, "/confirm-payment", `{"payment_intent_id":"pi_conf"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "lead-generation-system", body["blueprintId"])
	assert.NotEmpty(t, body["accessToken"])
	assert.Equal(t, body["accessToken"], body["access_token"])

	w = do(r, http.MethodPost, "/confirm-payment", `{"intentId":"pi_nope"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodPost, "/confirm-payment", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_CheckoutSession(t *testing.T) {
	r, f := setupRouter(t)

	w := do(r, http.MethodPost, "/api/create-checkout-session",
		`{"blueprintId":"lead-generation-system"}`, "Origin", "https://store.example.com")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	sessionID, _ := body["session_id"].(string)
	require.NotEmpty(t, sessionID)
	assert.NotEmpty(t, body["checkout_url"])
	assert.True(t, strings.HasPrefix(f.processor.LastCheckout.SuccessURL, "https://store.example.com/"))

	w = do(r, http.MethodGet, "/api/verify-checkout-session/"+sessionID, "")
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "pending", body["payment_status"])

	f.processor.PutSession(payments.CheckoutSession{
		ID:            "cs_paid",
		PaymentStatus: payments.CheckoutPaid,
		AmountTotal:   9700,
		Currency:      "eur",
		Metadata:      map[string]string{payments.MetaBlueprintID: "lead-generation-system"},
	})
	w = do(r, http.MethodGet, "/api/verify-checkout-session/cs_paid", "")
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "completed", body["payment_status"])
	assert.Equal(t, "lead-generation-system", body["blueprint_id"])

	w = do(r, http.MethodGet, "/api/verify-checkout-session/cs_missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodPost, "/api/create-checkout-session", `{"blueprintId":"email-ai-assistant"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "price_not_configured", decode(t, w)["error"])
}

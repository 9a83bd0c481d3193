package relay

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/blueprintstore/internal/apperr"
	"github.com/mbd888/blueprintstore/internal/circuitbreaker"
	"github.com/mbd888/blueprintstore/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func newRelay(t *testing.T, target string) *Relay {
	t.Helper()
	r, err := New(Options{
		APIKey:  "mk_test",
		Targets: map[string]string{TypeContact: target, TypeCalculator: target},
	})
	require.NoError(t, err)
	return r.WithPolicy(fastPolicy())
}

func TestSend_ForwardsWithAPIKey(t *testing.T) {
	var gotKey, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get(APIKeyHeader)
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accepted":true}`))
	}))
	defer srv.Close()

	reply, err := newRelay(t, srv.URL).Send(context.Background(), TypeContact, json.RawMessage(`{"email":"a@b.c"}`))
	require.NoError(t, err)
	assert.Equal(t, "mk_test", gotKey)
	assert.JSONEq(t, `{"email":"a@b.c"}`, gotBody)
	assert.JSONEq(t, `{"accepted":true}`, string(reply.JSON))
}

func TestSend_TextReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("Accepted"))
	}))
	defer srv.Close()

	reply, err := newRelay(t, srv.URL).Send(context.Background(), TypeContact, json.RawMessage(`{"x":1}`))
	require.NoError(t, err)
	assert.Nil(t, reply.JSON)
	assert.Equal(t, "Accepted", reply.Text)
}

func TestSend_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := newRelay(t, srv.URL).Send(context.Background(), TypeContact, json.RawMessage(`{"x":1}`))
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSend_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newRelay(t, srv.URL).Send(context.Background(), TypeContact, json.RawMessage(`{"x":1}`))
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, apperr.StatusOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestSend_ClientErrorsDoNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 8 {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	r := newRelay(t, srv.URL)
	for i := 0; i < 8; i++ {
		_, err := r.Send(context.Background(), TypeContact, json.RawMessage(`{"x":1}`))
		require.Error(t, err)
	}
	assert.Equal(t, circuitbreaker.StateClosed, r.breaker.State(TypeContact))

	_, err := r.Send(context.Background(), TypeContact, json.RawMessage(`{"x":1}`))
	require.NoError(t, err)
	assert.Equal(t, int32(9), calls.Load())
}

func TestSend_ServerErrorsTripBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	r := newRelay(t, srv.URL)
	for i := 0; i < 2; i++ {
		_, err := r.Send(context.Background(), TypeContact, json.RawMessage(`{"x":1}`))
		require.Error(t, err)
	}
	assert.Equal(t, circuitbreaker.StateOpen, r.breaker.State(TypeContact))

	before := calls.Load()
	_, err := r.Send(context.Background(), TypeContact, json.RawMessage(`{"x":1}`))
	require.Error(t, err)
	assert.Equal(t, before, calls.Load(), "open circuit short-circuits the call")
}

func TestSend_Validation(t *testing.T) {
	r := newRelay(t, "http://unused.invalid")

	_, err := r.Send(context.Background(), "newsletter", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrUnknownType)
	assert.Equal(t, http.StatusBadRequest, apperr.StatusOf(err))

	_, err = r.Send(context.Background(), TypeContact, nil)
	assert.ErrorIs(t, err, ErrMissingData)

	_, err = r.Send(context.Background(), TypeChatbot, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrNoTarget)
	assert.Equal(t, http.StatusInternalServerError, apperr.StatusOf(err))

	noKey, err := New(Options{Targets: map[string]string{TypeContact: "http://unused.invalid"}})
	require.NoError(t, err)
	_, err = noKey.Send(context.Background(), TypeContact, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestNew_ValidatesTargets(t *testing.T) {
	_, err := New(Options{ValidateTargets: true, Targets: map[string]string{TypeContact: "http://127.0.0.1/hook"}})
	assert.Error(t, err)

	_, err = New(Options{ValidateTargets: true, Targets: map[string]string{TypeContact: "https://hook.eu1.make.com/abc"}})
	assert.NoError(t, err)
}

func TestHandler_Send(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":1}`))
	}))
	defer srv.Close()

	router := gin.New()
	NewHandler(newRelay(t, srv.URL)).RegisterRoutes(router.Group("/api"))

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/send", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	w := post(`{"type":"contact","data":{"name":"Ada"}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"success":true,"response":{"ok":1}}`, w.Body.String())

	assert.Equal(t, http.StatusBadRequest, post(`{"type":"spam","data":{}}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(`not json`).Code)
}

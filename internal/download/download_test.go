package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/blueprintstore/internal/apperr"
	"github.com/mbd888/blueprintstore/internal/artifacts"
	"github.com/mbd888/blueprintstore/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// tokenTable accepts token "ok-<blueprint>" for that blueprint only.
type tokenTable struct{}

func (tokenTable) Verify(_ context.Context, token, blueprintID string) bool {
	return token == "ok-"+blueprintID
}

const artifactBody = `{"name":"Lead Generation System","modules":[]}`

func newTestGate(t *testing.T) (*Gate, *artifacts.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	cat := catalog.NewMemoryStore()
	_, err := catalog.SeedStore(ctx, cat, catalog.Seed(time.Now()))
	require.NoError(t, err)

	store := artifacts.NewMemoryStore()
	require.NoError(t, store.Put(ctx, "lead-generation-system-1.json", []byte(artifactBody), artifacts.ContentTypeJSON))
	require.NoError(t, cat.SetArtifact(ctx, "lead-generation-system", "lead-generation-system-1.json"))
	require.NoError(t, cat.SetArtifact(ctx, "email-ai-assistant", "missing-from-storage.json"))

	return NewGate(cat, store, tokenTable{}), store
}

func TestAuthorizeDownload(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		blueprint string
		header    string
		status    int
	}{
		{"no header", "lead-generation-system", "", http.StatusUnauthorized},
		{"not bearer", "lead-generation-system", "Basic abc", http.StatusUnauthorized},
		{"empty bearer", "lead-generation-system", "Bearer  ", http.StatusUnauthorized},
		{"bad token", "lead-generation-system", "Bearer nope", http.StatusForbidden},
		{"token for other blueprint", "lead-generation-system", "Bearer ok-content-creation-ai", http.StatusForbidden},
		{"no artifact", "content-creation-ai", "Bearer ok-content-creation-ai", http.StatusNotFound},
		{"unknown blueprint", "ghost", "Bearer ok-ghost", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.AuthorizeDownload(ctx, tt.blueprint, tt.header)
			require.Error(t, err)
			assert.Equal(t, tt.status, apperr.StatusOf(err))
		})
	}

	ref, err := g.AuthorizeDownload(ctx, "lead-generation-system", "bearer ok-lead-generation-system")
	require.NoError(t, err)
	assert.Equal(t, "lead-generation-system-1.json", ref.Key)
	assert.Equal(t, "lead-generation-system-blueprint.json", ref.Filename)
}

func serve(g *Gate, path, auth string) *httptest.ResponseRecorder {
	r := gin.New()
	NewHandler(g).RegisterRoutes(r.Group(""))
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestDownload_Streams(t *testing.T) {
	g, _ := newTestGate(t)

	for _, path := range []string{"/download/lead-generation-system", "/download-blueprint/lead-generation-system"} {
		w := serve(g, path, "Bearer ok-lead-generation-system")
		require.Equal(t, http.StatusOK, w.Code, path)
		assert.Equal(t, artifactBody, w.Body.String())
		assert.Equal(t, `attachment; filename="lead-generation-system-blueprint.json"`, w.Header().Get("Content-Disposition"))
		assert.Equal(t, artifacts.ContentTypeJSON, w.Header().Get("Content-Type"))
	}
}

func TestDownload_Errors(t *testing.T) {
	g, _ := newTestGate(t)

	assert.Equal(t, http.StatusUnauthorized, serve(g, "/download/lead-generation-system", "").Code)
	assert.Equal(t, http.StatusForbidden, serve(g, "/download/lead-generation-system", "Bearer bad").Code)

	w := serve(g, "/download/email-ai-assistant", "Bearer ok-email-ai-assistant")
	assert.Equal(t, http.StatusNotFound, w.Code, "artifact key without stored object")
}

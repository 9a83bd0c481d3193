package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(mw gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw)
	r.GET("/api/blueprints", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func TestHeadersMiddleware(t *testing.T) {
	w := httptest.NewRecorder()
	newRouter(HeadersMiddleware(false)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/blueprints", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "https://js.stripe.com")
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "https://*.supabase.co")
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
}

func TestHeadersMiddleware_HSTS(t *testing.T) {
	w := httptest.NewRecorder()
	newRouter(HeadersMiddleware(true)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/blueprints", nil))
	assert.Contains(t, w.Header().Get("Strict-Transport-Security"), "max-age=31536000")
}

func TestCORSMiddleware_AllowList(t *testing.T) {
	r := newRouter(CORSMiddleware([]string{"https://store.example.com"}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/blueprints", nil)
	req.Header.Set("Origin", "https://store.example.com")
	r.ServeHTTP(w, req)
	assert.Equal(t, "https://store.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/blueprints", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddleware_WildcardHasNoCredentials(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/blueprints", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	newRouter(CORSMiddleware(nil)).ServeHTTP(w, req)

	assert.Equal(t, "https://anywhere.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSPreflight(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/blueprints", nil)
	req.Header.Set("Origin", "https://store.example.com")
	newRouter(CORSMiddleware(nil)).ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

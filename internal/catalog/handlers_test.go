package catalog

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupRouter(t *testing.T) (*gin.Engine, *MemoryStore) {
	t.Helper()
	svc, store, _ := newTestService(t)
	h := NewHandler(svc)

	r := gin.New()
	h.RegisterRoutes(r.Group("/api"))
	h.RegisterAdminRoutes(r.Group("/api/admin"))
	return r, store
}

func doJSON(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestListBlueprints_HidesArtifactKey(t *testing.T) {
	r, store := setupRouter(t)
	require.NoError(t, store.SetArtifact(t.Context(), "lead-generation-system", "secret-key.json"))

	w := doJSON(r, http.MethodGet, "/api/blueprints", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "secret-key.json")

	var resp struct {
		Blueprints []Blueprint `json:"blueprints"`
		Count      int         `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 6, resp.Count)
}

func TestGetBlueprint(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(r, http.MethodGet, "/api/blueprints/email-ai-assistant", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"price":119`)

	w = doJSON(r, http.MethodGet, "/api/blueprints/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "blueprint_not_found")
}

func TestCreateBlueprint(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(r, http.MethodPost, "/api/admin/blueprints", validInput())
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"hasArtifact":false`)

	w = doJSON(r, http.MethodPost, "/api/admin/blueprints", validInput())
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreateBlueprint_ValidationDetails(t *testing.T) {
	r, _ := setupRouter(t)
	in := validInput()
	in.Price = -5

	w := doJSON(r, http.MethodPost, "/api/admin/blueprints", in)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "validation_failed", resp["error"])
	assert.NotEmpty(t, resp["details"])
}

func TestCreateBlueprint_BadJSON(t *testing.T) {
	r, _ := setupRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/admin/blueprints", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateAndDeleteBlueprint(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(r, http.MethodPut, "/api/admin/blueprints/content-creation-ai", validInput())
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodDelete, "/api/admin/blueprints/content-creation-ai", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodDelete, "/api/admin/blueprints/content-creation-ai", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func multipartUpload(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("blueprint", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadArtifact(t *testing.T) {
	r, store := setupRouter(t)

	body, ct := multipartUpload(t, "lead.json", []byte(`{"flow":"lead"}`))
	req := httptest.NewRequest(http.MethodPost, "/api/admin/blueprints/lead-generation-system/artifact", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	b, err := store.Get(t.Context(), "lead-generation-system")
	require.NoError(t, err)
	assert.True(t, b.HasArtifact())
}

func TestUploadArtifact_Rejections(t *testing.T) {
	r, _ := setupRouter(t)

	tests := []struct {
		name     string
		filename string
		content  []byte
		code     int
		errCode  string
	}{
		{"not json extension", "notes.txt", []byte(`{}`), http.StatusBadRequest, "not_json"},
		{"unparseable", "bad.json", []byte(`{oops`), http.StatusBadRequest, "invalid_json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := multipartUpload(t, tt.filename, tt.content)
			req := httptest.NewRequest(http.MethodPost, "/api/admin/blueprints/lead-generation-system/artifact", body)
			req.Header.Set("Content-Type", ct)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.code, w.Code)
			assert.Contains(t, w.Body.String(), tt.errCode)
		})
	}
}

func TestUploadArtifact_MissingField(t *testing.T) {
	r, _ := setupRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/admin/blueprints/lead-generation-system/artifact", bytes.NewBufferString("x"))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "missing_file")
}

package purchases

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type listResponse struct {
	Purchases  []Purchase `json:"purchases"`
	Count      int        `json:"count"`
	NextCursor string     `json:"nextCursor"`
	HasMore    bool       `json:"hasMore"`
}

func TestHandler_ListPurchasesPages(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := store.Insert(context.Background(), &Purchase{
			ID:          fmt.Sprintf("pur_%d", i),
			IntentID:    fmt.Sprintf("pi_%d", i),
			BlueprintID: "lead-generation-system",
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	r := gin.New()
	NewHandler(store).RegisterAdminRoutes(r.Group("/api/admin"))

	get := func(path string) (*httptest.ResponseRecorder, listResponse) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		var out listResponse
		_ = json.Unmarshal(w.Body.Bytes(), &out)
		return w, out
	}

	w, page := get("/api/admin/purchases?limit=2")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, page.Count)
	assert.True(t, page.HasMore)
	assert.Equal(t, "pi_4", page.Purchases[0].IntentID)

	var seen []string
	cursor := ""
	for {
		_, page = get("/api/admin/purchases?limit=2&cursor=" + cursor)
		for _, p := range page.Purchases {
			seen = append(seen, p.IntentID)
		}
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}
	assert.Equal(t, []string{"pi_4", "pi_3", "pi_2", "pi_1", "pi_0"}, seen)

	w, _ = get("/api/admin/purchases?cursor=%21%21")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_GetPurchase(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Insert(context.Background(), &Purchase{ID: "pur_1", IntentID: "pi_1", BlueprintID: "bp"})
	require.NoError(t, err)

	r := gin.New()
	NewHandler(store).RegisterAdminRoutes(r.Group("/api/admin"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/admin/purchases/pi_1", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/admin/purchases/pi_missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

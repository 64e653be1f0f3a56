package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lereldarion/xstalker/internal/aggregate"
	"github.com/lereldarion/xstalker/internal/classify"
	"github.com/lereldarion/xstalker/internal/database"
	"github.com/lereldarion/xstalker/internal/query"
	"github.com/lereldarion/xstalker/internal/tracker"
)

const webRules = `
rules:
  - category: code
    app: "^Code$"
  - category: web
    app: "(?i)firefox"
`

var webBase = time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)

type fakeEngine struct {
	status tracker.Status
}

func (f *fakeEngine) Status() tracker.Status { return f.status }

func testRouter(t *testing.T, engine StatusSource) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Connect(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Initialize())
	t.Cleanup(func() { _ = db.Close() })

	table := aggregate.NewTable(time.Hour)
	table.Apply(aggregate.Fold("code", webBase, webBase.Add(90*time.Minute), time.Hour))
	table.Apply(aggregate.Fold("web", webBase.Add(2*time.Hour), webBase.Add(2*time.Hour+30*time.Minute), time.Hour))

	rs, err := classify.ParseRules([]byte(webRules))
	require.NoError(t, err)

	handler := NewHandler(query.NewService(database.NewRepository(db), table), classify.New(rs), engine)
	router := gin.New()
	handler.SetupRoutes(router)
	return router
}

func doGet(t *testing.T, router *gin.Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestBucketsEndpoint(t *testing.T) {
	router := testRouter(t, nil)

	path := "/api/v1/buckets?from=" + webBase.Format(time.RFC3339) +
		"&to=" + webBase.Add(4*time.Hour).Format(time.RFC3339)
	w := doGet(t, router, path)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		SlotWidth string      `json:"slot_width"`
		Buckets   []bucketDTO `json:"buckets"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "1h0m0s", resp.SlotWidth)
	require.Len(t, resp.Buckets, 3)
	assert.Equal(t, "code", resp.Buckets[0].Category)
	assert.Equal(t, 3600.0, resp.Buckets[0].Seconds)
	assert.Equal(t, "code", resp.Buckets[1].Category)
	assert.Equal(t, 1800.0, resp.Buckets[1].Seconds)
	assert.Equal(t, "web", resp.Buckets[2].Category)
}

func TestBucketsEndpointCategoryFilter(t *testing.T) {
	router := testRouter(t, nil)

	path := "/api/v1/buckets?category=web&from=" + webBase.Format(time.RFC3339) +
		"&to=" + webBase.Add(4*time.Hour).Format(time.RFC3339)
	w := doGet(t, router, path)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Buckets []bucketDTO `json:"buckets"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Buckets, 1)
	assert.Equal(t, "web", resp.Buckets[0].Category)
}

func TestBucketsEndpointRejectsBadRange(t *testing.T) {
	router := testRouter(t, nil)

	w := doGet(t, router, "/api/v1/buckets?from=not-a-time")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	path := "/api/v1/buckets?from=" + webBase.Add(time.Hour).Format(time.RFC3339) +
		"&to=" + webBase.Format(time.RFC3339)
	w = doGet(t, router, path)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "from must be before to")
}

func TestReportEndpoint(t *testing.T) {
	router := testRouter(t, nil)

	w := doGet(t, router, "/api/v1/report?period=day")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Period struct {
			Type string `json:"type"`
		} `json:"period"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "day", resp.Period.Type)
}

func TestReportEndpointInvalidPeriod(t *testing.T) {
	router := testRouter(t, nil)

	w := doGet(t, router, "/api/v1/report?period=fortnight")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid period type")
}

func TestCategoriesEndpoint(t *testing.T) {
	router := testRouter(t, nil)

	w := doGet(t, router, "/api/v1/categories")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Categories []string `json:"categories"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	// Rule order first, uncategorized fallback last.
	assert.Equal(t, []string{"code", "web", classify.Uncategorized}, resp.Categories)
}

func TestStatusEndpointWithEngine(t *testing.T) {
	engine := &fakeEngine{status: tracker.Status{
		Running:  true,
		Tracking: true,
		Category: "code",
		Cursor:   42,
	}}
	router := testRouter(t, engine)

	w := doGet(t, router, "/api/v1/status")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Engine *tracker.Status `json:"engine"`
		Store  *struct {
			Intervals int64 `json:"intervals"`
		} `json:"store"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Engine)
	assert.True(t, resp.Engine.Running)
	assert.Equal(t, "code", resp.Engine.Category)
	assert.Equal(t, uint64(42), resp.Engine.Cursor)
	require.NotNil(t, resp.Store)
}

func TestStatusEndpointWithoutEngine(t *testing.T) {
	router := testRouter(t, nil)

	w := doGet(t, router, "/api/v1/status")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), `"engine"`)
	assert.Contains(t, w.Body.String(), `"store"`)
}

func TestHealthEndpoint(t *testing.T) {
	router := testRouter(t, nil)

	w := doGet(t, router, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestMetricsEndpoint(t *testing.T) {
	router := testRouter(t, nil)

	w := doGet(t, router, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "# HELP")
}

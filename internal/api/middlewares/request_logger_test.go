package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/docindex/internal/logging"
	"github.com/markdave123-py/docindex/internal/metrics"
)

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(RequestLogger(logging.NewWithWriter(&buf, "info", "json"), m))
	r.Get("/api/documents/{id}", func(w http.ResponseWriter, req *http.Request) {
		logging.FromContext(req.Context()).Info("inside handler")
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/documents/abc", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var inner, done map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &inner))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &done))
	assert.NotEmpty(t, inner["request_id"])
	assert.Equal(t, inner["request_id"], done["request_id"])
	assert.Equal(t, "/api/documents/abc", done["path"])
	assert.EqualValues(t, http.StatusTeapot, done["status"])

	n, err := testutil.GatherAndCount(reg, "docindex_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRoutePatternUnmatched(t *testing.T) {
	assert.Equal(t, "unmatched", routePattern(httptest.NewRequest(http.MethodGet, "/x", nil)))
}

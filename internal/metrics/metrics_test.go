package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.LinkStep("start", "ok")
	m.TokenOp("rotate", "ok")
	m.Ingest("created")
	m.RateLimited("ingest_burst")
	m.Swept("link_sessions", 3)
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.LinkStep("claim", "not_found")
	m.LinkStep("claim", "not_found")
	m.Ingest("replay")
	m.Swept("refresh_tokens", 5)
	m.Swept("refresh_tokens", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.LinkStepsTotal.WithLabelValues("claim", "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestTotal.WithLabelValues("replay")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.SweepRemovedTotal.WithLabelValues("refresh_tokens")))
}

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	r := mux.NewRouter()
	r.Use(m.Middleware)
	r.HandleFunc("/v1/devices/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}).Methods(http.MethodGet)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/devices/abc", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/v1/devices/{id}", "404")))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "distrack_http_requests_total")
}

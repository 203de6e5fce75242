package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratewatch/ratewatch/internal/core"
	"github.com/ratewatch/ratewatch/internal/core/engine"
	apperrors "github.com/ratewatch/ratewatch/internal/errors"
	"github.com/ratewatch/ratewatch/internal/metrics"
	"github.com/ratewatch/ratewatch/internal/server/handlers"
)

type listRegistry []core.MonitoredAPI

func (l listRegistry) List() []core.MonitoredAPI { return l }

func (l listRegistry) Get(name string) (core.MonitoredAPI, bool) {
	for _, api := range l {
		if api.Key() == core.NormalizeName(name) {
			return api, true
		}
	}
	return core.MonitoredAPI{}, false
}

func newTestServer(t *testing.T) (*Server, *metrics.Collector, *engine.MemoryStore) {
	t.Helper()

	collector := metrics.NewWithRegistry(prometheus.NewRegistry())
	store := engine.NewMemoryStore()
	srv := New(Options{
		Host:     "127.0.0.1",
		Port:     0,
		Registry: listRegistry{{Name: "GitHub", Endpoint: "https://api.github.com/rate_limit", ThresholdPercent: 95}},
		Store:    store,
		Metrics:  collector,
	})
	return srv, collector, store
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServerMethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/apis", nil))

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Contains(t, rec.Body.String(), "METHOD_NOT_ALLOWED")
}

func TestServerServesAPIsAndMetrics(t *testing.T) {
	srv, collector, store := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, store.AppendSample(ctx, core.UsageSample{
		ID: "s1", APIName: "GitHub", Remaining: 100, Limit: 1000, SampledAt: time.Now().UTC(),
	}, 10))
	collector.ObserveOutcome(core.CycleOutcome{APIName: "GitHub", Kind: core.OutcomeSampled})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/apis", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var apis []handlers.APIStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&apis))
	require.Len(t, apis, 1)
	require.NotNil(t, apis[0].Usage)
	assert.InDelta(t, 90.0, *apis[0].Usage, 0.001)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `ratewatch_poll_outcomes_total{api="GitHub",outcome="sampled"} 1`)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.HTTPRequests.WithLabelValues("GET", "/apis", "200")))
}

func TestServerHealthAndVersion(t *testing.T) {
	srv, _, _ := newTestServer(t)

	for _, path := range []string{"/health", "/health/live", "/health/ready", "/version"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestAdminEndpointDisabledWithoutToken(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/signal", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestShutdownBeforeStart(t *testing.T) {
	srv, _, _ := newTestServer(t)
	require.NoError(t, srv.Shutdown(context.Background()))
	assert.Equal(t, "127.0.0.1:0", srv.Addr())
}

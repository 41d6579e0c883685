package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_RegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	require.NotNil(t, m)

	m.RecordReconcile("success", 0.5)
	m.RecordStaleDiscarded()

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "history_reconcile_runs_total")
	assert.Contains(t, names, "history_stale_results_discarded_total")

	// A second registration on the same registry must fail loudly.
	assert.Panics(t, func() { NewMetrics(reg) })
}

func TestReconcileHelpers(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordTransferEvents("instruction", 3)
	m.RecordTransferEvents("balance", 1)
	m.RecordSignatureSkipped("fetch_failed")
	m.RecordSignatureSkipped("fetch_failed")
	m.RecordDroppedLegs(2)
	m.RecordReconcile("listing_failed", 0.1)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.reconcileEventsTotal.WithLabelValues("instruction")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconcileEventsTotal.WithLabelValues("balance")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.reconcileSkippedTotal.WithLabelValues("fetch_failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.reconcileDroppedLegs))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconcileRunsTotal.WithLabelValues("listing_failed")))
}

func TestRecordDBQuery_Status(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordDBQuery("upsert", "history_snapshots", 0.01, nil)
	m.RecordDBQuery("upsert", "history_snapshots", 0.01, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.dbOperationsTotal.WithLabelValues("upsert", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dbOperationsTotal.WithLabelValues("upsert", "error")))
}

func TestStatusCodeToString(t *testing.T) {
	tests := map[int]string{
		200: "2xx",
		204: "2xx",
		301: "3xx",
		404: "4xx",
		502: "5xx",
		0:   "unknown",
		700: "unknown",
	}
	for code, want := range tests {
		assert.Equal(t, want, statusCodeToString(code), "code %d", code)
	}
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	handler := HTTPMetricsMiddleware(m, "/api/v1/history/{address}")(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			w.WriteHeader(http.StatusOK) // ignored by net/http, must not relabel
		}),
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/history/abc", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("/api/v1/history/{address}", "GET", "5xx")))
}

func TestHTTPMetricsMiddleware_ImplicitOK(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	handler := HTTPMetricsMiddleware(m, "/health")(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("ok"))
		}),
	)
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("/health", "GET", "2xx")))
}

func TestHTTPMetricsMiddleware_NilMetrics(t *testing.T) {
	called := false
	handler := HTTPMetricsMiddleware(nil, "/health")(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }),
	)
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.True(t, called)
}

func TestTimer(t *testing.T) {
	var got float64
	stop := Timer(time.Now().Add(-time.Second), func(d float64) { got = d })
	stop()
	assert.GreaterOrEqual(t, got, 1.0)
}

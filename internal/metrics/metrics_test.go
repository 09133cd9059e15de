package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulingMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSchedulingMetrics(reg)

	m.ObserveOperation("create", "ok")
	m.ObserveOperation("create", "conflict")
	m.ObserveOperation("create", "conflict")
	m.ObserveAvailability("ok", 16)
	m.ObserveNoShows(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("create", "conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.availabilityTotal.WithLabelValues("ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.noShowsMarkedTotal))
}

func TestSchedulingMetricsNilSafe(t *testing.T) {
	var m *SchedulingMetrics
	m.ObserveOperation("create", "ok")
	m.ObserveAvailability("ok", 1)
	m.ObserveNoShows(1)
}

func TestHTTPMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	m.Start()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inFlight))
	m.Observe(http.MethodGet, "/appointments", http.StatusOK, 10*time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "/appointments", "200")))

	var nilMetrics *HTTPMetrics
	nilMetrics.Start()
	nilMetrics.Observe(http.MethodGet, "/", http.StatusOK, time.Millisecond)
}

func TestHandlerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSchedulingMetrics(reg)
	m.ObserveOperation("delete", "ok")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "care_scheduling_appointments_operations_total"))
}

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegisterAndServe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.PagesFetched.WithLabelValues("mainnet", "progress").Inc()
	m.PairsInStore.WithLabelValues("mainnet").Set(42)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.PagesFetched.WithLabelValues("mainnet", "progress")))
	assert.Equal(t, float64(42), testutil.ToFloat64(m.PairsInStore.WithLabelValues("mainnet")))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pairsync_pairs{network=\"mainnet\"} 42")
}

func TestNewWithNilRegistererDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		New(nil)
		New(nil)
	})
}

// Package metrics_test tests the Prometheus instrumentation.
package metrics_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/book-expert/voice-model-service/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTest = errors.New("test error")

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()

	m, err := metrics.New()
	require.NoError(t, err)

	m.ObserveGraphLoad(nil)
	m.ObserveGraphLoad(errTest)
	m.ObserveEvaluation(nil)
	m.ObserveEvaluation(nil)
	m.ObserveSynthesis(time.Now(), 1500*time.Millisecond, nil)
	m.ObserveSynthesis(time.Now(), 0, errTest)

	assert.InDelta(t, 1, testutil.ToFloat64(m.GraphLoads.WithLabelValues(metrics.OutcomeSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.GraphLoads.WithLabelValues(metrics.OutcomeError)), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.Evaluations.WithLabelValues(metrics.OutcomeSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Syntheses.WithLabelValues(metrics.OutcomeError)), 0)
	assert.InDelta(t, 1.5, testutil.ToFloat64(m.SynthesizedAudio), 1e-9)
	assert.Equal(t, 1, testutil.CollectAndCount(m.SynthesisDuration))
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()

	m, err := metrics.New()
	require.NoError(t, err)

	m.CachedGraphs.Set(3)

	server := httptest.NewServer(m.Handler())
	defer server.Close()

	response, err := http.Get(server.URL)
	require.NoError(t, err)

	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, response.StatusCode)
	assert.Contains(t, string(body), "voice_model_cart_cached_graphs 3")
	assert.Contains(t, string(body), "go_goroutines")
}

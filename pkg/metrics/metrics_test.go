package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestNewRegistersOnRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Query("ok")
	m.Classified("none")

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["relevance_queries_total"])
	assert.True(t, names["relevance_records_classified_total"])
}

func TestHelpers(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Query("ok")
	m.Query("ok")
	m.Corrections(3)
	m.Corrections(0)
	m.Expansion("alternative", 4)
	m.Hidden("safe", 2)
	m.Hidden("safe", 0)
	m.Cache("safety", "hit")
	m.Archive("error")
	m.Event("dropped", 1)
	m.Vocabulary(120, 7)
	m.BreakerState("cache", 1)
	m.ObserveStage("spell", 3*time.Millisecond)
	m.Score(0.42)

	assert.Equal(t, 2.0, counterValue(t, m.QueriesTotal.WithLabelValues("ok")))
	assert.Equal(t, 3.0, counterValue(t, m.CorrectionsTotal))
	assert.Equal(t, 4.0, counterValue(t, m.ExpansionsTotal.WithLabelValues("alternative")))
	assert.Equal(t, 2.0, counterValue(t, m.RecordsHidden.WithLabelValues("safe")))
	assert.Equal(t, 1.0, counterValue(t, m.CacheRequestsTotal.WithLabelValues("safety", "hit")))
	assert.Equal(t, 1.0, counterValue(t, m.ArchiveRequestsTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, counterValue(t, m.EventsTotal.WithLabelValues("dropped")))
	assert.Equal(t, 120.0, gaugeValue(t, m.VocabularySize))
	assert.Equal(t, 7.0, gaugeValue(t, m.VocabularyEvictions))
	assert.Equal(t, 1.0, gaugeValue(t, m.CircuitBreakerState.WithLabelValues("cache")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Query("ok")
		m.Corrections(1)
		m.Expansion("hybrid", 1)
		m.Classified("explicit")
		m.Hidden("safe", 1)
		m.Cache("expand", "miss")
		m.Archive("ok")
		m.Event("published", 1)
		m.Score(1)
		m.Vocabulary(1, 1)
		m.BreakerState("cache", 0)
		m.ObserveStage("classify", time.Millisecond)
	})
}

func TestHandlerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Query("archive_fallback")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `relevance_queries_total{outcome="archive_fallback"} 1`)
}

func TestStartServer(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg).Archive("ok")

	s, err := StartServer("127.0.0.1:0", reg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `relevance_archive_requests_total{status="ok"} 1`)

	resp, err = http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = StartServer(s.Addr(), reg)
	assert.ErrorContains(t, err, "metrics listener")
}

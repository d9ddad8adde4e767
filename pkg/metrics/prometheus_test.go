package metrics

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCollector_IncrementCounter(t *testing.T) {
	collector := NewPrometheusCollector()
	collector.IncrementCounter("test_counter", "collection", "students")
	collector.IncrementCounter("test_counter", "collection", "students")

	counter := collector.counters["test_counter"]
	require.NotNil(t, counter, "Counter should be created")

	value := testutil.ToFloat64(counter.WithLabelValues("students"))
	assert.Equal(t, float64(2), value, "Counter should be incremented twice")
}

func TestPrometheusCollector_RecordHistogram(t *testing.T) {
	collector := NewPrometheusCollector()
	collector.RecordHistogram("test_histogram", 0.25, "phase", "before")

	histogram := collector.histograms["test_histogram"]
	require.NotNil(t, histogram, "Histogram should be created")

	count := testutil.CollectAndCount(histogram)
	assert.Equal(t, 1, count, "Histogram should have one series")
}

func TestPrometheusCollector_RecordGauge(t *testing.T) {
	collector := NewPrometheusCollector()
	collector.RecordGauge("test_gauge", -3, "collection", "students")

	gauge := collector.gauges["test_gauge"]
	require.NotNil(t, gauge, "Gauge should be created")

	value := testutil.ToFloat64(gauge.WithLabelValues("students"))
	assert.Equal(t, float64(-3), value)
}

func TestPrometheusCollector_Timer(t *testing.T) {
	collector := NewPrometheusCollector()
	timer := collector.StartTimer("test_timer")
	time.Sleep(5 * time.Millisecond)
	duration := timer.Stop()

	assert.Greater(t, duration, 0.0)
	assert.NotNil(t, collector.histograms["test_timer"])
}

func TestPrometheusCollector_TimerWithLabels(t *testing.T) {
	collector := NewPrometheusCollector()

	collector.StartTimer(PhaseDuration, "phase", "before").Stop()
	collector.StartTimer(PhaseDuration, "phase", "after").Stop()

	count, err := testutil.GatherAndCount(collector.Registry(), PhaseDuration)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestPrometheusCollector_ConcurrentRegistration(t *testing.T) {
	collector := NewPrometheusCollector()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.IncrementCounter("test_concurrent", "outcome", "success")
		}()
	}
	wg.Wait()

	value := testutil.ToFloat64(collector.counters["test_concurrent"].WithLabelValues("success"))
	assert.Equal(t, float64(16), value)
}

func TestPrometheusCollector_Push(t *testing.T) {
	var pushed bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pushed = true
		assert.Contains(t, r.URL.Path, "/metrics/job/planbench")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	collector := NewPrometheusCollector()
	collector.IncrementCounter(ComparisonsTotal, "collection", "students", "outcome", "success")

	require.NoError(t, collector.Push(server.URL, "planbench"))
	assert.True(t, pushed)
}

func TestNoOpCollector(t *testing.T) {
	collector := NewNoOpCollector()
	collector.IncrementCounter("noop")
	collector.RecordHistogram("noop", 1)
	collector.RecordGauge("noop", 1)
	assert.GreaterOrEqual(t, collector.StartTimer("noop").Stop(), 0.0)
}

func TestParseLabelPairs(t *testing.T) {
	names, values := parseLabelPairs([]string{"a", "1", "b", "2", "dangling"})
	assert.Equal(t, []string{"a", "b"}, names)
	assert.Equal(t, []string{"1", "2"}, values)
}

package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics backed by a ManualReader.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor returns the counter value for the data point carrying attr, or the
// total across points when attr is empty.
func sumFor(t *testing.T, m *metricdata.Metrics, attr attribute.KeyValue) int64 {
	t.Helper()
	require.NotNil(t, m)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "%s is not an int64 sum", m.Name)

	var total int64
	for _, dp := range sum.DataPoints {
		if attr.Key == "" {
			total += dp.Value
			continue
		}
		if v, ok := dp.Attributes.Value(attr.Key); ok && v.Emit() == attr.Value.Emit() {
			total += dp.Value
		}
	}
	return total
}

func TestCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.FramesSent.Add(ctx, 3)
	m.FramesReceived.Add(ctx, 2)
	m.FramesRendered.Add(ctx, 1)
	m.QueueDrops.Add(ctx, 4)
	m.RecordSendFailure(ctx, "internal")
	m.RecordSendFailure(ctx, "internal")
	m.RecordSendFailure(ctx, "not_found")
	m.RecordRegisterFailure(ctx, "table_full")

	rm := collect(t, reader)
	var none attribute.KeyValue

	assert.Equal(t, int64(3), sumFor(t, findMetric(rm, "wifiphone.frames.sent"), none))
	assert.Equal(t, int64(2), sumFor(t, findMetric(rm, "wifiphone.frames.received"), none))
	assert.Equal(t, int64(1), sumFor(t, findMetric(rm, "wifiphone.frames.rendered"), none))
	assert.Equal(t, int64(4), sumFor(t, findMetric(rm, "wifiphone.queue.drops"), none))

	failures := findMetric(rm, "wifiphone.send.failures")
	assert.Equal(t, int64(2), sumFor(t, failures, attribute.String("result", "internal")))
	assert.Equal(t, int64(1), sumFor(t, failures, attribute.String("result", "not_found")))
	assert.Equal(t, int64(1), sumFor(t, findMetric(rm, "wifiphone.register.failures"), attribute.String("result", "table_full")))
}

func TestRecordDiscovery(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordDiscovery(ctx, DiscoveryEmpty, 0)
	m.RecordDiscovery(ctx, DiscoveryFound, 3)
	m.RecordDiscovery(ctx, DiscoveryError, 0)

	rm := collect(t, reader)
	passes := findMetric(rm, "wifiphone.discovery.passes")
	assert.Equal(t, int64(3), sumFor(t, passes, attribute.KeyValue{}))
	assert.Equal(t, int64(1), sumFor(t, passes, attribute.String("outcome", DiscoveryFound)))

	peers := findMetric(rm, "wifiphone.peers")
	require.NotNil(t, peers)
	gauge, ok := peers.Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(3), gauge.DataPoints[0].Value, "error pass leaves the gauge alone")
}

func TestRecordDevice(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordDevice(ctx, OpCapture, 10*time.Millisecond, 50*time.Millisecond)
	m.RecordDevice(ctx, OpCapture, 80*time.Millisecond, 50*time.Millisecond)
	m.RecordDevice(ctx, OpRender, 5*time.Millisecond, 0)

	rm := collect(t, reader)

	hist := findMetric(rm, "wifiphone.device.duration")
	require.NotNil(t, hist)
	data, ok := hist.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range data.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(3), count)

	overruns := findMetric(rm, "wifiphone.device.overruns")
	assert.Equal(t, int64(1), sumFor(t, overruns, attribute.String("op", OpCapture)))
}

func TestNoop(t *testing.T) {
	m := Noop()
	assert.NotPanics(t, func() {
		m.RecordDevice(context.Background(), OpRender, time.Second, time.Millisecond)
		m.RecordDiscovery(context.Background(), DiscoveryFound, 1)
	})
}

func TestHandlerServesHealthAndMetrics(t *testing.T) {
	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}

// Package metrics records relay activity through the OpenTelemetry Metrics
// API. InitProvider installs a Prometheus exporter bridge so the counters can
// be scraped from the /metrics endpoint served by Serve.
//
// Tests should build a Metrics with NewMetrics and an SDK MeterProvider
// backed by a ManualReader; code that does not care about metrics can use
// Noop.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope for every wifiphone instrument.
const meterName = "github.com/opd-ai/wifiphone"

// Device operation names used as the "op" attribute.
const (
	OpCapture = "capture"
	OpRender  = "render"
)

// Discovery outcomes used as the "outcome" attribute.
const (
	DiscoveryFound = "found"
	DiscoveryEmpty = "empty"
	DiscoveryError = "error"
)

// Metrics holds every instrument. All fields are safe for concurrent use.
type Metrics struct {
	// FramesSent counts datagrams accepted by the transport, per peer send.
	FramesSent metric.Int64Counter

	// FramesReceived counts datagrams delivered by the transport.
	FramesReceived metric.Int64Counter

	// FramesRendered counts frames handed to the playback device.
	FramesRendered metric.Int64Counter

	// FramesLost counts gaps detected by the sequenced wire codec.
	FramesLost metric.Int64Counter

	// SendFailures counts failed sends. Attribute: result.
	SendFailures metric.Int64Counter

	// RegisterFailures counts failed registrations. Attribute: result.
	RegisterFailures metric.Int64Counter

	// QueueDrops counts frames evicted from a full jitter queue.
	QueueDrops metric.Int64Counter

	// DiscoveryPasses counts discovery passes. Attribute: outcome.
	DiscoveryPasses metric.Int64Counter

	// DeviceOverruns counts device calls that exceeded their budget.
	// Attribute: op.
	DeviceOverruns metric.Int64Counter

	// KnownPeers is the size of the peer table after the last discovery.
	KnownPeers metric.Int64Gauge

	// DeviceDuration tracks capture and render latency. Attribute: op.
	DeviceDuration metric.Float64Histogram
}

// deviceBuckets are histogram boundaries in seconds around one audio period.
var deviceBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.02, 0.03, 0.05, 0.075, 0.1, 0.25,
}

// NewMetrics creates every instrument from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesSent, err = m.Int64Counter("wifiphone.frames.sent",
		metric.WithDescription("Datagrams accepted by the link, one per peer."),
	); err != nil {
		return nil, err
	}
	if met.FramesReceived, err = m.Int64Counter("wifiphone.frames.received",
		metric.WithDescription("Datagrams delivered by the link."),
	); err != nil {
		return nil, err
	}
	if met.FramesRendered, err = m.Int64Counter("wifiphone.frames.rendered",
		metric.WithDescription("Frames written to the playback device."),
	); err != nil {
		return nil, err
	}
	if met.FramesLost, err = m.Int64Counter("wifiphone.frames.lost",
		metric.WithDescription("Frames missing from sequenced streams."),
	); err != nil {
		return nil, err
	}
	if met.SendFailures, err = m.Int64Counter("wifiphone.send.failures",
		metric.WithDescription("Failed sends by transport result."),
	); err != nil {
		return nil, err
	}
	if met.RegisterFailures, err = m.Int64Counter("wifiphone.register.failures",
		metric.WithDescription("Failed peer registrations by transport result."),
	); err != nil {
		return nil, err
	}
	if met.QueueDrops, err = m.Int64Counter("wifiphone.queue.drops",
		metric.WithDescription("Frames evicted from the full jitter queue."),
	); err != nil {
		return nil, err
	}
	if met.DiscoveryPasses, err = m.Int64Counter("wifiphone.discovery.passes",
		metric.WithDescription("Discovery passes by outcome."),
	); err != nil {
		return nil, err
	}
	if met.DeviceOverruns, err = m.Int64Counter("wifiphone.device.overruns",
		metric.WithDescription("Device calls that exceeded their time budget."),
	); err != nil {
		return nil, err
	}
	if met.KnownPeers, err = m.Int64Gauge("wifiphone.peers",
		metric.WithDescription("Peers in the table after the last discovery pass."),
	); err != nil {
		return nil, err
	}
	if met.DeviceDuration, err = m.Float64Histogram("wifiphone.device.duration",
		metric.WithDescription("Latency of audio device capture and render calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(deviceBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Noop returns a Metrics whose instruments discard everything.
func Noop() *Metrics {
	met, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic("metrics: noop provider failed: " + err.Error())
	}
	return met
}

// RecordSendFailure increments SendFailures for result.
func (m *Metrics) RecordSendFailure(ctx context.Context, result string) {
	m.SendFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordRegisterFailure increments RegisterFailures for result.
func (m *Metrics) RecordRegisterFailure(ctx context.Context, result string) {
	m.RegisterFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordDiscovery counts one pass and sets the peer gauge.
func (m *Metrics) RecordDiscovery(ctx context.Context, outcome string, peers int) {
	m.DiscoveryPasses.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if outcome != DiscoveryError {
		m.KnownPeers.Record(ctx, int64(peers))
	}
}

// RecordDevice observes one device call and counts it as an overrun when it
// took longer than budget.
func (m *Metrics) RecordDevice(ctx context.Context, op string, took, budget time.Duration) {
	attrs := metric.WithAttributes(attribute.String("op", op))
	m.DeviceDuration.Record(ctx, took.Seconds(), attrs)
	if budget > 0 && took > budget {
		m.DeviceOverruns.Add(ctx, 1, attrs)
	}
}

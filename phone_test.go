package wifiphone

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/opd-ai/wifiphone/audio"
	"github.com/opd-ai/wifiphone/config"
	"github.com/opd-ai/wifiphone/relay"
	"github.com/opd-ai/wifiphone/transport"
)

func memoryOptions(t *testing.T, medium *transport.Medium, addr string) (*Options, *audio.ToneDevice) {
	t.Helper()

	opts := NewOptions()
	opts.Config.Link.Type = config.LinkMemory
	opts.Config.Node.Addr = addr
	opts.Medium = medium
	opts.MeterProvider = sdkmetric.NewMeterProvider()

	dev, err := audio.NewToneDevice(opts.Config.Audio.StreamConfig(), 440)
	require.NoError(t, err)
	opts.Device = dev
	return opts, dev
}

func TestNewDefaults(t *testing.T) {
	opts := NewOptions()
	opts.Config.Link.Type = config.LinkMemory

	p, err := New(opts)
	require.NoError(t, err)
	defer p.Kill()

	assert.True(t, p.IsRunning())
	assert.Equal(t, relay.StateNoPeers, p.State())
	assert.False(t, p.SelfAddress().IsZero())
	assert.Equal(t, 248, p.Session().ChunkSize())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	opts := NewOptions()
	opts.Config.Relay.WireMode = "compressed"

	_, err := New(opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay.wire_mode")
}

func TestNewDeviceFailureIsFatal(t *testing.T) {
	opts := NewOptions()
	opts.Config.Link.Type = config.LinkMemory
	opts.Config.Audio.Device = config.DeviceMiniaudio

	_, err := New(opts)
	assert.ErrorIs(t, err, audio.ErrDeviceInit)

	opts.OpenDevice = func(audio.StreamConfig) (audio.Device, error) {
		return nil, audio.ErrDeviceInit
	}
	_, err = New(opts)
	assert.ErrorIs(t, err, audio.ErrDeviceInit)
}

func TestNodeNameUsesPrefix(t *testing.T) {
	cfg := config.Default()
	addr := transport.Addr{0x02, 0, 0, 0, 0, 0x07}

	assert.Equal(t, "ESPNOW:02:00:00:00:00:07", NodeName(cfg, addr))

	cfg.Node.Name = "ESPNOW:nursery"
	assert.Equal(t, "ESPNOW:nursery", NodeName(cfg, addr))
}

func TestNewLinkMemoryJoinsMedium(t *testing.T) {
	medium := transport.NewMedium(transport.MediumConfig{})
	cfg := config.Default()
	cfg.Link.Type = config.LinkMemory
	cfg.Node.Addr = "02:00:00:00:00:01"

	a, err := NewLink(cfg, medium)
	require.NoError(t, err)
	defer a.Close()

	cfg.Node.Addr = "02:00:00:00:00:02"
	b, err := NewLink(cfg, medium)
	require.NoError(t, err)
	defer b.Close()

	ads, err := b.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, ads, 1)
	assert.Equal(t, "ESPNOW:02:00:00:00:00:01", ads[0].Name)
}

func TestTwoPhonesRelay(t *testing.T) {
	medium := transport.NewMedium(transport.MediumConfig{})

	optsA, devA := memoryOptions(t, medium, "02:00:00:00:00:0a")
	optsB, devB := memoryOptions(t, medium, "02:00:00:00:00:0b")

	a, err := New(optsA)
	require.NoError(t, err)
	defer a.Kill()
	b, err := New(optsB)
	require.NoError(t, err)
	defer b.Kill()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errs := make(chan error, 2)
	go func() { errs <- a.Run(ctx) }()
	go func() { errs <- b.Run(ctx) }()

	require.Eventually(t, func() bool {
		return a.State() == relay.StateHasPeers && b.State() == relay.StateHasPeers
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return devA.Rendered() > 0 && devB.Rendered() > 0
	}, 5*time.Second, 10*time.Millisecond)

	peers := a.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, b.SelfAddress(), peers[0].Address)

	cancel()
	for range 2 {
		select {
		case err := <-errs:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("Run did not return after cancel")
		}
	}
}

func TestKill(t *testing.T) {
	medium := transport.NewMedium(transport.MediumConfig{})
	opts, _ := memoryOptions(t, medium, "02:00:00:00:00:0c")

	p, err := New(opts)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.cancel != nil
	}, time.Second, time.Millisecond)

	p.Kill()
	p.Kill()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Kill")
	}

	assert.False(t, p.IsRunning())
	assert.True(t, errors.Is(p.Run(context.Background()), ErrKilled))
	assert.ErrorIs(t, p.Iterate(context.Background()), ErrKilled)
}

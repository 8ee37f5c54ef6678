package audio

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefaultStreamConfig verifies the defaults match the 8 kHz/16-bit stereo link format.
func TestDefaultStreamConfig(t *testing.T) {
	cfg := DefaultStreamConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 4, cfg.FrameSize())
	assert.Equal(t, 32000, cfg.BytesPerSecond())
	assert.Equal(t, 248, cfg.PayloadSize, "payload is aligned down to whole sample frames")
	assert.Equal(t, 7750*time.Microsecond, cfg.ChunkPeriod())
	assert.Equal(t, uint32(62), cfg.Samples(cfg.PayloadSize))
}

// TestStreamConfigValidate covers each rejected field.
func TestStreamConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  StreamConfig
	}{
		{"zero rate", StreamConfig{SampleRate: 0, BitsPerSample: 16, Channels: 1, PayloadSize: 200}},
		{"odd depth", StreamConfig{SampleRate: 8000, BitsPerSample: 12, Channels: 1, PayloadSize: 200}},
		{"no channels", StreamConfig{SampleRate: 8000, BitsPerSample: 16, Channels: 0, PayloadSize: 200}},
		{"payload under one frame", StreamConfig{SampleRate: 8000, BitsPerSample: 32, Channels: 2, PayloadSize: 7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.cfg.Validate(), ErrInvalidConfig)
		})
	}
}

// TestAlignPayload verifies chunks never split a sample frame.
func TestAlignPayload(t *testing.T) {
	cfg := StreamConfig{SampleRate: 48000, BitsPerSample: 24, Channels: 2}
	assert.Equal(t, 246, cfg.AlignPayload(250))
	assert.Equal(t, 0, cfg.AlignPayload(5))
}

// TestPutSampleBounds checks the extremes of each supported depth.
func TestPutSampleBounds(t *testing.T) {
	buf := make([]byte, 4)

	PutSample(buf, 8, 0)
	assert.Equal(t, byte(128), buf[0])

	PutSample(buf, 16, 1)
	assert.Equal(t, uint16(32767), binary.LittleEndian.Uint16(buf))

	PutSample(buf, 16, -2) // clamped
	assert.Equal(t, int16(-32767), int16(binary.LittleEndian.Uint16(buf)))

	PutSample(buf, 32, 0)
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(buf))
}

// TestWiden8To16 verifies unsigned to signed conversion.
func TestWiden8To16(t *testing.T) {
	out := Widen8To16([]byte{0, 128, 255})
	require.Len(t, out, 6)
	assert.Equal(t, int16(-32768), int16(binary.LittleEndian.Uint16(out[0:])))
	assert.Equal(t, int16(0), int16(binary.LittleEndian.Uint16(out[2:])))
	assert.Equal(t, int16(32512), int16(binary.LittleEndian.Uint16(out[4:])))
}

// TestToneDeviceCapturePacing verifies capture blocks for the audio time it returns.
func TestToneDeviceCapturePacing(t *testing.T) {
	cfg := StreamConfig{SampleRate: 8000, BitsPerSample: 16, Channels: 1, PayloadSize: 160}
	dev, err := NewToneDevice(cfg, 440)
	require.NoError(t, err)
	defer dev.Close()

	buf := make([]byte, cfg.PayloadSize)
	start := time.Now()
	for i := 0; i < 5; i++ {
		n, err := dev.Capture(context.Background(), buf)
		require.NoError(t, err)
		require.Equal(t, cfg.PayloadSize, n)
	}
	elapsed := time.Since(start)

	// 5 chunks of 10ms each
	assert.GreaterOrEqual(t, elapsed, 45*time.Millisecond)
	assert.NotEqual(t, make([]byte, len(buf)), buf, "tone should not be silent")
}

// TestToneDeviceRenderAndClose verifies render accounting and closed errors.
func TestToneDeviceRenderAndClose(t *testing.T) {
	cfg := StreamConfig{SampleRate: 8000, BitsPerSample: 16, Channels: 1, PayloadSize: 16}
	dev, err := NewToneDevice(cfg, 0)
	require.NoError(t, err)

	n, err := dev.Render(context.Background(), make([]byte, 16))
	require.NoError(t, err)
	assert.Equal(t, 16, n)
	assert.Equal(t, uint64(16), dev.Rendered())

	require.NoError(t, dev.Close())
	_, err = dev.Render(context.Background(), make([]byte, 16))
	assert.ErrorIs(t, err, ErrDeviceClosed)
	_, err = dev.Capture(context.Background(), make([]byte, 16))
	assert.ErrorIs(t, err, ErrDeviceClosed)
}

// TestToneDeviceHonoursDeadline verifies a short deadline interrupts pacing.
func TestToneDeviceHonoursDeadline(t *testing.T) {
	cfg := StreamConfig{SampleRate: 8000, BitsPerSample: 16, Channels: 1, PayloadSize: 16000}
	dev, err := NewToneDevice(cfg, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	n, err := dev.Capture(ctx, make([]byte, cfg.PayloadSize))
	assert.Equal(t, cfg.PayloadSize, n, "generated data is still returned")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestNewToneDeviceRejectsBadConfig verifies init failures are classified.
func TestNewToneDeviceRejectsBadConfig(t *testing.T) {
	_, err := NewToneDevice(StreamConfig{}, 440)
	assert.ErrorIs(t, err, ErrDeviceInit)

	_, err = NewToneDevice(DefaultStreamConfig(), 5000)
	assert.ErrorIs(t, err, ErrDeviceInit)
}

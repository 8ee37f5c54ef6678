// Package miniaudio implements audio.Device on top of the miniaudio library
// through github.com/gen2brain/malgo. One duplex device captures from the
// default input and plays to the default output at the session's fixed
// format; the realtime callback exchanges PCM with the relay through two
// byte rings so it never blocks.
package miniaudio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/wifiphone/audio"
)

// Compile-time interface assertion.
var _ audio.Device = (*Device)(nil)

// DefaultBufferPeriod is the audio time each direction may buffer between
// the callback and the relay loop.
const DefaultBufferPeriod = 100 * time.Millisecond

// Options tune the device beyond the stream format.
type Options struct {
	// BufferPeriod sizes the capture and playback rings. Zero selects
	// DefaultBufferPeriod.
	BufferPeriod time.Duration
}

// Device is a duplex miniaudio device.
type Device struct {
	cfg      audio.StreamConfig
	mctx     *malgo.AllocatedContext
	dev      *malgo.Device
	capture  *pipe
	playback *pipe

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// Open initializes miniaudio and starts a duplex device for cfg. Any failure
// is wrapped in audio.ErrDeviceInit.
func Open(cfg audio.StreamConfig, opts Options) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", audio.ErrDeviceInit, err)
	}
	format, err := sampleFormat(cfg.BitsPerSample)
	if err != nil {
		return nil, err
	}
	if opts.BufferPeriod <= 0 {
		opts.BufferPeriod = DefaultBufferPeriod
	}

	ringSize := cfg.AlignPayload(int(int64(cfg.BytesPerSecond()) * int64(opts.BufferPeriod) / int64(time.Second)))
	if ringSize < 2*cfg.PayloadSize {
		ringSize = 2 * cfg.PayloadSize
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logrus.WithFields(logrus.Fields{
			"function": "miniaudio",
		}).Debug(message)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: init context: %w", audio.ErrDeviceInit, err)
	}

	d := &Device{
		cfg:      cfg,
		mctx:     mctx,
		capture:  newPipe(ringSize),
		playback: newPipe(ringSize),
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Duplex)
	devCfg.Capture.Format = format
	devCfg.Capture.Channels = uint32(cfg.Channels)
	devCfg.Playback.Format = format
	devCfg.Playback.Channels = uint32(cfg.Channels)
	devCfg.SampleRate = cfg.SampleRate
	devCfg.Alsa.NoMMap = 1

	dev, err := malgo.InitDevice(mctx.Context, devCfg, malgo.DeviceCallbacks{
		Data: d.onData,
	})
	if err != nil {
		d.freeContext()
		return nil, fmt.Errorf("%w: init device: %w", audio.ErrDeviceInit, err)
	}
	d.dev = dev

	if err := dev.Start(); err != nil {
		dev.Uninit()
		d.freeContext()
		return nil, fmt.Errorf("%w: start device: %w", audio.ErrDeviceInit, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "miniaudio.Open",
		"stream":    cfg.String(),
		"ring_size": ringSize,
	}).Info("Duplex audio device started")

	return d, nil
}

// onData is the realtime callback: it must not block or allocate.
func (d *Device) onData(out, in []byte, _ uint32) {
	if len(in) > 0 {
		d.capture.overwrite(in)
	}
	if len(out) > 0 {
		n := d.playback.read(out)
		clear(out[n:])
	}
}

// Capture blocks until buf is full of recorded PCM or ctx is done.
func (d *Device) Capture(ctx context.Context, buf []byte) (int, error) {
	if d.isClosed() {
		return 0, audio.ErrDeviceClosed
	}
	return d.capture.readFull(ctx, buf)
}

// Render blocks until buf is queued for playback or ctx is done.
func (d *Device) Render(ctx context.Context, buf []byte) (int, error) {
	if d.isClosed() {
		return 0, audio.ErrDeviceClosed
	}
	return d.playback.writeFull(ctx, buf)
}

// Config returns the stream format.
func (d *Device) Config() audio.StreamConfig {
	return d.cfg
}

// CaptureOverruns returns the number of captured bytes discarded because
// the relay loop did not keep up.
func (d *Device) CaptureOverruns() uint64 {
	return d.capture.dropped()
}

// Close stops the device and frees miniaudio. It is safe to call more than once.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()

		if d.dev != nil {
			d.dev.Uninit()
		}
		d.freeContext()

		logrus.WithFields(logrus.Fields{
			"function": "miniaudio.Close",
		}).Info("Duplex audio device closed")
	})
	return nil
}

func (d *Device) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Device) freeContext() {
	if d.mctx == nil {
		return
	}
	_ = d.mctx.Uninit()
	d.mctx.Free()
	d.mctx = nil
}

func sampleFormat(bits uint16) (malgo.FormatType, error) {
	switch bits {
	case 8:
		return malgo.FormatU8, nil
	case 16:
		return malgo.FormatS16, nil
	case 24:
		return malgo.FormatS24, nil
	case 32:
		return malgo.FormatS32, nil
	default:
		return malgo.FormatUnknown, fmt.Errorf("%w: unsupported bit depth %d", audio.ErrDeviceInit, bits)
	}
}

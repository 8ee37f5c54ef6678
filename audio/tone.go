package audio

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ToneDevice is a Device without hardware. Capture produces a sine tone
// (or silence) and Render discards audio; both block for the audio time the
// data represents, so a ToneDevice keeps the same cadence as a real codec.
type ToneDevice struct {
	cfg       StreamConfig
	frequency float64
	amplitude float64

	mu          sync.Mutex
	sample      uint64
	captureNext time.Time
	renderNext  time.Time
	rendered    uint64
	closed      bool
}

// NewToneDevice creates a paced device producing a sine at frequency Hz.
// A frequency of zero produces silence.
func NewToneDevice(cfg StreamConfig, frequency float64) (*ToneDevice, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceInit, err)
	}
	if frequency < 0 || frequency > float64(cfg.SampleRate)/2 {
		return nil, fmt.Errorf("%w: tone frequency %.1f outside (0, %d]", ErrDeviceInit, frequency, cfg.SampleRate/2)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "NewToneDevice",
		"stream":    cfg.String(),
		"frequency": frequency,
	}).Info("Opening tone device")

	return &ToneDevice{
		cfg:       cfg,
		frequency: frequency,
		amplitude: 0.5,
	}, nil
}

// Capture fills buf with whole sample frames of the tone.
func (d *ToneDevice) Capture(ctx context.Context, buf []byte) (int, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return 0, ErrDeviceClosed
	}
	n := d.cfg.AlignPayload(len(buf))
	d.fill(buf[:n])
	d.mu.Unlock()

	return n, d.pace(ctx, &d.captureNext, n)
}

// Render accepts buf and blocks for the audio time it covers.
func (d *ToneDevice) Render(ctx context.Context, buf []byte) (int, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return 0, ErrDeviceClosed
	}
	d.rendered += uint64(len(buf))
	d.mu.Unlock()

	return len(buf), d.pace(ctx, &d.renderNext, len(buf))
}

// Rendered returns the total number of bytes accepted by Render.
func (d *ToneDevice) Rendered() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rendered
}

// Config returns the stream format.
func (d *ToneDevice) Config() StreamConfig {
	return d.cfg
}

// Close marks the device closed. It is safe to call more than once.
func (d *ToneDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// fill writes sine samples to buf, advancing the phase. Caller holds mu.
func (d *ToneDevice) fill(buf []byte) {
	width := int(d.cfg.BitsPerSample / 8)
	frameSize := d.cfg.FrameSize()
	step := 2 * math.Pi * d.frequency / float64(d.cfg.SampleRate)

	for off := 0; off+frameSize <= len(buf); off += frameSize {
		v := 0.0
		if d.frequency > 0 {
			v = d.amplitude * math.Sin(step*float64(d.sample))
		}
		for ch := 0; ch < int(d.cfg.Channels); ch++ {
			PutSample(buf[off+ch*width:], d.cfg.BitsPerSample, v)
		}
		d.sample++
	}
}

// pace blocks until the schedule in next has advanced by the audio time of
// n bytes. Up to one chunk of lag is absorbed without waiting; a schedule
// further behind restarts from now instead of bursting.
func (d *ToneDevice) pace(ctx context.Context, next *time.Time, n int) error {
	d.mu.Lock()
	now := time.Now()
	period := d.cfg.Period(n)
	if now.Sub(*next) > period {
		*next = now
	}
	*next = next.Add(period)
	wait := time.Until(*next)
	d.mu.Unlock()

	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

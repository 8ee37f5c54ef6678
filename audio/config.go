// Package audio defines the duplex audio device boundary consumed by the
// relay: the fixed stream format negotiated once per session and the
// Device interface that captures and renders PCM at that format's cadence.
//
// Implementations live next to this package:
//
//   - ToneDevice: paced sine generator and sink for headless operation.
//   - audio/miniaudio: a real capture/playback device backed by miniaudio.
//
// All sample data is interleaved little-endian PCM. 8-bit data is unsigned,
// wider depths are signed.
package audio

import (
	"errors"
	"fmt"
	"time"

	"github.com/opd-ai/wifiphone/limits"
)

// Default stream parameters: 8 kHz, 16-bit, stereo. One full-MTU chunk is
// a little under 8ms of audio.
const (
	DefaultSampleRate    = 8000
	DefaultBitsPerSample = 16
	DefaultChannels      = 2
)

// ErrInvalidConfig indicates a StreamConfig that no device can run.
var ErrInvalidConfig = errors.New("invalid stream config")

// StreamConfig holds the audio format fixed for the lifetime of a session.
// Changing any field requires tearing down both the device and the transport.
type StreamConfig struct {
	// SampleRate in Hz.
	SampleRate uint32

	// BitsPerSample is one of 8, 16, 24 or 32.
	BitsPerSample uint16

	// Channels is the interleaved channel count (1 mono, 2 stereo).
	Channels uint16

	// PayloadSize is the number of PCM bytes carried by one frame: the
	// transport MTU minus any reserved header bytes.
	PayloadSize int
}

// DefaultStreamConfig returns the default format with a full link payload.
func DefaultStreamConfig() StreamConfig {
	cfg := StreamConfig{
		SampleRate:    DefaultSampleRate,
		BitsPerSample: DefaultBitsPerSample,
		Channels:      DefaultChannels,
	}
	cfg.PayloadSize = cfg.AlignPayload(limits.MaxLinkPayload)
	return cfg
}

// SupportedBitDepth reports whether bits is a sample width devices accept.
func SupportedBitDepth(bits uint16) bool {
	switch bits {
	case 8, 16, 24, 32:
		return true
	default:
		return false
	}
}

// Validate checks that the config describes a runnable stream.
func (c StreamConfig) Validate() error {
	var errs []error
	if c.SampleRate == 0 {
		errs = append(errs, fmt.Errorf("%w: sample rate must be positive", ErrInvalidConfig))
	}
	if !SupportedBitDepth(c.BitsPerSample) {
		errs = append(errs, fmt.Errorf("%w: bits per sample %d not in {8,16,24,32}", ErrInvalidConfig, c.BitsPerSample))
	}
	if c.Channels == 0 {
		errs = append(errs, fmt.Errorf("%w: channel count must be positive", ErrInvalidConfig))
	}
	if len(errs) == 0 && c.PayloadSize < c.FrameSize() {
		errs = append(errs, fmt.Errorf("%w: payload size %d smaller than one sample frame (%d bytes)",
			ErrInvalidConfig, c.PayloadSize, c.FrameSize()))
	}
	return errors.Join(errs...)
}

// FrameSize returns the size in bytes of one interleaved sample frame.
func (c StreamConfig) FrameSize() int {
	return int(c.BitsPerSample/8) * int(c.Channels)
}

// BytesPerSecond returns the PCM byte rate of the stream.
func (c StreamConfig) BytesPerSecond() int {
	return int(c.SampleRate) * c.FrameSize()
}

// AlignPayload rounds n down to a whole number of sample frames so a chunk
// never splits a sample across datagrams.
func (c StreamConfig) AlignPayload(n int) int {
	fs := c.FrameSize()
	if fs == 0 {
		return n
	}
	return n - n%fs
}

// Period returns the audio time covered by n bytes of PCM.
func (c StreamConfig) Period(n int) time.Duration {
	bps := c.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// ChunkPeriod returns the audio time covered by one full frame payload.
func (c StreamConfig) ChunkPeriod() time.Duration {
	return c.Period(c.PayloadSize)
}

// Samples returns the number of sample frames contained in n bytes.
func (c StreamConfig) Samples(n int) uint32 {
	fs := c.FrameSize()
	if fs == 0 {
		return 0
	}
	return uint32(n / fs)
}

// String implements fmt.Stringer.
func (c StreamConfig) String() string {
	return fmt.Sprintf("%dHz/%dbit/%dch/%dB", c.SampleRate, c.BitsPerSample, c.Channels, c.PayloadSize)
}

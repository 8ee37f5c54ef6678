package wav

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/wifiphone/audio"
)

// ChunkSize is the number of source bytes written to the device per call.
const ChunkSize = 1024

// ErrFormatMismatch indicates the device is not configured for the file.
var ErrFormatMismatch = errors.New("wav: device format does not match file")

// Play validates data and streams its samples to dev chunk by chunk. The
// device must be configured with h.StreamConfig(). Nothing is written to
// the device when validation fails.
func Play(ctx context.Context, data []byte, dev audio.Device) error {
	h, err := Parse(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "wav.Play",
			"size":     len(data),
			"error":    err.Error(),
		}).Warn("Rejecting invalid wave file")
		return err
	}

	want, got := h.StreamConfig(), dev.Config()
	if want.SampleRate != got.SampleRate || want.BitsPerSample != got.BitsPerSample || want.Channels != got.Channels {
		return fmt.Errorf("%w: file wants %s, device is %s", ErrFormatMismatch, want, got)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "wav.Play",
		"sample_rate": h.SampleRate,
		"bits":        h.BitsPerSample,
		"channels":    h.Channels,
		"data_offset": h.DataOffset,
		"data_size":   h.DataSize,
	}).Info("Starting playback")

	samples := h.Samples(data)
	block := int(h.BlockAlign)
	step := max(ChunkSize-ChunkSize%block, block)

	for pos := 0; pos < len(samples); pos += step {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk := samples[pos:min(pos+step, len(samples))]
		if h.BitsPerSample == 8 {
			chunk = audio.Widen8To16(chunk)
		}
		if err := writeAll(ctx, dev, chunk); err != nil {
			return fmt.Errorf("wav: render at byte %d: %w", pos, err)
		}
	}

	logrus.WithField("function", "wav.Play").Info("Playback finished")
	return nil
}

// writeAll renders buf, retrying short writes.
func writeAll(ctx context.Context, dev audio.Device, buf []byte) error {
	for len(buf) > 0 {
		n, err := dev.Render(ctx, buf)
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.New("device accepted no data")
		}
		buf = buf[n:]
	}
	return nil
}

package audio

import (
	"context"
	"errors"
)

// Sentinel errors for audio devices.
var (
	// ErrDeviceInit indicates the device could not be opened. This is the
	// only failure that stops a relay session.
	ErrDeviceInit = errors.New("audio device initialization failed")

	// ErrDeviceClosed indicates an operation on a closed device.
	ErrDeviceClosed = errors.New("audio device closed")
)

// Device is a duplex capture/render device running at a fixed StreamConfig.
//
// Capture and Render block for roughly one audio period per call: that is
// the cadence the relay loop runs at. Both honour ctx so a stalled device
// cannot hold the loop past its budget. Capture may return fewer bytes than
// len(buf) when the deadline expires; those bytes are still valid.
//
// Capture and Render are called from a single goroutine. Close may be called
// from another.
type Device interface {
	// Capture fills buf with up to len(buf) bytes of recorded PCM.
	Capture(ctx context.Context, buf []byte) (int, error)

	// Render queues buf for playback and returns the number of bytes accepted.
	Render(ctx context.Context, buf []byte) (int, error)

	// Config returns the format the device was opened with.
	Config() StreamConfig

	// Close stops the device and releases its resources.
	Close() error
}

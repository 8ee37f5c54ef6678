// Package wav validates RIFF/WAVE containers holding linear PCM and streams
// their sample data to an audio device.
//
// Validation is strict: the declared RIFF size must equal the byte length
// minus 8, the "fmt " chunk must be the 16-byte PCM form, and the bit depth
// must be one the audio package supports. A file that fails validation is
// never played.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/opd-ai/wifiphone/audio"
)

// Offsets of the canonical header.
const (
	// HeaderSize is the size of a canonical 44-byte PCM header.
	HeaderSize = 44

	// chunkScanStart is where the sub-chunk walk for "data" begins: just
	// past the 16-byte "fmt " body.
	chunkScanStart = 36

	chunkHeaderSize = 8
	pcmFmtSize      = 16
	formatPCM       = 1
)

// Validation errors.
var (
	ErrInvalidSize     = errors.New("wav: declared RIFF size does not match length")
	ErrInvalidMagic    = errors.New("wav: missing RIFF/WAVE/fmt tags")
	ErrInvalidFormat   = errors.New("wav: unsupported fmt chunk")
	ErrInvalidBitDepth = errors.New("wav: unsupported bit depth")
	ErrInvalidChannels = errors.New("wav: channel count must be positive")
	ErrInvalidDataSize = errors.New("wav: data chunk exceeds file")
	ErrNoData          = errors.New("wav: no data chunk")
)

// Header is the validated format description of a WAV file.
type Header struct {
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16

	// DataOffset is the index of the first sample byte, just past the
	// "data" sub-chunk header.
	DataOffset int

	// DataSize is the declared size of the data sub-chunk.
	DataSize int
}

// Parse validates data as a PCM WAV file and returns its header.
func Parse(data []byte) (Header, error) {
	var h Header
	if len(data) < HeaderSize {
		return h, fmt.Errorf("%w: %d bytes is shorter than a %d byte header", ErrInvalidSize, len(data), HeaderSize)
	}

	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" || string(data[12:16]) != "fmt " {
		return h, ErrInvalidMagic
	}
	if declared := binary.LittleEndian.Uint32(data[4:8]); uint64(declared) != uint64(len(data)-8) {
		return h, fmt.Errorf("%w: declared %d, actual %d", ErrInvalidSize, declared, len(data)-8)
	}

	fmtSize := binary.LittleEndian.Uint32(data[16:20])
	audioFormat := binary.LittleEndian.Uint16(data[20:22])
	if fmtSize != pcmFmtSize || audioFormat != formatPCM {
		return h, fmt.Errorf("%w: size %d format %d", ErrInvalidFormat, fmtSize, audioFormat)
	}

	h.Channels = binary.LittleEndian.Uint16(data[22:24])
	h.SampleRate = binary.LittleEndian.Uint32(data[24:28])
	h.ByteRate = binary.LittleEndian.Uint32(data[28:32])
	h.BlockAlign = binary.LittleEndian.Uint16(data[32:34])
	h.BitsPerSample = binary.LittleEndian.Uint16(data[34:36])

	if !audio.SupportedBitDepth(h.BitsPerSample) {
		return h, fmt.Errorf("%w: %d", ErrInvalidBitDepth, h.BitsPerSample)
	}
	if h.Channels == 0 {
		return h, ErrInvalidChannels
	}
	if want := h.Channels * (h.BitsPerSample / 8); h.BlockAlign != want {
		return h, fmt.Errorf("%w: block align %d, want %d for %d channel(s) of %d bits",
			ErrInvalidFormat, h.BlockAlign, want, h.Channels, h.BitsPerSample)
	}

	off, size, err := findData(data)
	if err != nil {
		return h, err
	}
	h.DataOffset = off
	h.DataSize = size
	return h, nil
}

// findData walks the sub-chunks from chunkScanStart and returns the offset
// and size of the "data" payload. Odd-sized chunks carry a pad byte.
func findData(data []byte) (offset, size int, err error) {
	pos := chunkScanStart
	for pos+chunkHeaderSize <= len(data) {
		id := string(data[pos : pos+4])
		n := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + chunkHeaderSize

		if id == "data" {
			if n > len(data)-body {
				return 0, 0, fmt.Errorf("%w: declared %d, %d available", ErrInvalidDataSize, n, len(data)-body)
			}
			return body, n, nil
		}

		if n > len(data)-body {
			break
		}
		pos = body + n + n%2
	}
	return 0, 0, ErrNoData
}

// Samples returns the PCM payload described by h.
func (h Header) Samples(data []byte) []byte {
	return data[h.DataOffset : h.DataOffset+h.DataSize]
}

// StreamConfig returns the device format that plays h. 8-bit sources are
// widened to 16 bits on playback, so the returned depth is 16 for them.
func (h Header) StreamConfig() audio.StreamConfig {
	bits := h.BitsPerSample
	if bits == 8 {
		bits = 16
	}
	cfg := audio.StreamConfig{
		SampleRate:    h.SampleRate,
		BitsPerSample: bits,
		Channels:      h.Channels,
	}
	cfg.PayloadSize = cfg.AlignPayload(ChunkSize)
	return cfg
}

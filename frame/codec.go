package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"github.com/opd-ai/wifiphone/limits"
)

// PayloadTypePCM is the dynamic RTP payload type used for linear PCM.
const PayloadTypePCM = 97

// Wire mode names accepted by NewCodec.
const (
	ModeRaw       = "raw"
	ModeSequenced = "sequenced"
)

// Sentinel errors for the wire codecs.
var (
	// ErrMalformed indicates a datagram that does not decode as a frame.
	ErrMalformed = errors.New("malformed frame")

	// ErrUnknownMode indicates an unsupported wire mode name.
	ErrUnknownMode = errors.New("unknown wire mode")
)

// Codec converts frames to and from datagrams.
type Codec interface {
	// Encode returns the datagram carrying f.
	Encode(f Frame) ([]byte, error)

	// Decode returns the frame carried by datagram. The datagram is not
	// retained.
	Decode(datagram []byte) (Frame, error)

	// Overhead is the number of header bytes Encode adds to each payload.
	Overhead() int
}

// NewCodec returns the codec for a wire mode. identity seeds the stream
// identifier of the sequenced mode; frameSize is the stream's bytes per
// sample frame, used to advance the sample clock.
func NewCodec(mode string, identity []byte, frameSize int) (Codec, error) {
	switch mode {
	case "", ModeRaw:
		return RawCodec{}, nil
	case ModeSequenced:
		return NewSequencedCodec(identity, frameSize), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

// RawCodec is the headerless wire format: a datagram is the raw PCM payload.
// Receivers cannot distinguish lost frames from silence.
type RawCodec struct{}

// Encode returns the frame payload unchanged.
func (RawCodec) Encode(f Frame) ([]byte, error) {
	if f.Len() == 0 {
		return nil, limits.ErrDatagramEmpty
	}
	return f.payload, nil
}

// Decode copies the datagram into a frame.
func (RawCodec) Decode(datagram []byte) (Frame, error) {
	if len(datagram) == 0 {
		return Frame{}, limits.ErrDatagramEmpty
	}
	return FromDatagram(datagram), nil
}

// Overhead is zero for the raw format.
func (RawCodec) Overhead() int {
	return 0
}

// SequencedCodec prefixes every payload with an RTP fixed header carrying a
// monotonic sequence number, a sample-clock timestamp and a per-node stream
// identifier. Decode feeds a LossTracker so gaps are observable.
type SequencedCodec struct {
	mu        sync.Mutex
	ssrc      uint32
	seq       uint16
	timestamp uint32
	frameSize int

	loss *LossTracker
}

// NewSequencedCodec creates a sequenced codec. The stream identifier is the
// first four bytes of the BLAKE2b-256 digest of identity, so a node keeps the
// same identifier across restarts.
func NewSequencedCodec(identity []byte, frameSize int) *SequencedCodec {
	sum := blake2b.Sum256(identity)
	ssrc := binary.BigEndian.Uint32(sum[:4])
	if frameSize <= 0 {
		frameSize = 1
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewSequencedCodec",
		"ssrc":       ssrc,
		"frame_size": frameSize,
	}).Debug("Creating sequenced wire codec")

	return &SequencedCodec{
		ssrc:      ssrc,
		frameSize: frameSize,
		loss:      NewLossTracker(),
	}
}

// SSRC returns the local stream identifier.
func (c *SequencedCodec) SSRC() uint32 {
	return c.ssrc
}

// Encode wraps f in an RTP packet and advances the sequence and sample clock.
func (c *SequencedCodec) Encode(f Frame) ([]byte, error) {
	if f.Len() == 0 {
		return nil, limits.ErrDatagramEmpty
	}

	c.mu.Lock()
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    PayloadTypePCM,
			SequenceNumber: c.seq,
			Timestamp:      c.timestamp,
			SSRC:           c.ssrc,
		},
		Payload: f.payload,
	}
	c.seq++
	c.timestamp += uint32(f.Len() / c.frameSize)
	c.mu.Unlock()

	data, err := pkt.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal rtp header: %w", err)
	}
	return data, nil
}

// Decode parses an RTP datagram into a frame and records its sequence number.
func (c *SequencedCodec) Decode(datagram []byte) (Frame, error) {
	if len(datagram) == 0 {
		return Frame{}, limits.ErrDatagramEmpty
	}

	var pkt rtp.Packet
	if err := pkt.Unmarshal(datagram); err != nil {
		return Frame{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if pkt.Version != 2 || pkt.PayloadType != PayloadTypePCM {
		return Frame{}, fmt.Errorf("%w: version %d payload type %d", ErrMalformed, pkt.Version, pkt.PayloadType)
	}
	if len(pkt.Payload) == 0 {
		return Frame{}, fmt.Errorf("%w: empty payload", ErrMalformed)
	}

	if lost := c.loss.Observe(pkt.SSRC, pkt.SequenceNumber); lost > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "SequencedCodec.Decode",
			"ssrc":     pkt.SSRC,
			"sequence": pkt.SequenceNumber,
			"lost":     lost,
		}).Debug("Sequence gap detected")
	}

	return Frame{
		payload:   clone(pkt.Payload),
		seq:       pkt.SequenceNumber,
		timestamp: pkt.Timestamp,
		ssrc:      pkt.SSRC,
		sequenced: true,
	}, nil
}

// Overhead is the RTP fixed header size.
func (c *SequencedCodec) Overhead() int {
	return limits.SequenceHeaderSize
}

// Loss returns the tracker fed by Decode.
func (c *SequencedCodec) Loss() *LossTracker {
	return c.loss
}

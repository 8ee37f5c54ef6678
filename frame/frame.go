// Package frame slices a continuous PCM byte stream into bounded transmission
// frames and maps received datagrams back to frames.
//
// Frame boundaries are datagram boundaries: one frame is sent as exactly one
// datagram and one datagram yields exactly one frame. Frames are never
// coalesced or split downstream of the codec.
//
// Example:
//
//	for f := range frame.Split(pcm, cfg.PayloadSize) {
//	    datagram, _ := codec.Encode(f)
//	    link.Send(ctx, addr, datagram)
//	}
package frame

import (
	"fmt"
	"iter"
)

// Frame is one bounded unit of audio payload. A Frame is immutable once
// created: Payload returns a view that callers must not modify.
type Frame struct {
	payload   []byte
	seq       uint16
	timestamp uint32
	ssrc      uint32
	sequenced bool
}

// New returns a Frame holding a private copy of payload.
func New(payload []byte) Frame {
	return Frame{payload: clone(payload)}
}

// FromDatagram maps one inbound datagram to one Frame whose length equals
// the datagram length. The datagram is copied so the transport may reuse
// its receive buffer.
func FromDatagram(datagram []byte) Frame {
	return New(datagram)
}

// Payload returns the frame's PCM bytes.
func (f Frame) Payload() []byte {
	return f.payload
}

// Len returns the number of payload bytes.
func (f Frame) Len() int {
	return len(f.payload)
}

// Sequence returns the wire sequence number and whether the frame carried one.
func (f Frame) Sequence() (uint16, bool) {
	return f.seq, f.sequenced
}

// Timestamp returns the sample-clock timestamp of a sequenced frame.
func (f Frame) Timestamp() uint32 {
	return f.timestamp
}

// Source returns the stream identifier of a sequenced frame.
func (f Frame) Source() uint32 {
	return f.ssrc
}

// Split returns a lazy, finite sequence of frames covering data in order.
// Every frame holds at most maxPayload bytes; only the last may be shorter.
// The sequence is restartable: ranging over it again yields the same frames.
// Frames alias data, which must not change while they are in use.
//
// Split panics if maxPayload is not positive.
func Split(data []byte, maxPayload int) iter.Seq[Frame] {
	if maxPayload <= 0 {
		panic(fmt.Sprintf("frame: Split with non-positive payload size %d", maxPayload))
	}
	return func(yield func(Frame) bool) {
		for off := 0; off < len(data); off += maxPayload {
			end := min(off+maxPayload, len(data))
			if !yield(Frame{payload: data[off:end:end]}) {
				return
			}
		}
	}
}

// Count returns the number of frames Split produces for n bytes: ⌈n/maxPayload⌉.
func Count(n, maxPayload int) int {
	if n <= 0 || maxPayload <= 0 {
		return 0
	}
	return (n + maxPayload - 1) / maxPayload
}

// Join concatenates frame payloads in sequence order.
func Join(frames iter.Seq[Frame]) []byte {
	var out []byte
	for f := range frames {
		out = append(out, f.payload...)
	}
	return out
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

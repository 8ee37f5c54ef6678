package audio

import (
	"encoding/binary"
	"math"
)

// PutSample writes v, a normalized sample in [-1, 1], into buf using the
// given bit depth. buf must hold at least bits/8 bytes.
func PutSample(buf []byte, bits uint16, v float64) {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	switch bits {
	case 8:
		buf[0] = uint8(int(math.Round(v*127)) + 128)
	case 16:
		binary.LittleEndian.PutUint16(buf, uint16(int16(math.Round(v*math.MaxInt16))))
	case 24:
		s := int32(math.Round(v * 8388607))
		buf[0] = byte(s)
		buf[1] = byte(s >> 8)
		buf[2] = byte(s >> 16)
	case 32:
		binary.LittleEndian.PutUint32(buf, uint32(int32(math.Round(v*math.MaxInt32))))
	}
}

// Widen8To16 converts unsigned 8-bit PCM to signed 16-bit little-endian PCM.
// I2S style outputs cannot clock fewer than 16 bits per sample, so 8-bit
// sources are widened before rendering.
func Widen8To16(src []byte) []byte {
	out := make([]byte, len(src)*2)
	for i, s := range src {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(int(s)-128)<<8))
	}
	return out
}

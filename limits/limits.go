// Package limits provides centralized datagram size limits for the wifiphone link.
// This ensures consistent validation across the frame codec and the transports.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxLinkPayload is the radio link limit for a single datagram (250 bytes).
	// This matches ESP_NOW_MAX_DATA_LEN and is the default MTU.
	MaxLinkPayload = 250

	// MaxUDPPayload is the largest datagram accepted by the UDP link emulation.
	// Ethernet MTU (1500) minus IPv4 (20) and UDP (8) headers.
	MaxUDPPayload = 1472

	// MinPayload is the smallest frame payload that still carries one
	// 32-bit stereo sample.
	MinPayload = 8

	// SequenceHeaderSize is the overhead of the sequenced wire mode
	// (RTP fixed header without CSRC list or extensions).
	SequenceHeaderSize = 12

	// MaxPeers is the size of the transport peer table (ESP_NOW_MAX_TOTAL_PEER_NUM).
	MaxPeers = 20
)

var (
	// ErrDatagramEmpty indicates an empty datagram was provided
	ErrDatagramEmpty = errors.New("empty datagram")

	// ErrDatagramTooLarge indicates datagram exceeds the MTU
	ErrDatagramTooLarge = errors.New("datagram too large")

	// ErrInvalidMTU indicates the MTU cannot carry any payload
	ErrInvalidMTU = errors.New("invalid mtu")
)

// ValidateDatagram validates a datagram against the specified MTU.
// Returns an error with context including the actual and maximum sizes.
func ValidateDatagram(datagram []byte, mtu int) error {
	if len(datagram) == 0 {
		return ErrDatagramEmpty
	}
	if len(datagram) > mtu {
		return fmt.Errorf("%w: size %d exceeds mtu %d", ErrDatagramTooLarge, len(datagram), mtu)
	}
	return nil
}

// ValidateMTU checks that mtu is within the limits the UDP emulation can carry.
func ValidateMTU(mtu int) error {
	if mtu < MinPayload || mtu > MaxUDPPayload {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidMTU, mtu, MinPayload, MaxUDPPayload)
	}
	return nil
}

// PayloadSize returns the frame payload size left after reserving overhead
// header bytes from mtu.
func PayloadSize(mtu, overhead int) (int, error) {
	if err := ValidateMTU(mtu); err != nil {
		return 0, err
	}
	size := mtu - overhead
	if size < MinPayload {
		return 0, fmt.Errorf("%w: mtu %d leaves %d bytes after %d byte header", ErrInvalidMTU, mtu, size, overhead)
	}
	return size, nil
}

// Package limits provides centralized datagram size constants and validation
// functions for the wifiphone link. Every component that builds or accepts a
// datagram validates against these limits so the MTU is enforced in one place.
//
// # Size Hierarchy
//
//   - MaxLinkPayload (250 bytes): the largest datagram the radio link carries.
//     This is the ESP-NOW data limit and the default transport MTU.
//
//   - MaxUDPPayload (1472 bytes): the largest datagram the UDP emulation of the
//     link will accept when configured with a larger MTU (Ethernet MTU minus
//     IPv4 and UDP headers).
//
//   - SequenceHeaderSize (12 bytes): the RTP fixed header reserved by the
//     sequenced wire mode. Frame payload size is the MTU minus this overhead.
//
// # Validation Functions
//
//	err := limits.ValidateDatagram(payload, mtu)
//	if err != nil {
//	    // ErrDatagramEmpty or ErrDatagramTooLarge
//	}
//
//	size, err := limits.PayloadSize(mtu, overhead)
//
// # Error Types
//
//   - ErrDatagramEmpty: returned when an empty or nil datagram is provided
//   - ErrDatagramTooLarge: returned when a datagram exceeds the MTU
//   - ErrInvalidMTU: returned when an MTU leaves no room for payload
package limits

package transport

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"strings"
)

// Addr is a 6-byte link-layer address, the identity of a node on the link.
type Addr [6]byte

// BroadcastAddr reaches every node in range.
var BroadcastAddr = Addr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// ParseAddr parses the colon separated hexadecimal form "24:0a:c4:00:00:01".
func ParseAddr(s string) (Addr, error) {
	var a Addr
	hw, err := net.ParseMAC(strings.TrimSpace(s))
	if err != nil {
		return a, fmt.Errorf("parse link address %q: %w", s, err)
	}
	if len(hw) != len(a) {
		return a, fmt.Errorf("parse link address %q: want 6 bytes, got %d", s, len(hw))
	}
	copy(a[:], hw)
	return a, nil
}

// RandomAddr returns a random unicast, locally administered address.
func RandomAddr() (Addr, error) {
	var a Addr
	if _, err := rand.Read(a[:]); err != nil {
		return a, fmt.Errorf("generate link address: %w", err)
	}
	a[0] = (a[0] &^ 0x01) | 0x02
	return a, nil
}

// String returns the lower-case colon separated form.
func (a Addr) String() string {
	return net.HardwareAddr(a[:]).String()
}

// IsZero reports whether a is the all-zero address.
func (a Addr) IsZero() bool {
	return a == Addr{}
}

// IsBroadcast reports whether a is the broadcast address.
func (a Addr) IsBroadcast() bool {
	return a == BroadcastAddr
}

// Advertisement is one result of a link scan: a node announcing itself
// under a name, the way an access point announces an SSID.
type Advertisement struct {
	// Name is the advertised name (SSID).
	Name string

	// BSSID is the advertiser's link address in textual form.
	BSSID string

	// Channel is the radio channel the advertisement was heard on.
	Channel uint8

	// RSSI is the received signal strength in dBm, zero when unknown.
	RSSI int
}

// PeerInfo describes a peer for registration in the transport's peer table.
type PeerInfo struct {
	Addr    Addr
	Channel uint8
	Encrypt bool
}

// ReceiveHandler is invoked by the transport whenever a datagram arrives.
// It runs on a transport goroutine, concurrently with the caller of Send.
// payload is only valid for the duration of the call.
type ReceiveHandler func(from Addr, payload []byte)

// Transport is the unreliable, broadcast-capable datagram link consumed by
// the relay. Datagrams may be lost, duplicated or reordered; no delivery
// confirmation is given. All errors returned are *Error values carrying a
// Result classification.
type Transport interface {
	// Scan listens for advertisements and returns what was heard.
	Scan(ctx context.Context) ([]Advertisement, error)

	// Send transmits one datagram of at most MTU bytes to a registered peer.
	Send(ctx context.Context, to Addr, payload []byte) error

	// RegisterPeer adds a peer to the transport's peer table.
	RegisterPeer(ctx context.Context, info PeerInfo) error

	// PeerExists reports whether addr is in the peer table.
	PeerExists(addr Addr) bool

	// OnReceive installs the receive handler, replacing any previous one.
	OnReceive(handler ReceiveHandler)

	// MTU returns the largest datagram Send accepts.
	MTU() int

	// LocalAddress returns this node's link address.
	LocalAddress() Addr

	// Close shuts down the transport.
	Close() error
}

package relay

import (
	"fmt"

	"github.com/opd-ai/wifiphone/peer"
	"github.com/opd-ai/wifiphone/transport"
)

// State is the session's peer state.
type State int32

const (
	// StateNoPeers runs discovery only; no audio flows.
	StateNoPeers State = iota
	// StateHasPeers relays audio with the discovered peers.
	StateHasPeers
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateNoPeers:
		return "no_peers"
	case StateHasPeers:
		return "has_peers"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// EventKind identifies what an Event reports.
type EventKind uint8

const (
	// EventPeersFound: discovery matched at least one peer. Peers holds the count.
	EventPeersFound EventKind = iota + 1
	// EventDiscoveryEmpty: discovery matched nothing and will be retried.
	EventDiscoveryEmpty
	// EventDiscoveryFailed: the link scan itself failed.
	EventDiscoveryFailed
	// EventRegisterFailed: a peer could not be registered. Retried next iteration.
	EventRegisterFailed
	// EventSendFailed: a frame could not be sent to one peer and is lost.
	EventSendFailed
	// EventDeviceOverrun: a capture or render exceeded its time budget.
	EventDeviceOverrun
	// EventPeersLost: the session fell back to discovery, after every peer
	// was unreachable for too long or on an explicit rescan.
	EventPeersLost
)

var eventNames = map[EventKind]string{
	EventPeersFound:      "peers_found",
	EventDiscoveryEmpty:  "discovery_empty",
	EventDiscoveryFailed: "discovery_failed",
	EventRegisterFailed:  "register_failed",
	EventSendFailed:      "send_failed",
	EventDeviceOverrun:   "device_overrun",
	EventPeersLost:       "peers_lost",
}

// String returns the snake_case event name.
func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", uint8(k))
}

// Event reports a non-fatal condition observed by the relay loop.
type Event struct {
	Kind EventKind

	// Peer is the peer involved, zero when not peer-specific.
	Peer peer.Address

	// Result classifies transport failures.
	Result transport.Result

	// Peers is the peer count for discovery events.
	Peers int

	// Err is the underlying error, if any.
	Err error
}

// String implements fmt.Stringer.
func (e Event) String() string {
	s := e.Kind.String()
	if !e.Peer.IsZero() {
		s += " peer=" + e.Peer.String()
	}
	if e.Result != transport.ResultOK {
		s += " result=" + e.Result.String()
	}
	if e.Err != nil {
		s += " err=" + e.Err.Error()
	}
	return s
}

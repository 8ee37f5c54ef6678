// Package transport provides the unreliable datagram link used by the relay:
// a broadcast-capable, connectionless medium with a small per-datagram limit,
// a bounded peer table and no delivery confirmation.
//
// # Architecture
//
// The core abstraction is the Transport interface:
//
//	type Transport interface {
//	    Scan(ctx context.Context) ([]Advertisement, error)
//	    Send(ctx context.Context, to Addr, payload []byte) error
//	    RegisterPeer(ctx context.Context, info PeerInfo) error
//	    PeerExists(addr Addr) bool
//	    OnReceive(handler ReceiveHandler)
//	    MTU() int
//	    LocalAddress() Addr
//	    Close() error
//	}
//
// Nodes are identified by 6-byte link addresses (Addr). Scan returns the
// advertisements heard from nearby nodes; callers decide which ones are peers
// and register them before sending.
//
// # Implementations
//
// UDP link (emulates the radio on an IP network):
//
//	link, err := NewUDPLink(DefaultUDPConfig())
//	// Beacons on DataPort+1, audio datagrams on DataPort
//
// In-memory medium (tests and offline demos):
//
//	medium := NewMedium(MediumConfig{Loss: 0.05})
//	a := medium.Join(addrA, "ESPNOW:a")
//	b := medium.Join(addrB, "ESPNOW:b")
//
// # Error Handling
//
// Every failure is an *Error carrying a Result. Send and RegisterPeer share
// the same Result taxonomy:
//
//	err := link.Send(ctx, peer, payload)
//	switch transport.ResultOf(err) {
//	case transport.ResultOK:
//	case transport.ResultNotInitialized:
//	    // the link is down
//	default:
//	    // per-peer failure; the datagram is lost
//	}
//
// errors.Is works against the sentinel of each Result (ErrTableFull,
// ErrNotFound, ...).
//
// # Thread Safety
//
// All implementations are safe for concurrent use. The receive handler runs
// on a transport goroutine and must not block.
package transport

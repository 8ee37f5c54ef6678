// Package peer discovers nearby relay nodes on the link and keeps them
// registered with the transport.
//
// A discovery pass scans the link, keeps advertisements whose name starts
// with the configured prefix, and rebuilds the peer table from scratch:
//
//	reg := peer.NewRegistry(link, peer.DefaultConfig())
//	peers, err := reg.Discover(ctx)
//	for _, o := range reg.EnsureAll(ctx) {
//	    if o.Err != nil {
//	        // retried on the next call
//	    }
//	}
package peer

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/wifiphone/limits"
	"github.com/opd-ai/wifiphone/transport"
)

// DefaultPrefix is the advertised-name prefix identifying relay nodes.
const DefaultPrefix = "ESPNOW"

// DefaultChannel is the channel peers are registered on.
const DefaultChannel = 1

// Address is a peer's 6-byte link address.
type Address = transport.Addr

// TimeProvider abstracts time for deterministic tests.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// DefaultTimeProvider uses the system clock.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Since returns the time elapsed since t.
func (DefaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }

// Peer is a node found by discovery.
type Peer struct {
	Address Address
	Name    string
	Channel uint8

	// Encrypt is always false; the link carries audio in the clear.
	Encrypt bool

	// Registered is set once the transport has accepted the peer.
	Registered bool

	// LastSeen is when the peer was last heard during discovery.
	LastSeen time.Time
}

// Info returns the transport registration record for p.
func (p Peer) Info() transport.PeerInfo {
	return transport.PeerInfo{Addr: p.Address, Channel: p.Channel, Encrypt: p.Encrypt}
}

// Config controls discovery.
type Config struct {
	// Prefix must appear at the start of an advertised name.
	Prefix string

	// MaxPeers bounds the table; extra matches are dropped.
	MaxPeers int

	// Channel is assigned to every discovered peer.
	Channel uint8
}

// DefaultConfig returns the stock discovery settings.
func DefaultConfig() Config {
	return Config{
		Prefix:   DefaultPrefix,
		MaxPeers: limits.MaxPeers,
		Channel:  DefaultChannel,
	}
}

// Filter turns scan results into peers: advertisements whose name starts
// with prefix and whose BSSID parses as a link address, in scan order,
// de-duplicated by address and truncated to max entries. self is excluded.
func Filter(ads []transport.Advertisement, cfg Config, self Address, now time.Time) []Peer {
	limit := cfg.MaxPeers
	if limit <= 0 {
		limit = limits.MaxPeers
	}
	channel := cfg.Channel
	if channel == 0 {
		channel = DefaultChannel
	}

	peers := make([]Peer, 0, min(len(ads), limit))
	seen := make(map[Address]struct{}, len(ads))

	for _, ad := range ads {
		if len(peers) == limit {
			break
		}
		if !strings.HasPrefix(ad.Name, cfg.Prefix) {
			continue
		}
		addr, err := transport.ParseAddr(ad.BSSID)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "peer.Filter",
				"name":     ad.Name,
				"bssid":    ad.BSSID,
			}).Debug("Skipping advertisement with unparsable address")
			continue
		}
		if addr == self || addr.IsZero() {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}

		peers = append(peers, Peer{
			Address:  addr,
			Name:     ad.Name,
			Channel:  channel,
			LastSeen: now,
		})
	}
	return peers
}

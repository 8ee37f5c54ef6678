package peer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/wifiphone/transport"
)

// Outcome is the result of one registration attempt.
type Outcome struct {
	Peer   Peer
	Result transport.Result
	Err    error
}

// Registry owns the peer table and keeps it registered with the transport.
type Registry struct {
	link         transport.Transport
	cfg          Config
	timeProvider TimeProvider

	mu    sync.RWMutex
	peers []Peer
}

// NewRegistry creates an empty registry for link.
func NewRegistry(link transport.Transport, cfg Config) *Registry {
	return NewRegistryWithTimeProvider(link, cfg, DefaultTimeProvider{})
}

// NewRegistryWithTimeProvider creates a registry with a custom clock.
func NewRegistryWithTimeProvider(link transport.Transport, cfg Config, tp TimeProvider) *Registry {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if tp == nil {
		tp = DefaultTimeProvider{}
	}
	return &Registry{link: link, cfg: cfg, timeProvider: tp}
}

// Discover scans the link and replaces the table with the matching
// advertisements. An empty result is not an error; a failed scan is, and
// leaves the table untouched.
func (r *Registry) Discover(ctx context.Context) ([]Peer, error) {
	ads, err := r.link.Scan(ctx)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Registry.Discover",
			"error":    err.Error(),
		}).Warn("Link scan failed")
		return nil, fmt.Errorf("discover: %w", err)
	}

	peers := Filter(ads, r.cfg, r.link.LocalAddress(), r.timeProvider.Now())
	r.Replace(peers)

	logrus.WithFields(logrus.Fields{
		"function": "Registry.Discover",
		"heard":    len(ads),
		"matched":  len(peers),
		"prefix":   r.cfg.Prefix,
	}).Debug("Discovery pass complete")

	return slices.Clone(peers), nil
}

// EnsureRegistered registers p with the transport unless it is already
// known. ResultOK and ResultExists both mean p is usable and return a nil
// error; p.Registered is set in that case.
func (r *Registry) EnsureRegistered(ctx context.Context, p *Peer) (transport.Result, error) {
	if r.link.PeerExists(p.Address) {
		p.Registered = true
		return transport.ResultExists, nil
	}

	err := r.link.RegisterPeer(ctx, p.Info())
	result := transport.ResultOf(err)
	switch result {
	case transport.ResultOK, transport.ResultExists:
		p.Registered = true
		logrus.WithFields(logrus.Fields{
			"function": "Registry.EnsureRegistered",
			"peer":     p.Address.String(),
			"channel":  p.Channel,
		}).Info("Registered peer")
		return result, nil
	}

	p.Registered = false
	logrus.WithFields(logrus.Fields{
		"function": "Registry.EnsureRegistered",
		"peer":     p.Address.String(),
		"result":   result.String(),
		"error":    err.Error(),
	}).Warn("Failed to register peer")

	var te *transport.Error
	if !errors.As(err, &te) {
		err = transport.NewError("register", result, p.Address, err)
	}
	return result, err
}

// EnsureAll runs EnsureRegistered on every peer in the table and reports
// the attempts that did not find the peer already registered.
func (r *Registry) EnsureAll(ctx context.Context) []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	var outcomes []Outcome
	for i := range r.peers {
		p := &r.peers[i]
		was := p.Registered
		result, err := r.EnsureRegistered(ctx, p)
		if err != nil || !was {
			outcomes = append(outcomes, Outcome{Peer: *p, Result: result, Err: err})
		}
	}
	return outcomes
}

// Peers returns a copy of the table.
func (r *Registry) Peers() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.peers)
}

// Addresses returns the addresses of every peer in the table.
func (r *Registry) Addresses() []Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Address, len(r.peers))
	for i, p := range r.peers {
		out[i] = p.Address
	}
	return out
}

// Len returns the number of peers in the table.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Replace swaps in a new table. Entries keep their Registered flag when the
// address was already present and still exists in the transport.
func (r *Registry) Replace(peers []Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := make(map[Address]bool, len(r.peers))
	for _, p := range r.peers {
		prev[p.Address] = p.Registered
	}

	table := slices.Clone(peers)
	for i := range table {
		if prev[table[i].Address] {
			table[i].Registered = r.link.PeerExists(table[i].Address)
		}
	}
	r.peers = table
}

// Clear empties the table. Transport registrations are left in place.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers = nil
}

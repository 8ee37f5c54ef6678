package transport

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/wifiphone/limits"
)

const inboxSize = 64

// MediumConfig configures an in-process broadcast medium.
type MediumConfig struct {
	// Loss is the probability in [0, 1] that any datagram is dropped.
	Loss float64

	// Seed seeds the loss generator.
	Seed int64

	// MTU applies to every link on the medium. Defaults to the radio limit.
	MTU int

	// MaxPeers bounds each link's peer table.
	MaxPeers int
}

// Medium is an in-process stand-in for the radio: every joined link hears
// every other link's advertisement, and datagrams are delivered
// asynchronously with optional random loss.
type Medium struct {
	cfg MediumConfig

	mu    sync.RWMutex
	links map[Addr]*MemoryLink
	rng   *rand.Rand
}

// NewMedium creates an empty medium.
func NewMedium(cfg MediumConfig) *Medium {
	if cfg.MTU == 0 {
		cfg.MTU = limits.MaxLinkPayload
	}
	if cfg.MaxPeers <= 0 {
		cfg.MaxPeers = limits.MaxPeers
	}
	return &Medium{
		cfg:   cfg,
		links: make(map[Addr]*MemoryLink),
		rng:   rand.New(rand.NewSource(cfg.Seed)),
	}
}

// SetLoss changes the drop probability.
func (m *Medium) SetLoss(p float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Loss = p
}

// Join attaches a new link with the given address and advertised name.
// Joining an address already present replaces the old link, which is closed.
func (m *Medium) Join(addr Addr, name string) *MemoryLink {
	l := &MemoryLink{
		medium: m,
		addr:   addr,
		name:   name,
		peers:  make(map[Addr]PeerInfo),
		inbox:  make(chan memoryDatagram, inboxSize),
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	old := m.links[addr]
	m.links[addr] = l
	m.mu.Unlock()

	if old != nil {
		old.Close()
	}

	l.wg.Add(1)
	go l.dispatch()
	return l
}

func (m *Medium) leave(l *MemoryLink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.links[l.addr] == l {
		delete(m.links, l.addr)
	}
}

func (m *Medium) lost() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Loss > 0 && m.rng.Float64() < m.cfg.Loss
}

func (m *Medium) link(addr Addr) (*MemoryLink, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.links[addr]
	return l, ok
}

func (m *Medium) others(self Addr) []*MemoryLink {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*MemoryLink, 0, len(m.links))
	for a, l := range m.links {
		if a != self {
			out = append(out, l)
		}
	}
	return out
}

type memoryDatagram struct {
	from    Addr
	payload []byte
}

// MemoryLink is one node's Transport on a Medium.
type MemoryLink struct {
	medium *Medium
	addr   Addr
	name   string

	mu      sync.RWMutex
	closed  bool
	handler ReceiveHandler
	peers   map[Addr]PeerInfo

	inbox     chan memoryDatagram
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// LocalAddress returns the link's address.
func (l *MemoryLink) LocalAddress() Addr {
	return l.addr
}

// MTU returns the medium's datagram limit.
func (l *MemoryLink) MTU() int {
	return l.medium.cfg.MTU
}

// OnReceive installs the receive handler.
func (l *MemoryLink) OnReceive(handler ReceiveHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = handler
}

// Scan returns the advertisement of every other link on the medium.
func (l *MemoryLink) Scan(ctx context.Context) ([]Advertisement, error) {
	if l.isClosed() {
		return nil, NewError("scan", ResultNotInitialized, Addr{}, nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, NewError("scan", ResultUnknown, Addr{}, err)
	}

	others := l.medium.others(l.addr)
	ads := make([]Advertisement, 0, len(others))
	for _, o := range others {
		ads = append(ads, Advertisement{Name: o.name, BSSID: o.addr.String(), Channel: 1, RSSI: -40})
	}
	sort.Slice(ads, func(i, j int) bool { return ads[i].BSSID < ads[j].BSSID })
	return ads, nil
}

// RegisterPeer adds info to the peer table.
func (l *MemoryLink) RegisterPeer(_ context.Context, info PeerInfo) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.closed:
		return NewError("register", ResultNotInitialized, info.Addr, nil)
	case info.Addr.IsZero() || info.Addr == l.addr || info.Channel > maxChannel:
		return NewError("register", ResultInvalidArgument, info.Addr, nil)
	}
	if _, ok := l.peers[info.Addr]; ok {
		return NewError("register", ResultExists, info.Addr, nil)
	}
	if len(l.peers) >= l.medium.cfg.MaxPeers {
		return NewError("register", ResultTableFull, info.Addr, nil)
	}
	l.peers[info.Addr] = info
	return nil
}

// PeerExists reports whether addr is in the peer table.
func (l *MemoryLink) PeerExists(addr Addr) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.peers[addr]
	return ok
}

// Send queues payload for delivery. Lost datagrams and full receive queues
// are silent, as on the radio; a peer that has left the medium is reported
// as an internal failure.
func (l *MemoryLink) Send(_ context.Context, to Addr, payload []byte) error {
	if err := limits.ValidateDatagram(payload, l.MTU()); err != nil {
		return NewError("send", ResultInvalidArgument, to, err)
	}
	if l.isClosed() {
		return NewError("send", ResultNotInitialized, to, nil)
	}
	if !l.PeerExists(to) {
		return NewError("send", ResultNotFound, to, nil)
	}

	if to.IsBroadcast() {
		for _, o := range l.medium.others(l.addr) {
			l.deliver(o, payload)
		}
		return nil
	}

	dst, ok := l.medium.link(to)
	if !ok {
		return NewError("send", ResultInternal, to, errors.New("peer unreachable"))
	}
	l.deliver(dst, payload)
	return nil
}

func (l *MemoryLink) deliver(dst *MemoryLink, payload []byte) {
	if l.medium.lost() {
		return
	}
	d := memoryDatagram{from: l.addr, payload: append([]byte(nil), payload...)}
	select {
	case dst.inbox <- d:
	case <-dst.done:
	default:
		logrus.WithFields(logrus.Fields{
			"function": "MemoryLink.deliver",
			"from":     l.addr.String(),
			"to":       dst.addr.String(),
		}).Debug("Receive queue full, dropping datagram")
	}
}

// dispatch runs the receive handler on the link's own goroutine.
func (l *MemoryLink) dispatch() {
	defer l.wg.Done()
	for {
		select {
		case d := <-l.inbox:
			l.mu.RLock()
			h := l.handler
			l.mu.RUnlock()
			if h != nil {
				h(d.from, d.payload)
			}
		case <-l.done:
			return
		}
	}
}

// Close detaches the link from the medium.
func (l *MemoryLink) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()

		l.medium.leave(l)
		close(l.done)
		l.wg.Wait()
	})
	return nil
}

func (l *MemoryLink) isClosed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.closed
}

var _ Transport = (*MemoryLink)(nil)

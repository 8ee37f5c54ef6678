package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/wifiphone/limits"
)

// Defaults for UDPConfig.
const (
	DefaultDataPort       = 47800
	DefaultBeaconInterval = 500 * time.Millisecond
	DefaultBeaconTTL      = 3 * time.Second
	DefaultScanWindow     = 1500 * time.Millisecond
	DefaultNamePrefix     = "ESPNOW"

	// maxChannel is the highest 2.4 GHz channel number.
	maxChannel = 14

	readTimeout = 100 * time.Millisecond
)

// UDPConfig configures a UDPLink.
type UDPConfig struct {
	// Addr is the local link address. A random locally administered
	// address is generated when zero.
	Addr Addr

	// Name is the advertised name. Defaults to "ESPNOW:<addr>".
	Name string

	// Channel is the advertised channel, 1 when zero.
	Channel uint8

	// ListenIP restricts both sockets to one local IP. Empty binds all.
	ListenIP string

	// DataPort carries audio datagrams. Zero picks an ephemeral port.
	DataPort int

	// BeaconPort carries advertisements. Zero means DataPort+1, or an
	// ephemeral port when DataPort is also zero.
	BeaconPort int

	// BeaconTargets are the host:port destinations beacons are sent to.
	// Defaults to the IPv4 broadcast address on BeaconPort.
	BeaconTargets []string

	BeaconInterval time.Duration
	BeaconTTL      time.Duration
	ScanWindow     time.Duration

	// MTU is the largest datagram Send accepts.
	MTU int

	// MaxPeers bounds the peer table.
	MaxPeers int
}

// DefaultUDPConfig returns the configuration used by the CLI.
func DefaultUDPConfig() UDPConfig {
	return UDPConfig{
		Channel:        1,
		DataPort:       DefaultDataPort,
		BeaconInterval: DefaultBeaconInterval,
		BeaconTTL:      DefaultBeaconTTL,
		ScanWindow:     DefaultScanWindow,
		MTU:            limits.MaxLinkPayload,
		MaxPeers:       limits.MaxPeers,
	}
}

func (c *UDPConfig) applyDefaults() error {
	if c.Addr.IsZero() {
		addr, err := RandomAddr()
		if err != nil {
			return err
		}
		c.Addr = addr
	}
	if c.Name == "" {
		c.Name = DefaultNamePrefix + ":" + c.Addr.String()
	}
	if c.Channel == 0 {
		c.Channel = 1
	}
	if c.BeaconPort == 0 && c.DataPort != 0 {
		c.BeaconPort = c.DataPort + 1
	}
	if c.BeaconInterval <= 0 {
		c.BeaconInterval = DefaultBeaconInterval
	}
	if c.BeaconTTL <= 0 {
		c.BeaconTTL = DefaultBeaconTTL
	}
	if c.ScanWindow <= 0 {
		c.ScanWindow = DefaultScanWindow
	}
	if c.MTU == 0 {
		c.MTU = limits.MaxLinkPayload
	}
	if c.MaxPeers <= 0 {
		c.MaxPeers = limits.MaxPeers
	}

	if c.Channel > maxChannel {
		return fmt.Errorf("channel %d out of range 1..%d", c.Channel, maxChannel)
	}
	return limits.ValidateMTU(c.MTU)
}

// UDPLink emulates the broadcast radio link over UDP/IP. Every node sends a
// beacon carrying its link address and advertised name on the beacon port;
// Scan reports the beacons heard during a scan window, and Send resolves a
// registered peer's link address to the data endpoint its beacon announced.
// A peer whose beacon has not been heard for BeaconTTL is unreachable.
type UDPLink struct {
	cfg    UDPConfig
	data   net.PacketConn
	beacon net.PacketConn

	mu      sync.RWMutex
	running bool
	handler ReceiveHandler
	peers   map[Addr]PeerInfo
	heard   *beaconTable
	targets []*net.UDPAddr
	now     func() time.Time

	cancel    context.CancelFunc
	group     *errgroup.Group
	closeOnce sync.Once
}

// NewUDPLink opens the data and beacon sockets and starts the beacon,
// beacon receive and data receive loops.
func NewUDPLink(cfg UDPConfig) (*UDPLink, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, fmt.Errorf("udp link config: %w", err)
	}

	data, err := net.ListenPacket("udp4", net.JoinHostPort(cfg.ListenIP, strconv.Itoa(cfg.DataPort)))
	if err != nil {
		logrus.WithError(err).Error("Failed to create link data socket")
		return nil, fmt.Errorf("listen data port: %w", err)
	}
	beaconConn, err := net.ListenPacket("udp4", net.JoinHostPort(cfg.ListenIP, strconv.Itoa(cfg.BeaconPort)))
	if err != nil {
		data.Close()
		logrus.WithError(err).Error("Failed to create link beacon socket")
		return nil, fmt.Errorf("listen beacon port: %w", err)
	}
	cfg.DataPort = data.LocalAddr().(*net.UDPAddr).Port
	cfg.BeaconPort = beaconConn.LocalAddr().(*net.UDPAddr).Port

	l := &UDPLink{
		cfg:     cfg,
		data:    data,
		beacon:  beaconConn,
		running: true,
		peers:   make(map[Addr]PeerInfo),
		heard:   newBeaconTable(cfg.BeaconTTL),
		now:     time.Now,
	}

	targets := cfg.BeaconTargets
	if len(targets) == 0 {
		targets = []string{net.JoinHostPort(net.IPv4bcast.String(), strconv.Itoa(cfg.BeaconPort))}
	}
	for _, t := range targets {
		if err := l.AddBeaconTarget(t); err != nil {
			data.Close()
			beaconConn.Close()
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	l.cancel = cancel
	l.group = g
	g.Go(func() error { return l.beaconLoop(gctx) })
	g.Go(func() error { return l.receiveLoop(gctx, beaconConn, l.handleBeacon) })
	g.Go(func() error { return l.receiveLoop(gctx, data, l.handleData) })

	logrus.WithFields(logrus.Fields{
		"function":    "NewUDPLink",
		"addr":        cfg.Addr.String(),
		"name":        cfg.Name,
		"data_port":   cfg.DataPort,
		"beacon_port": cfg.BeaconPort,
		"mtu":         cfg.MTU,
	}).Info("UDP link started")

	return l, nil
}

// AddBeaconTarget adds a host:port destination for beacons.
func (l *UDPLink) AddBeaconTarget(hostport string) error {
	ua, err := net.ResolveUDPAddr("udp4", hostport)
	if err != nil {
		return fmt.Errorf("resolve beacon target %q: %w", hostport, err)
	}
	l.mu.Lock()
	l.targets = append(l.targets, ua)
	l.mu.Unlock()
	return nil
}

// BeaconAddr returns the local address of the beacon socket.
func (l *UDPLink) BeaconAddr() net.Addr {
	return l.beacon.LocalAddr()
}

// DataAddr returns the local address of the data socket.
func (l *UDPLink) DataAddr() net.Addr {
	return l.data.LocalAddr()
}

// LocalAddress returns this node's link address.
func (l *UDPLink) LocalAddress() Addr {
	return l.cfg.Addr
}

// MTU returns the largest datagram Send accepts.
func (l *UDPLink) MTU() int {
	return l.cfg.MTU
}

// OnReceive installs the receive handler.
func (l *UDPLink) OnReceive(handler ReceiveHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = handler
}

// Scan waits one scan window and returns the advertisements heard within
// the beacon TTL.
func (l *UDPLink) Scan(ctx context.Context) ([]Advertisement, error) {
	if !l.isRunning() {
		return nil, NewError("scan", ResultNotInitialized, Addr{}, nil)
	}

	timer := time.NewTimer(l.cfg.ScanWindow)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, NewError("scan", ResultUnknown, Addr{}, ctx.Err())
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.heard.expire(now)
	ads := l.heard.advertisements(now)

	logrus.WithFields(logrus.Fields{
		"function": "UDPLink.Scan",
		"heard":    len(ads),
	}).Debug("Scan complete")

	return ads, nil
}

// RegisterPeer adds info to the peer table.
func (l *UDPLink) RegisterPeer(_ context.Context, info PeerInfo) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case !l.running:
		return NewError("register", ResultNotInitialized, info.Addr, nil)
	case info.Addr.IsZero() || info.Addr == l.cfg.Addr:
		return NewError("register", ResultInvalidArgument, info.Addr, errors.New("bad peer address"))
	case info.Channel > maxChannel:
		return NewError("register", ResultInvalidArgument, info.Addr, fmt.Errorf("channel %d", info.Channel))
	case info.Encrypt:
		return NewError("register", ResultInvalidArgument, info.Addr, errors.New("encryption not supported"))
	}
	if _, ok := l.peers[info.Addr]; ok {
		return NewError("register", ResultExists, info.Addr, nil)
	}
	if len(l.peers) >= l.cfg.MaxPeers {
		return NewError("register", ResultTableFull, info.Addr, nil)
	}

	l.peers[info.Addr] = info
	return nil
}

// PeerExists reports whether addr is in the peer table.
func (l *UDPLink) PeerExists(addr Addr) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.peers[addr]
	return ok
}

// Send transmits payload to a registered peer, or to every node heard
// within the beacon TTL when to is the broadcast address.
func (l *UDPLink) Send(ctx context.Context, to Addr, payload []byte) error {
	if err := limits.ValidateDatagram(payload, l.cfg.MTU); err != nil {
		return NewError("send", ResultInvalidArgument, to, err)
	}

	l.mu.RLock()
	running := l.running
	_, registered := l.peers[to]
	var dests []*net.UDPAddr
	if to.IsBroadcast() {
		dests = l.heard.fresh(l.now())
	} else if ua, ok := l.heard.lookup(to, l.now()); ok {
		dests = []*net.UDPAddr{ua}
	}
	l.mu.RUnlock()

	switch {
	case !running:
		return NewError("send", ResultNotInitialized, to, nil)
	case !registered:
		return NewError("send", ResultNotFound, to, nil)
	case len(dests) == 0 && !to.IsBroadcast():
		return NewError("send", ResultInternal, to, errors.New("peer unreachable"))
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = l.data.SetWriteDeadline(deadline)
	} else {
		_ = l.data.SetWriteDeadline(time.Time{})
	}

	for _, ua := range dests {
		if _, err := l.data.WriteTo(payload, ua); err != nil {
			return NewError("send", classifyWriteError(err), to, err)
		}
	}
	return nil
}

func classifyWriteError(err error) Result {
	switch {
	case errors.Is(err, net.ErrClosed):
		return ResultNotInitialized
	case errors.Is(err, syscall.ENOBUFS), errors.Is(err, syscall.ENOMEM):
		return ResultNoMemory
	default:
		return ResultInternal
	}
}

// Close stops the loops and closes both sockets.
func (l *UDPLink) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()

		l.cancel()
		l.data.Close()
		l.beacon.Close()
		err = l.group.Wait()

		logrus.WithFields(logrus.Fields{
			"function": "UDPLink.Close",
			"addr":     l.cfg.Addr.String(),
		}).Info("UDP link stopped")
	})
	return err
}

func (l *UDPLink) isRunning() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.running
}

// beaconLoop periodically sends this node's beacon to every target.
func (l *UDPLink) beaconLoop(ctx context.Context) error {
	packet := beacon{
		Addr:     l.cfg.Addr,
		Channel:  l.cfg.Channel,
		DataPort: uint16(l.cfg.DataPort),
		Name:     l.cfg.Name,
	}.marshal()

	ticker := time.NewTicker(l.cfg.BeaconInterval)
	defer ticker.Stop()

	// Send initial beacon immediately
	l.sendBeacon(packet)

	for {
		select {
		case <-ticker.C:
			l.sendBeacon(packet)
		case <-ctx.Done():
			return nil
		}
	}
}

func (l *UDPLink) sendBeacon(packet []byte) {
	l.mu.RLock()
	targets := l.targets
	l.mu.RUnlock()

	for _, t := range targets {
		if _, err := l.beacon.WriteTo(packet, t); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "UDPLink.sendBeacon",
				"target":   t.String(),
				"error":    err.Error(),
			}).Debug("Failed to send beacon")
		}
	}
}

// receiveLoop reads datagrams from conn until ctx is cancelled, using a
// short read deadline so cancellation is noticed.
func (l *UDPLink) receiveLoop(ctx context.Context, conn net.PacketConn, handle func([]byte, net.Addr)) error {
	buffer := make([]byte, limits.MaxUDPPayload)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, src, err := conn.ReadFrom(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			logrus.WithFields(logrus.Fields{
				"function": "UDPLink.receiveLoop",
				"error":    err.Error(),
			}).Debug("Read error")
			continue
		}

		handle(buffer[:n], src)
	}
}

func (l *UDPLink) handleBeacon(data []byte, src net.Addr) {
	b, err := parseBeacon(data)
	if err != nil {
		logrus.WithField("src", src.String()).Debug("Received invalid beacon")
		return
	}
	if b.Addr == l.cfg.Addr {
		return
	}
	ua, ok := src.(*net.UDPAddr)
	if !ok {
		return
	}

	l.mu.Lock()
	_, known := l.heard.entries[b.Addr]
	l.heard.record(b, ua, l.now())
	l.mu.Unlock()

	if !known {
		logrus.WithFields(logrus.Fields{
			"function": "UDPLink.handleBeacon",
			"addr":     b.Addr.String(),
			"name":     b.Name,
			"src":      ua.String(),
		}).Info("Heard new node")
	}
}

// handleData delivers one datagram. Datagrams from endpoints no beacon has
// announced are delivered with a zero source address.
func (l *UDPLink) handleData(data []byte, src net.Addr) {
	if len(data) == 0 || len(data) > l.cfg.MTU {
		logrus.WithFields(logrus.Fields{
			"function": "UDPLink.handleData",
			"size":     len(data),
			"mtu":      l.cfg.MTU,
		}).Debug("Dropping datagram outside link limits")
		return
	}

	l.mu.RLock()
	from, _ := l.heard.source(src)
	handler := l.handler
	l.mu.RUnlock()

	if handler != nil {
		handler(from, data)
	}
}

var _ Transport = (*UDPLink)(nil)

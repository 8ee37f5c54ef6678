// Package relay runs the full-duplex audio loop: discover peers, capture a
// chunk, send it to every peer, and play back at most one received frame per
// iteration.
//
// Example:
//
//	s, err := relay.NewSession(device, link, relay.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	go func() {
//	    for ev := range s.Events() {
//	        log.Println(ev)
//	    }
//	}()
//	return s.Run(ctx)
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/wifiphone/audio"
	"github.com/opd-ai/wifiphone/frame"
	"github.com/opd-ai/wifiphone/jitter"
	"github.com/opd-ai/wifiphone/limits"
	"github.com/opd-ai/wifiphone/metrics"
	"github.com/opd-ai/wifiphone/peer"
	"github.com/opd-ai/wifiphone/transport"
)

// Defaults for Options.
const (
	DefaultScanInterval     = 500 * time.Millisecond
	DefaultUnreachableAfter = 200
	DefaultBudgetFactor     = 4.0
	DefaultMinBudget        = 20 * time.Millisecond
	DefaultEventBuffer      = 64
)

// Options configures a Session.
type Options struct {
	// WireMode selects the datagram format: frame.ModeRaw or frame.ModeSequenced.
	WireMode string

	// QueueCapacity bounds the inbound jitter queue, in frames.
	QueueCapacity int

	// ScanInterval is the pause after a discovery pass that found nobody.
	ScanInterval time.Duration

	// UnreachableAfter is the number of consecutive iterations in which
	// every send fails before the session returns to discovery. Zero
	// disables the fallback.
	UnreachableAfter int

	// BudgetFactor scales the audio period of one chunk into the deadline
	// for each device call.
	BudgetFactor float64

	// MinBudget is the lower bound of the device deadline.
	MinBudget time.Duration

	// EventBuffer is the capacity of the Events channel. Events are dropped
	// when the channel is full.
	EventBuffer int

	// Discovery configures peer discovery.
	Discovery peer.Config

	// Metrics receives counters; nil disables metrics.
	Metrics *metrics.Metrics

	// TimeProvider is used by the peer registry.
	TimeProvider peer.TimeProvider
}

// DefaultOptions returns the stock relay settings.
func DefaultOptions() Options {
	return Options{
		WireMode:         frame.ModeRaw,
		QueueCapacity:    jitter.DefaultCapacity,
		ScanInterval:     DefaultScanInterval,
		UnreachableAfter: DefaultUnreachableAfter,
		BudgetFactor:     DefaultBudgetFactor,
		MinBudget:        DefaultMinBudget,
		EventBuffer:      DefaultEventBuffer,
		Discovery:        peer.DefaultConfig(),
	}
}

// Session owns all relay state: the device, the link, the peer registry and
// the inbound queue. Iterate and Run must be called from one goroutine; the
// transport's receive handler runs concurrently and touches only the queue.
type Session struct {
	dev   audio.Device
	link  transport.Transport
	reg   *peer.Registry
	queue *jitter.Queue
	codec frame.Codec
	opts  Options
	met   *metrics.Metrics

	chunk  []byte
	budget time.Duration

	state      atomic.Int32
	rescan     atomic.Bool
	lastEmpty  bool
	failStreak int

	events chan Event
}

// NewSession wires dev and link together and installs the receive handler.
// The chunk size is the device's payload size, reduced if needed so that a
// chunk plus the wire header fits the link MTU.
func NewSession(dev audio.Device, link transport.Transport, opts Options) (*Session, error) {
	cfg := dev.Config()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("relay: %w", err)
	}

	defaults := DefaultOptions()
	if opts.ScanInterval <= 0 {
		opts.ScanInterval = defaults.ScanInterval
	}
	if opts.BudgetFactor <= 0 {
		opts.BudgetFactor = defaults.BudgetFactor
	}
	if opts.MinBudget <= 0 {
		opts.MinBudget = defaults.MinBudget
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaults.EventBuffer
	}
	if opts.Discovery.Prefix == "" {
		opts.Discovery = defaults.Discovery
	}
	met := opts.Metrics
	if met == nil {
		met = metrics.Noop()
	}

	local := link.LocalAddress()
	codec, err := frame.NewCodec(opts.WireMode, local[:], cfg.FrameSize())
	if err != nil {
		return nil, fmt.Errorf("relay: %w", err)
	}

	room, err := limits.PayloadSize(link.MTU(), codec.Overhead())
	if err != nil {
		return nil, fmt.Errorf("relay: %w", err)
	}
	size := cfg.AlignPayload(min(cfg.PayloadSize, room))
	if size <= 0 {
		return nil, fmt.Errorf("relay: %w: mtu %d cannot carry one %d-byte sample frame",
			limits.ErrInvalidMTU, link.MTU(), cfg.FrameSize())
	}

	budget := time.Duration(float64(cfg.Period(size)) * opts.BudgetFactor)
	budget = max(budget, opts.MinBudget)

	s := &Session{
		dev:    dev,
		link:   link,
		reg:    peer.NewRegistryWithTimeProvider(link, opts.Discovery, opts.TimeProvider),
		queue:  jitter.New(opts.QueueCapacity),
		codec:  codec,
		opts:   opts,
		met:    met,
		chunk:  make([]byte, size),
		budget: budget,
		events: make(chan Event, opts.EventBuffer),
	}
	link.OnReceive(s.onReceive)

	logrus.WithFields(logrus.Fields{
		"function":  "NewSession",
		"stream":    cfg.String(),
		"chunk":     size,
		"budget":    budget.String(),
		"wire_mode": opts.WireMode,
		"local":     local.String(),
	}).Info("Relay session created")

	return s, nil
}

// State returns the current peer state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Events returns the channel of non-fatal conditions.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Rescan asks the loop to drop the peer table and rediscover on the next
// iteration. Safe to call from any goroutine.
func (s *Session) Rescan() {
	s.rescan.Store(true)
}

// Peers returns a snapshot of the peer table.
func (s *Session) Peers() []peer.Peer {
	return s.reg.Peers()
}

// Queue returns the inbound jitter queue.
func (s *Session) Queue() *jitter.Queue {
	return s.queue
}

// ChunkSize returns the number of PCM bytes captured per iteration.
func (s *Session) ChunkSize() int {
	return len(s.chunk)
}

// IterationInterval is the pause Run takes between iterations: the scan
// interval after an empty discovery pass, zero otherwise since device calls
// pace the loop.
func (s *Session) IterationInterval() time.Duration {
	if s.State() == StateNoPeers && s.lastEmpty {
		return s.opts.ScanInterval
	}
	return 0
}

// Run iterates until ctx is cancelled or a fatal device error occurs.
// Cancellation returns nil.
func (s *Session) Run(ctx context.Context) error {
	logrus.WithFields(logrus.Fields{
		"function": "Session.Run",
	}).Info("Relay loop started")

	for {
		if err := s.Iterate(ctx); err != nil {
			if ctx.Err() != nil {
				logrus.WithField("function", "Session.Run").Info("Relay loop stopped")
				return nil
			}
			logrus.WithFields(logrus.Fields{
				"function": "Session.Run",
				"error":    err.Error(),
			}).Error("Relay loop failed")
			return err
		}

		if d := s.IterationInterval(); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				logrus.WithField("function", "Session.Run").Info("Relay loop stopped")
				return nil
			case <-timer.C:
			}
		}
	}
}

// Iterate runs one pass of the loop. In StateNoPeers it runs one discovery
// pass; in StateHasPeers it registers, captures, sends and renders once.
// Device failures other than a missed deadline are returned. A link closed
// underneath the session (ResultNotInitialized on register or send) is the
// one fatal link result; every other link failure is reported as an event.
func (s *Session) Iterate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.rescan.CompareAndSwap(true, false) {
		s.dropPeers("rescan requested")
	}

	if s.State() == StateNoPeers {
		return s.discover(ctx)
	}
	return s.relay(ctx)
}

func (s *Session) discover(ctx context.Context) error {
	peers, err := s.reg.Discover(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.lastEmpty = true
		s.met.RecordDiscovery(ctx, metrics.DiscoveryError, 0)
		s.emit(Event{Kind: EventDiscoveryFailed, Result: transport.ResultOf(err), Err: err})
		return nil
	}

	if len(peers) == 0 {
		s.lastEmpty = true
		s.met.RecordDiscovery(ctx, metrics.DiscoveryEmpty, 0)
		s.emit(Event{Kind: EventDiscoveryEmpty})
		logrus.WithFields(logrus.Fields{
			"function": "Session.discover",
			"prefix":   s.opts.Discovery.Prefix,
		}).Debug("No peers found, retrying")
		return nil
	}

	s.lastEmpty = false
	s.failStreak = 0
	s.met.RecordDiscovery(ctx, metrics.DiscoveryFound, len(peers))
	if stale := s.queue.Flush(); stale > 0 {
		s.met.QueueDrops.Add(ctx, int64(stale))
	}
	s.state.Store(int32(StateHasPeers))
	s.emit(Event{Kind: EventPeersFound, Peers: len(peers)})

	logrus.WithFields(logrus.Fields{
		"function": "Session.discover",
		"peers":    len(peers),
	}).Info("Peers found, relaying audio")
	return nil
}

func (s *Session) relay(ctx context.Context) error {
	for _, o := range s.reg.EnsureAll(ctx) {
		if o.Err != nil && o.Result.Fatal() {
			return fmt.Errorf("register: %w", o.Err)
		}
		if o.Err != nil {
			s.met.RecordRegisterFailure(ctx, o.Result.String())
			s.emit(Event{Kind: EventRegisterFailed, Peer: o.Peer.Address, Result: o.Result, Err: o.Err})
		}
	}

	n, err := s.deviceCall(ctx, metrics.OpCapture, s.dev.Capture, s.chunk)
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	if n > 0 {
		if err := s.send(ctx, s.chunk[:n]); err != nil {
			return fmt.Errorf("send: %w", err)
		}
	}

	if f, ok := s.queue.Pop(); ok {
		if _, err := s.deviceCall(ctx, metrics.OpRender, s.dev.Render, f.Payload()); err != nil {
			return fmt.Errorf("render: %w", err)
		}
		s.met.FramesRendered.Add(ctx, 1)
	}
	return nil
}

// deviceCall runs one capture or render under the session's time budget.
// A missed deadline is reported as an overrun and is not an error.
func (s *Session) deviceCall(ctx context.Context, op string, call func(context.Context, []byte) (int, error), buf []byte) (int, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.budget)
	defer cancel()

	start := time.Now()
	n, err := call(callCtx, buf)
	s.met.RecordDevice(ctx, op, time.Since(start), s.budget)

	if err == nil {
		return n, nil
	}
	if ctx.Err() != nil {
		return n, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		s.emit(Event{Kind: EventDeviceOverrun, Err: fmt.Errorf("%s: %w", op, err)})
		return n, nil
	}
	return n, err
}

// send encodes data as one frame and sends it to every peer. When every
// send fails for UnreachableAfter consecutive iterations the session falls
// back to discovery. Only a fatal link error is returned.
func (s *Session) send(ctx context.Context, data []byte) error {
	wire, err := s.codec.Encode(frame.New(data))
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Session.send",
			"error":    err.Error(),
		}).Warn("Failed to encode frame")
		return nil
	}

	addrs := s.reg.Addresses()
	if len(addrs) == 0 {
		return nil
	}

	delivered := 0
	for _, addr := range addrs {
		if err := s.link.Send(ctx, addr, wire); err != nil {
			var terr *transport.Error
			if errors.As(err, &terr) && terr.Fatal() {
				return err
			}
			result := transport.ResultOf(err)
			s.met.RecordSendFailure(ctx, result.String())
			s.emit(Event{Kind: EventSendFailed, Peer: addr, Result: result, Err: err})
			continue
		}
		delivered++
	}
	s.met.FramesSent.Add(ctx, int64(delivered))

	if delivered > 0 {
		s.failStreak = 0
		return nil
	}
	s.failStreak++
	if s.opts.UnreachableAfter > 0 && s.failStreak >= s.opts.UnreachableAfter {
		s.dropPeers("all peers unreachable")
	}
	return nil
}

func (s *Session) dropPeers(reason string) {
	if s.State() == StateHasPeers {
		s.emit(Event{Kind: EventPeersLost, Peers: s.reg.Len()})
	}
	s.reg.Clear()
	s.failStreak = 0
	s.lastEmpty = false
	s.state.Store(int32(StateNoPeers))

	logrus.WithFields(logrus.Fields{
		"function": "Session.dropPeers",
		"reason":   reason,
	}).Info("Returning to discovery")
}

// onReceive is the transport receive handler. It only decodes and queues;
// it never touches the device.
func (s *Session) onReceive(from transport.Addr, payload []byte) {
	ctx := context.Background()

	var lostBefore uint64
	sc, sequenced := s.codec.(*frame.SequencedCodec)
	if sequenced {
		lostBefore = sc.Loss().Stats().Lost
	}

	f, err := s.codec.Decode(payload)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Session.onReceive",
			"from":     from.String(),
			"size":     len(payload),
			"error":    err.Error(),
		}).Debug("Dropping undecodable datagram")
		return
	}
	s.met.FramesReceived.Add(ctx, 1)

	if sequenced {
		if lost := sc.Loss().Stats().Lost - lostBefore; lost > 0 {
			s.met.FramesLost.Add(ctx, int64(lost))
		}
	}

	if s.queue.Push(f) {
		s.met.QueueDrops.Add(ctx, 1)
	}
}

// emit delivers ev without blocking and logs it.
func (s *Session) emit(ev Event) {
	entry := logrus.WithFields(logrus.Fields{
		"function": "Session.emit",
		"event":    ev.Kind.String(),
	})
	if !ev.Peer.IsZero() {
		entry = entry.WithField("peer", ev.Peer.String())
	}
	if ev.Err != nil {
		entry = entry.WithField("error", ev.Err.Error())
	}
	switch ev.Kind {
	case EventRegisterFailed, EventDiscoveryFailed, EventPeersLost:
		entry.Warn("Relay event")
	default:
		entry.Debug("Relay event")
	}

	select {
	case s.events <- ev:
	default:
	}
}

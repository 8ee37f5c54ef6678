// Package wifiphone relays full-duplex audio between nodes on a broadcast
// datagram link.
//
// A Phone ties together an audio device, a link and a relay session. It
// discovers peers advertising the configured prefix, streams captured audio
// to every one of them and plays back what they send.
//
// Example:
//
//	options := wifiphone.NewOptions()
//	options.Config.Link.Type = config.LinkMemory
//
//	phone, err := wifiphone.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer phone.Kill()
//
//	go func() {
//	    for ev := range phone.Events() {
//	        log.Println(ev)
//	    }
//	}()
//
//	if err := phone.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package wifiphone

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/wifiphone/audio"
	"github.com/opd-ai/wifiphone/config"
	"github.com/opd-ai/wifiphone/metrics"
	"github.com/opd-ai/wifiphone/peer"
	"github.com/opd-ai/wifiphone/relay"
	"github.com/opd-ai/wifiphone/transport"
)

// Version is the release version reported by the CLI and the metrics resource.
const Version = "0.3.0"

// ErrKilled is returned by Run and Iterate after Kill.
var ErrKilled = errors.New("phone has been killed")

// Options contains everything needed to create a Phone.
type Options struct {
	// Config is the node configuration. Nil selects config.Default().
	Config *config.Config

	// Device, when set, is used instead of opening one. The Phone does not
	// close a device it did not open.
	Device audio.Device

	// OpenDevice opens the device when Device is nil. Nil opens a tone
	// device for the "tone" device type; any other type needs an opener.
	OpenDevice DeviceOpener

	// Link, when set, is used instead of opening one. The Phone does not
	// close a link it did not open.
	Link transport.Transport

	// Medium is joined when the configured link type is "memory" and Link
	// is nil. Nil creates a private medium.
	Medium *transport.Medium

	// MeterProvider receives the relay metrics. Nil uses the global
	// provider, which InitProvider replaces when metrics are enabled.
	MeterProvider metric.MeterProvider

	// TimeProvider drives peer timestamps; nil uses the wall clock.
	TimeProvider peer.TimeProvider
}

// NewOptions creates Options with the default configuration.
func NewOptions() *Options {
	return &Options{
		Config: config.Default(),
	}
}

// Phone is one relay node.
type Phone struct {
	cfg     *config.Config
	dev     audio.Device
	link    transport.Transport
	session *relay.Session

	ownsDevice bool
	ownsLink   bool

	metricsShutdown func(context.Context) error

	running  atomic.Bool
	mu       sync.Mutex
	cancel   context.CancelFunc
	killOnce sync.Once
}

// New validates options, opens the device and the link, and prepares the
// relay session. A device that cannot be opened fails here.
func New(options *Options) (*Phone, error) {
	if options == nil {
		options = NewOptions()
	}
	cfg := options.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	p := &Phone{cfg: cfg}

	if err := p.initMetrics(options); err != nil {
		return nil, err
	}
	met, err := metrics.NewMetrics(p.meterProvider(options))
	if err != nil {
		p.release()
		return nil, fmt.Errorf("metrics: %w", err)
	}

	if err := p.openDevice(options); err != nil {
		p.release()
		return nil, err
	}
	if err := p.openLink(options); err != nil {
		p.release()
		return nil, err
	}

	ropts := relay.DefaultOptions()
	ropts.WireMode = cfg.Relay.WireMode
	ropts.QueueCapacity = cfg.Relay.QueueCapacity
	ropts.ScanInterval = cfg.Relay.ScanInterval
	ropts.UnreachableAfter = cfg.Relay.UnreachableAfter
	ropts.BudgetFactor = cfg.Relay.BudgetFactor
	ropts.MinBudget = cfg.Relay.MinBudget
	ropts.Discovery = peer.Config{
		Prefix:   cfg.Relay.Prefix,
		MaxPeers: cfg.Relay.MaxPeers,
		Channel:  cfg.Node.Channel,
	}
	ropts.Metrics = met
	ropts.TimeProvider = options.TimeProvider

	session, err := relay.NewSession(p.dev, p.link, ropts)
	if err != nil {
		p.release()
		return nil, err
	}
	p.session = session
	p.running.Store(true)

	logrus.WithFields(logrus.Fields{
		"function":  "New",
		"addr":      p.link.LocalAddress().String(),
		"stream":    p.dev.Config().String(),
		"chunk":     session.ChunkSize(),
		"wire_mode": cfg.Relay.WireMode,
	}).Info("Phone created")

	return p, nil
}

func (p *Phone) initMetrics(options *Options) error {
	if !p.cfg.Metrics.Enabled || options.MeterProvider != nil {
		return nil
	}
	shutdown, err := metrics.InitProvider(context.Background(), metrics.ProviderConfig{
		ServiceName:    "wifiphone",
		ServiceVersion: Version,
	})
	if err != nil {
		return fmt.Errorf("metrics provider: %w", err)
	}
	p.metricsShutdown = shutdown
	return nil
}

func (p *Phone) meterProvider(options *Options) metric.MeterProvider {
	if options.MeterProvider != nil {
		return options.MeterProvider
	}
	return otel.GetMeterProvider()
}

func (p *Phone) openDevice(options *Options) error {
	if options.Device != nil {
		p.dev = options.Device
		return nil
	}

	open := options.OpenDevice
	if open == nil {
		if p.cfg.Audio.Device != config.DeviceTone {
			return fmt.Errorf("%w: no opener for device type %q", audio.ErrDeviceInit, p.cfg.Audio.Device)
		}
		open = NewToneOpener(p.cfg.Audio.ToneFrequency)
	}

	dev, err := open(p.cfg.Audio.StreamConfig())
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "New",
			"device":   p.cfg.Audio.Device,
			"error":    err.Error(),
		}).Error("Failed to open audio device")
		return err
	}
	p.dev = dev
	p.ownsDevice = true
	return nil
}

func (p *Phone) openLink(options *Options) error {
	if options.Link != nil {
		p.link = options.Link
		return nil
	}
	link, err := NewLink(p.cfg, options.Medium)
	if err != nil {
		return fmt.Errorf("open link: %w", err)
	}
	p.link = link
	p.ownsLink = true
	return nil
}

// Run drives the relay loop, and the metrics endpoint when enabled, until
// ctx is cancelled, Kill is called, or the device fails. Cancellation
// returns nil.
func (p *Phone) Run(ctx context.Context) error {
	if !p.running.Load() {
		return ErrKilled
	}

	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.session.Run(gctx)
	})
	if p.cfg.Metrics.Enabled {
		g.Go(func() error {
			return metrics.Serve(gctx, p.cfg.Metrics.Addr)
		})
	}

	return g.Wait()
}

// Iterate runs a single relay iteration. It is the manual alternative to Run.
func (p *Phone) Iterate(ctx context.Context) error {
	if !p.running.Load() {
		return ErrKilled
	}
	return p.session.Iterate(ctx)
}

// IterationInterval returns the recommended pause before the next Iterate.
func (p *Phone) IterationInterval() time.Duration {
	return p.session.IterationInterval()
}

// IsRunning reports whether the phone has not been killed.
func (p *Phone) IsRunning() bool {
	return p.running.Load()
}

// Events returns the relay event stream.
func (p *Phone) Events() <-chan relay.Event {
	return p.session.Events()
}

// State returns the relay state.
func (p *Phone) State() relay.State {
	return p.session.State()
}

// Peers returns the current peer table.
func (p *Phone) Peers() []peer.Peer {
	return p.session.Peers()
}

// Rescan drops the peer table and rediscovers on the next iteration.
func (p *Phone) Rescan() {
	p.session.Rescan()
}

// SelfAddress returns this node's link address.
func (p *Phone) SelfAddress() transport.Addr {
	return p.link.LocalAddress()
}

// Session exposes the underlying relay session.
func (p *Phone) Session() *relay.Session {
	return p.session
}

// Kill stops Run and releases the device and link the phone opened.
func (p *Phone) Kill() {
	p.killOnce.Do(func() {
		p.running.Store(false)

		p.mu.Lock()
		if p.cancel != nil {
			p.cancel()
		}
		p.mu.Unlock()

		p.release()
		logrus.WithField("function", "Kill").Info("Phone stopped")
	})
}

func (p *Phone) release() {
	if p.ownsLink && p.link != nil {
		if err := p.link.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Kill",
				"error":    err.Error(),
			}).Warn("Failed to close link")
		}
	}
	if p.ownsDevice && p.dev != nil {
		if err := p.dev.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Kill",
				"error":    err.Error(),
			}).Warn("Failed to close audio device")
		}
	}
	if p.metricsShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.metricsShutdown(ctx)
	}
}

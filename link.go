package wifiphone

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/wifiphone/audio"
	"github.com/opd-ai/wifiphone/config"
	"github.com/opd-ai/wifiphone/transport"
)

// NodeAddress returns the configured link address, or a random one when the
// configuration leaves it empty.
func NodeAddress(cfg *config.Config) (transport.Addr, error) {
	if cfg.Node.Addr == "" {
		return transport.RandomAddr()
	}
	return transport.ParseAddr(cfg.Node.Addr)
}

// NodeName returns the advertised name for addr: the configured name, or
// "<prefix>:<addr>" so that peers running the same prefix discover it.
func NodeName(cfg *config.Config, addr transport.Addr) string {
	if cfg.Node.Name != "" {
		return cfg.Node.Name
	}
	return cfg.Relay.Prefix + ":" + addr.String()
}

// NewLink opens the transport described by cfg. For the memory link the
// node joins medium, or a fresh private medium when medium is nil.
func NewLink(cfg *config.Config, medium *transport.Medium) (transport.Transport, error) {
	addr, err := NodeAddress(cfg)
	if err != nil {
		return nil, fmt.Errorf("node address: %w", err)
	}
	name := NodeName(cfg, addr)

	logrus.WithFields(logrus.Fields{
		"function": "NewLink",
		"type":     cfg.Link.Type,
		"addr":     addr.String(),
		"name":     name,
	}).Debug("Opening link")

	switch cfg.Link.Type {
	case config.LinkUDP:
		return transport.NewUDPLink(transport.UDPConfig{
			Addr:           addr,
			Name:           name,
			Channel:        cfg.Node.Channel,
			ListenIP:       cfg.Link.ListenIP,
			DataPort:       cfg.Link.DataPort,
			BeaconPort:     cfg.Link.BeaconPort,
			BeaconTargets:  cfg.Link.BeaconTargets,
			BeaconInterval: cfg.Link.BeaconInterval,
			BeaconTTL:      cfg.Link.BeaconTTL,
			ScanWindow:     cfg.Link.ScanWindow,
			MTU:            cfg.Link.MTU,
			MaxPeers:       cfg.Link.MaxPeers,
		})
	case config.LinkMemory:
		if medium == nil {
			medium = transport.NewMedium(transport.MediumConfig{
				Loss:     cfg.Link.Loss,
				MTU:      cfg.Link.MTU,
				MaxPeers: cfg.Link.MaxPeers,
			})
		}
		return medium.Join(addr, name), nil
	default:
		return nil, fmt.Errorf("unknown link type %q", cfg.Link.Type)
	}
}

// DeviceOpener opens an audio device for a stream format.
type DeviceOpener func(cfg audio.StreamConfig) (audio.Device, error)

// NewToneOpener returns a DeviceOpener producing tone devices at frequency.
func NewToneOpener(frequency float64) DeviceOpener {
	return func(cfg audio.StreamConfig) (audio.Device, error) {
		dev, err := audio.NewToneDevice(cfg, frequency)
		if err != nil {
			return nil, err
		}
		return dev, nil
	}
}

package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/opd-ai/wifiphone/frame"
	"github.com/opd-ai/wifiphone/limits"
	"github.com/opd-ai/wifiphone/transport"
)

// Load reads the YAML file at path over Default and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over Default and validates the result.
// Unknown keys are an error. An empty document yields Default.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"function":  "config.LoadFromReader",
		"link":      cfg.Link.Type,
		"device":    cfg.Audio.Device,
		"wire_mode": cfg.Relay.WireMode,
	}).Debug("Configuration loaded")
	return cfg, nil
}

// Validate checks that cfg is coherent. It returns every failure joined.
func Validate(cfg *Config) error {
	var errs []error

	// Node
	if cfg.Node.Addr != "" {
		if _, err := transport.ParseAddr(cfg.Node.Addr); err != nil {
			errs = append(errs, fmt.Errorf("node.addr %q: %w", cfg.Node.Addr, err))
		}
	}
	if cfg.Node.Channel > 14 {
		errs = append(errs, fmt.Errorf("node.channel %d is out of range [0, 14]", cfg.Node.Channel))
	}

	// Link
	if !cfg.Link.Type.IsValid() {
		errs = append(errs, fmt.Errorf("link.type %q is invalid; valid values: udp, memory", cfg.Link.Type))
	}
	if cfg.Link.ListenIP != "" && net.ParseIP(cfg.Link.ListenIP) == nil {
		errs = append(errs, fmt.Errorf("link.listen_ip %q is not an IP address", cfg.Link.ListenIP))
	}
	for name, port := range map[string]int{"data_port": cfg.Link.DataPort, "beacon_port": cfg.Link.BeaconPort} {
		if port < 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("link.%s %d is out of range [0, 65535]", name, port))
		}
	}
	for i, target := range cfg.Link.BeaconTargets {
		if _, _, err := net.SplitHostPort(target); err != nil {
			errs = append(errs, fmt.Errorf("link.beacon_targets[%d] %q: %w", i, target, err))
		}
	}
	if cfg.Link.BeaconInterval < 0 || cfg.Link.BeaconTTL < 0 || cfg.Link.ScanWindow < 0 {
		errs = append(errs, errors.New("link durations must not be negative"))
	}
	if cfg.Link.BeaconTTL > 0 && cfg.Link.BeaconInterval > 0 && cfg.Link.BeaconTTL <= cfg.Link.BeaconInterval {
		errs = append(errs, fmt.Errorf("link.beacon_ttl %s must exceed link.beacon_interval %s", cfg.Link.BeaconTTL, cfg.Link.BeaconInterval))
	}
	if err := limits.ValidateMTU(cfg.Link.MTU); err != nil {
		errs = append(errs, fmt.Errorf("link.mtu: %w", err))
	}
	if cfg.Link.MaxPeers < 1 {
		errs = append(errs, fmt.Errorf("link.max_peers %d must be positive", cfg.Link.MaxPeers))
	}
	if cfg.Link.Loss < 0 || cfg.Link.Loss > 1 {
		errs = append(errs, fmt.Errorf("link.loss %.2f is out of range [0, 1]", cfg.Link.Loss))
	}

	// Audio
	if !cfg.Audio.Device.IsValid() {
		errs = append(errs, fmt.Errorf("audio.device %q is invalid; valid values: tone, miniaudio", cfg.Audio.Device))
	}
	if err := cfg.Audio.StreamConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("audio: %w", err))
	}
	if cfg.Audio.PayloadSize > cfg.Link.MTU {
		errs = append(errs, fmt.Errorf("audio.payload_size %d exceeds link.mtu %d", cfg.Audio.PayloadSize, cfg.Link.MTU))
	}
	if cfg.Audio.Device == DeviceTone && cfg.Audio.ToneFrequency <= 0 {
		errs = append(errs, fmt.Errorf("audio.tone_frequency %.1f must be positive", cfg.Audio.ToneFrequency))
	}

	// Relay
	if cfg.Relay.WireMode != frame.ModeRaw && cfg.Relay.WireMode != frame.ModeSequenced {
		errs = append(errs, fmt.Errorf("relay.wire_mode %q is invalid; valid values: raw, sequenced", cfg.Relay.WireMode))
	}
	if cfg.Relay.QueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("relay.queue_capacity %d must be positive", cfg.Relay.QueueCapacity))
	}
	if cfg.Relay.UnreachableAfter < 0 {
		errs = append(errs, fmt.Errorf("relay.unreachable_after %d must not be negative", cfg.Relay.UnreachableAfter))
	}
	if cfg.Relay.BudgetFactor < 1 {
		errs = append(errs, fmt.Errorf("relay.budget_factor %.2f must be at least 1", cfg.Relay.BudgetFactor))
	}
	if cfg.Relay.Prefix == "" {
		errs = append(errs, errors.New("relay.prefix is required"))
	}
	if cfg.Relay.MaxPeers < 1 || cfg.Relay.MaxPeers > cfg.Link.MaxPeers {
		errs = append(errs, fmt.Errorf("relay.max_peers %d is out of range [1, link.max_peers=%d]", cfg.Relay.MaxPeers, cfg.Link.MaxPeers))
	}

	// Metrics
	if cfg.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Addr); err != nil {
			errs = append(errs, fmt.Errorf("metrics.addr %q: %w", cfg.Metrics.Addr, err))
		}
	}

	// Log
	if _, err := logrus.ParseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level %q is invalid: %w", cfg.Log.Level, err))
	}
	if !cfg.Log.Format.IsValid() {
		errs = append(errs, fmt.Errorf("log.format %q is invalid; valid values: text, json", cfg.Log.Format))
	}

	return errors.Join(errs...)
}

// Package config defines the YAML configuration file for a wifiphone node.
//
// A minimal file only names what differs from Default:
//
//	node:
//	  name: ESPNOW:kitchen
//	link:
//	  type: udp
//	  beacon_targets: ["192.168.1.255:47801"]
//	relay:
//	  wire_mode: sequenced
//	metrics:
//	  enabled: true
//	  addr: ":9464"
package config

import (
	"time"

	"github.com/opd-ai/wifiphone/audio"
	"github.com/opd-ai/wifiphone/frame"
	"github.com/opd-ai/wifiphone/jitter"
	"github.com/opd-ai/wifiphone/limits"
	"github.com/opd-ai/wifiphone/peer"
	"github.com/opd-ai/wifiphone/relay"
	"github.com/opd-ai/wifiphone/transport"
)

// LinkType selects the transport implementation.
type LinkType string

const (
	LinkUDP    LinkType = "udp"
	LinkMemory LinkType = "memory"
)

// IsValid reports whether t names a known link.
func (t LinkType) IsValid() bool {
	return t == LinkUDP || t == LinkMemory
}

// DeviceType selects the audio device implementation.
type DeviceType string

const (
	DeviceTone      DeviceType = "tone"
	DeviceMiniaudio DeviceType = "miniaudio"
)

// IsValid reports whether t names a known device.
func (t DeviceType) IsValid() bool {
	return t == DeviceTone || t == DeviceMiniaudio
}

// LogFormat selects the logrus formatter.
type LogFormat string

const (
	LogText LogFormat = "text"
	LogJSON LogFormat = "json"
)

// IsValid reports whether f names a known formatter.
func (f LogFormat) IsValid() bool {
	return f == LogText || f == LogJSON
}

// Config is the root of the configuration file.
type Config struct {
	Node    NodeConfig    `yaml:"node"`
	Link    LinkConfig    `yaml:"link"`
	Audio   AudioConfig   `yaml:"audio"`
	Relay   RelayConfig   `yaml:"relay"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// NodeConfig identifies this node on the link.
type NodeConfig struct {
	// Addr is the 6-byte link address as "aa:bb:cc:dd:ee:ff". Empty picks a
	// random locally administered address.
	Addr string `yaml:"addr"`

	// Name is the advertised name. Empty derives "<prefix>:<addr>".
	Name string `yaml:"name"`

	// Channel is the advertised radio channel.
	Channel uint8 `yaml:"channel"`
}

// LinkConfig configures the transport.
type LinkConfig struct {
	Type           LinkType      `yaml:"type"`
	ListenIP       string        `yaml:"listen_ip"`
	DataPort       int           `yaml:"data_port"`
	BeaconPort     int           `yaml:"beacon_port"`
	BeaconTargets  []string      `yaml:"beacon_targets"`
	BeaconInterval time.Duration `yaml:"beacon_interval"`
	BeaconTTL      time.Duration `yaml:"beacon_ttl"`
	ScanWindow     time.Duration `yaml:"scan_window"`
	MTU            int           `yaml:"mtu"`
	MaxPeers       int           `yaml:"max_peers"`

	// Loss is the drop probability of the in-memory medium.
	Loss float64 `yaml:"loss"`
}

// AudioConfig configures the device and stream format.
type AudioConfig struct {
	Device        DeviceType    `yaml:"device"`
	SampleRate    uint32        `yaml:"sample_rate"`
	BitsPerSample uint16        `yaml:"bits_per_sample"`
	Channels      uint16        `yaml:"channels"`
	PayloadSize   int           `yaml:"payload_size"`
	ToneFrequency float64       `yaml:"tone_frequency"`
	BufferPeriod  time.Duration `yaml:"buffer_period"`
}

// RelayConfig configures the relay loop and discovery.
type RelayConfig struct {
	WireMode         string        `yaml:"wire_mode"`
	QueueCapacity    int           `yaml:"queue_capacity"`
	ScanInterval     time.Duration `yaml:"scan_interval"`
	UnreachableAfter int           `yaml:"unreachable_after"`
	BudgetFactor     float64       `yaml:"budget_factor"`
	MinBudget        time.Duration `yaml:"min_budget"`
	Prefix           string        `yaml:"prefix"`
	MaxPeers         int           `yaml:"max_peers"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level  string    `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// DefaultToneFrequency is the test tone pitch in Hz.
const DefaultToneFrequency = 440.0

// DefaultBufferPeriod is the device ring size in audio time.
const DefaultBufferPeriod = 100 * time.Millisecond

// DefaultMetricsAddr is the listen address of the metrics endpoint.
const DefaultMetricsAddr = ":9464"

// Default returns a configuration that runs a UDP node with a tone device.
func Default() *Config {
	stream := audio.DefaultStreamConfig()
	ropts := relay.DefaultOptions()
	return &Config{
		Node: NodeConfig{
			Channel: peer.DefaultChannel,
		},
		Link: LinkConfig{
			Type:           LinkUDP,
			DataPort:       transport.DefaultDataPort,
			BeaconInterval: transport.DefaultBeaconInterval,
			BeaconTTL:      transport.DefaultBeaconTTL,
			ScanWindow:     transport.DefaultScanWindow,
			MTU:            limits.MaxLinkPayload,
			MaxPeers:       limits.MaxPeers,
		},
		Audio: AudioConfig{
			Device:        DeviceTone,
			SampleRate:    stream.SampleRate,
			BitsPerSample: stream.BitsPerSample,
			Channels:      stream.Channels,
			PayloadSize:   stream.PayloadSize,
			ToneFrequency: DefaultToneFrequency,
			BufferPeriod:  DefaultBufferPeriod,
		},
		Relay: RelayConfig{
			WireMode:         frame.ModeRaw,
			QueueCapacity:    jitter.DefaultCapacity,
			ScanInterval:     ropts.ScanInterval,
			UnreachableAfter: ropts.UnreachableAfter,
			BudgetFactor:     ropts.BudgetFactor,
			MinBudget:        ropts.MinBudget,
			Prefix:           peer.DefaultPrefix,
			MaxPeers:         limits.MaxPeers,
		},
		Metrics: MetricsConfig{
			Addr: DefaultMetricsAddr,
		},
		Log: LogConfig{
			Level:  "info",
			Format: LogText,
		},
	}
}

// StreamConfig returns the audio format described by c.
func (c AudioConfig) StreamConfig() audio.StreamConfig {
	return audio.StreamConfig{
		SampleRate:    c.SampleRate,
		BitsPerSample: c.BitsPerSample,
		Channels:      c.Channels,
		PayloadSize:   c.PayloadSize,
	}
}

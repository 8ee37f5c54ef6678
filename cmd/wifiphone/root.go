package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/wifiphone"
	"github.com/opd-ai/wifiphone/audio"
	"github.com/opd-ai/wifiphone/audio/miniaudio"
	"github.com/opd-ai/wifiphone/config"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "wifiphone",
	Short: "full-duplex audio relay over a broadcast datagram link",
	Long: `wifiphone discovers nodes advertising the same name prefix and relays
audio between them: whatever one node captures, every other node plays.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the configuration named by --config, or the defaults,
// applies --log-level and configures logrus from the result.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := configureLogging(cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}

func configureLogging(lc config.LogConfig) error {
	level, err := logrus.ParseLevel(lc.Level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stderr)

	switch lc.Format {
	case config.LogJSON:
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// deviceOpener picks the audio device for cfg.
func deviceOpener(cfg *config.Config) wifiphone.DeviceOpener {
	if cfg.Audio.Device == config.DeviceMiniaudio {
		return func(sc audio.StreamConfig) (audio.Device, error) {
			dev, err := miniaudio.Open(sc, miniaudio.Options{BufferPeriod: cfg.Audio.BufferPeriod})
			if err != nil {
				return nil, err
			}
			return dev, nil
		}
	}
	return wifiphone.NewToneOpener(cfg.Audio.ToneFrequency)
}

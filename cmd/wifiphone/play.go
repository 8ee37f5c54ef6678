package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/wifiphone/wav"
)

var playCmd = &cobra.Command{
	Use:   "play path/to/file.wav",
	Short: "validate a WAV file and play it on the audio device",
	Long: `play checks the RIFF/WAVE header of a linear PCM file and streams the sample
data to the configured audio device. Invalid files are rejected before the
device is opened.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %q: %w", args[0], err)
		}
		header, err := wav.Parse(data)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}

		dev, err := deviceOpener(cfg)(header.StreamConfig())
		if err != nil {
			return err
		}
		defer dev.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logrus.WithFields(logrus.Fields{
			"function": "play",
			"file":     args[0],
			"duration": (time.Duration(header.DataSize) * time.Second / time.Duration(max(header.ByteRate, 1))).String(),
		}).Info("Playing file")

		return wav.Play(ctx, data, dev)
	},
}

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/wifiphone"
	"github.com/opd-ai/wifiphone/relay"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run the relay node until interrupted",
	Long: `run opens the audio device and the link, discovers peers and relays audio
with them until SIGINT or SIGTERM. A device that cannot be opened is fatal.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		options := wifiphone.NewOptions()
		options.Config = cfg
		options.OpenDevice = deviceOpener(cfg)

		phone, err := wifiphone.New(options)
		if err != nil {
			return err
		}
		defer phone.Kill()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		go logEvents(phone.Events())

		logrus.WithFields(logrus.Fields{
			"function": "run",
			"addr":     phone.SelfAddress().String(),
			"prefix":   cfg.Relay.Prefix,
		}).Info("Relay node running")

		return phone.Run(ctx)
	},
}

// logEvents mirrors relay events into the log. The events channel is never
// closed, so it runs for the life of the process.
func logEvents(events <-chan relay.Event) {
	for ev := range events {
		entry := logrus.WithFields(logrus.Fields{
			"function": "logEvents",
			"event":    ev.Kind.String(),
		})
		if !ev.Peer.IsZero() {
			entry = entry.WithField("peer", ev.Peer.String())
		}
		switch ev.Kind {
		case relay.EventPeersFound:
			entry.WithField("peers", ev.Peers).Info("Peers found")
		case relay.EventPeersLost:
			entry.Warn("Peers lost")
		case relay.EventDiscoveryEmpty:
			entry.Debug("No peers yet")
		default:
			entry.Debug(ev.String())
		}
	}
}

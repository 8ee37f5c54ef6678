package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/opd-ai/wifiphone"
	"github.com/opd-ai/wifiphone/peer"
	"github.com/opd-ai/wifiphone/transport"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "list nodes advertising on the link",
	Long: `scan listens for advertisements for one scan window and prints every node
heard. Nodes matching the configured prefix are marked as peers.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		link, err := wifiphone.NewLink(cfg, nil)
		if err != nil {
			return err
		}
		defer link.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ads, err := link.Scan(ctx)
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}

		peers := peer.Filter(ads, peer.Config{
			Prefix:   cfg.Relay.Prefix,
			MaxPeers: cfg.Relay.MaxPeers,
			Channel:  cfg.Node.Channel,
		}, link.LocalAddress(), time.Now())

		return printAdvertisements(cmd, ads, peers, link.LocalAddress())
	},
}

func printAdvertisements(cmd *cobra.Command, ads []transport.Advertisement, peers []peer.Peer, self transport.Addr) error {
	matched := make(map[string]bool, len(peers))
	for _, p := range peers {
		matched[p.Address.String()] = true
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "NAME\tADDRESS\tCHANNEL\tRSSI\tPEER\n")
	for _, ad := range ads {
		mark := ""
		switch {
		case ad.BSSID == self.String():
			mark = "self"
		case matched[ad.BSSID]:
			mark = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", ad.Name, ad.BSSID, ad.Channel, ad.RSSI, mark)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d advertisement(s), %d peer(s)\n", len(ads), len(peers))
	return nil
}

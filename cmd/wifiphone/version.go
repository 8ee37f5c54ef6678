package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/opd-ai/wifiphone"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "wifiphone %s (%s %s/%s)\n", wifiphone.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

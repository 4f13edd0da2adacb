package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// set at build time through `-ldflags "-X main.version=... -X main.commit=..."`.
var (
	version = "dev"
	commit  = "dev"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the version of this exporter",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "btc-exporter", version, commit)
	},
}

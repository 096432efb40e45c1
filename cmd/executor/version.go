package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/graphery/executor/internal/controller"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "2026-10-01"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("executor %s (protocol: %s, commit: %s, built: %s)\n", version, controller.ProtocolVersion, commit, date)
	},
}

package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "cloudforge",
	Short: "Session-based cloud provisioning",
	Long: `CloudForge provisions an isolated network, a compute instance and a
managed MySQL database from an abstract resource specification, records
every created resource in a session directory and tears everything down
again on failure or on request.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the dbfleet application.
var rootCmd = &cobra.Command{
	Use:   "dbfleet",
	Short: "Multi-cloud database control plane",
	Long: `dbfleet is the operations control plane for a fleet of relational and
key-value clusters spread over independent clouds. It fans SQL batches and
cache scans out across clouds, enforces role-based statement policy, and
tracks long-running executions in a shared store.

When run without subcommands, it starts the HTTP server (equivalent to
'dbfleet serve').`,
	// SilenceUsage prevents Cobra from printing the usage message on errors
	// that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command. Called from the main
// package to inject the build-time version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "dbfleet version %s\n" .Version}}`)

	// If no subcommand is provided, run the serve command by default.
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newServeCmd())
}

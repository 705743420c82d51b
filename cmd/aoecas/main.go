package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "aoecas",
	Short:   "aoecas - ATA-over-Ethernet block server backed by content-addressed storage",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"aoecas version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace, debug, info, warn, error, off)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	snapshotCmd.AddCommand(snapshotListCmd, snapshotCreateCmd, snapshotRestoreCmd)
	rootCmd.AddCommand(serveCmd, snapshotCmd, versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("aoecas version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Administer a CAS backend's snapshot history",
}

// newSignalContext returns a context canceled on SIGINT/SIGTERM.
func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

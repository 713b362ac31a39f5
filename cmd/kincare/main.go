// kincare is the sync sidecar for the KinCare caregiving app: it owns the
// local SQLite cache, drains the offline mutation queue against the remote
// store, and reconciles care schedules with external calendars.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:     "kincare",
	Short:   "Offline-first sync engine for KinCare",
	Version: Version,
	Long: `kincare keeps the local care-coordination data in sync.

It maintains a local SQLite cache of tasks, shifts, appointments and
follow-ups, queues mutations while offline, replays them against the
remote store, and mirrors schedulable entities into external calendars
(Google, Outlook, Apple) with per-connection conflict policies.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.kincare/config.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

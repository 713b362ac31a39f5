package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kincareapp/kincare/internal/daemon"
	"github.com/kincareapp/kincare/internal/dashboard"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background sync daemon (foreground)",
	Long: `Run the sync daemon in the foreground.

The daemon will:
  1. Probe connectivity and drain the offline mutation queue when online
  2. Periodically refresh tasks, shifts, appointments and follow-ups
     from the remote store
  3. Run calendar sync passes for every active connection
  4. Reload configuration when the config file changes

Press Ctrl+C to stop.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.Close()

		var dash *dashboard.Server
		if a.cfg.Dashboard.Enabled {
			dash = dashboard.NewServer(&dashboard.Config{
				Port:   a.cfg.Dashboard.Port,
				Logger: a.logs.Logger("dashboard"),
			})
			if err := dash.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Error starting dashboard: %v\n", err)
				os.Exit(1)
			}
			defer dash.Stop()
		}

		dcfg := &daemon.Config{
			DrainInterval:    a.cfg.Daemon.DrainInterval,
			RefreshInterval:  a.cfg.Daemon.RefreshInterval,
			CalendarInterval: a.cfg.Daemon.CalendarInterval,
			ProbeInterval:    a.cfg.Daemon.ProbeInterval,
			Probe:            a.probe,
			ConfigPath:       configPath,
			LockPath:         a.cfg.LockPath(),
			Logger:           a.logs.Logger("daemon"),
		}

		d, err := daemon.New(a.coordinator, a.engine, dash, dcfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating daemon: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Starting kincare daemon\n")
		fmt.Printf("   Database: %s\n", a.cfg.DatabasePath())
		if a.cfg.Dashboard.Enabled {
			fmt.Printf("   Dashboard: http://localhost:%d\n", a.cfg.Dashboard.Port)
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kincareapp/kincare/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage kincare configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	Run: func(cmd *cobra.Command, args []string) {
		path := configPath
		if path == "" {
			path = config.DefaultPath()
		}
		if err := config.WriteTemplate(path); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s\n", path)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("data_dir: %s\n", cfg.DataDir)
		fmt.Printf("remote.base_url: %s\n", cfg.Remote.BaseURL)
		fmt.Printf("daemon.drain_interval: %s\n", cfg.Daemon.DrainInterval)
		fmt.Printf("daemon.refresh_interval: %s\n", cfg.Daemon.RefreshInterval)
		fmt.Printf("daemon.calendar_interval: %s\n", cfg.Daemon.CalendarInterval)
		fmt.Printf("dashboard.enabled: %v\n", cfg.Dashboard.Enabled)
		fmt.Printf("dashboard.port: %d\n", cfg.Dashboard.Port)
		fmt.Printf("log.file: %s\n", cfg.Log.File)
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

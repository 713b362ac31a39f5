package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kincareapp/kincare/internal/dashboard"
	"github.com/kincareapp/kincare/internal/model"
	"github.com/kincareapp/kincare/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status and the needs-attention queue",
	Long: `Display the local database status, queue depth, calendar
connections, and everything waiting on user attention: failed
operations, unresolved conflicts, and connections that need
re-authentication.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.Close()

		info, err := os.Stat(a.cfg.DatabasePath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error checking database: %v\n", err)
			os.Exit(1)
		}

		pending, failed, err := a.db.CountOps(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error counting operations: %v\n", err)
			os.Exit(1)
		}

		conns, err := a.db.ListConnections(ctx, store.ConnectionFilter{})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing connections: %v\n", err)
			os.Exit(1)
		}
		active := 0
		for _, c := range conns {
			if c.Status == model.ConnActive {
				active++
			}
		}

		fmt.Printf("\nKinCare Sync Status\n\n")
		fmt.Printf("Database: %s (%d KB)\n", a.cfg.DatabasePath(), info.Size()/1024)
		fmt.Printf("Queue: %d pending, %d failed\n", pending, failed)
		fmt.Printf("Connections: %d (%d active)\n", len(conns), active)

		att, err := dashboard.CollectAttention(ctx, a.db)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error collecting attention items: %v\n", err)
			os.Exit(1)
		}
		if att.Empty() {
			fmt.Printf("Nothing needs attention\n\n")
			return
		}

		fmt.Printf("\nNeeds attention (%d):\n", len(att.Items))
		for _, item := range att.Items {
			fmt.Printf("   [%s] %s  %s\n", item.Kind, item.ID, item.Detail)
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

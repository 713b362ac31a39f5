package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the offline mutation queue",
}

var queueDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Drain pending mutations against the remote store",
	Long: `Replay queued mutations against the remote store, oldest first.

Operations that fail with a transient error are retried with exponential
backoff; operations that exhaust their retry budget or hit a terminal
error move to the failed state and show up in 'kincare queue list'.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.Close()

		start := time.Now()
		res, err := a.coordinator.DrainNow(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error draining queue: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Drain complete in %v\n", time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Attempted: %d\n", res.Attempted)
		fmt.Printf("   Confirmed: %d\n", res.Confirmed)
		fmt.Printf("   Retried: %d\n", res.Retried)
		fmt.Printf("   Dead-lettered: %d\n", res.DeadLetter)
		fmt.Printf("   Deferred: %d\n", res.Deferred)
	},
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending and failed operations",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.Close()

		pending, err := a.db.ListPendingOps(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing pending operations: %v\n", err)
			os.Exit(1)
		}
		failed, err := a.db.ListFailedOps(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing failed operations: %v\n", err)
			os.Exit(1)
		}

		if len(pending) == 0 && len(failed) == 0 {
			fmt.Println("Queue is empty")
			return
		}

		if len(pending) > 0 {
			fmt.Printf("Pending (%d):\n", len(pending))
			for _, op := range pending {
				fmt.Printf("   %s  %-6s %-20s %s  attempts=%d\n",
					op.ID, op.Kind, op.EntityType, op.EntityID, op.Attempts)
			}
		}
		if len(failed) > 0 {
			fmt.Printf("Failed (%d):\n", len(failed))
			for _, op := range failed {
				fmt.Printf("   %s  %-6s %-20s %s\n      %s\n",
					op.ID, op.Kind, op.EntityType, op.EntityID, op.LastError)
			}
		}
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry <op-id>",
	Short: "Re-queue a failed operation",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.Close()

		if err := a.coordinator.RequeueFailed(ctx, args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error re-queueing operation: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Operation %s re-queued\n", args[0])
	},
}

var queueDiscardCmd = &cobra.Command{
	Use:   "discard <op-id>",
	Short: "Discard a failed operation without replaying it",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.Close()

		if err := a.coordinator.DiscardFailed(ctx, args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error discarding operation: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Operation %s discarded\n", args[0])
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Pull remote changes into the local store",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.Close()

		n := a.coordinator.RefreshAll(ctx)
		fmt.Printf("Refreshed %d record(s)\n", n)
	},
}

func init() {
	queueCmd.AddCommand(queueDrainCmd)
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueRetryCmd)
	queueCmd.AddCommand(queueDiscardCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(refreshCmd)
}

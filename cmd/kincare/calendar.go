package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kincareapp/kincare/internal/calendar"
	"github.com/kincareapp/kincare/internal/model"
	"github.com/kincareapp/kincare/internal/store"
)

var calendarCmd = &cobra.Command{
	Use:   "calendar",
	Short: "Manage calendar connections and sync",
}

var calendarSyncCmd = &cobra.Command{
	Use:   "sync [connection-id]",
	Short: "Run a calendar sync pass",
	Long: `Run one sync pass, for a single connection or for all of them.

Each pass compares local schedulable entities against the external
calendar, pushes and pulls changes per the connection's direction, and
records conflicts for the configured resolution strategy.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.Close()

		start := time.Now()
		var results []*calendar.PassResult
		if len(args) == 1 {
			res, err := a.engine.SyncConnection(ctx, args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error syncing connection: %v\n", err)
				os.Exit(1)
			}
			results = append(results, res)
		} else {
			results = a.engine.SyncAll(ctx)
		}

		fmt.Printf("Sync complete in %v\n", time.Since(start).Round(time.Millisecond))
		for _, res := range results {
			if res.Skipped {
				fmt.Printf("   %s: skipped\n", res.ConnectionID)
				continue
			}
			fmt.Printf("   %s: pushed=%d pulled=%d merged=%d conflicts=%d deleted=%d errors=%d\n",
				res.ConnectionID, res.Pushed, res.Pulled, res.Merged, res.Conflicts, res.Deleted, res.Errors)
		}
	},
}

var (
	connProvider  string
	connCircle    string
	connUser      string
	connCalendar  string
	connDirection string
	connStrategy  string
	connMinimal   bool
	connEntities  []string
)

var calendarConnectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Register a calendar connection",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.Close()

		now := time.Now().UTC()
		conn := &model.CalendarConnection{
			ID:             uuid.NewString(),
			UserID:         connUser,
			CircleID:       connCircle,
			Provider:       model.Provider(connProvider),
			Status:         model.ConnActive,
			CalendarID:     connCalendar,
			Direction:      model.SyncDirection(connDirection),
			Strategy:       model.ConflictStrategy(connStrategy),
			Toggles:        parseToggles(connEntities),
			MinimalDetails: connMinimal,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := conn.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := a.db.UpsertConnection(ctx, conn); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving connection: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Connection %s registered (%s, %s)\n", conn.ID, conn.Provider, conn.Direction)
	},
}

var calendarConnectionsCmd = &cobra.Command{
	Use:   "connections",
	Short: "List calendar connections",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.Close()

		conns, err := a.db.ListConnections(ctx, store.ConnectionFilter{})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing connections: %v\n", err)
			os.Exit(1)
		}
		if len(conns) == 0 {
			fmt.Println("No calendar connections")
			return
		}
		for _, c := range conns {
			last := "never"
			if c.LastSyncAt != nil {
				last = c.LastSyncAt.Local().Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%s  %-8s %-8s %-14s last sync: %s (%s)\n",
				c.ID, c.Provider, c.Status, c.Direction, last, c.LastSyncStatus)
			if c.LastSyncError != "" {
				fmt.Printf("   error: %s\n", c.LastSyncError)
			}
		}
	},
}

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List and resolve calendar sync conflicts",
}

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List events pending manual conflict resolution",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.Close()

		conflicts, err := a.engine.ListConflicts(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing conflicts: %v\n", err)
			os.Exit(1)
		}
		if len(conflicts) == 0 {
			fmt.Println("No pending conflicts")
			return
		}

		for _, c := range conflicts {
			fmt.Printf("%s  %s/%s  detected %s\n",
				c.Event.ID, c.Event.SourceType, c.Event.SourceID,
				c.Record.DetectedAt.Local().Format("2006-01-02 15:04:05"))
			fmt.Printf("   fields: %s\n", strings.Join(c.Record.Fields, ", "))
			fmt.Printf("   local:    %q %s\n", c.Record.Local.Title,
				c.Record.Local.StartAt.Local().Format("2006-01-02 15:04"))
			fmt.Printf("   external: %q %s\n", c.Record.External.Title,
				c.Record.External.StartAt.Local().Format("2006-01-02 15:04"))
		}
	},
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <event-id> <local|external>",
	Short: "Resolve a conflict by keeping one side",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.Close()

		if err := a.engine.ResolveConflict(ctx, args[0], calendar.Resolution(args[1])); err != nil {
			fmt.Fprintf(os.Stderr, "Error resolving conflict: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Conflict resolved, keeping %s version\n", args[1])
	},
}

func parseToggles(entities []string) model.EntityToggles {
	if len(entities) == 0 {
		return model.EntityToggles{Tasks: true, Shifts: true, Appointments: true, FollowUps: true}
	}
	var t model.EntityToggles
	for _, e := range entities {
		switch strings.TrimSpace(e) {
		case "tasks":
			t.Tasks = true
		case "shifts":
			t.Shifts = true
		case "appointments":
			t.Appointments = true
		case "follow_ups", "followups":
			t.FollowUps = true
		}
	}
	return t
}

func init() {
	calendarConnectCmd.Flags().StringVar(&connProvider, "provider", "google", "calendar provider (google, outlook, apple)")
	calendarConnectCmd.Flags().StringVar(&connUser, "user", "", "owning user id")
	calendarConnectCmd.Flags().StringVar(&connCircle, "circle", "", "care circle id")
	calendarConnectCmd.Flags().StringVar(&connCalendar, "calendar", "primary", "external calendar id")
	calendarConnectCmd.Flags().StringVar(&connDirection, "direction", "bidirectional", "sync direction (read_only, write_only, bidirectional)")
	calendarConnectCmd.Flags().StringVar(&connStrategy, "strategy", "local_wins", "conflict strategy (local_wins, external_wins, manual, merge)")
	calendarConnectCmd.Flags().BoolVar(&connMinimal, "minimal-details", false, "push generic titles instead of care details")
	calendarConnectCmd.Flags().StringSliceVar(&connEntities, "entities", nil, "entity types to sync (default: all)")

	calendarCmd.AddCommand(calendarSyncCmd)
	calendarCmd.AddCommand(calendarConnectCmd)
	calendarCmd.AddCommand(calendarConnectionsCmd)
	conflictsCmd.AddCommand(conflictsListCmd)
	conflictsCmd.AddCommand(conflictsResolveCmd)
	rootCmd.AddCommand(calendarCmd)
	rootCmd.AddCommand(conflictsCmd)
}

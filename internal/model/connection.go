package model

import (
	"fmt"
	"time"
)

// Provider identifies an external calendar provider.
type Provider string

const (
	ProviderGoogle  Provider = "google"
	ProviderOutlook Provider = "outlook"
	ProviderApple   Provider = "apple"
)

// ConnectionStatus is the lifecycle state of a calendar connection.
type ConnectionStatus string

const (
	ConnPending ConnectionStatus = "pending"
	ConnActive  ConnectionStatus = "active"
	ConnRevoked ConnectionStatus = "revoked"
	ConnError   ConnectionStatus = "error"
)

// SyncDirection controls which way event changes flow for a connection.
type SyncDirection string

const (
	// DirectionReadOnly pulls provider events into the app; local changes
	// are never pushed.
	DirectionReadOnly SyncDirection = "read_only"

	// DirectionWriteOnly pushes app events to the provider; provider edits
	// are overwritten.
	DirectionWriteOnly SyncDirection = "write_only"

	// DirectionBidirectional syncs both ways with conflict detection.
	DirectionBidirectional SyncDirection = "bidirectional"
)

// ConflictStrategy selects how a bidirectional conflict is resolved.
type ConflictStrategy string

const (
	StrategyLocalWins    ConflictStrategy = "local_wins"
	StrategyExternalWins ConflictStrategy = "external_wins"
	StrategyManual       ConflictStrategy = "manual"
	StrategyMerge        ConflictStrategy = "merge"
)

// EntityToggles enables or disables calendar sync per source entity type.
type EntityToggles struct {
	Tasks        bool `json:"tasks"`
	Shifts       bool `json:"shifts"`
	Appointments bool `json:"appointments"`
	FollowUps    bool `json:"follow_ups"`
}

// Enabled reports whether the given source type is toggled on.
func (t EntityToggles) Enabled(s SourceType) bool {
	switch s {
	case SourceTask:
		return t.Tasks
	case SourceShift:
		return t.Shifts
	case SourceAppointment:
		return t.Appointments
	case SourceFollowUp:
		return t.FollowUps
	}
	return false
}

// CalendarConnection is one (user, provider) pairing with its sync policy.
// The sync engine updates the last-sync bookkeeping after every pass.
type CalendarConnection struct {
	ID         string           `json:"id"`
	UserID     string           `json:"user_id"`
	CircleID   string           `json:"circle_id"`
	Provider   Provider         `json:"provider"`
	Status     ConnectionStatus `json:"status"`
	CalendarID string           `json:"calendar_id"` // external calendar identifier

	Direction      SyncDirection    `json:"direction"`
	Strategy       ConflictStrategy `json:"strategy"`
	Toggles        EntityToggles    `json:"toggles"`
	MinimalDetails bool             `json:"minimal_details"`

	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
	LastSyncStatus string     `json:"last_sync_status,omitempty"`
	LastSyncError  string     `json:"last_sync_error,omitempty"`
	EventsSynced   int        `json:"events_synced"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanSync reports whether the connection is eligible for a sync pass.
// Revoked and errored connections are only targets for re-authentication.
func (c *CalendarConnection) CanSync() bool {
	return c.Status == ConnActive
}

// PushAllowed reports whether local changes may be written to the provider.
func (c *CalendarConnection) PushAllowed() bool {
	return c.Direction == DirectionWriteOnly || c.Direction == DirectionBidirectional
}

// PullAllowed reports whether provider changes may be applied locally.
func (c *CalendarConnection) PullAllowed() bool {
	return c.Direction == DirectionReadOnly || c.Direction == DirectionBidirectional
}

// Validate checks the connection's field values.
func (c *CalendarConnection) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("connection id is required")
	}
	if c.UserID == "" {
		return fmt.Errorf("user id is required")
	}
	if c.CircleID == "" {
		return fmt.Errorf("circle id is required")
	}
	switch c.Provider {
	case ProviderGoogle, ProviderOutlook, ProviderApple:
	default:
		return fmt.Errorf("invalid provider %q", c.Provider)
	}
	switch c.Status {
	case ConnPending, ConnActive, ConnRevoked, ConnError:
	default:
		return fmt.Errorf("invalid status %q", c.Status)
	}
	switch c.Direction {
	case DirectionReadOnly, DirectionWriteOnly, DirectionBidirectional:
	default:
		return fmt.Errorf("invalid sync direction %q", c.Direction)
	}
	switch c.Strategy {
	case StrategyLocalWins, StrategyExternalWins, StrategyManual, StrategyMerge:
	default:
		return fmt.Errorf("invalid conflict strategy %q", c.Strategy)
	}
	return nil
}

// Package provider defines the outbound port for external calendar
// providers and its implementations.
//
// Each provider exposes list/create/update/delete of events scoped to one
// external calendar. Events carry an opaque id and an etag usable for
// conflict detection. Read-only providers reject writes with a terminal
// error.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kincareapp/kincare/internal/model"
)

// Event is the provider-neutral representation of one external calendar
// event.
type Event struct {
	ID          string
	Etag        string
	Title       string
	Description string
	Location    string
	StartAt     time.Time
	EndAt       time.Time
	AllDay      bool
	Recurrence  string
	UpdatedAt   time.Time
	Deleted     bool
}

// Error is the typed error returned by provider operations.
type Error struct {
	Provider   model.Provider
	Op         string
	StatusCode int

	// Auth marks a revoked or expired authorization. The connection
	// pauses until the user re-authenticates.
	Auth bool

	// Retryable marks transient failures (network, 5xx, rate limits).
	Retryable bool

	Message string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s %s: %s", e.Provider, e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsAuth reports whether err is a provider authentication failure.
func IsAuth(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Auth
}

// Retryable reports whether err is a transient provider failure.
func Retryable(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Retryable
}

// Provider is the port each external calendar integration implements.
type Provider interface {
	Name() model.Provider

	// ListEvents returns events in the calendar changed since the given
	// time. A zero since returns everything.
	ListEvents(ctx context.Context, calendarID string, since time.Time) ([]Event, error)

	CreateEvent(ctx context.Context, calendarID string, ev Event) (Event, error)

	// UpdateEvent applies ev to the existing event. etag, when non-empty,
	// is sent as a precondition so a concurrent provider-side edit fails
	// instead of being clobbered.
	UpdateEvent(ctx context.Context, calendarID, eventID, etag string, ev Event) (Event, error)

	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}

// Registry resolves a connection's provider name to an implementation.
type Registry struct {
	providers map[model.Provider]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[model.Provider]Provider)}
}

// Register adds or replaces a provider implementation.
func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
}

// Get returns the implementation for the named provider.
func (r *Registry) Get(name model.Provider) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("no provider registered for %q", name)
	}
	return p, nil
}

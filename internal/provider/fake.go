package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kincareapp/kincare/internal/model"
)

// Fake is an in-memory Provider used by the sync engine tests and by the
// daemon's dry-run mode. It supports fault injection and call counting so
// tests can assert that ineligible connections make no provider calls.
type Fake struct {
	mu     sync.Mutex
	name   model.Provider
	events map[string]map[string]Event // calendarID -> eventID -> event
	nextID int
	clock  func() time.Time

	// Calls counts every provider invocation, including failed ones.
	Calls int

	// FailWith, when non-nil, is returned by every operation.
	FailWith error
}

// NewFake creates a fake provider reporting the given name.
func NewFake(name model.Provider) *Fake {
	return &Fake{
		name:   name,
		events: make(map[string]map[string]Event),
		clock:  time.Now,
	}
}

// SetClock overrides the timestamp source for deterministic tests.
func (f *Fake) SetClock(clock func() time.Time) { f.clock = clock }

func (f *Fake) Name() model.Provider { return f.name }

// Seed places an event directly into a calendar, bypassing call counting.
// Returns the assigned id.
func (f *Fake) Seed(calendarID string, ev Event) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ev.ID == "" {
		ev.ID = f.assignID()
	}
	if ev.Etag == "" {
		ev.Etag = fmt.Sprintf("etag-%s-1", ev.ID)
	}
	f.calendar(calendarID)[ev.ID] = ev
	return ev.ID
}

// Get returns the stored event, for assertions.
func (f *Fake) Get(calendarID, eventID string) (Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.calendar(calendarID)[eventID]
	return ev, ok
}

func (f *Fake) ListEvents(_ context.Context, calendarID string, since time.Time) ([]Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if f.FailWith != nil {
		return nil, f.FailWith
	}

	var out []Event
	for _, ev := range f.calendar(calendarID) {
		if since.IsZero() || ev.UpdatedAt.After(since) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *Fake) CreateEvent(_ context.Context, calendarID string, ev Event) (Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if f.FailWith != nil {
		return Event{}, f.FailWith
	}

	ev.ID = f.assignID()
	ev.Etag = fmt.Sprintf("etag-%s-1", ev.ID)
	if ev.UpdatedAt.IsZero() {
		ev.UpdatedAt = f.clock()
	}
	f.calendar(calendarID)[ev.ID] = ev
	return ev, nil
}

func (f *Fake) UpdateEvent(_ context.Context, calendarID, eventID, etag string, ev Event) (Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if f.FailWith != nil {
		return Event{}, f.FailWith
	}

	existing, ok := f.calendar(calendarID)[eventID]
	if !ok {
		return Event{}, &Error{Provider: f.name, Op: "update", StatusCode: 404, Message: "event not found"}
	}
	if etag != "" && etag != existing.Etag {
		return Event{}, &Error{Provider: f.name, Op: "update", StatusCode: 412, Message: "etag mismatch"}
	}

	ev.ID = eventID
	ev.Etag = existing.Etag + "'"
	if ev.UpdatedAt.IsZero() {
		ev.UpdatedAt = f.clock()
	}
	f.calendar(calendarID)[eventID] = ev
	return ev, nil
}

func (f *Fake) DeleteEvent(_ context.Context, calendarID, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if f.FailWith != nil {
		return f.FailWith
	}

	delete(f.calendar(calendarID), eventID)
	return nil
}

func (f *Fake) calendar(id string) map[string]Event {
	cal, ok := f.events[id]
	if !ok {
		cal = make(map[string]Event)
		f.events[id] = cal
	}
	return cal
}

func (f *Fake) assignID() string {
	f.nextID++
	return fmt.Sprintf("fake-%d", f.nextID)
}

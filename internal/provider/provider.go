// Package provider defines the calendar provider contract consumed by the
// sync engine. Concrete backends (CalDAV, JSON file, the internal CRM store)
// implement only the Hooks interface. The fixed policy around those hooks
// (linkage stamping, side assignment, rate limiting) lives in Adapter and is
// not overridable.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/macjediwizard/crmcalsync/internal/calendar"
)

var (
	ErrEventNotFound   = errors.New("event not found")
	ErrMissingProvider = errors.New("no provider configured")
)

// Query limits an event listing to a time window and an optional count cap.
type Query struct {
	Start time.Time
	End   time.Time
	Limit int
}

// ConnectionTestResult reports whether a provider is reachable.
type ConnectionTestResult struct {
	Success bool
	Message string
}

// Hooks is the minimal surface a concrete calendar backend implements.
// Listed events must carry provider-scoped IDs; GetEvent returns
// ErrEventNotFound (possibly wrapped) when the ID does not exist.
type Hooks interface {
	TestConnection(ctx context.Context) ConnectionTestResult
	GetEvents(ctx context.Context, query Query) ([]*calendar.Event, error)
	GetEvent(ctx context.Context, id string) (*calendar.Event, error)
	DoCreateEvent(ctx context.Context, event *calendar.Event) (string, error)
	DoUpdateEvent(ctx context.Context, id string, event *calendar.Event) error
	DoDeleteEvent(ctx context.Context, id string) error
}

// Adapter wraps a Hooks implementation with the fixed pre/post steps every
// provider gets: events written through it are stamped with linkage and
// lastSync before the hook runs, tagged with the adapter's side, and all
// outbound calls share one rate limiter.
type Adapter struct {
	hooks      Hooks
	isExternal bool
	limiter    *rate.Limiter
}

// NewAdapter wraps hooks for one calendar side. A nil limiter disables rate
// limiting.
func NewAdapter(hooks Hooks, isExternal bool, limiter *rate.Limiter) *Adapter {
	return &Adapter{
		hooks:      hooks,
		isExternal: isExternal,
		limiter:    limiter,
	}
}

// IsExternal reports which side this adapter writes to.
func (a *Adapter) IsExternal() bool {
	return a.isExternal
}

func (a *Adapter) wait(ctx context.Context) error {
	if a.limiter == nil {
		return nil
	}
	return a.limiter.Wait(ctx)
}

// TestConnection checks the backend is reachable.
func (a *Adapter) TestConnection(ctx context.Context) ConnectionTestResult {
	if err := a.wait(ctx); err != nil {
		return ConnectionTestResult{Success: false, Message: err.Error()}
	}
	return a.hooks.TestConnection(ctx)
}

// GetEvents lists events within the query window, tagged with this side.
func (a *Adapter) GetEvents(ctx context.Context, query Query) ([]*calendar.Event, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	events, err := a.hooks.GetEvents(ctx, query)
	if err != nil {
		return nil, err
	}
	for _, event := range events {
		event.IsExternal = a.isExternal
	}
	return events, nil
}

// GetEvent fetches a single event by ID, tagged with this side.
func (a *Adapter) GetEvent(ctx context.Context, id string) (*calendar.Event, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty event ID", ErrEventNotFound)
	}
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	event, err := a.hooks.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if event != nil {
		event.IsExternal = a.isExternal
	}
	return event, nil
}

// CreateEventFromSource creates a counterpart for a source-side event on this
// side and returns the new ID assigned by the backend. The written copy links
// back at the source event and carries the sync time. The source is validated
// before the hook runs.
func (a *Adapter) CreateEventFromSource(ctx context.Context, source *calendar.Event, syncTime time.Time) (string, error) {
	if err := source.Validate(); err != nil {
		return "", err
	}
	if err := a.wait(ctx); err != nil {
		return "", err
	}
	stamped := source.Clone()
	stamped.ID = ""
	stamped.LinkedEventID = source.ID
	stamped.LastSync = &syncTime
	stamped.IsExternal = a.isExternal
	return a.hooks.DoCreateEvent(ctx, stamped)
}

// UpdateEventFromSource overwrites the target event's content from the source
// version, preserving the target's identity and refreshing linkage. The source
// is validated before the hook runs.
func (a *Adapter) UpdateEventFromSource(ctx context.Context, targetID string, source *calendar.Event, syncTime time.Time) error {
	if targetID == "" {
		return fmt.Errorf("%w: empty target ID", ErrEventNotFound)
	}
	if err := source.Validate(); err != nil {
		return err
	}
	if err := a.wait(ctx); err != nil {
		return err
	}
	stamped := source.Clone()
	stamped.ID = targetID
	stamped.LinkedEventID = source.ID
	stamped.LastSync = &syncTime
	stamped.IsExternal = a.isExternal
	return a.hooks.DoUpdateEvent(ctx, targetID, stamped)
}

// UpdateSourceEvent is the link-back write: it stamps the source-side event
// with the target-side counterpart's ID and the sync time, without touching
// its content.
func (a *Adapter) UpdateSourceEvent(ctx context.Context, targetID string, source *calendar.Event, syncTime time.Time) error {
	if source.ID == "" {
		return fmt.Errorf("%w: source event has no ID", ErrEventNotFound)
	}
	if err := a.wait(ctx); err != nil {
		return err
	}
	stamped := source.Clone()
	stamped.LinkedEventID = targetID
	stamped.LastSync = &syncTime
	stamped.IsExternal = a.isExternal
	return a.hooks.DoUpdateEvent(ctx, source.ID, stamped)
}

// DeleteEvent removes an event on this side.
func (a *Adapter) DeleteEvent(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty event ID", ErrEventNotFound)
	}
	if err := a.wait(ctx); err != nil {
		return err
	}
	return a.hooks.DoDeleteEvent(ctx, id)
}

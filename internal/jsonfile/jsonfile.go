// Package jsonfile implements the external calendar provider hooks over a
// plain JSON file holding an array of wire-format events. It exists for
// deployments that exchange calendars via file drops, and doubles as a
// lightweight backend for local testing.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/macjediwizard/crmcalsync/internal/calendar"
	"github.com/macjediwizard/crmcalsync/internal/provider"
)

var ErrBadFile = errors.New("unreadable calendar file")

// Provider is a file-backed external calendar. Access is serialized with a
// process-local mutex; concurrent processes writing the same file are not
// supported.
type Provider struct {
	path   string
	userID string
	mu     sync.Mutex
}

// New creates a provider for the given file path. The file is created empty
// on first write if it does not exist.
func New(path, userID string) *Provider {
	return &Provider{
		path:   path,
		userID: userID,
	}
}

// TestConnection checks the file is readable (or absent, which is fine).
func (p *Provider) TestConnection(ctx context.Context) provider.ConnectionTestResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.load(); err != nil {
		return provider.ConnectionTestResult{Success: false, Message: err.Error()}
	}
	return provider.ConnectionTestResult{Success: true, Message: "ok"}
}

// GetEvents lists events whose start falls within the query window.
func (p *Provider) GetEvents(ctx context.Context, query provider.Query) ([]*calendar.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	events, err := p.load()
	if err != nil {
		return nil, err
	}

	var result []*calendar.Event
	for _, event := range events {
		if event.DateStart.Before(query.Start) || event.DateStart.After(query.End) {
			continue
		}
		result = append(result, event)
		if query.Limit > 0 && len(result) >= query.Limit {
			break
		}
	}

	return result, nil
}

// GetEvent fetches one event by ID.
func (p *Provider) GetEvent(ctx context.Context, id string) (*calendar.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	events, err := p.load()
	if err != nil {
		return nil, err
	}

	for _, event := range events {
		if event.ID == id {
			return event, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", provider.ErrEventNotFound, id)
}

// DoCreateEvent appends a new event and returns its assigned ID.
func (p *Provider) DoCreateEvent(ctx context.Context, event *calendar.Event) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	events, err := p.load()
	if err != nil {
		return "", err
	}

	stored := event.Clone()
	stored.ID = uuid.New().String()
	stored.AssignedUserID = p.userID
	events = append(events, stored)

	if err := p.save(events); err != nil {
		return "", err
	}

	return stored.ID, nil
}

// DoUpdateEvent overwrites the event with the given ID.
func (p *Provider) DoUpdateEvent(ctx context.Context, id string, event *calendar.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	events, err := p.load()
	if err != nil {
		return err
	}

	for i, existing := range events {
		if existing.ID == id {
			stored := event.Clone()
			stored.ID = id
			stored.AssignedUserID = p.userID
			events[i] = stored
			return p.save(events)
		}
	}

	return fmt.Errorf("%w: %s", provider.ErrEventNotFound, id)
}

// DoDeleteEvent removes the event with the given ID.
func (p *Provider) DoDeleteEvent(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	events, err := p.load()
	if err != nil {
		return err
	}

	for i, existing := range events {
		if existing.ID == id {
			events = append(events[:i], events[i+1:]...)
			return p.save(events)
		}
	}

	return fmt.Errorf("%w: %s", provider.ErrEventNotFound, id)
}

func (p *Provider) load() ([]*calendar.Event, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadFile, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var events []*calendar.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadFile, err)
	}

	return events, nil
}

func (p *Provider) save(events []*calendar.Event) error {
	if events == nil {
		events = []*calendar.Event{}
	}
	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode calendar file: %w", err)
	}
	if err := os.WriteFile(p.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write calendar file: %w", err)
	}
	return nil
}

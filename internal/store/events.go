package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/macjediwizard/crmcalsync/internal/calendar"
	"github.com/macjediwizard/crmcalsync/internal/provider"
)

// EventProvider exposes one user's internal CRM calendar through the provider
// hook interface. One instance is scoped to one account's user.
type EventProvider struct {
	store  *Store
	userID string
}

// NewEventProvider creates an internal calendar provider for a CRM user.
func NewEventProvider(store *Store, userID string) *EventProvider {
	return &EventProvider{
		store:  store,
		userID: userID,
	}
}

// TestConnection reports whether the database is reachable.
func (p *EventProvider) TestConnection(ctx context.Context) provider.ConnectionTestResult {
	if err := p.store.conn.PingContext(ctx); err != nil {
		return provider.ConnectionTestResult{Success: false, Message: err.Error()}
	}
	return provider.ConnectionTestResult{Success: true, Message: "ok"}
}

const eventColumns = `id, user_id, name, description, location, date_start,
	date_end, type, linked_event_id, last_sync, date_modified`

// GetEvents lists the user's calendar items within the query window.
func (p *EventProvider) GetEvents(ctx context.Context, query provider.Query) ([]*calendar.Event, error) {
	q := `SELECT ` + eventColumns + ` FROM calendar_events
		WHERE user_id = ? AND date_start >= ? AND date_start <= ?
		ORDER BY date_start`
	args := []any{p.userID, query.Start.UTC(), query.End.UTC()}
	if query.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, query.Limit)
	}

	rows, err := p.store.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*calendar.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// GetEvent fetches one calendar item by ID.
func (p *EventProvider) GetEvent(ctx context.Context, id string) (*calendar.Event, error) {
	q := `SELECT ` + eventColumns + ` FROM calendar_events WHERE id = ? AND user_id = ?`
	event, err := scanEvent(p.store.conn.QueryRowContext(ctx, q, id, p.userID))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", provider.ErrEventNotFound, id)
	}
	return event, err
}

// DoCreateEvent inserts a calendar item and returns its new ID.
func (p *EventProvider) DoCreateEvent(ctx context.Context, event *calendar.Event) (string, error) {
	id := uuid.New().String()
	q := `INSERT INTO calendar_events (
		id, user_id, name, description, location, date_start, date_end,
		type, linked_event_id, last_sync, date_modified
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := p.store.conn.ExecContext(ctx, q,
		id, p.userID, event.Name, event.Description, event.Location,
		event.DateStart.UTC(), nullableTime(event.DateEnd), string(event.Type),
		event.LinkedEventID, nullableTime(event.LastSync), event.DateModified.UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create event: %w", err)
	}

	return id, nil
}

// DoUpdateEvent overwrites a calendar item's content and linkage.
func (p *EventProvider) DoUpdateEvent(ctx context.Context, id string, event *calendar.Event) error {
	q := `UPDATE calendar_events SET
		name = ?, description = ?, location = ?, date_start = ?, date_end = ?,
		type = ?, linked_event_id = ?, last_sync = ?, date_modified = ?
		WHERE id = ? AND user_id = ?`

	result, err := p.store.conn.ExecContext(ctx, q,
		event.Name, event.Description, event.Location,
		event.DateStart.UTC(), nullableTime(event.DateEnd), string(event.Type),
		event.LinkedEventID, nullableTime(event.LastSync), event.DateModified.UTC(),
		id, p.userID,
	)
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", provider.ErrEventNotFound, id)
	}

	return nil
}

// DoDeleteEvent removes a calendar item.
func (p *EventProvider) DoDeleteEvent(ctx context.Context, id string) error {
	result, err := p.store.conn.ExecContext(ctx,
		`DELETE FROM calendar_events WHERE id = ? AND user_id = ?`, id, p.userID)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", provider.ErrEventNotFound, id)
	}

	return nil
}

// nullableTime converts an optional time into a driver value.
func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func scanEvent(row scanner) (*calendar.Event, error) {
	event := &calendar.Event{}
	var dateEnd, lastSync sql.NullTime
	var eventType string

	err := row.Scan(
		&event.ID, &event.AssignedUserID, &event.Name, &event.Description,
		&event.Location, &event.DateStart, &dateEnd, &eventType,
		&event.LinkedEventID, &lastSync, &event.DateModified,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	event.Type = calendar.Type(eventType)
	if dateEnd.Valid {
		end := dateEnd.Time
		event.DateEnd = &end
	}
	if lastSync.Valid {
		sync := lastSync.Time
		event.LastSync = &sync
	}

	return event, nil
}

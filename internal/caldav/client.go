// Package caldav implements the external calendar provider hooks over a
// CalDAV server.
package caldav

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"

	"github.com/macjediwizard/crmcalsync/internal/calendar"
	"github.com/macjediwizard/crmcalsync/internal/provider"
)

var (
	ErrConnectionFailed = errors.New("connection failed")
	ErrInvalidObject    = errors.New("invalid calendar object")
)

const (
	defaultTimeout = 30 * time.Second
	minTLSVersion  = tls.VersionTLS12
)

// Private properties carrying CRM linkage through the external calendar.
const (
	propLinkedEvent = "X-CRM-LINKED-EVENT"
	propLastSync    = "X-CRM-LAST-SYNC"
	propEventType   = "X-CRM-EVENT-TYPE"
)

// Client provides the CalDAV-backed external calendar for one account.
// It implements provider.Hooks; event IDs are VEVENT UIDs, object paths are
// derived as <calendarPath>/<uid>.ics.
type Client struct {
	calendarPath string
	userID       string
	client       *caldav.Client
}

// NewClient creates a CalDAV client against one calendar collection.
func NewClient(baseURL, username, password, calendarPath, userID string) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: base URL is required", ErrConnectionFailed)
	}
	if calendarPath == "" {
		return nil, fmt.Errorf("%w: calendar path is required", ErrConnectionFailed)
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: minTLSVersion,
		},
		MaxIdleConns:        10,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	httpClient := &http.Client{
		Timeout:   defaultTimeout,
		Transport: transport,
	}

	client, err := caldav.NewClient(
		webdav.HTTPClientWithBasicAuth(httpClient, username, password),
		baseURL,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create CalDAV client: %w", ErrConnectionFailed, err)
	}

	return &Client{
		calendarPath: strings.TrimSuffix(calendarPath, "/") + "/",
		userID:       userID,
		client:       client,
	}, nil
}

// TestConnection checks the server accepts our credentials.
func (c *Client) TestConnection(ctx context.Context) provider.ConnectionTestResult {
	if _, err := c.client.FindCurrentUserPrincipal(ctx); err != nil {
		return provider.ConnectionTestResult{Success: false, Message: err.Error()}
	}
	return provider.ConnectionTestResult{Success: true, Message: "ok"}
}

// GetEvents lists VEVENTs within the query window.
func (c *Client) GetEvents(ctx context.Context, query provider.Query) ([]*calendar.Event, error) {
	calQuery := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: "VCALENDAR",
			Comps: []caldav.CalendarCompRequest{
				{Name: "VEVENT"},
			},
		},
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{
				{
					Name:  "VEVENT",
					Start: query.Start,
					End:   query.End,
				},
			},
		},
	}

	objects, err := c.client.QueryCalendar(ctx, c.calendarPath, calQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query calendar: %w", ErrConnectionFailed, err)
	}

	events := make([]*calendar.Event, 0, len(objects))
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		for _, vevent := range obj.Data.Events() {
			event, err := eventFromVEvent(&vevent, c.userID)
			if err != nil {
				// Malformed objects degrade this cycle only.
				continue
			}
			events = append(events, event)
			if query.Limit > 0 && len(events) >= query.Limit {
				return events, nil
			}
		}
	}

	return events, nil
}

// GetEvent fetches a single VEVENT by UID.
func (c *Client) GetEvent(ctx context.Context, id string) (*calendar.Event, error) {
	obj, err := c.client.GetCalendarObject(ctx, c.objectPath(id))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", provider.ErrEventNotFound, id, err)
	}
	if obj.Data == nil {
		return nil, fmt.Errorf("%w: %s: empty object", provider.ErrEventNotFound, id)
	}

	for _, vevent := range obj.Data.Events() {
		event, err := eventFromVEvent(&vevent, c.userID)
		if err != nil {
			return nil, err
		}
		return event, nil
	}

	return nil, fmt.Errorf("%w: %s: no VEVENT in object", provider.ErrEventNotFound, id)
}

// DoCreateEvent writes a new VEVENT and returns its UID.
func (c *Client) DoCreateEvent(ctx context.Context, event *calendar.Event) (string, error) {
	uid := uuid.New().String()
	cal := vEventToCalendar(event, uid)

	if _, err := c.client.PutCalendarObject(ctx, c.objectPath(uid), cal); err != nil {
		return "", fmt.Errorf("%w: failed to put event: %w", ErrConnectionFailed, err)
	}

	return uid, nil
}

// DoUpdateEvent overwrites the VEVENT with the given UID.
func (c *Client) DoUpdateEvent(ctx context.Context, id string, event *calendar.Event) error {
	cal := vEventToCalendar(event, id)

	if _, err := c.client.PutCalendarObject(ctx, c.objectPath(id), cal); err != nil {
		return fmt.Errorf("%w: failed to put event: %w", ErrConnectionFailed, err)
	}

	return nil
}

// DoDeleteEvent removes the VEVENT with the given UID.
func (c *Client) DoDeleteEvent(ctx context.Context, id string) error {
	if err := c.client.RemoveAll(ctx, c.objectPath(id)); err != nil {
		return fmt.Errorf("%w: failed to delete event: %w", ErrConnectionFailed, err)
	}
	return nil
}

func (c *Client) objectPath(uid string) string {
	return c.calendarPath + uid + ".ics"
}

// eventFromVEvent maps a VEVENT onto the normalized event shape. DTSTART and
// LAST-MODIFIED are required; everything else degrades to the zero value.
func eventFromVEvent(vevent *ical.Event, userID string) (*calendar.Event, error) {
	uid, err := vevent.Props.Text(ical.PropUID)
	if err != nil || uid == "" {
		return nil, fmt.Errorf("%w: missing UID", ErrInvalidObject)
	}

	start, err := vevent.DateTimeStart(time.UTC)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: bad DTSTART: %w", ErrInvalidObject, uid, err)
	}

	event := &calendar.Event{
		ID:             uid,
		DateStart:      start.UTC(),
		AssignedUserID: userID,
		Type:           calendar.TypeMeeting,
		IsExternal:     true,
	}

	if name, err := vevent.Props.Text(ical.PropSummary); err == nil {
		event.Name = name
	}
	if desc, err := vevent.Props.Text(ical.PropDescription); err == nil {
		event.Description = desc
	}
	if loc, err := vevent.Props.Text(ical.PropLocation); err == nil {
		event.Location = loc
	}
	if end, err := vevent.DateTimeEnd(time.UTC); err == nil && !end.IsZero() {
		endUTC := end.UTC()
		event.DateEnd = &endUTC
	}
	if modified, err := vevent.Props.DateTime(ical.PropLastModified, time.UTC); err == nil && !modified.IsZero() {
		event.DateModified = modified.UTC()
	} else {
		// Servers that strip LAST-MODIFIED would otherwise always lose
		// timestamp conflicts.
		event.DateModified = start.UTC()
	}
	if linked, err := vevent.Props.Text(propLinkedEvent); err == nil {
		event.LinkedEventID = linked
	}
	if lastSync, err := vevent.Props.Text(propLastSync); err == nil && lastSync != "" {
		if t, err := time.ParseInLocation(calendar.DateTimeLayout, lastSync, time.UTC); err == nil {
			event.LastSync = &t
		}
	}
	if kind, err := vevent.Props.Text(propEventType); err == nil {
		if t := calendar.Type(kind); t.IsValid() {
			event.Type = t
		}
	}

	return event, nil
}

// vEventToCalendar builds the iCalendar object written for an event.
func vEventToCalendar(event *calendar.Event, uid string) *ical.Calendar {
	vevent := ical.NewEvent()
	vevent.Props.SetText(ical.PropUID, uid)
	vevent.Props.SetText(ical.PropSummary, event.Name)
	if event.Description != "" {
		vevent.Props.SetText(ical.PropDescription, event.Description)
	}
	if event.Location != "" {
		vevent.Props.SetText(ical.PropLocation, event.Location)
	}
	vevent.Props.SetDateTime(ical.PropDateTimeStart, event.DateStart.UTC())
	if event.DateEnd != nil {
		vevent.Props.SetDateTime(ical.PropDateTimeEnd, event.DateEnd.UTC())
	}
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	vevent.Props.SetDateTime(ical.PropLastModified, event.DateModified.UTC())
	if event.LinkedEventID != "" {
		vevent.Props.SetText(propLinkedEvent, event.LinkedEventID)
	}
	if event.LastSync != nil {
		vevent.Props.SetText(propLastSync, event.LastSync.UTC().Format(calendar.DateTimeLayout))
	}
	vevent.Props.SetText(propEventType, string(event.Type))

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//CRM CalSync//calendar sync//EN")
	cal.Children = append(cal.Children, vevent.Component)

	return cal
}

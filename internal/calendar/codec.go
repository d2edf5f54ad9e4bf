package calendar

import (
	"encoding/json"
	"fmt"
	"time"
)

// eventWire is the JSON shape used for job payloads and file providers.
// Datetime fields use the CRM native layout in UTC.
type eventWire struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	Location       string `json:"location"`
	DateStart      string `json:"date_start"`
	DateEnd        string `json:"date_end,omitempty"`
	AssignedUserID string `json:"assigned_user_id"`
	Type           Type   `json:"type"`
	LinkedEventID  string `json:"linked_event_id,omitempty"`
	LastSync       string `json:"last_sync,omitempty"`
	DateModified   string `json:"date_modified"`
	IsExternal     bool   `json:"is_external"`
}

// MarshalJSON serializes the event in the CRM wire format.
func (e *Event) MarshalJSON() ([]byte, error) {
	w := eventWire{
		ID:             e.ID,
		Name:           e.Name,
		Description:    e.Description,
		Location:       e.Location,
		DateStart:      e.DateStart.UTC().Format(DateTimeLayout),
		AssignedUserID: e.AssignedUserID,
		Type:           e.Type,
		LinkedEventID:  e.LinkedEventID,
		DateModified:   e.DateModified.UTC().Format(DateTimeLayout),
		IsExternal:     e.IsExternal,
	}
	if e.DateEnd != nil {
		w.DateEnd = e.DateEnd.UTC().Format(DateTimeLayout)
	}
	if e.LastSync != nil {
		w.LastSync = e.LastSync.UTC().Format(DateTimeLayout)
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses the CRM wire format back into an event.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w eventWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	if w.Type != "" && !w.Type.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, w.Type)
	}

	start, err := parseWireTime(w.DateStart)
	if err != nil {
		return fmt.Errorf("%w: date_start: %w", ErrInvalidEvent, err)
	}
	modified, err := parseWireTime(w.DateModified)
	if err != nil {
		return fmt.Errorf("%w: date_modified: %w", ErrInvalidEvent, err)
	}

	e.ID = w.ID
	e.Name = w.Name
	e.Description = w.Description
	e.Location = w.Location
	e.DateStart = start
	e.DateEnd = nil
	e.AssignedUserID = w.AssignedUserID
	e.Type = w.Type
	e.LinkedEventID = w.LinkedEventID
	e.LastSync = nil
	e.DateModified = modified
	e.IsExternal = w.IsExternal

	if w.DateEnd != "" {
		end, err := parseWireTime(w.DateEnd)
		if err != nil {
			return fmt.Errorf("%w: date_end: %w", ErrInvalidEvent, err)
		}
		e.DateEnd = &end
	}
	if w.LastSync != "" {
		sync, err := parseWireTime(w.LastSync)
		if err != nil {
			return fmt.Errorf("%w: last_sync: %w", ErrInvalidEvent, err)
		}
		e.LastSync = &sync
	}

	return nil
}

// parseWireTime accepts the CRM native layout and RFC 3339 as a fallback,
// since some providers emit the latter.
func parseWireTime(value string) (time.Time, error) {
	if t, err := time.ParseInLocation(DateTimeLayout, value, time.UTC); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized datetime %q", value)
	}
	return t.UTC(), nil
}

package calendar

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidEvent = errors.New("invalid calendar event")
	ErrInvalidType  = errors.New("invalid event type")
)

// DateTimeLayout is the CRM native datetime format used on the wire.
// All serialized datetimes are UTC.
const DateTimeLayout = "2006-01-02 15:04:05"

// Type represents the kind of calendar item.
type Type string

const (
	TypeMeeting Type = "meeting"
	TypeCall    Type = "call"
	TypeTask    Type = "task"
)

// ValidTypes contains all valid event type values.
var ValidTypes = map[Type]bool{
	TypeMeeting: true,
	TypeCall:    true,
	TypeTask:    true,
}

// IsValid returns true if the event type is a known valid value.
func (t Type) IsValid() bool {
	return ValidTypes[t]
}

// Location identifies which calendar side an operation targets.
type Location string

const (
	LocationInternal Location = "internal"
	LocationExternal Location = "external"
)

// IsValid returns true if the location is a known valid value.
func (l Location) IsValid() bool {
	return l == LocationInternal || l == LocationExternal
}

// Opposite returns the other calendar side.
func (l Location) Opposite() Location {
	if l == LocationInternal {
		return LocationExternal
	}
	return LocationInternal
}

// Event is a normalized representation of one calendar item from either side.
// The value is immutable except for LinkedEventID and LastSync, which are set
// as part of executing a sync operation.
type Event struct {
	ID             string
	Name           string
	Description    string
	Location       string
	DateStart      time.Time
	DateEnd        *time.Time
	AssignedUserID string
	Type           Type
	LinkedEventID  string
	LastSync       *time.Time
	DateModified   time.Time
	IsExternal     bool
}

// Validate checks the event's structural invariants.
func (e *Event) Validate() error {
	if e.DateStart.IsZero() {
		return fmt.Errorf("%w: date start is required", ErrInvalidEvent)
	}
	if e.DateEnd != nil && e.DateStart.After(*e.DateEnd) {
		return fmt.Errorf("%w: date start after date end", ErrInvalidEvent)
	}
	if e.Type != "" && !e.Type.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, e.Type)
	}
	return nil
}

// ContentChecksum returns a stable hash over the synchronizable content
// fields. Linkage and bookkeeping fields are excluded so that link repair
// never looks like a content change.
func (e *Event) ContentChecksum() string {
	end := ""
	if e.DateEnd != nil {
		end = e.DateEnd.UTC().Format(DateTimeLayout)
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s\x00%s",
		e.Name,
		e.Description,
		e.Location,
		e.DateStart.UTC().Format(DateTimeLayout),
		end,
		e.Type,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// Clone returns a copy of the event. DateEnd and LastSync are deep-copied so
// the clone can be stamped without touching the original.
func (e *Event) Clone() *Event {
	clone := *e
	if e.DateEnd != nil {
		end := *e.DateEnd
		clone.DateEnd = &end
	}
	if e.LastSync != nil {
		sync := *e.LastSync
		clone.LastSync = &sync
	}
	return &clone
}

package sync

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/macjediwizard/crmcalsync/internal/calendar"
)

var (
	ErrInvalidOperation = errors.New("invalid sync operation")
	ErrInvalidAction    = errors.New("invalid sync action")
)

// Action represents what a sync operation does to its target.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// IsValid returns true if the action is a known valid value.
func (a Action) IsValid() bool {
	return a == ActionCreate || a == ActionUpdate || a == ActionDelete
}

// Operation is one unit of sync work: an action against one event on one
// calendar side. It is produced by discovery (or directly by a caller reacting
// to a single event change) and consumed exactly once by the orchestrator,
// either inline or after a serialize/deserialize round trip through the job
// queue.
type Operation struct {
	UserID            string
	CalendarAccountID string
	SubjectID         string
	Location          calendar.Location
	Action            Action
	Payload           *calendar.Event
}

// NewOperation builds a sync operation, normalizing fields that must not vary
// by action: Create operations never carry a subject ID (the target side
// assigns one), and Delete operations never carry a payload. These rules hold
// regardless of what the caller passes.
func NewOperation(userID, accountID, subjectID string, location calendar.Location, action Action, payload *calendar.Event) *Operation {
	if action == ActionCreate {
		subjectID = ""
	}
	if action == ActionDelete {
		payload = nil
	}
	return &Operation{
		UserID:            userID,
		CalendarAccountID: accountID,
		SubjectID:         subjectID,
		Location:          location,
		Action:            action,
		Payload:           payload,
	}
}

// Key identifies the (account, location, event) triple this operation acts
// on, used for job deduplication and pre-emptive cancellation.
func (op *Operation) Key() string {
	subject := op.SubjectID
	if subject == "" && op.Payload != nil {
		subject = op.Payload.ID
	}
	return op.CalendarAccountID + "/" + string(op.Location) + "/" + subject
}

// operationWire is the JSON shape used for queued job payloads.
type operationWire struct {
	UserID            string            `json:"user_id"`
	SubjectID         string            `json:"subject_id"`
	Location          calendar.Location `json:"location"`
	Action            Action            `json:"action"`
	CalendarAccountID string            `json:"calendar_account_id"`
	Payload           *calendar.Event   `json:"payload"`
}

// Serialize encodes the operation for the job queue.
func (op *Operation) Serialize() ([]byte, error) {
	return json.Marshal(operationWire{
		UserID:            op.UserID,
		SubjectID:         op.SubjectID,
		Location:          op.Location,
		Action:            op.Action,
		CalendarAccountID: op.CalendarAccountID,
		Payload:           op.Payload,
	})
}

// DeserializeOperation decodes a queued job payload back into an operation.
// Payloads missing subject_id/location/action, carrying unknown enum values,
// or lacking a subject for a non-create action are rejected.
func DeserializeOperation(data []byte) (*Operation, error) {
	var w operationWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOperation, err)
	}
	if !w.Location.IsValid() {
		return nil, fmt.Errorf("%w: location %q", ErrInvalidOperation, w.Location)
	}
	if !w.Action.IsValid() {
		return nil, fmt.Errorf("%w: action %q", ErrInvalidAction, w.Action)
	}
	if w.Action != ActionCreate && w.SubjectID == "" {
		return nil, fmt.Errorf("%w: subject_id is required for %s", ErrInvalidOperation, w.Action)
	}
	if w.Action == ActionDelete && w.Payload != nil {
		// Normalized away rather than rejected; the factory enforces the
		// same rule for locally constructed operations.
		w.Payload = nil
	}
	return NewOperation(w.UserID, w.CalendarAccountID, w.SubjectID, w.Location, w.Action, w.Payload), nil
}

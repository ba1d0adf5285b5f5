// Package models defines the core data structures for the booking engine.
//
// It includes the booking FSM snapshot, accumulated booking data, intents and
// the per-conversation memory record, which are shared across modules.
package models

import (
	"errors"
	"time"
)

// Validation constants for input validation
const (
	// MaxMessageLength defines the maximum allowed length for an incoming message.
	MaxMessageLength = 4096
	// MaxNoteLength defines the maximum allowed length for free-text booking notes.
	MaxNoteLength = 500
	// MaxServicesPerBooking defines the maximum number of services in one booking.
	MaxServicesPerBooking = 5
)

// Error variables for better error handling and testability
var (
	ErrEmptyConversationID = errors.New("conversation id cannot be empty")
	ErrEmptyMessage        = errors.New("message cannot be empty")
	ErrMessageTooLong      = errors.New("message exceeds maximum length")
	ErrNoteTooLong         = errors.New("note exceeds maximum length")
	ErrTooManyServices     = errors.New("too many services for one booking")
	ErrInvalidBookingState = errors.New("invalid booking state")

	// ErrRecordNotFound indicates the hot store has no record for a conversation.
	ErrRecordNotFound = errors.New("memory record not found")
	// ErrPersistenceConflict indicates a concurrent write was detected; the
	// second writer's turn is discarded and must be re-requested.
	ErrPersistenceConflict = errors.New("memory record was modified by a concurrent turn")
	// ErrStoreUnavailable indicates the hot store cannot be reached at all.
	// This is the only failure that aborts a turn outright.
	ErrStoreUnavailable = errors.New("record store unavailable")
	// ErrEscalationRequired signals that automated handling should stop and a
	// human operator should take over.
	ErrEscalationRequired = errors.New("human handoff required")
)

// Field names a typed entry of CollectedData. Transition edges declare the
// fields they require as prerequisites.
type Field string

const (
	FieldServices     Field = "services"
	FieldStylist      Field = "stylist"
	FieldSlot         Field = "slot"
	FieldCustomerName Field = "customer_name"
	FieldNotes        Field = "notes"
)

// Slot is a chosen appointment time awaiting confirmation.
type Slot struct {
	Start       time.Time `json:"start"`
	DurationMin int       `json:"duration_min"`
}

// End returns the end time of the slot.
func (s Slot) End() time.Time {
	return s.Start.Add(time.Duration(s.DurationMin) * time.Minute)
}

// CollectedData accumulates the typed fields gathered while progressing
// through booking states. Fields are additive; a field is never dropped
// except by explicit invalidation (staleness) or cancellation.
type CollectedData struct {
	ServiceIDs []string `json:"service_ids,omitempty"`
	StylistID  string   `json:"stylist_id,omitempty"`
	Slot       *Slot    `json:"slot,omitempty"`
	FirstName  string   `json:"first_name,omitempty"`
	LastName   string   `json:"last_name,omitempty"`
	Notes      string   `json:"notes,omitempty"`
}

// Clone returns a deep copy so transition candidates never alias the
// snapshot they were derived from.
func (c CollectedData) Clone() CollectedData {
	out := c
	if c.ServiceIDs != nil {
		out.ServiceIDs = append([]string(nil), c.ServiceIDs...)
	}
	if c.Slot != nil {
		slot := *c.Slot
		out.Slot = &slot
	}
	return out
}

// Has reports whether the named field is present and non-empty.
func (c CollectedData) Has(f Field) bool {
	switch f {
	case FieldServices:
		return len(c.ServiceIDs) > 0
	case FieldStylist:
		return c.StylistID != ""
	case FieldSlot:
		return c.Slot != nil
	case FieldCustomerName:
		return c.FirstName != ""
	case FieldNotes:
		return c.Notes != ""
	default:
		return false
	}
}

// AddService appends a service identifier preserving order and uniqueness.
// Returns false when the service was already selected or the limit is reached.
func (c *CollectedData) AddService(id string) bool {
	if id == "" || len(c.ServiceIDs) >= MaxServicesPerBooking {
		return false
	}
	for _, existing := range c.ServiceIDs {
		if existing == id {
			return false
		}
	}
	c.ServiceIDs = append(c.ServiceIDs, id)
	return true
}

// Booking is the durable result of a completed booking transaction.
type Booking struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	ServiceIDs     []string  `json:"service_ids"`
	StylistID      string    `json:"stylist_id"`
	Slot           Slot      `json:"slot"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name,omitempty"`
	Notes          string    `json:"notes,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Package models defines intent structures produced by the classifier.
package models

import "time"

// IntentKind identifies a structured transition request derived from a user
// utterance. The classifier guarantees the kind is a member of the legal set
// for the current state; everything else maps to IntentUnrecognized.
type IntentKind string

const (
	// IntentStartBooking begins a new booking lifecycle.
	IntentStartBooking IntentKind = "start_booking"
	// IntentAddService adds one service to the selection (self-loop).
	IntentAddService IntentKind = "add_service"
	// IntentFinishServices closes service selection and moves to stylist choice.
	IntentFinishServices IntentKind = "finish_services"
	// IntentSelectStylist picks a stylist. Legal directly from service
	// selection too, provided at least one service was already chosen.
	IntentSelectStylist IntentKind = "select_stylist"
	// IntentSelectSlot picks one of the offered appointment slots.
	IntentSelectSlot IntentKind = "select_slot"
	// IntentOtherSlots asks for a different set of availability options.
	IntentOtherSlots IntentKind = "other_slots"
	// IntentProvideName supplies customer name parts (self-loop).
	IntentProvideName IntentKind = "provide_name"
	// IntentAddNote attaches free-text notes to the booking (self-loop).
	IntentAddNote IntentKind = "add_note"
	// IntentConfirm advances to the next stage once required data is present.
	IntentConfirm IntentKind = "confirm"
	// IntentCancel abandons the booking and returns to idle.
	IntentCancel IntentKind = "cancel"
	// IntentUnrecognized is the designated classifier fallback. It never
	// appears in the transition table, so it can never mutate state.
	IntentUnrecognized IntentKind = "unrecognized"
)

// legalIntents maps each state to the only intent kinds the classifier may
// emit for it. IntentUnrecognized is implicitly legal everywhere.
var legalIntents = map[BookingState][]IntentKind{
	StateIdle:             {IntentStartBooking},
	StateServiceSelection: {IntentAddService, IntentFinishServices, IntentSelectStylist, IntentCancel},
	StateStylistSelection: {IntentSelectStylist, IntentAddService, IntentCancel},
	StateSlotSelection:    {IntentSelectSlot, IntentOtherSlots, IntentCancel},
	StateCustomerData:     {IntentProvideName, IntentAddNote, IntentConfirm, IntentCancel},
	StateConfirmation:     {IntentConfirm, IntentAddNote, IntentCancel},
	StateBooked:           {},
}

// LegalIntents returns the intent kinds legal from the given state, excluding
// the always-legal fallback.
func LegalIntents(s BookingState) []IntentKind {
	kinds := legalIntents[s]
	out := make([]IntentKind, len(kinds))
	copy(out, kinds)
	return out
}

// IsLegalIntent reports whether kind may be emitted for the given state.
func IsLegalIntent(s BookingState, kind IntentKind) bool {
	if kind == IntentUnrecognized {
		return true
	}
	for _, k := range legalIntents[s] {
		if k == kind {
			return true
		}
	}
	return false
}

// Intent is the structured transition request for one turn. It is ephemeral:
// produced once per turn, consumed by the FSM, never persisted.
//
// Raw fields carry what the classifier extracted from the utterance; resolved
// fields are filled deterministically by the engine against the catalog and
// the most recently offered list before the FSM sees the intent.
type Intent struct {
	Kind IntentKind `json:"kind"`

	// Raw entities extracted by the classifier.
	Index       int        `json:"index,omitempty"` // 1-based choice from the last presented list
	ServiceName string     `json:"service,omitempty"`
	StylistName string     `json:"stylist,omitempty"`
	When        *time.Time `json:"when,omitempty"` // nil when the date expression was unparseable
	FirstName   string     `json:"first_name,omitempty"`
	LastName    string     `json:"last_name,omitempty"`
	Note        string     `json:"note,omitempty"`

	// Resolved entities, filled by the engine resolver.
	ServiceID string `json:"-"`
	StylistID string `json:"-"`
	Slot      *Slot  `json:"-"`
}

// FallbackIntent returns the designated unrecognized intent.
func FallbackIntent() Intent {
	return Intent{Kind: IntentUnrecognized}
}

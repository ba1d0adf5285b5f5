// Package models defines booking state structures shared across components.
package models

import "time"

// BookingState represents the stage of a booking-in-progress. Exactly one
// state is active per conversation at any time.
type BookingState string

const (
	// StateIdle is the initial state and the only state reachable from a cancellation.
	StateIdle BookingState = "IDLE"
	// StateServiceSelection collects one or more services.
	StateServiceSelection BookingState = "SERVICE_SELECTION"
	// StateStylistSelection collects the stylist choice.
	StateStylistSelection BookingState = "STYLIST_SELECTION"
	// StateSlotSelection collects the appointment slot.
	StateSlotSelection BookingState = "SLOT_SELECTION"
	// StateCustomerData collects customer name and optional notes.
	StateCustomerData BookingState = "CUSTOMER_DATA"
	// StateConfirmation shows the full booking for a final confirmation.
	StateConfirmation BookingState = "CONFIRMATION"
	// StateBooked is terminal for the transaction. A new booking starts a new
	// lifecycle from StateIdle.
	StateBooked BookingState = "BOOKED"
)

// AllBookingStates lists every state in pipeline order.
var AllBookingStates = []BookingState{
	StateIdle,
	StateServiceSelection,
	StateStylistSelection,
	StateSlotSelection,
	StateCustomerData,
	StateConfirmation,
	StateBooked,
}

// IsValidBookingState checks if the given state is a member of the fixed set.
func IsValidBookingState(s BookingState) bool {
	for _, st := range AllBookingStates {
		if st == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the state ends the booking transaction.
func (s BookingState) IsTerminal() bool {
	return s == StateBooked
}

// FSMSnapshot is the unit of truth for booking progress. It is persisted as
// an embedded field inside the MemoryRecord, never in a separate store.
type FSMSnapshot struct {
	State       BookingState  `json:"state"`
	Collected   CollectedData `json:"collected_data"`
	LastUpdated time.Time     `json:"last_updated"`
}

// NewFSMSnapshot returns a snapshot at the start of a booking lifecycle.
func NewFSMSnapshot(now time.Time) FSMSnapshot {
	return FSMSnapshot{State: StateIdle, LastUpdated: now}
}

// Package fsm implements the booking state machine. It is pure logic with no
// I/O: transitions are a total function over (state, intent kind) pairs, and
// every invalid request yields a typed rejection instead of an error.
package fsm

import (
	"log/slog"
	"time"

	"github.com/pepeccz/atrevete-bot-sub001/internal/models"
)

// RejectReason classifies why a transition request was refused.
type RejectReason string

const (
	// RejectNone means the transition was accepted.
	RejectNone RejectReason = ""
	// RejectUnknownTransition means the (state, kind) pair is not in the table.
	RejectUnknownTransition RejectReason = "unknown_transition"
	// RejectMissingPrerequisite means the pair is valid but a required field
	// is still absent after merging the intent's entities.
	RejectMissingPrerequisite RejectReason = "missing_prerequisite"
	// RejectServiceLimit means the intent named one service more than a
	// booking may hold. Nothing was added.
	RejectServiceLimit RejectReason = "service_limit"
	// RejectNoteTooLong means the intent's note exceeds the length cap.
	// Nothing was appended.
	RejectNoteTooLong RejectReason = "note_too_long"
)

// TransitionResult is the outcome of applying an intent to a snapshot.
// When Accepted is false the caller must leave the snapshot untouched.
type TransitionResult struct {
	Accepted  bool
	State     models.BookingState
	Collected models.CollectedData
	Reason    RejectReason
	// Missing lists the unmet prerequisite fields for corrective replies.
	Missing []models.Field
}

// edge declares one allowed transition and the fields that must be present
// in collected data (after merging the intent's entities) before it fires.
type edge struct {
	next     models.BookingState
	requires []models.Field
}

// transitions is the total transition table. Pairs absent here always reject.
var transitions = map[models.BookingState]map[models.IntentKind]edge{
	models.StateIdle: {
		models.IntentStartBooking: {next: models.StateServiceSelection},
	},
	models.StateServiceSelection: {
		models.IntentAddService:     {next: models.StateServiceSelection, requires: []models.Field{models.FieldServices}},
		models.IntentFinishServices: {next: models.StateStylistSelection, requires: []models.Field{models.FieldServices}},
		// Naming a stylist straight away skips the explicit stylist stage,
		// but only once at least one service has been chosen.
		models.IntentSelectStylist: {next: models.StateSlotSelection, requires: []models.Field{models.FieldServices, models.FieldStylist}},
		models.IntentCancel:        {next: models.StateIdle},
	},
	models.StateStylistSelection: {
		models.IntentSelectStylist: {next: models.StateSlotSelection, requires: []models.Field{models.FieldServices, models.FieldStylist}},
		models.IntentAddService:    {next: models.StateServiceSelection, requires: []models.Field{models.FieldServices}},
		models.IntentCancel:        {next: models.StateIdle},
	},
	models.StateSlotSelection: {
		models.IntentSelectSlot: {next: models.StateCustomerData, requires: []models.Field{models.FieldServices, models.FieldStylist, models.FieldSlot}},
		models.IntentOtherSlots: {next: models.StateSlotSelection},
		models.IntentCancel:     {next: models.StateIdle},
	},
	models.StateCustomerData: {
		models.IntentProvideName: {next: models.StateCustomerData, requires: []models.Field{models.FieldCustomerName}},
		models.IntentAddNote:     {next: models.StateCustomerData, requires: []models.Field{models.FieldNotes}},
		models.IntentConfirm:     {next: models.StateConfirmation, requires: []models.Field{models.FieldServices, models.FieldStylist, models.FieldSlot, models.FieldCustomerName}},
		models.IntentCancel:      {next: models.StateIdle},
	},
	models.StateConfirmation: {
		models.IntentConfirm: {next: models.StateBooked, requires: []models.Field{models.FieldServices, models.FieldStylist, models.FieldSlot, models.FieldCustomerName}},
		models.IntentAddNote: {next: models.StateConfirmation, requires: []models.Field{models.FieldNotes}},
		models.IntentCancel:  {next: models.StateIdle},
	},
	// StateBooked has no outgoing edges: the transaction is terminal and a
	// new booking starts a fresh lifecycle from StateIdle.
	models.StateBooked: {},
}

// Machine applies transitions and the slot staleness rule.
type Machine struct {
	minLeadTime time.Duration
}

// NewMachine creates a Machine enforcing the given minimum slot lead time.
func NewMachine(minLeadTime time.Duration) *Machine {
	return &Machine{minLeadTime: minLeadTime}
}

// MinLeadTime returns the minimum lead time a slot must have.
func (m *Machine) MinLeadTime() time.Duration {
	return m.minLeadTime
}

// Transition validates and applies an intent against a snapshot. It never
// mutates the input; on rejection the returned state and data mirror it.
func (m *Machine) Transition(snapshot models.FSMSnapshot, intent models.Intent) TransitionResult {
	rejected := TransitionResult{
		Accepted:  false,
		State:     snapshot.State,
		Collected: snapshot.Collected,
	}

	stateEdges, ok := transitions[snapshot.State]
	if !ok {
		// Unknown stored state: defensive reject, the engine resets on load.
		rejected.Reason = RejectUnknownTransition
		return rejected
	}
	e, ok := stateEdges[intent.Kind]
	if !ok {
		rejected.Reason = RejectUnknownTransition
		return rejected
	}

	candidate, refused := merge(snapshot.Collected, intent)
	if refused != RejectNone {
		// A refused addition must reject, not accept with the input dropped:
		// the reply has to tell the customer nothing was kept.
		rejected.Reason = refused
		return rejected
	}

	var missing []models.Field
	for _, f := range e.requires {
		if !candidate.Has(f) {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		rejected.Reason = RejectMissingPrerequisite
		rejected.Missing = missing
		return rejected
	}

	// Cancellation discards accumulated data: IDLE always starts clean.
	if e.next == models.StateIdle {
		candidate = models.CollectedData{}
	}

	slog.Debug("fsm.Transition accepted", "from", snapshot.State, "kind", intent.Kind, "to", e.next)
	return TransitionResult{Accepted: true, State: e.next, Collected: candidate}
}

// merge folds the intent's resolved entities into a copy of collected data.
// Fields are additive; merge never removes anything. An entity that cannot be
// folded in (service cap reached, note over the length cap) is reported as a
// rejection reason so the caller refuses the transition instead of silently
// dropping the input. Re-adding an already selected service is a no-op, not a
// refusal.
func merge(data models.CollectedData, intent models.Intent) (models.CollectedData, RejectReason) {
	out := data.Clone()
	if intent.ServiceID != "" {
		if !out.AddService(intent.ServiceID) && !hasService(out.ServiceIDs, intent.ServiceID) {
			return out, RejectServiceLimit
		}
	}
	if intent.StylistID != "" {
		out.StylistID = intent.StylistID
	}
	if intent.Slot != nil {
		slot := *intent.Slot
		out.Slot = &slot
	}
	if intent.FirstName != "" {
		out.FirstName = intent.FirstName
	}
	if intent.LastName != "" {
		out.LastName = intent.LastName
	}
	if intent.Note != "" {
		if len(intent.Note) > models.MaxNoteLength {
			return out, RejectNoteTooLong
		}
		if out.Notes != "" {
			out.Notes = out.Notes + "\n" + intent.Note
		} else {
			out.Notes = intent.Note
		}
	}
	return out, RejectNone
}

func hasService(ids []string, id string) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}

// Refresh runs the staleness check that must precede any intent handling on
// load. A previously collected slot whose start violates the minimum lead
// time is cleared and the state is forced back to slot selection, regardless
// of what state was stored.
func (m *Machine) Refresh(snapshot models.FSMSnapshot, now time.Time) (models.FSMSnapshot, bool) {
	if snapshot.Collected.Slot == nil {
		return snapshot, false
	}
	if !snapshot.Collected.Slot.Start.Before(now.Add(m.minLeadTime)) {
		return snapshot, false
	}

	out := snapshot
	out.Collected = snapshot.Collected.Clone()
	out.Collected.Slot = nil
	out.State = models.StateSlotSelection
	out.LastUpdated = now
	slog.Info("fsm.Refresh cleared stale slot", "storedState", snapshot.State, "minLeadTime", m.minLeadTime)
	return out, true
}

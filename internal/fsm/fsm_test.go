package fsm

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/pepeccz/atrevete-bot-sub001/internal/models"
)

func testSlot(start time.Time) *models.Slot {
	return &models.Slot{Start: start, DurationMin: 60}
}

func TestStartBookingFromIdle(t *testing.T) {
	m := NewMachine(time.Hour)
	snapshot := models.NewFSMSnapshot(time.Now())

	result := m.Transition(snapshot, models.Intent{Kind: models.IntentStartBooking})
	if !result.Accepted {
		t.Fatalf("start_booking from idle should be accepted, got reason %s", result.Reason)
	}
	if result.State != models.StateServiceSelection {
		t.Errorf("expected SERVICE_SELECTION, got %s", result.State)
	}
}

func TestUnknownTransitionRejected(t *testing.T) {
	m := NewMachine(time.Hour)
	snapshot := models.NewFSMSnapshot(time.Now())

	result := m.Transition(snapshot, models.Intent{Kind: models.IntentConfirm})
	if result.Accepted {
		t.Fatalf("confirm from idle should be rejected")
	}
	if result.Reason != RejectUnknownTransition {
		t.Errorf("expected unknown_transition, got %s", result.Reason)
	}
	if result.State != models.StateIdle {
		t.Errorf("rejection must not move the state, got %s", result.State)
	}
}

func TestSelectStylistWithoutStylistRejectsMissingPrerequisite(t *testing.T) {
	m := NewMachine(time.Hour)
	snapshot := models.NewFSMSnapshot(time.Now())
	snapshot.State = models.StateServiceSelection
	snapshot.Collected.AddService("svc-cut")

	// A select_stylist whose entity could not be resolved carries no stylist.
	result := m.Transition(snapshot, models.Intent{Kind: models.IntentSelectStylist})
	if result.Accepted {
		t.Fatalf("select_stylist without a stylist should be rejected")
	}
	if result.Reason != RejectMissingPrerequisite {
		t.Errorf("expected missing_prerequisite, got %s", result.Reason)
	}
	if len(result.Missing) != 1 || result.Missing[0] != models.FieldStylist {
		t.Errorf("expected missing [stylist], got %v", result.Missing)
	}
}

func TestSelectStylistSkipsStylistStage(t *testing.T) {
	m := NewMachine(time.Hour)
	snapshot := models.NewFSMSnapshot(time.Now())
	snapshot.State = models.StateServiceSelection
	snapshot.Collected.AddService("svc-cut")

	result := m.Transition(snapshot, models.Intent{Kind: models.IntentSelectStylist, StylistID: "sty-maria"})
	if !result.Accepted {
		t.Fatalf("select_stylist with service and stylist should be accepted, missing %v", result.Missing)
	}
	if result.State != models.StateSlotSelection {
		t.Errorf("expected SLOT_SELECTION, got %s", result.State)
	}
	if result.Collected.StylistID != "sty-maria" {
		t.Errorf("stylist should be merged into collected data")
	}
}

func TestCancelClearsCollectedData(t *testing.T) {
	m := NewMachine(time.Hour)
	for _, state := range []models.BookingState{
		models.StateServiceSelection,
		models.StateStylistSelection,
		models.StateSlotSelection,
		models.StateCustomerData,
		models.StateConfirmation,
	} {
		snapshot := models.NewFSMSnapshot(time.Now())
		snapshot.State = state
		snapshot.Collected.AddService("svc-cut")
		snapshot.Collected.StylistID = "sty-maria"

		result := m.Transition(snapshot, models.Intent{Kind: models.IntentCancel})
		if !result.Accepted {
			t.Errorf("cancel from %s should be accepted", state)
			continue
		}
		if result.State != models.StateIdle {
			t.Errorf("cancel from %s should land in IDLE, got %s", state, result.State)
		}
		if len(result.Collected.ServiceIDs) != 0 || result.Collected.StylistID != "" {
			t.Errorf("cancel from %s should clear collected data, got %+v", state, result.Collected)
		}
	}
}

func TestBookedIsTerminal(t *testing.T) {
	m := NewMachine(time.Hour)
	snapshot := models.NewFSMSnapshot(time.Now())
	snapshot.State = models.StateBooked

	for _, kind := range []models.IntentKind{
		models.IntentStartBooking, models.IntentConfirm, models.IntentCancel,
	} {
		result := m.Transition(snapshot, models.Intent{Kind: kind})
		if result.Accepted {
			t.Errorf("%s should be rejected in terminal state", kind)
		}
	}
}

func TestHappyPathToBooked(t *testing.T) {
	m := NewMachine(time.Hour)
	now := time.Now()
	snapshot := models.NewFSMSnapshot(now)

	steps := []struct {
		intent models.Intent
		want   models.BookingState
	}{
		{models.Intent{Kind: models.IntentStartBooking}, models.StateServiceSelection},
		{models.Intent{Kind: models.IntentAddService, ServiceID: "svc-cut"}, models.StateServiceSelection},
		{models.Intent{Kind: models.IntentAddService, ServiceID: "svc-color"}, models.StateServiceSelection},
		{models.Intent{Kind: models.IntentFinishServices}, models.StateStylistSelection},
		{models.Intent{Kind: models.IntentSelectStylist, StylistID: "sty-maria"}, models.StateSlotSelection},
		{models.Intent{Kind: models.IntentSelectSlot, Slot: testSlot(now.Add(48 * time.Hour))}, models.StateCustomerData},
		{models.Intent{Kind: models.IntentProvideName, FirstName: "Ana", LastName: "García"}, models.StateCustomerData},
		{models.Intent{Kind: models.IntentConfirm}, models.StateConfirmation},
		{models.Intent{Kind: models.IntentConfirm}, models.StateBooked},
	}

	for i, step := range steps {
		result := m.Transition(snapshot, step.intent)
		if !result.Accepted {
			t.Fatalf("step %d (%s): rejected with %s, missing %v", i, step.intent.Kind, result.Reason, result.Missing)
		}
		if result.State != step.want {
			t.Fatalf("step %d (%s): expected %s, got %s", i, step.intent.Kind, step.want, result.State)
		}
		snapshot.State = result.State
		snapshot.Collected = result.Collected
	}

	if got := snapshot.Collected.ServiceIDs; len(got) != 2 {
		t.Errorf("expected both services retained through the flow, got %v", got)
	}
	if snapshot.Collected.FirstName != "Ana" {
		t.Errorf("expected customer name retained, got %q", snapshot.Collected.FirstName)
	}
}

func TestNotesAccumulate(t *testing.T) {
	m := NewMachine(time.Hour)
	snapshot := models.NewFSMSnapshot(time.Now())
	snapshot.State = models.StateCustomerData

	result := m.Transition(snapshot, models.Intent{Kind: models.IntentAddNote, Note: "tengo el pelo muy rizado"})
	if !result.Accepted {
		t.Fatalf("first note rejected: %s", result.Reason)
	}
	snapshot.Collected = result.Collected

	result = m.Transition(snapshot, models.Intent{Kind: models.IntentAddNote, Note: "llegaré cinco minutos tarde"})
	if !result.Accepted {
		t.Fatalf("second note rejected: %s", result.Reason)
	}
	if result.Collected.Notes != "tengo el pelo muy rizado\nllegaré cinco minutos tarde" {
		t.Errorf("notes should accumulate, got %q", result.Collected.Notes)
	}
}

func TestTransitionDoesNotMutateInput(t *testing.T) {
	m := NewMachine(time.Hour)
	snapshot := models.NewFSMSnapshot(time.Now())
	snapshot.State = models.StateServiceSelection
	snapshot.Collected.AddService("svc-cut")

	_ = m.Transition(snapshot, models.Intent{Kind: models.IntentAddService, ServiceID: "svc-color"})
	if len(snapshot.Collected.ServiceIDs) != 1 {
		t.Errorf("Transition mutated the input snapshot: %v", snapshot.Collected.ServiceIDs)
	}
}

func TestRefreshClearsStaleSlot(t *testing.T) {
	m := NewMachine(time.Hour)
	now := time.Now()

	snapshot := models.NewFSMSnapshot(now)
	snapshot.State = models.StateConfirmation
	snapshot.Collected.AddService("svc-cut")
	snapshot.Collected.StylistID = "sty-maria"
	snapshot.Collected.Slot = testSlot(now.Add(30 * time.Minute)) // inside the lead window

	refreshed, expired := m.Refresh(snapshot, now)
	if !expired {
		t.Fatalf("slot inside the lead window should expire")
	}
	if refreshed.State != models.StateSlotSelection {
		t.Errorf("expected forced SLOT_SELECTION, got %s", refreshed.State)
	}
	if refreshed.Collected.Slot != nil {
		t.Errorf("stale slot should be cleared")
	}
	if len(refreshed.Collected.ServiceIDs) != 1 || refreshed.Collected.StylistID == "" {
		t.Errorf("refresh must only clear the slot, got %+v", refreshed.Collected)
	}
	// Input snapshot untouched.
	if snapshot.Collected.Slot == nil {
		t.Errorf("Refresh mutated its input")
	}
}

func TestRefreshKeepsFreshSlot(t *testing.T) {
	m := NewMachine(time.Hour)
	now := time.Now()

	snapshot := models.NewFSMSnapshot(now)
	snapshot.State = models.StateCustomerData
	snapshot.Collected.Slot = testSlot(now.Add(3 * time.Hour))

	refreshed, expired := m.Refresh(snapshot, now)
	if expired {
		t.Fatalf("slot beyond the lead window should survive")
	}
	if refreshed.State != models.StateCustomerData || refreshed.Collected.Slot == nil {
		t.Errorf("fresh snapshot should be returned unchanged")
	}
}

func TestServiceOverLimitRejected(t *testing.T) {
	m := NewMachine(time.Hour)
	snapshot := models.NewFSMSnapshot(time.Now())
	snapshot.State = models.StateServiceSelection
	for i := 0; i < models.MaxServicesPerBooking; i++ {
		snapshot.Collected.AddService(fmt.Sprintf("svc-%d", i))
	}

	result := m.Transition(snapshot, models.Intent{Kind: models.IntentAddService, ServiceID: "svc-extra"})
	if result.Accepted {
		t.Fatalf("adding a service over the cap should be rejected")
	}
	if result.Reason != RejectServiceLimit {
		t.Errorf("expected service_limit, got %s", result.Reason)
	}
	if len(result.Collected.ServiceIDs) != models.MaxServicesPerBooking {
		t.Errorf("rejection must leave collected data unchanged, got %v", result.Collected.ServiceIDs)
	}
}

func TestReAddingServiceIsNoOp(t *testing.T) {
	m := NewMachine(time.Hour)
	snapshot := models.NewFSMSnapshot(time.Now())
	snapshot.State = models.StateServiceSelection
	snapshot.Collected.AddService("svc-cut")

	result := m.Transition(snapshot, models.Intent{Kind: models.IntentAddService, ServiceID: "svc-cut"})
	if !result.Accepted {
		t.Fatalf("re-adding a selected service should stay accepted, got %s", result.Reason)
	}
	if len(result.Collected.ServiceIDs) != 1 {
		t.Errorf("re-adding must not duplicate, got %v", result.Collected.ServiceIDs)
	}
}

func TestOverlongNoteRejected(t *testing.T) {
	m := NewMachine(time.Hour)
	snapshot := models.NewFSMSnapshot(time.Now())
	snapshot.State = models.StateCustomerData
	snapshot.Collected.Notes = "ya anotado"

	long := strings.Repeat("a", models.MaxNoteLength+1)
	result := m.Transition(snapshot, models.Intent{Kind: models.IntentAddNote, Note: long})
	if result.Accepted {
		t.Fatalf("an over-length note should be rejected, not silently dropped")
	}
	if result.Reason != RejectNoteTooLong {
		t.Errorf("expected note_too_long, got %s", result.Reason)
	}
	if result.Collected.Notes != "ya anotado" {
		t.Errorf("rejection must leave notes unchanged, got %q", result.Collected.Notes)
	}
}

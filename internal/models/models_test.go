package models

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestAddServiceDeduplicatesAndCaps(t *testing.T) {
	var data CollectedData
	if !data.AddService("svc-cut") {
		t.Fatalf("first AddService should succeed")
	}
	if data.AddService("svc-cut") {
		t.Errorf("duplicate AddService should be refused")
	}
	if len(data.ServiceIDs) != 1 {
		t.Errorf("expected duplicate adds to collapse, got %v", data.ServiceIDs)
	}

	for _, id := range []string{"svc-color", "svc-highlights", "svc-blowdry", "svc-treatment"} {
		if !data.AddService(id) {
			t.Fatalf("AddService(%s) should succeed under the cap", id)
		}
	}
	if data.AddService("svc-extra") {
		t.Errorf("AddService beyond the cap should be refused")
	}
	if len(data.ServiceIDs) != MaxServicesPerBooking {
		t.Errorf("expected %d services, got %d", MaxServicesPerBooking, len(data.ServiceIDs))
	}
}

func TestAddServicePreservesOrder(t *testing.T) {
	var data CollectedData
	ids := []string{"svc-color", "svc-cut", "svc-blowdry"}
	for _, id := range ids {
		if !data.AddService(id) {
			t.Fatalf("AddService(%s) should succeed", id)
		}
	}
	for i, id := range ids {
		if data.ServiceIDs[i] != id {
			t.Errorf("position %d: expected %s, got %s", i, id, data.ServiceIDs[i])
		}
	}
}

func TestCollectedDataCloneIsIndependent(t *testing.T) {
	slot := &Slot{Start: time.Now(), DurationMin: 30}
	original := CollectedData{
		ServiceIDs: []string{"svc-cut"},
		StylistID:  "sty-maria",
		Slot:       slot,
	}
	clone := original.Clone()
	clone.ServiceIDs[0] = "svc-color"
	clone.Slot.DurationMin = 90

	if original.ServiceIDs[0] != "svc-cut" {
		t.Errorf("clone mutation leaked into original service ids")
	}
	if original.Slot.DurationMin != 30 {
		t.Errorf("clone mutation leaked into original slot")
	}
}

func TestCollectedDataHas(t *testing.T) {
	data := CollectedData{
		ServiceIDs: []string{"svc-cut"},
		StylistID:  "sty-maria",
		FirstName:  "Ana",
	}
	cases := []struct {
		field Field
		want  bool
	}{
		{FieldServices, true},
		{FieldStylist, true},
		{FieldSlot, false},
		{FieldCustomerName, true},
		{FieldNotes, false},
	}
	for _, tc := range cases {
		if got := data.Has(tc.field); got != tc.want {
			t.Errorf("Has(%s) = %v, want %v", tc.field, got, tc.want)
		}
	}

	data.FirstName = ""
	if data.Has(FieldCustomerName) {
		t.Errorf("expected customer name missing without a first name")
	}
}

func TestSlotEnd(t *testing.T) {
	start := time.Date(2026, 9, 3, 11, 0, 0, 0, time.UTC)
	slot := Slot{Start: start, DurationMin: 45}
	if want := start.Add(45 * time.Minute); !slot.End().Equal(want) {
		t.Errorf("End() = %v, want %v", slot.End(), want)
	}
}

func TestLegalIntentsPerState(t *testing.T) {
	if !IsLegalIntent(StateIdle, IntentStartBooking) {
		t.Errorf("start_booking should be legal in idle")
	}
	if IsLegalIntent(StateIdle, IntentConfirm) {
		t.Errorf("confirm should not be legal in idle")
	}
	// The fallback is legal in every state, including terminal.
	for _, s := range AllBookingStates {
		if !IsLegalIntent(s, IntentUnrecognized) {
			t.Errorf("unrecognized should be legal in %s", s)
		}
	}
	if kinds := LegalIntents(StateBooked); len(kinds) != 0 {
		t.Errorf("booked is terminal, expected no legal intents, got %v", kinds)
	}
}

func TestMemoryRecordValidate(t *testing.T) {
	now := time.Now()
	record := NewMemoryRecord("conv-1", now)
	if err := record.Validate(); err != nil {
		t.Errorf("fresh record should validate, got %v", err)
	}

	record.ConversationID = ""
	if err := record.Validate(); !errors.Is(err, ErrEmptyConversationID) {
		t.Errorf("expected ErrEmptyConversationID, got %v", err)
	}

	record = NewMemoryRecord("conv-1", now)
	record.Snapshot.State = BookingState("LIMBO")
	if err := record.Validate(); !errors.Is(err, ErrInvalidBookingState) {
		t.Errorf("expected ErrInvalidBookingState, got %v", err)
	}
}

func TestRecentMessages(t *testing.T) {
	record := NewMemoryRecord("conv-1", time.Now())
	for i := 0; i < 5; i++ {
		record.Messages = append(record.Messages, ConversationMessage{
			Role:    "user",
			Content: strings.Repeat("m", i+1),
		})
	}
	recent := record.RecentMessages(3)
	if len(recent) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(recent))
	}
	if recent[2].Content != "mmmmm" {
		t.Errorf("expected newest message last, got %q", recent[2].Content)
	}
	if got := record.RecentMessages(20); len(got) != 5 {
		t.Errorf("over-asking should return the full window, got %d", len(got))
	}
}

func TestNewMemoryRecordDefaults(t *testing.T) {
	now := time.Now()
	record := NewMemoryRecord("conv-1", now)
	if record.WindowSize != DefaultWindowSize {
		t.Errorf("WindowSize = %d, want %d", record.WindowSize, DefaultWindowSize)
	}
	if record.Snapshot.State != StateIdle {
		t.Errorf("new record should start idle, got %s", record.Snapshot.State)
	}
	if record.TotalMessages != 0 {
		t.Errorf("new record should have no messages")
	}
}

package actions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pepeccz/atrevete-bot-sub001/internal/catalog"
	"github.com/pepeccz/atrevete-bot-sub001/internal/models"
)

type mockAvailability struct {
	slots   []models.Slot
	err     error
	calls   int
	lastReq AvailabilityRequest
}

func (m *mockAvailability) Lookup(_ context.Context, req AvailabilityRequest) ([]models.Slot, error) {
	m.calls++
	m.lastReq = req
	return m.slots, m.err
}

type mockBookings struct {
	booking models.Booking
	err     error
	calls   int
}

func (m *mockBookings) Create(_ context.Context, req BookingRequest) (models.Booking, error) {
	m.calls++
	if m.err != nil {
		return models.Booking{}, m.err
	}
	b := m.booking
	b.ConversationID = req.ConversationID
	return b, nil
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New(context.Background(), catalog.DefaultSource())
	if err != nil {
		t.Fatalf("failed to build catalog: %v", err)
	}
	return cat
}

func collectedForSlots() models.CollectedData {
	var data models.CollectedData
	data.AddService("svc-cut")
	data.StylistID = "sty-maria"
	return data
}

func TestExecuteNoPrescription(t *testing.T) {
	avail := &mockAvailability{}
	books := &mockBookings{}
	c := NewController(avail, books, testCatalog(t))

	for _, state := range []models.BookingState{
		models.StateIdle, models.StateServiceSelection,
		models.StateStylistSelection, models.StateCustomerData, models.StateConfirmation,
	} {
		outcome, err := c.Execute(context.Background(), "conv-1", state, models.CollectedData{})
		if err != nil {
			t.Fatalf("state %s: unexpected error %v", state, err)
		}
		if outcome.Operation != "" {
			t.Errorf("state %s prescribes no operation, got %q", state, outcome.Operation)
		}
	}
	if avail.calls != 0 || books.calls != 0 {
		t.Errorf("no operation should have run, got avail=%d books=%d", avail.calls, books.calls)
	}
}

func TestExecuteSlotSelectionRunsAvailability(t *testing.T) {
	slots := []models.Slot{{Start: time.Now().Add(24 * time.Hour), DurationMin: 45}}
	avail := &mockAvailability{slots: slots}
	c := NewController(avail, &mockBookings{}, testCatalog(t))

	outcome, err := c.Execute(context.Background(), "conv-1", models.StateSlotSelection, collectedForSlots())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Operation != OpAvailabilityLookup {
		t.Errorf("expected availability_lookup, got %q", outcome.Operation)
	}
	if len(outcome.Slots) != 1 {
		t.Errorf("expected the looked-up slots in the outcome")
	}
	// Duration is derived from the catalog, not from free text.
	if avail.lastReq.DurationMin != 45 {
		t.Errorf("expected catalog duration for svc-cut (45 min), got %d", avail.lastReq.DurationMin)
	}
}

func TestExecuteBookedRunsCreate(t *testing.T) {
	books := &mockBookings{booking: models.Booking{ID: "b-1"}}
	c := NewController(&mockAvailability{}, books, testCatalog(t))

	outcome, err := c.Execute(context.Background(), "conv-1", models.StateBooked, collectedForSlots())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Booking == nil || outcome.Booking.ID != "b-1" {
		t.Errorf("expected the created booking in the outcome, got %+v", outcome.Booking)
	}
	if outcome.Booking.ConversationID != "conv-1" {
		t.Errorf("booking should carry the conversation id")
	}
}

func TestExecuteFailureWrapsOperation(t *testing.T) {
	avail := &mockAvailability{err: errors.New("calendar timeout")}
	c := NewController(avail, &mockBookings{}, testCatalog(t))

	_, err := c.Execute(context.Background(), "conv-1", models.StateSlotSelection, collectedForSlots())
	var opErr *OperationFailedError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationFailedError, got %v", err)
	}
	if opErr.Operation != OpAvailabilityLookup {
		t.Errorf("expected failing operation recorded, got %q", opErr.Operation)
	}
}

func TestRepeatedFailuresEscalate(t *testing.T) {
	avail := &mockAvailability{err: errors.New("calendar down")}
	c := NewController(avail, &mockBookings{}, testCatalog(t))

	var err error
	for i := 0; i < EscalationThreshold; i++ {
		_, err = c.Execute(context.Background(), "conv-1", models.StateSlotSelection, collectedForSlots())
		if !errors.Is(err, models.ErrEscalationRequired) {
			// Failures below the threshold surface as operation failures.
			var opErr *OperationFailedError
			if !errors.As(err, &opErr) {
				t.Fatalf("attempt %d: unexpected error %v", i, err)
			}
		}
	}

	// The breaker is now open: the next call escalates without reaching the
	// operation at all.
	callsBefore := avail.calls
	_, err = c.Execute(context.Background(), "conv-1", models.StateSlotSelection, collectedForSlots())
	if !errors.Is(err, models.ErrEscalationRequired) {
		t.Fatalf("expected escalation after %d consecutive failures, got %v", EscalationThreshold, err)
	}
	if avail.calls != callsBefore {
		t.Errorf("open breaker must not invoke the operation")
	}
}

func TestBreakerIsPerOperation(t *testing.T) {
	avail := &mockAvailability{err: errors.New("calendar down")}
	books := &mockBookings{booking: models.Booking{ID: "b-1"}}
	c := NewController(avail, books, testCatalog(t))

	for i := 0; i < EscalationThreshold+1; i++ {
		c.Execute(context.Background(), "conv-1", models.StateSlotSelection, collectedForSlots())
	}

	// Availability is open, booking creation still works.
	outcome, err := c.Execute(context.Background(), "conv-1", models.StateBooked, collectedForSlots())
	if err != nil {
		t.Fatalf("booking operation should be unaffected, got %v", err)
	}
	if outcome.Booking == nil {
		t.Errorf("expected a booking outcome")
	}
}

package ops

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pepeccz/atrevete-bot-sub001/internal/actions"
	"github.com/pepeccz/atrevete-bot-sub001/internal/models"
	"github.com/pepeccz/atrevete-bot-sub001/internal/store"
)

// BookingService creates appointment bookings: it places a hold on the slot,
// persists the booking, and rolls the hold back if the write fails. A
// booking exists durably before the conversation is ever told it exists.
type BookingService struct {
	schedule *ScheduleService
	writer   store.BookingWriter
	now      func() time.Time
}

// NewBookingService wires the schedule and the durable writer together.
func NewBookingService(schedule *ScheduleService, writer store.BookingWriter) *BookingService {
	return &BookingService{schedule: schedule, writer: writer, now: time.Now}
}

// SetClock overrides the time source, for tests.
func (b *BookingService) SetClock(now func() time.Time) { b.now = now }

// Create implements actions.BookingCreator.
func (b *BookingService) Create(ctx context.Context, req actions.BookingRequest) (models.Booking, error) {
	collected := req.Collected
	if len(collected.ServiceIDs) == 0 || collected.StylistID == "" || collected.Slot == nil ||
		collected.FirstName == "" {
		return models.Booking{}, fmt.Errorf("booking request for %s is missing required data", req.ConversationID)
	}

	if err := b.schedule.Reserve(collected.StylistID, *collected.Slot); err != nil {
		return models.Booking{}, err
	}

	booking := models.Booking{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		ServiceIDs:     append([]string(nil), collected.ServiceIDs...),
		StylistID:      collected.StylistID,
		Slot:           *collected.Slot,
		FirstName:      collected.FirstName,
		LastName:       collected.LastName,
		Notes:          collected.Notes,
		CreatedAt:      b.now().UTC(),
	}
	if err := b.writer.SaveBooking(ctx, booking); err != nil {
		b.schedule.Release(collected.StylistID, *collected.Slot)
		return models.Booking{}, fmt.Errorf("failed to persist booking: %w", err)
	}

	slog.Info("BookingService created booking",
		"bookingID", booking.ID, "conversationID", booking.ConversationID,
		"stylistID", booking.StylistID, "slotStart", booking.Slot.Start)
	return booking, nil
}

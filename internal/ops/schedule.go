// Package ops implements the concrete external operations the action
// controller prescribes: availability lookup and booking creation. Both are
// deterministic and operate only on structured arguments.
package ops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pepeccz/atrevete-bot-sub001/internal/actions"
	"github.com/pepeccz/atrevete-bot-sub001/internal/models"
)

// Schedule configuration defaults.
const (
	DefaultOpenHour      = 10
	DefaultCloseHour     = 20
	DefaultSlotStep      = 30 * time.Minute
	DefaultMaxSlots      = 3
	DefaultSearchHorizon = 14 // days
)

// ErrSlotUnavailable is returned when a reservation collides with an
// existing booking.
var ErrSlotUnavailable = errors.New("slot is no longer available")

// ScheduleService computes open appointment slots within business hours and
// tracks reservations so the same interval is never handed out twice for one
// stylist.
type ScheduleService struct {
	mu        sync.Mutex
	openHour  int
	closeHour int
	step      time.Duration
	minLead   time.Duration
	maxSlots  int
	loc       *time.Location
	reserved  map[string][]models.Slot
}

// ScheduleOption configures a ScheduleService.
type ScheduleOption func(*ScheduleService)

// WithBusinessHours sets the daily opening and closing hours.
func WithBusinessHours(open, close int) ScheduleOption {
	return func(s *ScheduleService) { s.openHour, s.closeHour = open, close }
}

// WithMinLeadTime sets the minimum notice before a slot may start. It must
// match the state machine's staleness threshold.
func WithMinLeadTime(lead time.Duration) ScheduleOption {
	return func(s *ScheduleService) { s.minLead = lead }
}

// WithMaxSlots caps how many options one lookup returns.
func WithMaxSlots(n int) ScheduleOption {
	return func(s *ScheduleService) { s.maxSlots = n }
}

// WithLocation sets the salon's time zone.
func WithLocation(loc *time.Location) ScheduleOption {
	return func(s *ScheduleService) { s.loc = loc }
}

// NewScheduleService creates a schedule with sane defaults.
func NewScheduleService(opts ...ScheduleOption) *ScheduleService {
	s := &ScheduleService{
		openHour:  DefaultOpenHour,
		closeHour: DefaultCloseHour,
		step:      DefaultSlotStep,
		minLead:   time.Hour,
		maxSlots:  DefaultMaxSlots,
		loc:       time.Local,
		reserved:  make(map[string][]models.Slot),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lookup implements actions.AvailabilityLookup. It walks slot boundaries
// from the earliest admissible start and returns the first open intervals
// that fit the requested duration inside business hours.
func (s *ScheduleService) Lookup(_ context.Context, req actions.AvailabilityRequest) ([]models.Slot, error) {
	if req.DurationMin <= 0 {
		return nil, fmt.Errorf("availability lookup requires a positive duration, got %d", req.DurationMin)
	}
	if req.StylistID == "" {
		return nil, fmt.Errorf("availability lookup requires a stylist")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	earliest := req.From.Add(s.minLead).In(s.loc)
	var slots []models.Slot
	for day := 0; day < DefaultSearchHorizon && len(slots) < s.maxSlots; day++ {
		date := earliest.AddDate(0, 0, day)
		start := time.Date(date.Year(), date.Month(), date.Day(), s.openHour, 0, 0, 0, s.loc)
		close := time.Date(date.Year(), date.Month(), date.Day(), s.closeHour, 0, 0, 0, s.loc)
		for cursor := start; !cursor.After(close); cursor = cursor.Add(s.step) {
			if cursor.Before(earliest) {
				continue
			}
			candidate := models.Slot{Start: cursor, DurationMin: req.DurationMin}
			if candidate.End().After(close) {
				break
			}
			if s.conflicts(req.StylistID, candidate) {
				continue
			}
			slots = append(slots, candidate)
			if len(slots) >= s.maxSlots {
				break
			}
		}
	}
	slog.Debug("ScheduleService.Lookup computed slots",
		"conversationID", req.ConversationID, "stylistID", req.StylistID,
		"durationMin", req.DurationMin, "found", len(slots))
	return slots, nil
}

// Reserve marks a slot as taken for a stylist. It fails with
// ErrSlotUnavailable when the interval overlaps an existing reservation.
func (s *ScheduleService) Reserve(stylistID string, slot models.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflicts(stylistID, slot) {
		return fmt.Errorf("stylist %s at %s: %w", stylistID, slot.Start.Format(time.RFC3339), ErrSlotUnavailable)
	}
	s.reserved[stylistID] = append(s.reserved[stylistID], slot)
	return nil
}

// Release frees a reservation made by Reserve, for rollback when the booking
// write fails after the hold was taken.
func (s *ScheduleService) Release(stylistID string, slot models.Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	held := s.reserved[stylistID]
	for i, r := range held {
		if r.Start.Equal(slot.Start) && r.DurationMin == slot.DurationMin {
			s.reserved[stylistID] = append(held[:i], held[i+1:]...)
			return
		}
	}
}

// conflicts reports whether the slot overlaps a reservation. Callers must
// hold s.mu.
func (s *ScheduleService) conflicts(stylistID string, slot models.Slot) bool {
	for _, r := range s.reserved[stylistID] {
		if slot.Start.Before(r.End()) && r.Start.Before(slot.End()) {
			return true
		}
	}
	return false
}

// Package actions implements the deterministic action controller. For every
// state the FSM can enter, a static table prescribes which side-effecting
// operation must run before a reply can be generated. The language model is
// never asked whether to call an operation; it only phrases known facts.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/pepeccz/atrevete-bot-sub001/internal/catalog"
	"github.com/pepeccz/atrevete-bot-sub001/internal/models"
)

// Operation names for the prescribed actions.
const (
	OpAvailabilityLookup = "availability_lookup"
	OpCreateBooking      = "create_booking"
)

// EscalationThreshold is the number of consecutive failures of one operation
// after which the breaker opens and the conversation escalates to a human.
const EscalationThreshold = 3

// breakerResetTimeout is how long an open breaker stays open before probing.
const breakerResetTimeout = 2 * time.Minute

// AvailabilityRequest carries the deterministic arguments for a lookup,
// built from collected data only, never from free text.
type AvailabilityRequest struct {
	ConversationID string
	ServiceIDs     []string
	StylistID      string
	From           time.Time
	DurationMin    int
}

// AvailabilityLookup is the external availability operation.
type AvailabilityLookup interface {
	Lookup(ctx context.Context, req AvailabilityRequest) ([]models.Slot, error)
}

// BookingRequest carries the fully collected data for record creation.
type BookingRequest struct {
	ConversationID string
	Collected      models.CollectedData
}

// BookingCreator is the external booking creation operation.
type BookingCreator interface {
	Create(ctx context.Context, req BookingRequest) (models.Booking, error)
}

// OperationFailedError is returned when a prescribed operation fails. The
// caller must neither advance nor corrupt the FSM snapshot.
type OperationFailedError struct {
	Operation string
	Cause     error
}

func (e *OperationFailedError) Error() string {
	return fmt.Sprintf("operation %s failed: %v", e.Operation, e.Cause)
}

func (e *OperationFailedError) Unwrap() error {
	return e.Cause
}

// prescription binds a state to its mandatory operation, if any.
type prescription struct {
	operation string
}

// prescribed is the static state-to-action table. Entering slot selection
// always looks up availability; entering booked always creates the record.
var prescribed = map[models.BookingState]prescription{
	models.StateSlotSelection: {operation: OpAvailabilityLookup},
	models.StateBooked:        {operation: OpCreateBooking},
}

// Outcome is the result of executing the prescribed action for a new state.
type Outcome struct {
	State     models.BookingState
	Operation string // empty when the state prescribes no operation
	Slots     []models.Slot
	Booking   *models.Booking
}

// Controller executes prescribed actions behind per-operation circuit
// breakers.
type Controller struct {
	availability AvailabilityLookup
	bookings     BookingCreator
	catalog      *catalog.Catalog
	breakers     map[string]*gobreaker.CircuitBreaker
	clock        func() time.Time
}

// NewController creates a controller over the given operations.
func NewController(availability AvailabilityLookup, bookings BookingCreator, cat *catalog.Catalog) *Controller {
	c := &Controller{
		availability: availability,
		bookings:     bookings,
		catalog:      cat,
		breakers:     make(map[string]*gobreaker.CircuitBreaker),
		clock:        time.Now,
	}
	for _, name := range []string{OpAvailabilityLookup, OpCreateBooking} {
		c.breakers[name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: breakerResetTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= EscalationThreshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("operation breaker state change", "operation", name, "from", from.String(), "to", to.String())
			},
		})
	}
	return c
}

// SetClock overrides the clock, for tests.
func (c *Controller) SetClock(clock func() time.Time) {
	c.clock = clock
}

// Execute runs the operation prescribed for the state the FSM has just
// entered, unconditionally and synchronously. States with no prescription
// return an Outcome with an empty Operation.
func (c *Controller) Execute(ctx context.Context, conversationID string, newState models.BookingState, collected models.CollectedData) (*Outcome, error) {
	p, ok := prescribed[newState]
	if !ok {
		return &Outcome{State: newState}, nil
	}

	slog.Debug("actions.Execute running prescribed operation", "conversationID", conversationID, "state", newState, "operation", p.operation)
	outcome := &Outcome{State: newState, Operation: p.operation}

	switch p.operation {
	case OpAvailabilityLookup:
		slots, err := c.lookupAvailability(ctx, conversationID, collected)
		if err != nil {
			return nil, err
		}
		outcome.Slots = slots
	case OpCreateBooking:
		booking, err := c.createBooking(ctx, conversationID, collected)
		if err != nil {
			return nil, err
		}
		outcome.Booking = booking
	default:
		return nil, fmt.Errorf("unknown prescribed operation %q for state %s", p.operation, newState)
	}

	slog.Info("actions.Execute operation succeeded", "conversationID", conversationID, "operation", p.operation, "state", newState)
	return outcome, nil
}

func (c *Controller) lookupAvailability(ctx context.Context, conversationID string, collected models.CollectedData) ([]models.Slot, error) {
	req := AvailabilityRequest{
		ConversationID: conversationID,
		ServiceIDs:     append([]string(nil), collected.ServiceIDs...),
		StylistID:      collected.StylistID,
		From:           c.clock(),
		DurationMin:    c.catalog.TotalDurationMin(collected.ServiceIDs),
	}
	result, err := c.run(OpAvailabilityLookup, func() (interface{}, error) {
		return c.availability.Lookup(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return result.([]models.Slot), nil
}

func (c *Controller) createBooking(ctx context.Context, conversationID string, collected models.CollectedData) (*models.Booking, error) {
	req := BookingRequest{ConversationID: conversationID, Collected: collected.Clone()}
	result, err := c.run(OpCreateBooking, func() (interface{}, error) {
		return c.bookings.Create(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	booking := result.(models.Booking)
	return &booking, nil
}

// run executes fn behind the operation's breaker and maps breaker errors to
// the handoff signal.
func (c *Controller) run(operation string, fn func() (interface{}, error)) (interface{}, error) {
	result, err := c.breakers[operation].Execute(fn)
	if err == nil {
		return result, nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		slog.Error("operation breaker open, escalating to human handoff", "operation", operation)
		return nil, fmt.Errorf("%s: %w", operation, models.ErrEscalationRequired)
	}
	slog.Error("prescribed operation failed", "operation", operation, "error", err)
	return nil, &OperationFailedError{Operation: operation, Cause: err}
}

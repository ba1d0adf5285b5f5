// Package engine orchestrates one conversation turn: load the memory record,
// classify the utterance, run the state machine, execute any prescribed
// action, generate the reply, and persist the updated record atomically.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pepeccz/atrevete-bot-sub001/internal/actions"
	"github.com/pepeccz/atrevete-bot-sub001/internal/catalog"
	"github.com/pepeccz/atrevete-bot-sub001/internal/fsm"
	"github.com/pepeccz/atrevete-bot-sub001/internal/intent"
	"github.com/pepeccz/atrevete-bot-sub001/internal/memory"
	"github.com/pepeccz/atrevete-bot-sub001/internal/models"
	"github.com/pepeccz/atrevete-bot-sub001/internal/store"
)

// recentContextMessages is how much window context the classifier and the
// reply formatter each receive.
const recentContextMessages = 6

// Reply is the outcome of one processed turn.
type Reply struct {
	ConversationID string              `json:"conversation_id"`
	Text           string              `json:"text"`
	State          models.BookingState `json:"state"`
	Handoff        bool                `json:"handoff"`
}

// Engine wires the conversation components together. It holds no mutable
// per-conversation state of its own; everything lives in the MemoryRecord.
type Engine struct {
	store      store.Store
	machine    *fsm.Machine
	classifier *intent.Classifier
	controller *actions.Controller
	formatter  *actions.Formatter
	memory     *memory.Manager
	catalog    *catalog.Catalog
	now        func() time.Time
}

// New creates an Engine from its collaborators.
func New(st store.Store, machine *fsm.Machine, classifier *intent.Classifier, controller *actions.Controller, formatter *actions.Formatter, mem *memory.Manager, cat *catalog.Catalog) *Engine {
	return &Engine{
		store:      st,
		machine:    machine,
		classifier: classifier,
		controller: controller,
		formatter:  formatter,
		memory:     mem,
		catalog:    cat,
		now:        time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// HandleMessage processes one inbound user message and returns the reply.
//
// The record is read once at the start and written once at the end with a
// compare-and-set on its previous UpdatedAt. When two turns for the same
// conversation race, the second writer gets models.ErrPersistenceConflict
// and no partial state is ever persisted.
func (e *Engine) HandleMessage(ctx context.Context, conversationID, text string) (*Reply, error) {
	if conversationID == "" {
		return nil, models.ErrEmptyConversationID
	}
	if text == "" {
		return nil, models.ErrEmptyMessage
	}
	if len(text) > models.MaxMessageLength {
		return nil, models.ErrMessageTooLong
	}
	now := e.now()

	record, expectedUpdatedAt, err := e.loadOrCreate(ctx, conversationID, now)
	if err != nil {
		return nil, err
	}

	if record.Handoff {
		reply := e.formatter.HandoffReply()
		e.memory.Append(record, "user", text, now)
		e.memory.Append(record, "assistant", reply, now)
		if err := e.save(ctx, record, expectedUpdatedAt, now); err != nil {
			return nil, err
		}
		return &Reply{ConversationID: conversationID, Text: reply, State: record.Snapshot.State, Handoff: true}, nil
	}

	// Context captured before this turn's message joins the window.
	recent := record.RecentMessages(recentContextMessages)
	e.memory.Append(record, "user", text, now)

	snapshot, expired := e.machine.Refresh(record.Snapshot, now)
	if expired {
		return e.handleExpiredSlot(ctx, record, snapshot, expectedUpdatedAt, now)
	}

	in := e.classifier.Classify(ctx, snapshot.State, recent, text)
	in = e.resolveIntent(in, record)

	var replyText string
	replyState := snapshot.State
	if in.Kind == models.IntentUnrecognized {
		replyText = e.formatter.UnrecognizedReply(ctx, snapshot.State, recent)
	} else {
		result := e.machine.Transition(snapshot, in)
		if !result.Accepted {
			slog.Debug("engine transition rejected",
				"conversationID", conversationID, "state", snapshot.State,
				"kind", in.Kind, "reason", result.Reason, "missing", result.Missing)
			replyText = e.rejectionReply(ctx, snapshot.State, result, recent)
		} else {
			replyText, snapshot, replyState = e.applyTransition(ctx, record, snapshot, result, recent, now)
		}
	}

	record.Snapshot = snapshot
	e.memory.Append(record, "assistant", replyText, now)
	e.memory.MaybeSummarize(ctx, record)
	if _, err := e.memory.CheckBudget(record); errors.Is(err, models.ErrEscalationRequired) {
		slog.Warn("engine escalating conversation over token budget", "conversationID", conversationID)
		record.Handoff = true
	}
	if err := e.save(ctx, record, expectedUpdatedAt, now); err != nil {
		return nil, err
	}
	return &Reply{ConversationID: conversationID, Text: replyText, State: replyState, Handoff: record.Handoff}, nil
}

// rejectionReply picks the corrective reply for a rejected transition. A
// refused addition gets its own wording so the customer learns the input was
// not kept.
func (e *Engine) rejectionReply(ctx context.Context, state models.BookingState, result fsm.TransitionResult, recent []models.ConversationMessage) string {
	switch result.Reason {
	case fsm.RejectServiceLimit:
		return e.formatter.ServiceLimitReply()
	case fsm.RejectNoteTooLong:
		return e.formatter.NoteTooLongReply()
	default:
		return e.formatter.RejectionReply(ctx, state, result.Missing, recent)
	}
}

// applyTransition runs the prescribed action for the accepted target state
// and commits the transition only when the action succeeded. It returns the
// reply text, the snapshot to persist, and the state the turn entered — the
// two diverge after a completed booking, where the persisted snapshot is
// reset to idle while the reply still reports the booked state.
func (e *Engine) applyTransition(ctx context.Context, record *models.MemoryRecord, snapshot models.FSMSnapshot, result fsm.TransitionResult, recent []models.ConversationMessage, now time.Time) (string, models.FSMSnapshot, models.BookingState) {
	outcome, err := e.controller.Execute(ctx, record.ConversationID, result.State, result.Collected)
	if err != nil {
		// The snapshot stays exactly where it was: a failed operation never
		// advances the conversation.
		var opErr *actions.OperationFailedError
		switch {
		case errors.Is(err, models.ErrEscalationRequired):
			slog.Warn("engine escalating after repeated operation failures",
				"conversationID", record.ConversationID, "state", result.State)
			record.Handoff = true
			return e.formatter.HandoffReply(), snapshot, snapshot.State
		case errors.As(err, &opErr):
			return e.formatter.OperationFailureReply(opErr.Operation), snapshot, snapshot.State
		default:
			slog.Error("engine unexpected operation error", "conversationID", record.ConversationID, "error", err)
			return e.formatter.OperationFailureReply("operation"), snapshot, snapshot.State
		}
	}

	snapshot.State = result.State
	snapshot.Collected = result.Collected
	snapshot.LastUpdated = now
	e.refreshOffered(record, snapshot.State, outcome)
	replyText := e.formatter.StateReply(ctx, result.Collected, outcome, recent)

	// A completed booking ends the lifecycle; the next message starts a
	// fresh one from idle.
	if snapshot.State == models.StateBooked {
		snapshot = models.NewFSMSnapshot(now)
		record.Offered = nil
	}
	return replyText, snapshot, result.State
}

// handleExpiredSlot finishes a turn in which the held slot went stale: the
// slot is already cleared and the state forced back to slot selection; this
// turn re-offers availability instead of acting on the utterance.
func (e *Engine) handleExpiredSlot(ctx context.Context, record *models.MemoryRecord, snapshot models.FSMSnapshot, expectedUpdatedAt time.Time, now time.Time) (*Reply, error) {
	record.Offered = nil
	replyText := e.formatter.SlotExpiredNotice()

	outcome, err := e.controller.Execute(ctx, record.ConversationID, snapshot.State, snapshot.Collected)
	switch {
	case errors.Is(err, models.ErrEscalationRequired):
		record.Handoff = true
		replyText = e.formatter.HandoffReply()
	case err != nil:
		replyText += " " + e.formatter.OperationFailureReply(actions.OpAvailabilityLookup)
	default:
		e.refreshOffered(record, snapshot.State, outcome)
		replyText += " " + e.formatter.StateReply(ctx, snapshot.Collected, outcome, nil)
	}

	record.Snapshot = snapshot
	e.memory.Append(record, "assistant", replyText, now)
	e.memory.MaybeSummarize(ctx, record)
	if _, err := e.memory.CheckBudget(record); errors.Is(err, models.ErrEscalationRequired) {
		slog.Warn("engine escalating conversation over token budget", "conversationID", record.ConversationID)
		record.Handoff = true
	}
	if err := e.save(ctx, record, expectedUpdatedAt, now); err != nil {
		return nil, err
	}
	return &Reply{ConversationID: record.ConversationID, Text: replyText, State: snapshot.State, Handoff: record.Handoff}, nil
}

// refreshOffered records the list of options the reply presents, keyed by
// state, so a later bare index resolves against what the user actually saw.
func (e *Engine) refreshOffered(record *models.MemoryRecord, state models.BookingState, outcome *actions.Outcome) {
	switch state {
	case models.StateServiceSelection:
		services := e.catalog.Services()
		ids := make([]string, len(services))
		for i, svc := range services {
			ids[i] = svc.ID
		}
		record.Offered = &models.OfferedOptions{Kind: models.OfferedServices, ServiceIDs: ids}
	case models.StateStylistSelection:
		stylists := e.catalog.Stylists()
		ids := make([]string, len(stylists))
		for i, sty := range stylists {
			ids[i] = sty.ID
		}
		record.Offered = &models.OfferedOptions{Kind: models.OfferedStylists, StylistIDs: ids}
	case models.StateSlotSelection:
		var slots []models.Slot
		if outcome != nil {
			slots = outcome.Slots
		}
		record.Offered = &models.OfferedOptions{Kind: models.OfferedSlots, Slots: slots}
	default:
		record.Offered = nil
	}
}

func (e *Engine) loadOrCreate(ctx context.Context, conversationID string, now time.Time) (*models.MemoryRecord, time.Time, error) {
	record, err := e.store.GetMemoryRecord(ctx, conversationID)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to load conversation %s: %w", conversationID, err)
	}
	if record == nil {
		slog.Info("engine starting new conversation", "conversationID", conversationID)
		return models.NewMemoryRecord(conversationID, now), time.Time{}, nil
	}
	return record, record.UpdatedAt, nil
}

func (e *Engine) save(ctx context.Context, record *models.MemoryRecord, expectedUpdatedAt time.Time, now time.Time) error {
	record.UpdatedAt = now
	if err := e.store.SaveMemoryRecord(ctx, record, expectedUpdatedAt); err != nil {
		return fmt.Errorf("failed to save conversation %s: %w", record.ConversationID, err)
	}
	return nil
}

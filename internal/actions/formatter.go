package actions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"

	"github.com/pepeccz/atrevete-bot-sub001/internal/catalog"
	"github.com/pepeccz/atrevete-bot-sub001/internal/genai"
	"github.com/pepeccz/atrevete-bot-sub001/internal/models"
)

// formatterSystemPrompt constrains the phrasing call: the model may only
// rephrase facts the controller already observed, and may not invent any.
const formatterSystemPrompt = `You write the next reply for a hair salon's booking assistant.
Rephrase the FACTS below into one short, warm, natural message to the customer.
Use ONLY the facts given. Keep every numbered option exactly as numbered.
Never state that an appointment is booked or confirmed unless the facts explicitly say so.
Do not offer actions the facts do not mention.`

// Formatter turns controller outcomes and FSM rejections into user-facing
// replies. A constrained completion call phrases the facts; when it fails the
// deterministic rendering is used as-is, so formatting can never block a turn.
type Formatter struct {
	genaiClient genai.ClientInterface
	catalog     *catalog.Catalog
}

// NewFormatter creates a formatter. genaiClient may be nil, in which case
// every reply is the deterministic rendering.
func NewFormatter(genaiClient genai.ClientInterface, cat *catalog.Catalog) *Formatter {
	return &Formatter{genaiClient: genaiClient, catalog: cat}
}

// StateReply builds the reply for a state the FSM has just entered, from the
// collected data and the prescribed-action outcome for that entry.
func (f *Formatter) StateReply(ctx context.Context, collected models.CollectedData, outcome *Outcome, recent []models.ConversationMessage) string {
	facts := f.renderFacts(collected, outcome)
	return f.phrase(ctx, facts, recent)
}

// RejectionReply builds the corrective reply for a rejected transition. The
// FSM state is unchanged, so the reply redirects to what the stage needs.
func (f *Formatter) RejectionReply(ctx context.Context, state models.BookingState, missing []models.Field, recent []models.ConversationMessage) string {
	var sb strings.Builder
	sb.WriteString("That step is not possible right now.\n")
	if len(missing) > 0 {
		sb.WriteString("Still needed first: " + joinFields(missing) + ".\n")
	}
	sb.WriteString("Current stage: " + f.stageHint(state))
	return f.phrase(ctx, sb.String(), recent)
}

// UnrecognizedReply asks for clarification without changing anything.
func (f *Formatter) UnrecognizedReply(ctx context.Context, state models.BookingState, recent []models.ConversationMessage) string {
	facts := "The message could not be understood in this stage.\nAsk the customer to rephrase.\nCurrent stage: " + f.stageHint(state)
	return f.phrase(ctx, facts, recent)
}

// OperationFailureReply is deliberately deterministic: a failure must never
// pass through the model where it could be softened into a success claim.
func (f *Formatter) OperationFailureReply(operation string) string {
	switch operation {
	case OpAvailabilityLookup:
		return "I couldn't check the calendar just now. Nothing was changed — please try again in a moment."
	case OpCreateBooking:
		return "I couldn't complete the booking just now. Nothing was booked — please try again in a moment."
	default:
		return "Something went wrong on our side. Nothing was changed — please try again in a moment."
	}
}

// ServiceLimitReply tells the customer a service was refused because the
// booking already holds the maximum. Deterministic for the same reason as
// OperationFailureReply: the refusal must not be softened away.
func (f *Formatter) ServiceLimitReply() string {
	return fmt.Sprintf("A booking can include at most %d services, so that one was not added. The selection is unchanged — you can continue with what's already chosen.", models.MaxServicesPerBooking)
}

// NoteTooLongReply tells the customer their note was refused for length.
func (f *Formatter) NoteTooLongReply() string {
	return fmt.Sprintf("That note is too long to attach (the limit is %d characters), so it was not saved. Could you send a shorter version?", models.MaxNoteLength)
}

// HandoffReply is the terminal escalation message.
func (f *Formatter) HandoffReply() string {
	return "I'm having trouble completing this automatically. A member of our team will continue with you shortly."
}

// SlotExpiredNotice explains why a previously chosen slot was discarded.
func (f *Formatter) SlotExpiredNotice() string {
	return "The time we had picked earlier is no longer available on such short notice, so let's choose a new one. "
}

// renderFacts produces the deterministic reply content for a state entry.
func (f *Formatter) renderFacts(collected models.CollectedData, outcome *Outcome) string {
	var sb strings.Builder
	switch outcome.State {
	case models.StateIdle:
		sb.WriteString("The booking was cancelled. Nothing is reserved. The customer can start a new booking any time.")
	case models.StateServiceSelection:
		sb.WriteString("Ask which service(s) the customer would like. Available services:\n")
		for i, svc := range f.catalog.Services() {
			fmt.Fprintf(&sb, "%d. %s (%d min)\n", i+1, svc.Name, svc.DurationMin)
		}
		if len(collected.ServiceIDs) > 0 {
			sb.WriteString("Already selected: " + f.serviceNames(collected.ServiceIDs) + ".\n")
			sb.WriteString("The customer can add more services or continue.")
		}
	case models.StateStylistSelection:
		sb.WriteString("Selected services: " + f.serviceNames(collected.ServiceIDs) + ".\n")
		sb.WriteString("Ask which stylist the customer prefers. Stylists:\n")
		for i, sty := range f.catalog.Stylists() {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, sty.Name)
		}
	case models.StateSlotSelection:
		sb.WriteString("Services: " + f.serviceNames(collected.ServiceIDs) + ". Stylist: " + f.stylistName(collected.StylistID) + ".\n")
		if len(outcome.Slots) == 0 {
			sb.WriteString("No free slots were found for the coming days. Offer to look further ahead or suggest the customer asks for other options.")
		} else {
			sb.WriteString("Ask the customer to pick a time. Free slots:\n")
			for i, slot := range outcome.Slots {
				fmt.Fprintf(&sb, "%d. %s\n", i+1, slot.Start.Format("Mon 02 Jan 15:04"))
			}
		}
	case models.StateCustomerData:
		sb.WriteString("Chosen time: " + collected.Slot.Start.Format("Mon 02 Jan 15:04") + ".\n")
		sb.WriteString("Ask for the customer's first and last name to put on the booking.")
	case models.StateConfirmation:
		sb.WriteString("Ask the customer to confirm this booking:\n")
		fmt.Fprintf(&sb, "Services: %s\n", f.serviceNames(collected.ServiceIDs))
		fmt.Fprintf(&sb, "Stylist: %s\n", f.stylistName(collected.StylistID))
		fmt.Fprintf(&sb, "Time: %s\n", collected.Slot.Start.Format("Mon 02 Jan 15:04"))
		fmt.Fprintf(&sb, "Name: %s %s\n", collected.FirstName, collected.LastName)
		if collected.Notes != "" {
			fmt.Fprintf(&sb, "Notes: %s\n", collected.Notes)
		}
	case models.StateBooked:
		// Only reachable when the creation operation actually succeeded:
		// the controller returns an error otherwise and the engine never
		// formats a booked reply without an observed Booking.
		fmt.Fprintf(&sb, "The booking is confirmed. Reference: %s.\n", outcome.Booking.ID)
		fmt.Fprintf(&sb, "%s with %s on %s.\n", f.serviceNames(outcome.Booking.ServiceIDs), f.stylistName(outcome.Booking.StylistID), outcome.Booking.Slot.Start.Format("Mon 02 Jan 15:04"))
		sb.WriteString("Thank the customer.")
	default:
		sb.WriteString("Continue the booking conversation.")
	}
	return sb.String()
}

// phrase runs the constrained phrasing call with the deterministic facts as
// fallback.
func (f *Formatter) phrase(ctx context.Context, facts string, recent []models.ConversationMessage) string {
	if f.genaiClient == nil {
		return facts
	}

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(formatterSystemPrompt),
	}
	for _, msg := range recent {
		if msg.Role == "user" {
			messages = append(messages, openai.UserMessage(msg.Content))
		} else {
			messages = append(messages, openai.AssistantMessage(msg.Content))
		}
	}
	messages = append(messages, openai.SystemMessage("FACTS:\n"+facts))

	reply, err := f.genaiClient.GenerateWithMessages(ctx, messages)
	if err != nil || strings.TrimSpace(reply) == "" {
		slog.Warn("formatter phrasing call failed, using deterministic rendering", "error", err)
		return facts
	}
	return reply
}

func (f *Formatter) stageHint(state models.BookingState) string {
	switch state {
	case models.StateIdle:
		return "no booking in progress; the customer can start one."
	case models.StateServiceSelection:
		return "choosing services."
	case models.StateStylistSelection:
		return "choosing a stylist."
	case models.StateSlotSelection:
		return "choosing a time slot."
	case models.StateCustomerData:
		return "providing the customer's name."
	case models.StateConfirmation:
		return "confirming the booking."
	default:
		return string(state)
	}
}

func (f *Formatter) serviceNames(ids []string) string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if svc, ok := f.catalog.ServiceByID(id); ok {
			names = append(names, svc.Name)
		} else {
			names = append(names, id)
		}
	}
	return strings.Join(names, ", ")
}

func (f *Formatter) stylistName(id string) string {
	if sty, ok := f.catalog.StylistByID(id); ok {
		return sty.Name
	}
	return id
}

func joinFields(fields []models.Field) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = strings.ReplaceAll(string(f), "_", " ")
	}
	return strings.Join(parts, ", ")
}

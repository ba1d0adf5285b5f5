// Package intent turns raw user utterances into structured transition
// requests. It is the only component that calls the completion service for
// classification, and it never decides whether a transition is legal; that
// belongs to the state machine downstream.
package intent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/pepeccz/atrevete-bot-sub001/internal/genai"
	"github.com/pepeccz/atrevete-bot-sub001/internal/models"
)

// maxContextMessages bounds how much recent conversation is sent for
// disambiguation of referentially ambiguous input.
const maxContextMessages = 6

// kindDescriptions explains each intent kind to the model. Only the kinds
// legal from the current state are included in a classification request.
var kindDescriptions = map[models.IntentKind]string{
	models.IntentStartBooking:   "the user wants to book an appointment",
	models.IntentAddService:     "the user names or picks a service to add; extract 'service' or 'index'",
	models.IntentFinishServices: "the user is done choosing services and wants to continue",
	models.IntentSelectStylist:  "the user names or picks a stylist; extract 'stylist' or 'index'",
	models.IntentSelectSlot:     "the user picks an offered time slot; extract 'index' or 'date' and 'time'",
	models.IntentOtherSlots:     "the user wants different availability options",
	models.IntentProvideName:    "the user gives their name; extract 'first_name' and 'last_name'",
	models.IntentAddNote:        "the user adds a remark for the appointment; extract 'note'",
	models.IntentConfirm:        "the user explicitly agrees to proceed",
	models.IntentCancel:         "the user wants to abandon the booking",
}

// rawIntent is the JSON shape requested from the model.
type rawIntent struct {
	Kind      string `json:"kind"`
	Index     int    `json:"index,omitempty"`
	Service   string `json:"service,omitempty"`
	Stylist   string `json:"stylist,omitempty"`
	Date      string `json:"date,omitempty"` // YYYY-MM-DD
	Time      string `json:"time,omitempty"` // HH:MM
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Note      string `json:"note,omitempty"`
}

// Classifier produces state-scoped intents from utterances.
type Classifier struct {
	genaiClient genai.ClientInterface
	now         func() time.Time
}

// NewClassifier creates a classifier backed by the given GenAI client.
func NewClassifier(genaiClient genai.ClientInterface) *Classifier {
	return &Classifier{genaiClient: genaiClient, now: time.Now}
}

// SetClock overrides the clock, for tests.
func (c *Classifier) SetClock(now func() time.Time) {
	c.now = now
}

// Classify turns an utterance into an Intent whose kind is guaranteed to be
// legal for the current state. Classification failures degrade to the
// designated fallback intent; they never abort the turn.
func (c *Classifier) Classify(ctx context.Context, state models.BookingState, recent []models.ConversationMessage, utterance string) models.Intent {
	legal := models.LegalIntents(state)
	if len(legal) == 0 {
		// Terminal state: nothing is classifiable.
		return models.FallbackIntent()
	}
	if c.genaiClient == nil {
		slog.Warn("intent.Classify: no GenAI client configured, using fallback", "state", state)
		return models.FallbackIntent()
	}

	messages := c.buildMessages(state, legal, recent, utterance)

	var raw rawIntent
	if err := c.genaiClient.GenerateJSON(ctx, messages, &raw); err != nil {
		slog.Warn("intent.Classify: classification call failed, using fallback", "error", err, "state", state)
		return models.FallbackIntent()
	}

	return c.validate(state, raw)
}

// buildMessages assembles the state-scoped classification request.
func (c *Classifier) buildMessages(state models.BookingState, legal []models.IntentKind, recent []models.ConversationMessage, utterance string) []openai.ChatCompletionMessageParamUnion {
	var sb strings.Builder
	sb.WriteString("You classify one user message from a salon appointment booking conversation.\n")
	sb.WriteString(fmt.Sprintf("The booking is currently at stage %s.\n", state))
	sb.WriteString("Reply with a single JSON object: {\"kind\": ..., \"index\": ..., \"service\": ..., \"stylist\": ..., \"date\": ..., \"time\": ..., \"first_name\": ..., \"last_name\": ..., \"note\": ...}.\n")
	sb.WriteString("Omit entity fields you cannot extract. \"index\" is the 1-based position when the user refers to a numbered option from the most recent list shown.\n")
	sb.WriteString(fmt.Sprintf("Dates are YYYY-MM-DD, times are HH:MM (24h). Today is %s.\n", c.now().Format("2006-01-02")))
	sb.WriteString("\"kind\" MUST be exactly one of:\n")
	for _, k := range legal {
		sb.WriteString(fmt.Sprintf("- %q: %s\n", string(k), kindDescriptions[k]))
	}
	sb.WriteString(fmt.Sprintf("- %q: none of the above applies\n", string(models.IntentUnrecognized)))

	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(sb.String())}

	start := 0
	if len(recent) > maxContextMessages {
		start = len(recent) - maxContextMessages
	}
	for _, msg := range recent[start:] {
		if msg.Role == "user" {
			messages = append(messages, openai.UserMessage(msg.Content))
		} else {
			messages = append(messages, openai.AssistantMessage(msg.Content))
		}
	}

	messages = append(messages, openai.UserMessage(utterance))
	return messages
}

// validate maps the model's raw output onto a legal Intent. Out-of-domain
// kinds become the fallback; unparseable entities degrade to a recognized
// kind with a null entity, deferring the missing data to the reply.
func (c *Classifier) validate(state models.BookingState, raw rawIntent) models.Intent {
	kind := models.IntentKind(strings.TrimSpace(raw.Kind))
	if kind == "" || !models.IsLegalIntent(state, kind) {
		slog.Debug("intent.validate: model emitted out-of-domain kind", "state", state, "kind", raw.Kind)
		return models.FallbackIntent()
	}

	out := models.Intent{
		Kind:        kind,
		Index:       raw.Index,
		ServiceName: strings.TrimSpace(raw.Service),
		StylistName: strings.TrimSpace(raw.Stylist),
		FirstName:   strings.TrimSpace(raw.FirstName),
		LastName:    strings.TrimSpace(raw.LastName),
		Note:        strings.TrimSpace(raw.Note),
	}
	if out.Index < 0 {
		out.Index = 0
	}

	if raw.Date != "" || raw.Time != "" {
		if when, err := parseWhen(raw.Date, raw.Time, c.now()); err != nil {
			slog.Debug("intent.validate: unparseable date expression", "date", raw.Date, "time", raw.Time, "error", err)
		} else {
			out.When = &when
		}
	}

	return out
}

// parseWhen combines a date and time string into a timestamp. A missing date
// defaults to today; a missing time is an error since a slot needs one.
func parseWhen(dateStr, timeStr string, now time.Time) (time.Time, error) {
	if timeStr == "" {
		return time.Time{}, fmt.Errorf("time component missing")
	}
	day := now
	if dateStr != "" {
		parsed, err := time.ParseInLocation("2006-01-02", dateStr, now.Location())
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid date %q: %w", dateStr, err)
		}
		day = parsed
	}
	clock, err := time.Parse("15:04", timeStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: %w", timeStr, err)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, now.Location()), nil
}

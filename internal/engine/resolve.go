package engine

import (
	"log/slog"

	"github.com/pepeccz/atrevete-bot-sub001/internal/models"
)

// resolveIntent fills the intent's resolved entity fields from the catalog
// and the most recently offered list. Resolution is deterministic: a bare
// index always refers to the last list the assistant presented, so "the
// second one" means the same thing to the user and to the state machine.
//
// An entity-bearing intent whose entity cannot be resolved is downgraded to
// the fallback intent rather than passed through half-formed.
func (e *Engine) resolveIntent(in models.Intent, record *models.MemoryRecord) models.Intent {
	switch in.Kind {
	case models.IntentAddService:
		if id, ok := e.resolveService(in, record.Offered); ok {
			in.ServiceID = id
			return in
		}
	case models.IntentSelectStylist:
		if id, ok := e.resolveStylist(in, record.Offered); ok {
			in.StylistID = id
			return in
		}
	case models.IntentSelectSlot:
		if slot, ok := e.resolveSlot(in, record.Offered); ok {
			in.Slot = &slot
			return in
		}
	case models.IntentProvideName:
		if in.FirstName != "" || in.LastName != "" {
			return in
		}
	case models.IntentAddNote:
		if in.Note != "" {
			return in
		}
	default:
		// Kinds without entities pass through untouched.
		return in
	}
	slog.Debug("engine could not resolve intent entity, falling back",
		"conversationID", record.ConversationID, "kind", in.Kind, "index", in.Index)
	return models.FallbackIntent()
}

func (e *Engine) resolveService(in models.Intent, offered *models.OfferedOptions) (string, bool) {
	if in.Index > 0 && offered != nil && offered.Kind == models.OfferedServices {
		if in.Index <= len(offered.ServiceIDs) {
			return offered.ServiceIDs[in.Index-1], true
		}
		return "", false
	}
	if in.ServiceName != "" {
		if svc, ok := e.catalog.ServiceByName(in.ServiceName); ok {
			return svc.ID, true
		}
	}
	return "", false
}

func (e *Engine) resolveStylist(in models.Intent, offered *models.OfferedOptions) (string, bool) {
	if in.Index > 0 && offered != nil && offered.Kind == models.OfferedStylists {
		if in.Index <= len(offered.StylistIDs) {
			return offered.StylistIDs[in.Index-1], true
		}
		return "", false
	}
	if in.StylistName != "" {
		if sty, ok := e.catalog.StylistByName(in.StylistName); ok {
			return sty.ID, true
		}
	}
	return "", false
}

// resolveSlot only accepts choices from the offered list. A time the
// availability lookup never produced cannot be selected, no matter how
// plausible the classifier found it.
func (e *Engine) resolveSlot(in models.Intent, offered *models.OfferedOptions) (models.Slot, bool) {
	if offered == nil || offered.Kind != models.OfferedSlots {
		return models.Slot{}, false
	}
	if in.Index > 0 {
		if in.Index <= len(offered.Slots) {
			return offered.Slots[in.Index-1], true
		}
		return models.Slot{}, false
	}
	if in.When != nil {
		for _, slot := range offered.Slots {
			if slot.Start.Equal(*in.When) {
				return slot, true
			}
		}
	}
	return models.Slot{}, false
}

// Package models defines the per-conversation durable memory record.
package models

import "time"

// Default sizing for conversation memory.
const (
	// DefaultWindowSize is the number of recent messages kept verbatim.
	DefaultWindowSize = 10
	// DefaultSummaryInterval is how many total messages between summary updates.
	DefaultSummaryInterval = 10
	// MinWindowSize is the floor the window may be shrunk to under token pressure.
	MinWindowSize = 4
)

// ConversationMessage is a single message in the recent-message window.
type ConversationMessage struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// OfferedKind identifies which list was most recently shown to the user, so a
// bare index in a later utterance can be resolved deterministically.
type OfferedKind string

const (
	OfferedServices OfferedKind = "services"
	OfferedStylists OfferedKind = "stylists"
	OfferedSlots    OfferedKind = "slots"
)

// OfferedOptions records the most recently presented list of choices.
type OfferedOptions struct {
	Kind       OfferedKind `json:"kind"`
	ServiceIDs []string    `json:"service_ids,omitempty"`
	StylistIDs []string    `json:"stylist_ids,omitempty"`
	Slots      []Slot      `json:"slots,omitempty"`
}

// MemoryRecord is the single durable record for one conversation. The
// embedded FSMSnapshot shares the record's lifecycle by construction: it is
// never read from or written to any store independently.
type MemoryRecord struct {
	ConversationID string `json:"conversation_id"`

	// Messages is the bounded FIFO window of most recent messages.
	Messages []ConversationMessage `json:"messages"`
	// TotalMessages counts every message ever appended, including those
	// evicted from the window.
	TotalMessages int `json:"total_messages"`
	// Summary is the rolling compressed summary of evicted history. It is
	// replaced, never appended to.
	Summary string `json:"summary,omitempty"`
	// PendingSummary buffers evicted messages awaiting the next compression.
	PendingSummary []ConversationMessage `json:"pending_summary,omitempty"`
	// WindowSize is the effective window for this conversation. It shrinks
	// when the token budget passes the warning threshold.
	WindowSize int `json:"window_size"`

	Offered *OfferedOptions `json:"offered,omitempty"`
	// Handoff marks the conversation as escalated to a human operator.
	Handoff bool `json:"handoff,omitempty"`

	Snapshot FSMSnapshot `json:"snapshot"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewMemoryRecord creates the record for a conversation's first message.
func NewMemoryRecord(conversationID string, now time.Time) *MemoryRecord {
	return &MemoryRecord{
		ConversationID: conversationID,
		Messages:       []ConversationMessage{},
		WindowSize:     DefaultWindowSize,
		Snapshot:       NewFSMSnapshot(now),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// RecentMessages returns up to n most recent messages from the window.
func (r *MemoryRecord) RecentMessages(n int) []ConversationMessage {
	if n <= 0 || n >= len(r.Messages) {
		return r.Messages
	}
	return r.Messages[len(r.Messages)-n:]
}

// Validate checks structural invariants before persisting.
func (r *MemoryRecord) Validate() error {
	if r.ConversationID == "" {
		return ErrEmptyConversationID
	}
	if !IsValidBookingState(r.Snapshot.State) {
		return ErrInvalidBookingState
	}
	return nil
}

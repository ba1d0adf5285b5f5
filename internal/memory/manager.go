// Package memory maintains per-conversation context: a bounded window of
// recent messages plus a rolling compressed summary of everything older, so
// per-turn context stays bounded regardless of conversation length.
package memory

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

// Token budget thresholds over (base instructions + summary + window).
// Estimation is a rough characters-per-token heuristic; these are guardrails,
// not accounting.
const (
	// DefaultWarnTokens is the budget past which the window shrinks.
	DefaultWarnTokens = 2400
	// DefaultCriticalTokens is the budget past which the conversation
	// escalates to a human. This is a terminal safety valve, not a retry path.
	DefaultCriticalTokens = 3600
	// charsPerToken is the estimation ratio.
	charsPerToken = 4
	// baseInstructionTokens approximates the fixed prompt overhead per turn.
	baseInstructionTokens = 400
)

const summarizeSystemPrompt = `You maintain a rolling summary of a salon booking conversation.
Merge the previous summary and the new messages into ONE short summary (under 120 words).
Keep booking-relevant facts: chosen services, stylist, times discussed, customer name, preferences.
Reply with the summary text only.`

// BudgetStatus classifies the current token budget pressure.
type BudgetStatus int

const (
	BudgetOK BudgetStatus = iota
	BudgetWarning
	BudgetCritical
)

// Manager owns the message window and the rolling summary of a MemoryRecord.
type Manager struct {
	genaiClient     genai.ClientInterface
	summaryInterval int
	warnTokens      int
	criticalTokens  int
}

// NewManager creates a memory manager. genaiClient may be nil; summarization
// is then skipped entirely and conversations run on the raw window.
func NewManager(genaiClient genai.ClientInterface) *Manager {
	return &Manager{
		genaiClient:     genaiClient,
		summaryInterval: models.DefaultSummaryInterval,
		warnTokens:      DefaultWarnTokens,
		criticalTokens:  DefaultCriticalTokens,
	}
}

// SetThresholds overrides the token thresholds, for tests.
func (m *Manager) SetThresholds(warn, critical int) {
	m.warnTokens = warn
	m.criticalTokens = critical
}

// Append adds a message to the window, evicting the oldest into the pending
// summarization buffer when the window is full. The lifetime counter always
// increments, even for messages later evicted.
func (m *Manager) Append(record *models.MemoryRecord, role, content string, now time.Time) {
	if record.WindowSize <= 0 {
		record.WindowSize = models.DefaultWindowSize
	}
	record.Messages = append(record.Messages, models.ConversationMessage{
		Role:      role,
		Content:   content,
		Timestamp: now,
	})
	record.TotalMessages++

	for len(record.Messages) > record.WindowSize {
		record.PendingSummary = append(record.PendingSummary, record.Messages[0])
		record.Messages = record.Messages[1:]
	}
}

// MaybeSummarize compresses history into the rolling summary when the total
// message count crosses the summarization interval. The previous summary is
// replaced, not appended to, so summary length stays roughly constant.
// Summarization failure degrades gracefully: the error is logged and the
// conversation proceeds with the un-summarized context.
func (m *Manager) MaybeSummarize(ctx context.Context, record *models.MemoryRecord) {
	if m.genaiClient == nil {
		return
	}
	if record.TotalMessages < record.WindowSize || record.TotalMessages%m.summaryInterval != 0 {
		return
	}

	// At the first trigger nothing has been evicted yet; seed the summary
	// from the window itself so later compressions have a base to merge into.
	source := record.PendingSummary
	if len(source) == 0 {
		source = record.Messages
	}

	summary, err := m.summarize(ctx, record.Summary, source)
	if err != nil {
		slog.Warn("memory.MaybeSummarize failed, continuing un-summarized", "error", err, "conversationID", record.ConversationID, "pending", len(record.PendingSummary))
		return
	}

	record.Summary = summary
	record.PendingSummary = nil
	slog.Debug("memory.MaybeSummarize updated rolling summary", "conversationID", record.ConversationID, "summaryLength", len(summary), "totalMessages", record.TotalMessages)
}

// summarize runs the compression call.
func (m *Manager) summarize(ctx context.Context, previous string, messages []models.ConversationMessage) (string, error) {
	var sb strings.Builder
	if previous != "" {
		sb.WriteString("PREVIOUS SUMMARY:\n" + previous + "\n\n")
	}
	sb.WriteString("NEW MESSAGES:\n")
	for _, msg := range messages {
		fmt.Fprintf(&sb, "%s: %s\n", msg.Role, msg.Content)
	}

	summary, err := m.genaiClient.GenerateWithMessages(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(summarizeSystemPrompt),
		openai.UserMessage(sb.String()),
	})
	if err != nil {
		return "", fmt.Errorf("summarization call failed: %w", err)
	}
	if strings.TrimSpace(summary) == "" {
		return "", fmt.Errorf("summarization returned empty text")
	}
	return strings.TrimSpace(summary), nil
}

// CheckBudget estimates the token budget and applies the escalating
// responses: past the warning threshold the record's window shrinks for
// subsequent turns; past the critical threshold the caller receives
// models.ErrEscalationRequired.
func (m *Manager) CheckBudget(record *models.MemoryRecord) (BudgetStatus, error) {
	tokens := m.EstimateTokens(record)
	switch {
	case tokens >= m.criticalTokens:
		slog.Error("memory budget critical, signalling handoff", "conversationID", record.ConversationID, "tokens", tokens)
		return BudgetCritical, models.ErrEscalationRequired
	case tokens >= m.warnTokens:
		if record.WindowSize > models.MinWindowSize {
			record.WindowSize--
			slog.Warn("memory budget high, shrinking window", "conversationID", record.ConversationID, "tokens", tokens, "newWindowSize", record.WindowSize)
		}
		return BudgetWarning, nil
	default:
		return BudgetOK, nil
	}
}

// EstimateTokens approximates the per-turn context size.
func (m *Manager) EstimateTokens(record *models.MemoryRecord) int {
	chars := len(record.Summary)
	for _, msg := range record.Messages {
		chars += len(msg.Content)
	}
	return baseInstructionTokens + chars/charsPerToken
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pepeccz/atrevete-bot-sub001/internal/models"
)

// InMemoryStore is a process-local Store used in tests and development.
// Records are kept as serialized JSON so callers never share memory with the
// store, matching the isolation the Redis backend provides.
type InMemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	records map[string]inMemoryEntry
}

type inMemoryEntry struct {
	data      []byte
	updatedAt time.Time
	expiresAt time.Time
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore(opts ...Option) *InMemoryStore {
	cfg := applyOpts(opts)
	return &InMemoryStore{
		ttl:     cfg.TTL,
		now:     time.Now,
		records: make(map[string]inMemoryEntry),
	}
}

// SetClock overrides the time source, for TTL tests.
func (s *InMemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// GetMemoryRecord implements Store.
func (s *InMemoryStore) GetMemoryRecord(_ context.Context, conversationID string) (*models.MemoryRecord, error) {
	if conversationID == "" {
		return nil, models.ErrEmptyConversationID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.liveEntry(conversationID)
	if !ok {
		return nil, nil
	}
	var record models.MemoryRecord
	if err := json.Unmarshal(entry.data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode memory record: %w", err)
	}
	return &record, nil
}

// SaveMemoryRecord implements Store with compare-and-set semantics on
// UpdatedAt.
func (s *InMemoryStore) SaveMemoryRecord(_ context.Context, record *models.MemoryRecord, expectedUpdatedAt time.Time) error {
	if err := record.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode memory record: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, exists := s.liveEntry(record.ConversationID)
	switch {
	case !exists && !expectedUpdatedAt.IsZero():
		return fmt.Errorf("record %s vanished since read: %w", record.ConversationID, models.ErrPersistenceConflict)
	case exists && !entry.updatedAt.Equal(expectedUpdatedAt):
		return fmt.Errorf("record %s changed since read: %w", record.ConversationID, models.ErrPersistenceConflict)
	}
	s.records[record.ConversationID] = inMemoryEntry{
		data:      data,
		updatedAt: record.UpdatedAt,
		expiresAt: s.now().Add(s.ttl),
	}
	return nil
}

// DeleteMemoryRecord implements Store.
func (s *InMemoryStore) DeleteMemoryRecord(_ context.Context, conversationID string) error {
	if conversationID == "" {
		return models.ErrEmptyConversationID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, conversationID)
	return nil
}

// ListIdleRecords implements Store.
func (s *InMemoryStore) ListIdleRecords(_ context.Context, cutoff time.Time) ([]*models.MemoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var idle []*models.MemoryRecord
	for id := range s.records {
		entry, ok := s.liveEntry(id)
		if !ok {
			continue
		}
		if !entry.updatedAt.Before(cutoff) {
			continue
		}
		var record models.MemoryRecord
		if err := json.Unmarshal(entry.data, &record); err != nil {
			return nil, fmt.Errorf("failed to decode memory record: %w", err)
		}
		idle = append(idle, &record)
	}
	return idle, nil
}

// TTL implements Store.
func (s *InMemoryStore) TTL() time.Duration { return s.ttl }

// Close implements Store.
func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]inMemoryEntry)
	return nil
}

// liveEntry returns the entry if present and not expired, pruning lazily.
// Callers must hold s.mu.
func (s *InMemoryStore) liveEntry(conversationID string) (inMemoryEntry, bool) {
	entry, ok := s.records[conversationID]
	if !ok {
		return inMemoryEntry{}, false
	}
	if s.now().After(entry.expiresAt) {
		delete(s.records, conversationID)
		return inMemoryEntry{}, false
	}
	return entry, true
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pepeccz/atrevete-bot-sub001/internal/models"
)

// RedisStore keeps hot conversation records in Redis with a native TTL.
// Optimistic concurrency is enforced with WATCH: the save transaction is
// discarded when another writer touched the key between read and write.
type RedisStore struct {
	client    *redis.Client
	ttl       time.Duration
	keyPrefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, opts ...Option) (*RedisStore, error) {
	cfg := applyOpts(opts)
	if cfg.DSN == "" {
		cfg.DSN = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.DSN,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.DSN, err)
	}
	slog.Info("RedisStore connected", "addr", cfg.DSN, "db", cfg.DB, "ttl", cfg.TTL)
	return &RedisStore{client: client, ttl: cfg.TTL, keyPrefix: cfg.KeyPrefix}, nil
}

func (s *RedisStore) key(conversationID string) string {
	return s.keyPrefix + conversationID
}

// GetMemoryRecord implements Store.
func (s *RedisStore) GetMemoryRecord(ctx context.Context, conversationID string) (*models.MemoryRecord, error) {
	if conversationID == "" {
		return nil, models.ErrEmptyConversationID
	}
	data, err := s.client.Get(ctx, s.key(conversationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: redis get: %v", models.ErrStoreUnavailable, err)
	}
	var record models.MemoryRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode memory record %s: %w", conversationID, err)
	}
	return &record, nil
}

// SaveMemoryRecord implements Store. The whole record is written as one value
// under one key, so the FSM snapshot, messages and summary share a single
// expiry and can never be persisted partially.
func (s *RedisStore) SaveMemoryRecord(ctx context.Context, record *models.MemoryRecord, expectedUpdatedAt time.Time) error {
	if err := record.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode memory record: %w", err)
	}
	key := s.key(record.ConversationID)

	txn := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if !expectedUpdatedAt.IsZero() {
				return fmt.Errorf("record %s vanished since read: %w", record.ConversationID, models.ErrPersistenceConflict)
			}
		case err != nil:
			return fmt.Errorf("%w: redis get: %v", models.ErrStoreUnavailable, err)
		default:
			var stored models.MemoryRecord
			if err := json.Unmarshal(current, &stored); err != nil {
				return fmt.Errorf("failed to decode memory record %s: %w", record.ConversationID, err)
			}
			if !stored.UpdatedAt.Equal(expectedUpdatedAt) {
				return fmt.Errorf("record %s changed since read: %w", record.ConversationID, models.ErrPersistenceConflict)
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}

	err = s.client.Watch(ctx, txn, key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("record %s changed during save: %w", record.ConversationID, models.ErrPersistenceConflict)
	}
	return err
}

// DeleteMemoryRecord implements Store.
func (s *RedisStore) DeleteMemoryRecord(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return models.ErrEmptyConversationID
	}
	if err := s.client.Del(ctx, s.key(conversationID)).Err(); err != nil {
		return fmt.Errorf("%w: redis del: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

// ListIdleRecords implements Store. It scans the key prefix; record counts
// are bounded by the TTL, so a full scan stays cheap.
func (s *RedisStore) ListIdleRecords(ctx context.Context, cutoff time.Time) ([]*models.MemoryRecord, error) {
	var idle []*models.MemoryRecord
	iter := s.client.Scan(ctx, 0, s.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: redis get: %v", models.ErrStoreUnavailable, err)
		}
		var record models.MemoryRecord
		if err := json.Unmarshal(data, &record); err != nil {
			slog.Warn("RedisStore skipping undecodable record", "key", iter.Val(), "error", err)
			continue
		}
		if record.UpdatedAt.Before(cutoff) {
			idle = append(idle, &record)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: redis scan: %v", models.ErrStoreUnavailable, err)
	}
	return idle, nil
}

// TTL implements Store.
func (s *RedisStore) TTL() time.Duration { return s.ttl }

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

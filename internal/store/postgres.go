// Package store: PostgreSQL-backed archive sink and booking writer.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
	"github.com/pepeccz/atrevete-bot-sub001/internal/models"
)

// Database connection pool configuration constants.
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 25
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresArchive persists expired conversation records and completed
// bookings in PostgreSQL.
type PostgresArchive struct {
	db *sql.DB
}

// NewPostgresArchive connects to Postgres and applies migrations.
func NewPostgresArchive(opts ...Option) (*PostgresArchive, error) {
	cfg := applyOpts(opts)
	if cfg.DSN == "" {
		slog.Error("PostgresArchive DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("PostgresArchive ready")
	return &PostgresArchive{db: db}, nil
}

// ArchiveMemoryRecord implements ArchiveSink.
func (s *PostgresArchive) ArchiveMemoryRecord(ctx context.Context, record *models.MemoryRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode memory record: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversation_archive
			(conversation_id, booking_state, total_messages, summary, record, created_at, updated_at, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (conversation_id) DO UPDATE SET
			booking_state = EXCLUDED.booking_state,
			total_messages = EXCLUDED.total_messages,
			summary = EXCLUDED.summary,
			record = EXCLUDED.record,
			updated_at = EXCLUDED.updated_at,
			archived_at = EXCLUDED.archived_at`,
		record.ConversationID, string(record.Snapshot.State), record.TotalMessages,
		record.Summary, string(data), record.CreatedAt, record.UpdatedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to archive record %s: %w", record.ConversationID, err)
	}
	slog.Debug("PostgresArchive archived record", "conversationID", record.ConversationID, "totalMessages", record.TotalMessages)
	return nil
}

// SaveBooking implements BookingWriter.
func (s *PostgresArchive) SaveBooking(ctx context.Context, booking models.Booking) error {
	serviceIDs, err := json.Marshal(booking.ServiceIDs)
	if err != nil {
		return fmt.Errorf("failed to encode service ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bookings
			(id, conversation_id, service_ids, stylist_id, slot_start, duration_min, first_name, last_name, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		booking.ID, booking.ConversationID, string(serviceIDs), booking.StylistID,
		booking.Slot.Start, booking.Slot.DurationMin, booking.FirstName, booking.LastName,
		booking.Notes, booking.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save booking %s: %w", booking.ID, err)
	}
	slog.Info("PostgresArchive saved booking", "bookingID", booking.ID, "conversationID", booking.ConversationID)
	return nil
}

// GetArchivedRecord returns an archived record, or models.ErrRecordNotFound.
func (s *PostgresArchive) GetArchivedRecord(ctx context.Context, conversationID string) (*models.MemoryRecord, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM conversation_archive WHERE conversation_id = $1`, conversationID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load archived record %s: %w", conversationID, err)
	}
	var record models.MemoryRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to decode archived record %s: %w", conversationID, err)
	}
	return &record, nil
}

// Close releases the database handle.
func (s *PostgresArchive) Close() error {
	return s.db.Close()
}

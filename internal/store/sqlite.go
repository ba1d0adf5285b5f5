// Package store: SQLite-backed archive sink and booking writer.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/pepeccz/atrevete-bot-sub001/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteArchive persists expired conversation records and completed bookings
// in a local SQLite file.
type SQLiteArchive struct {
	db *sql.DB
}

// NewSQLiteArchive opens (creating if necessary) the SQLite database at the
// configured DSN and applies migrations.
func NewSQLiteArchive(opts ...Option) (*SQLiteArchive, error) {
	cfg := applyOpts(opts)
	if cfg.DSN == "" {
		slog.Error("SQLiteArchive DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("SQLiteArchive ready", "dsn", cfg.DSN)
	return &SQLiteArchive{db: db}, nil
}

// ArchiveMemoryRecord implements ArchiveSink. Re-archiving the same
// conversation replaces the previous row, so the archiver's at-least-once
// delivery is safe to retry.
func (s *SQLiteArchive) ArchiveMemoryRecord(ctx context.Context, record *models.MemoryRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode memory record: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversation_archive
			(conversation_id, booking_state, total_messages, summary, record, created_at, updated_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			booking_state = excluded.booking_state,
			total_messages = excluded.total_messages,
			summary = excluded.summary,
			record = excluded.record,
			updated_at = excluded.updated_at,
			archived_at = excluded.archived_at`,
		record.ConversationID, string(record.Snapshot.State), record.TotalMessages,
		record.Summary, string(data), record.CreatedAt, record.UpdatedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to archive record %s: %w", record.ConversationID, err)
	}
	slog.Debug("SQLiteArchive archived record", "conversationID", record.ConversationID, "totalMessages", record.TotalMessages)
	return nil
}

// SaveBooking implements BookingWriter.
func (s *SQLiteArchive) SaveBooking(ctx context.Context, booking models.Booking) error {
	serviceIDs, err := json.Marshal(booking.ServiceIDs)
	if err != nil {
		return fmt.Errorf("failed to encode service ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bookings
			(id, conversation_id, service_ids, stylist_id, slot_start, duration_min, first_name, last_name, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		booking.ID, booking.ConversationID, string(serviceIDs), booking.StylistID,
		booking.Slot.Start, booking.Slot.DurationMin, booking.FirstName, booking.LastName,
		booking.Notes, booking.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save booking %s: %w", booking.ID, err)
	}
	slog.Info("SQLiteArchive saved booking", "bookingID", booking.ID, "conversationID", booking.ConversationID)
	return nil
}

// GetArchivedRecord returns an archived record, or models.ErrRecordNotFound.
func (s *SQLiteArchive) GetArchivedRecord(ctx context.Context, conversationID string) (*models.MemoryRecord, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM conversation_archive WHERE conversation_id = ?`, conversationID).Scan(&data)
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
func (s *SQLiteArchive) Close() error {
	return s.db.Close()
}

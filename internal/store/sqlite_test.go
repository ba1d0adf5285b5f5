package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/pepeccz/atrevete-bot-sub001/internal/models"
)

func newTestSQLiteArchive(t *testing.T) *SQLiteArchive {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "archive.db")
	s, err := NewSQLiteArchive(WithDSN(dsn))
	if err != nil {
		t.Fatalf("failed to create sqlite archive: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteArchiveRoundTrip(t *testing.T) {
	s := newTestSQLiteArchive(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	record := newRecord("conv-1", now)
	record.Summary = "cliente quiere corte con María"
	record.Snapshot.State = models.StateSlotSelection

	if err := s.ArchiveMemoryRecord(ctx, record); err != nil {
		t.Fatalf("archive failed: %v", err)
	}

	loaded, err := s.GetArchivedRecord(ctx, "conv-1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Summary != record.Summary {
		t.Errorf("summary lost in archive round trip, got %q", loaded.Summary)
	}
	if loaded.Snapshot.State != models.StateSlotSelection {
		t.Errorf("snapshot lost in archive round trip, got %s", loaded.Snapshot.State)
	}
}

func TestSQLiteArchiveIsIdempotent(t *testing.T) {
	s := newTestSQLiteArchive(t)
	ctx := context.Background()
	now := time.Now().UTC()

	record := newRecord("conv-1", now)
	if err := s.ArchiveMemoryRecord(ctx, record); err != nil {
		t.Fatalf("first archive failed: %v", err)
	}

	// At-least-once delivery re-archives after a failed delete; the second
	// write must replace, not fail.
	record.TotalMessages = 7
	if err := s.ArchiveMemoryRecord(ctx, record); err != nil {
		t.Fatalf("re-archive failed: %v", err)
	}

	loaded, err := s.GetArchivedRecord(ctx, "conv-1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.TotalMessages != 7 {
		t.Errorf("re-archive should replace the row, got %d", loaded.TotalMessages)
	}
}

func TestSQLiteGetArchivedRecordMissing(t *testing.T) {
	s := newTestSQLiteArchive(t)
	_, err := s.GetArchivedRecord(context.Background(), "conv-none")
	if !errors.Is(err, models.ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestSQLiteSaveBooking(t *testing.T) {
	s := newTestSQLiteArchive(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	booking := models.Booking{
		ID:             "b-1",
		ConversationID: "conv-1",
		ServiceIDs:     []string{"svc-cut", "svc-color"},
		StylistID:      "sty-maria",
		Slot:           models.Slot{Start: now.Add(48 * time.Hour), DurationMin: 135},
		FirstName:      "Ana",
		LastName:       "García",
		Notes:          "pelo rizado",
		CreatedAt:      now,
	}
	if err := s.SaveBooking(ctx, booking); err != nil {
		t.Fatalf("save booking failed: %v", err)
	}

	// Same primary key must not silently duplicate.
	if err := s.SaveBooking(ctx, booking); err == nil {
		t.Errorf("duplicate booking id should fail")
	}
}

package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultArchiveInterval is how often the archiver sweeps for idle records.
const DefaultArchiveInterval = 15 * time.Minute

// Archiver moves idle conversation records from the hot store into the
// archive sink before the hot store's TTL can silently drop them.
//
// Delivery is at-least-once: a record is deleted from the hot store only
// after the sink acknowledged the write, so a crash between the two steps
// causes a re-archive on the next sweep, never a loss.
type Archiver struct {
	store      Store
	sink       ArchiveSink
	idleCutoff time.Duration
	interval   time.Duration
	now        func() time.Time
}

// NewArchiver validates the cutoff against the store TTL. An idle cutoff at
// or beyond the TTL would let Redis expire records the archiver never saw,
// so that configuration is refused outright.
func NewArchiver(st Store, sink ArchiveSink, idleCutoff, interval time.Duration) (*Archiver, error) {
	if idleCutoff <= 0 {
		return nil, fmt.Errorf("archive idle cutoff must be positive, got %s", idleCutoff)
	}
	if idleCutoff >= st.TTL() {
		return nil, fmt.Errorf("archive idle cutoff %s must be shorter than store TTL %s", idleCutoff, st.TTL())
	}
	if interval <= 0 {
		interval = DefaultArchiveInterval
	}
	return &Archiver{
		store:      st,
		sink:       sink,
		idleCutoff: idleCutoff,
		interval:   interval,
		now:        time.Now,
	}, nil
}

// SetClock overrides the time source, for tests.
func (a *Archiver) SetClock(now func() time.Time) { a.now = now }

// Start runs the sweep loop until the context is canceled.
func (a *Archiver) Start(ctx context.Context) {
	slog.Info("Archiver started", "idleCutoff", a.idleCutoff, "interval", a.interval)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Archiver stopped")
			return
		case <-ticker.C:
			if n, err := a.RunOnce(ctx); err != nil {
				slog.Error("Archiver sweep failed", "error", err)
			} else if n > 0 {
				slog.Info("Archiver sweep complete", "archived", n)
			}
		}
	}
}

// RunOnce performs a single sweep and returns how many records it archived.
func (a *Archiver) RunOnce(ctx context.Context) (int, error) {
	cutoff := a.now().Add(-a.idleCutoff)
	idle, err := a.store.ListIdleRecords(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list idle records: %w", err)
	}
	archived := 0
	for _, record := range idle {
		if err := a.sink.ArchiveMemoryRecord(ctx, record); err != nil {
			slog.Error("Archiver failed to archive record, keeping hot copy",
				"conversationID", record.ConversationID, "error", err)
			continue
		}
		if err := a.store.DeleteMemoryRecord(ctx, record.ConversationID); err != nil {
			slog.Warn("Archiver failed to delete archived record, will re-archive next sweep",
				"conversationID", record.ConversationID, "error", err)
			continue
		}
		archived++
	}
	return archived, nil
}

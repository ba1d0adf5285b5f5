// Package store provides the persistence and consistency layer for
// conversation memory records.
//
// The defining invariant is single-writer, single-record atomicity: a turn
// reads exactly one MemoryRecord at the start and writes exactly one record
// at the end. The embedded FSMSnapshot is never persisted independently of
// the rest of the record, so the two can never drift out of sync.
package store

import (
	"context"
	"time"

	"github.com/pepeccz/atrevete-bot-sub001/internal/models"
)

// DefaultTTL is the hot-store time-to-live for a conversation record. It is
// also, by configuration invariant, the record's "still relevant" window.
const DefaultTTL = 72 * time.Hour

// Store is the hot record store keyed by conversation identifier.
type Store interface {
	// GetMemoryRecord returns the record, or (nil, nil) when none exists.
	GetMemoryRecord(ctx context.Context, conversationID string) (*models.MemoryRecord, error)

	// SaveMemoryRecord writes the record if the stored copy's UpdatedAt still
	// equals expectedUpdatedAt (zero time means "must not exist yet").
	// A divergence returns models.ErrPersistenceConflict: the second writer
	// of two concurrent turns is rejected, never silently overwritten.
	SaveMemoryRecord(ctx context.Context, record *models.MemoryRecord, expectedUpdatedAt time.Time) error

	// DeleteMemoryRecord removes the record from the hot store.
	DeleteMemoryRecord(ctx context.Context, conversationID string) error

	// ListIdleRecords returns records whose UpdatedAt is before the cutoff.
	ListIdleRecords(ctx context.Context, cutoff time.Time) ([]*models.MemoryRecord, error)

	// TTL returns the hot-store time-to-live applied to every record.
	TTL() time.Duration

	// Close releases the underlying connection.
	Close() error
}

// ArchiveSink receives records before their hot-store deletion. Archival is
// at-least-once: the hot record is only deleted after the sink acknowledged
// the write.
type ArchiveSink interface {
	ArchiveMemoryRecord(ctx context.Context, record *models.MemoryRecord) error
	Close() error
}

// BookingWriter persists completed bookings durably.
type BookingWriter interface {
	SaveBooking(ctx context.Context, booking models.Booking) error
}

// Opts holds configuration for store backends.
type Opts struct {
	// DSN is the SQL data source (archive backends) or Redis address.
	DSN      string
	Password string
	DB       int
	TTL      time.Duration
	// KeyPrefix namespaces hot-store keys.
	KeyPrefix string
}

// Option configures a store backend.
type Option func(*Opts)

// WithDSN sets the backend address or data source name.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPassword sets the backend password.
func WithPassword(password string) Option {
	return func(o *Opts) { o.Password = password }
}

// WithDB selects the Redis logical database.
func WithDB(db int) Option {
	return func(o *Opts) { o.DB = db }
}

// WithTTL sets the hot-store record time-to-live.
func WithTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.TTL = ttl }
}

// WithKeyPrefix overrides the hot-store key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(o *Opts) { o.KeyPrefix = prefix }
}

func applyOpts(opts []Option) Opts {
	cfg := Opts{TTL: DefaultTTL, KeyPrefix: "atrevete:conv:"}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

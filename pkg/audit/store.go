package audit

import (
	"context"
	"fmt"
	"time"
)

// Store provides methods for querying and managing audit events
type Store interface {
	// Search returns events matching filter
	Search(ctx context.Context, filter SearchFilter) ([]*Event, error)

	// Get retrieves a specific event by ID
	Get(ctx context.Context, id int64) (*Event, error)

	// Stats summarizes events in [start, end)
	Stats(ctx context.Context, start, end *time.Time) (*Stats, error)

	// Export serializes matching events in the requested format
	Export(ctx context.Context, filter SearchFilter, format ExportFormat) ([]byte, error)

	// Cleanup removes events older than the retention period
	Cleanup(ctx context.Context, policy RetentionPolicy) (int64, error)
}

// RetentionPolicy controls how long events stay in the database
type RetentionPolicy struct {
	MaxAge time.Duration

	// Archive ships expiring events to the archiver before deleting them
	Archive bool
}

// Archiver copies events older than a cutoff to long-term storage
type Archiver interface {
	Archive(ctx context.Context, start *time.Time, end time.Time) (*ArchiveResult, error)
}

// DBStore implements Store over a DBLogger
type DBStore struct {
	logger   *DBLogger
	archiver Archiver
	now      func() time.Time
}

// NewDBStore creates a database-backed audit store. archiver may be nil.
func NewDBStore(logger *DBLogger, archiver Archiver) *DBStore {
	return &DBStore{
		logger:   logger,
		archiver: archiver,
		now:      time.Now,
	}
}

// Search returns events matching filter
func (s *DBStore) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	return s.logger.Search(ctx, filter)
}

// Get retrieves a specific event by ID
func (s *DBStore) Get(ctx context.Context, id int64) (*Event, error) {
	return s.logger.Get(ctx, id)
}

// Stats summarizes events in [start, end)
func (s *DBStore) Stats(ctx context.Context, start, end *time.Time) (*Stats, error) {
	return s.logger.Stats(ctx, start, end)
}

// Export serializes matching events in the requested format
func (s *DBStore) Export(ctx context.Context, filter SearchFilter, format ExportFormat) ([]byte, error) {
	events, err := s.logger.Search(ctx, filter)
	if err != nil {
		return nil, err
	}
	return Encode(events, format)
}

// Cleanup deletes events older than policy.MaxAge. With policy.Archive set the
// events are archived first and nothing is deleted if archiving fails.
func (s *DBStore) Cleanup(ctx context.Context, policy RetentionPolicy) (int64, error) {
	if policy.MaxAge <= 0 {
		return 0, fmt.Errorf("retention max age must be positive")
	}
	cutoff := s.now().Add(-policy.MaxAge)

	if policy.Archive {
		if s.archiver == nil {
			return 0, fmt.Errorf("archiving requested but no archiver is configured")
		}
		if _, err := s.archiver.Archive(ctx, nil, cutoff); err != nil {
			return 0, fmt.Errorf("failed to archive audit events: %w", err)
		}
	}

	return s.logger.DeleteBefore(ctx, cutoff)
}

package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docket/internal/interfaces"
	"github.com/ternarybob/docket/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ActivityStorage implements interfaces.ActivityStorage.
// Entries are appended by JobStorage in the same transaction as the job transition.
type ActivityStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewActivityStorage creates a new ActivityStorage instance
func NewActivityStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ActivityStorage {
	return &ActivityStorage{
		db:     db,
		logger: logger,
	}
}

// Recent returns the newest entries first
func (s *ActivityStorage) Recent(ctx context.Context, limit int) ([]models.ActivityEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	var entries []models.ActivityEntry
	query := badgerhold.Where("Seq").Gt(uint64(0)).SortBy("Seq").Reverse().Limit(limit)
	if err := s.db.Store().Find(&entries, query); err != nil {
		return nil, fmt.Errorf("failed to load activity: %w", err)
	}
	if entries == nil {
		entries = []models.ActivityEntry{}
	}
	return entries, nil
}

// Trim deletes all but the newest keep entries
func (s *ActivityStorage) Trim(ctx context.Context, keep int) (int, error) {
	if keep < 1 {
		return 0, fmt.Errorf("keep must be at least 1, got %d", keep)
	}

	total, err := s.Count(ctx)
	if err != nil {
		return 0, err
	}
	if total <= keep {
		return 0, nil
	}

	var boundary []models.ActivityEntry
	query := badgerhold.Where("Seq").Gt(uint64(0)).SortBy("Seq").Reverse().Skip(keep - 1).Limit(1)
	if err := s.db.Store().Find(&boundary, query); err != nil {
		return 0, fmt.Errorf("failed to find trim boundary: %w", err)
	}
	if len(boundary) == 0 {
		return 0, nil
	}

	cutoff := boundary[0].Seq
	if err := s.db.Store().DeleteMatching(&models.ActivityEntry{}, badgerhold.Where("Seq").Lt(cutoff)); err != nil {
		return 0, fmt.Errorf("failed to trim activity: %w", err)
	}

	removed := total - keep
	s.logger.Debug().Int("removed", removed).Int("kept", keep).Msg("Activity feed trimmed")
	return removed, nil
}

func (s *ActivityStorage) Count(ctx context.Context) (int, error) {
	n, err := s.db.Store().Count(&models.ActivityEntry{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count activity: %w", err)
	}
	return int(n), nil
}

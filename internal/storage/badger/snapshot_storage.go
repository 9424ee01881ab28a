package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docket/internal/common"
	"github.com/ternarybob/docket/internal/interfaces"
	"github.com/ternarybob/docket/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// SnapshotStorage implements interfaces.SnapshotStorage as an append-only log
type SnapshotStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewSnapshotStorage creates a new SnapshotStorage instance
func NewSnapshotStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SnapshotStorage {
	return &SnapshotStorage{
		db:     db,
		logger: logger,
	}
}

// Append writes a new snapshot. Existing snapshots are never overwritten.
func (s *SnapshotStorage) Append(ctx context.Context, snapshot *models.PipelineSnapshot) error {
	if snapshot.ID == "" {
		snapshot.ID = common.NewSnapshotID()
	}
	if snapshot.Date == "" {
		snapshot.Date = snapshot.RecordedAt.UTC().Format("2006-01-02")
	}
	if err := s.db.Store().Insert(snapshot.ID, snapshot); err != nil {
		return fmt.Errorf("failed to append pipeline snapshot: %w", err)
	}
	return nil
}

func (s *SnapshotStorage) Latest(ctx context.Context) (*models.PipelineSnapshot, error) {
	var snapshots []models.PipelineSnapshot
	query := badgerhold.Where("ID").Ne("").SortBy("RecordedAt").Reverse().Limit(1)
	if err := s.db.Store().Find(&snapshots, query); err != nil {
		return nil, fmt.Errorf("failed to load latest snapshot: %w", err)
	}
	if len(snapshots) == 0 {
		return nil, fmt.Errorf("pipeline snapshot: %w", models.ErrNotFound)
	}
	return &snapshots[0], nil
}

// Since returns snapshots recorded on or after date (YYYY-MM-DD), oldest first
func (s *SnapshotStorage) Since(ctx context.Context, date string) ([]models.PipelineSnapshot, error) {
	var snapshots []models.PipelineSnapshot
	query := badgerhold.Where("Date").Ge(date).SortBy("RecordedAt")
	if err := s.db.Store().Find(&snapshots, query); err != nil {
		return nil, fmt.Errorf("failed to load snapshots since %s: %w", date, err)
	}
	if snapshots == nil {
		snapshots = []models.PipelineSnapshot{}
	}
	return snapshots, nil
}

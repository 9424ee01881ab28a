package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docket/internal/interfaces"
	"github.com/ternarybob/docket/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// SettingsStorage implements interfaces.SettingsStorage
type SettingsStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewSettingsStorage creates a new SettingsStorage instance
func NewSettingsStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SettingsStorage {
	return &SettingsStorage{
		db:     db,
		logger: logger,
	}
}

// LoadSettings returns models.ErrNotFound until settings are first saved
func (s *SettingsStorage) LoadSettings(ctx context.Context) (*models.ScraperSettings, error) {
	var record models.SettingsRecord
	if err := s.db.Store().Get(models.SettingsKey, &record); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("scraper settings: %w", models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	settings := record.Settings
	return &settings, nil
}

func (s *SettingsStorage) SaveSettings(ctx context.Context, settings models.ScraperSettings) error {
	record := models.SettingsRecord{Key: models.SettingsKey, Settings: settings}
	if err := s.db.Store().Upsert(models.SettingsKey, &record); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	s.logger.Debug().
		Int("workers", settings.Workers).
		Int("detail_workers", settings.DetailWorkers).
		Int("delay_ms", settings.DelayMs).
		Int("max_retries", settings.MaxRetries).
		Msg("Scraper settings saved")
	return nil
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docket/internal/common"
	"github.com/ternarybob/docket/internal/interfaces"
	"github.com/ternarybob/docket/internal/models"
)

// Settings holds the current scraper settings as an immutable value.
// Readers take a snapshot; updates replace the whole value.
type Settings struct {
	current  atomic.Pointer[models.ScraperSettings]
	storage  interfaces.SettingsStorage
	validate *validator.Validate
	logger   arbor.ILogger
}

// DefaultSettings derives settings from the configuration file values
func DefaultSettings(config *common.Config) models.ScraperSettings {
	return models.ScraperSettings{
		Workers:       config.Scraper.Index.Workers,
		DetailWorkers: config.Scraper.Detail.Workers,
		DelayMs:       int(common.ParseDuration(config.Scraper.Index.Delay, 2*time.Second) / time.Millisecond),
		DetailDelayMs: int(common.ParseDuration(config.Scraper.Detail.Delay, time.Second) / time.Millisecond),
		MaxRetries:    config.Scraper.MaxRetries,
		Headless:      config.Source.Headless,
	}
}

// NewSettings starts from defaults; Load replaces them with persisted settings if any
func NewSettings(defaults models.ScraperSettings, storage interfaces.SettingsStorage, logger arbor.ILogger) *Settings {
	s := &Settings{
		storage:  storage,
		validate: validator.New(),
		logger:   logger,
	}
	s.current.Store(&defaults)
	return s
}

// Load restores persisted settings. Absent or invalid stored settings keep the defaults.
func (s *Settings) Load(ctx context.Context) error {
	stored, err := s.storage.LoadSettings(ctx)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load scraper settings: %w", err)
	}
	if err := s.validate.Struct(stored); err != nil {
		s.logger.Warn().Err(err).Msg("Ignoring invalid persisted scraper settings")
		return nil
	}
	s.current.Store(stored)
	s.logger.Info().
		Int("workers", stored.Workers).
		Int("detail_workers", stored.DetailWorkers).
		Int("delay_ms", stored.DelayMs).
		Int("max_retries", stored.MaxRetries).
		Msg("Scraper settings restored")
	return nil
}

// Get returns the current settings value
func (s *Settings) Get() models.ScraperSettings {
	return *s.current.Load()
}

// Update validates, persists and publishes a new settings value
func (s *Settings) Update(ctx context.Context, next models.ScraperSettings) (models.ScraperSettings, error) {
	if err := s.validate.Struct(next); err != nil {
		return models.ScraperSettings{}, fmt.Errorf("%w: %v", models.ErrInvalidArgument, err)
	}
	next.UpdatedAt = time.Now()

	if err := s.storage.SaveSettings(ctx, next); err != nil {
		return models.ScraperSettings{}, fmt.Errorf("failed to save scraper settings: %w", err)
	}
	s.current.Store(&next)

	s.logger.Info().
		Int("workers", next.Workers).
		Int("detail_workers", next.DetailWorkers).
		Int("delay_ms", next.DelayMs).
		Int("detail_delay_ms", next.DetailDelayMs).
		Int("max_retries", next.MaxRetries).
		Bool("headless", next.Headless).
		Msg("Scraper settings updated")
	return next, nil
}

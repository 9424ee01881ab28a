package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docket/internal/common"
	"github.com/ternarybob/docket/internal/handlers"
	"github.com/ternarybob/docket/internal/interfaces"
	"github.com/ternarybob/docket/internal/models"
	"github.com/ternarybob/docket/internal/services/events"
	"github.com/ternarybob/docket/internal/services/pipeline"
	"github.com/ternarybob/docket/internal/services/scheduler"
	"github.com/ternarybob/docket/internal/services/scraper"
	"github.com/ternarybob/docket/internal/services/source"
	"github.com/ternarybob/docket/internal/storage"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Event-driven services
	EventService interfaces.EventService

	// Scraping
	Source     source.Source
	Pools      []*scraper.Pool
	Funnel     *pipeline.Funnel
	Settings   *scheduler.Settings
	Controller *scheduler.Service

	// HTTP handlers
	APIHandler      *handlers.APIHandler
	ScraperHandler  *handlers.ScraperHandler
	PipelineHandler *handlers.PipelineHandler
	CaseHandler     *handlers.CaseHandler
	WSHandler       *handlers.WebSocketHandler
	MCPHandler      *handlers.MCPHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Initialize database
	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	app.EventService = events.NewService(app.Logger)

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.initHandlers(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	// Open last: it may auto-start the pools, which publish to the handlers subscribed above
	if err := app.Controller.Open(context.Background()); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to open scraper controller: %w", err)
	}

	logger.Info().
		Str("source", cfg.Source.Mode).
		Bool("auto_start", cfg.Scraper.AutoStart).
		Msg("Application initialized")

	return app, nil
}

func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Bool("in_memory", a.Config.Storage.Badger.InMemory).
		Msg("Storage layer initialized")

	return nil
}

func (a *App) initServices() error {
	ctx := context.Background()

	// Settings are loaded early because the persisted headless flag selects the renderer
	a.Settings = scheduler.NewSettings(scheduler.DefaultSettings(a.Config), a.StorageManager.SettingsStorage(), a.Logger)
	if err := a.Settings.Load(ctx); err != nil {
		return err
	}
	a.Config.Source.Headless = a.Settings.Get().Headless

	src, err := source.New(&a.Config.Source, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create case source: %w", err)
	}
	a.Source = src

	classifier := scraper.NewClassifier(a.Config.Scraper.OtherRetryAttempts)
	policy := scraper.NewRetryPolicy(&a.Config.Scraper, classifier)
	fetcher := source.Fetcher(src)
	poll := common.ParseDuration(a.Config.Scraper.PollInterval, time.Second)

	for _, phase := range models.Phases {
		a.Pools = append(a.Pools, scraper.NewPool(
			phase,
			a.StorageManager.JobStorage(),
			fetcher,
			classifier,
			policy,
			a.EventService,
			poll,
			a.Logger,
		))
	}

	a.Funnel = pipeline.NewFunnel(
		src,
		a.StorageManager.SnapshotStorage(),
		a.EventService,
		common.ParseDuration(a.Config.Pipeline.RefreshTimeout, 30*time.Second),
		a.Logger,
	)

	a.Controller, err = scheduler.NewService(a.Config, a.StorageManager, a.Pools, a.Funnel, a.Settings, a.EventService, a.Logger)
	if err != nil {
		return err
	}

	a.Logger.Debug().Int("pools", len(a.Pools)).Msg("Scraper services initialized")
	return nil
}

func (a *App) initHandlers() error {
	a.APIHandler = handlers.NewAPIHandler(a.Controller, a.Logger)
	a.ScraperHandler = handlers.NewScraperHandler(a.Controller, a.Logger)
	a.PipelineHandler = handlers.NewPipelineHandler(a.Controller, a.Logger)
	a.CaseHandler = handlers.NewCaseHandler(a.Controller, a.Logger)

	if a.Config.WebSocket.Enabled {
		wsHandler, err := handlers.NewWebSocketHandler(a.EventService, a.Controller, a.Logger, &a.Config.WebSocket)
		if err != nil {
			return fmt.Errorf("failed to create websocket handler: %w", err)
		}
		a.WSHandler = wsHandler
	}

	if a.Config.MCP.Enabled {
		a.MCPHandler = handlers.NewMCPHandler(a.Controller, a.Logger)
	}

	a.Logger.Debug().
		Bool("websocket", a.WSHandler != nil).
		Bool("mcp", a.MCPHandler != nil).
		Msg("HTTP handlers initialized")
	return nil
}

// Close drains the worker pools and releases storage. Jobs still running when the
// drain budget expires are returned to pending on the next start.
func (a *App) Close() error {
	var errs []error

	ctx, cancel := context.WithTimeout(context.Background(), common.ParseDuration(a.Config.Scraper.ShutdownTimeout, 30*time.Second)+5*time.Second)
	defer cancel()

	if a.Controller != nil {
		if err := a.Controller.Close(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Worker pools did not drain cleanly")
			errs = append(errs, err)
		}
	}

	if a.WSHandler != nil {
		a.WSHandler.Close()
	}

	if a.Source != nil {
		if err := a.Source.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close case source")
		}
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close storage: %w", err))
		} else {
			a.Logger.Info().Msg("Storage closed")
		}
	}

	return errors.Join(errs...)
}

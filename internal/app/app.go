package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/common"
	"github.com/ternarybob/folio/internal/handlers"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
	"github.com/ternarybob/folio/internal/queue"
	"github.com/ternarybob/folio/internal/services/etf"
	"github.com/ternarybob/folio/internal/services/events"
	"github.com/ternarybob/folio/internal/services/processing"
	"github.com/ternarybob/folio/internal/services/upload"
	badgerstore "github.com/ternarybob/folio/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config    *common.Config
	Logger    arbor.ILogger
	ctx       context.Context
	cancelCtx context.CancelFunc

	StorageManager interfaces.StorageManager

	// Event plumbing
	EventService *events.Service
	EventLogger  *events.Logger

	// Domain services
	UploadService  *upload.Service
	SheetProcessor *processing.SheetProcessor
	ETFService     *etf.Service

	// Job queue
	Scheduler *queue.Scheduler
	Recovery  *queue.RecoveryService
	cron      *cron.Cron

	// HTTP handlers
	JobHandler  *handlers.JobHandler
	FileHandler *handlers.FileHandler
	APIHandler  *handlers.APIHandler
	WSHandler   *handlers.WebSocketHandler
}

// New wires the full application from configuration. Nothing starts running
// until Start is called.
func New(parent context.Context, config *common.Config, logger arbor.ILogger) (*App, error) {
	ctx, cancel := context.WithCancel(parent)

	a := &App{
		Config:    config,
		Logger:    logger,
		ctx:       ctx,
		cancelCtx: cancel,
	}

	storageManager, err := badgerstore.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.StorageManager = storageManager

	a.EventService = events.NewService(logger)
	a.EventLogger = events.NewLogger(storageManager.EventStorage(), a.EventService, logger)

	a.UploadService, err = upload.NewService(&config.Storage.Filesystem, storageManager.UploadStorage(), a.EventLogger, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize upload service: %w", err)
	}

	a.SheetProcessor, err = processing.NewSheetProcessor(&config.LLM, storageManager.UploadStorage(), storageManager.PortfolioStorage(), a.EventLogger, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize sheet processor: %w", err)
	}

	a.ETFService = etf.NewService(&config.ETF, storageManager.ETFStorage(), logger)

	webhookTimeout, err := config.WebhookTimeout()
	if err != nil {
		a.Close()
		return nil, err
	}
	notifier := queue.NewNotifier(webhookTimeout, a.EventLogger, logger)

	a.Scheduler, err = queue.NewScheduler(config, storageManager.JobStorage(), a.EventLogger, notifier, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	excelRoutine := queue.NewExcelRoutine(storageManager.JobStorage(), storageManager.UploadStorage(), a.UploadService, a.SheetProcessor, a.EventLogger, logger)
	a.Scheduler.Register(models.JobTypeExcelProcessing, excelRoutine.Process)

	etfRoutine := queue.NewETFRoutine(storageManager.JobStorage(), a.ETFService, logger)
	a.Scheduler.Register(models.JobTypeETFHoldingsFetch, etfRoutine.Process)

	recoveryAction, err := queue.ParseRecoveryAction(config.Recovery.Action)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Recovery = queue.NewRecoveryService(storageManager.JobStorage(), a.EventLogger, recoveryAction, logger)

	a.JobHandler = handlers.NewJobHandler(a.Scheduler, a.Recovery, storageManager.JobStorage(), a.UploadService, logger)
	a.FileHandler = handlers.NewFileHandler(storageManager.UploadStorage(), logger)
	a.APIHandler = handlers.NewAPIHandler()
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, logger)

	return a, nil
}

// Start recovers jobs interrupted by the previous run, starts the scheduler
// loop, and schedules the periodic stuck-job sweep.
func (a *App) Start() error {
	recovered, err := a.Recovery.RecoverStuckJobs(a.ctx)
	if err != nil {
		return fmt.Errorf("startup recovery failed: %w", err)
	}
	if recovered > 0 {
		a.Logger.Info().Int("count", recovered).Msg("Recovered jobs from previous run")
	}

	go a.Scheduler.Start(a.ctx)

	if a.Config.Recovery.Enabled {
		a.cron = cron.New()
		_, err := a.cron.AddFunc(a.Config.Recovery.Schedule, func() {
			if _, err := a.Recovery.RecoverStuckJobs(a.ctx); err != nil {
				a.Logger.Error().Err(err).Msg("Periodic stuck-job sweep failed")
			}
		})
		if err != nil {
			return fmt.Errorf("invalid recovery schedule %q: %w", a.Config.Recovery.Schedule, err)
		}
		a.cron.Start()
		a.Logger.Info().Str("schedule", a.Config.Recovery.Schedule).Msg("Stuck-job sweep scheduled")
	}

	return nil
}

// Close stops background work and releases resources.
func (a *App) Close() error {
	a.cancelCtx()

	if a.cron != nil {
		cronCtx := a.cron.Stop()
		select {
		case <-cronCtx.Done():
		case <-time.After(5 * time.Second):
			a.Logger.Warn().Msg("Timed out waiting for cron jobs to stop")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
	}

	return nil
}

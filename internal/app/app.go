package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/casestrainer/internal/common"
	"github.com/ternarybob/casestrainer/internal/courtlistener"
	"github.com/ternarybob/casestrainer/internal/handlers"
	"github.com/ternarybob/casestrainer/internal/interfaces"
	"github.com/ternarybob/casestrainer/internal/models"
	"github.com/ternarybob/casestrainer/internal/queue"
	"github.com/ternarybob/casestrainer/internal/services/analysis"
	"github.com/ternarybob/casestrainer/internal/services/casename"
	"github.com/ternarybob/casestrainer/internal/services/cluster"
	"github.com/ternarybob/casestrainer/internal/services/events"
	"github.com/ternarybob/casestrainer/internal/services/extract"
	"github.com/ternarybob/casestrainer/internal/services/isolate"
	"github.com/ternarybob/casestrainer/internal/services/loader"
	"github.com/ternarybob/casestrainer/internal/services/report"
	"github.com/ternarybob/casestrainer/internal/services/scheduler"
	"github.com/ternarybob/casestrainer/internal/services/verify"
	"github.com/ternarybob/casestrainer/internal/storage"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Event bus
	EventService interfaces.EventService

	// Pipeline services
	LoaderService    *loader.Service
	AnalysisService  *analysis.Service
	ReportService    *report.Service
	SchedulerService *scheduler.Service

	// Job execution
	QueueManager interfaces.QueueManager
	Processor    *queue.Processor

	// HTTP handlers
	AnalyzeHandler *handlers.AnalyzeHandler
	JobHandler     *handlers.JobHandler
	CacheHandler   *handlers.CacheHandler
	APIHandler     *handlers.APIHandler
	WSHandler      *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	app.EventService = events.NewService(app.Logger)

	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.initHandlers(); err != nil {
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	// Workers start after handlers so every subscriber sees the first events
	if err := app.Processor.Start(); err != nil {
		return nil, fmt.Errorf("failed to start queue processor: %w", err)
	}
	app.Logger.Debug().Msg("Queue processor started")

	if err := app.SchedulerService.Start(); err != nil {
		app.Logger.Warn().Err(err).Msg("Failed to start scheduler service")
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Int("queue_concurrency", cfg.Queue.Concurrency).
		Msg("Application initialization complete")

	return app, nil
}

// initStorage initializes the storage layer (Badger)
func (a *App) initStorage() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	// Seed default KV values (only keys that do not exist yet) and apply
	// {key-name} replacement so config can reference stored values.
	ctx := context.Background()
	kv := a.StorageManager.KVStorage()
	for _, def := range common.GetDefaultKVValues() {
		if _, err := kv.Get(ctx, def.Key); errors.Is(err, interfaces.ErrKeyNotFound) {
			if err := kv.Set(ctx, def.Key, def.Value, def.Description); err != nil {
				a.Logger.Warn().Str("key", def.Key).Err(err).Msg("Failed to seed default KV value")
			}
		}
	}

	kvMap, err := kv.GetAll(ctx)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to fetch KV map for config replacement, skipping replacement")
	} else if len(kvMap) > 0 {
		if err := common.ReplaceInStruct(a.Config, kvMap, a.Logger); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to replace key references in config")
		}
	}

	return nil
}

// initServices initializes business services in dependency order: queue,
// document loader, the pipeline stages, then the analysis orchestrator
// that binds them together.
func (a *App) initServices() error {
	db, ok := a.StorageManager.DB().(*badgerdb.DB)
	if !ok {
		return fmt.Errorf("storage manager is not backed by BadgerDB (got %T)", a.StorageManager.DB())
	}

	queueMgr, err := queue.NewBadgerQueue(
		db,
		a.Config.Queue.QueueName,
		parseDuration(a.Config.Queue.VisibilityTimeout, 10*time.Minute),
		a.Config.Queue.MaxReceive,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize queue: %w", err)
	}
	a.QueueManager = queueMgr
	a.Logger.Debug().Str("queue_name", a.Config.Queue.QueueName).Msg("Queue manager initialized")

	a.LoaderService = loader.NewService(a.Config.Loader, a.Logger)

	extractor, err := extract.NewService(a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize extractor: %w", err)
	}
	isolator := isolate.NewService()
	namer := casename.NewService()
	clusterer := cluster.NewService()

	apiKey, err := common.ResolveAPIKey(context.Background(), a.StorageManager.KVStorage(),
		"database_api_key", a.Config.Database.APIKey)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("No citation database API key configured, lookups run unauthenticated")
		apiKey = ""
	}

	clClient := courtlistener.NewClient(
		apiKey,
		courtlistener.WithBaseURL(a.Config.Database.BaseURL),
		courtlistener.WithTimeout(parseDuration(a.Config.Database.RequestTimeout, 30*time.Second)),
		courtlistener.WithLogger(a.Logger),
	)
	verifier := verify.NewService(a.Config, clClient, a.StorageManager.CacheStorage(), a.Logger)

	a.AnalysisService = analysis.NewService(
		a.Config,
		extractor,
		isolator,
		namer,
		clusterer,
		verifier,
		a.StorageManager,
		a.EventService,
		a.Logger,
	)

	a.ReportService = report.NewService(a.Logger)

	a.SchedulerService, err = scheduler.NewService(a.Config, a.StorageManager, a.EventService, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize scheduler service: %w", err)
	}

	a.Processor = queue.NewProcessor(
		queueMgr,
		a.Logger,
		a.Config.Queue.Concurrency,
		a.AnalysisService.HandleDeadMessage,
	)
	a.Processor.RegisterHandler(models.MessageTypeAnalyze, a.AnalysisService.HandleAnalyzeMessage)

	return nil
}

// initHandlers initializes all HTTP handlers
func (a *App) initHandlers() error {
	a.APIHandler = handlers.NewAPIHandler(a.StorageManager, a.QueueManager, a.Logger)
	a.AnalyzeHandler = handlers.NewAnalyzeHandler(
		a.Config,
		a.LoaderService,
		a.AnalysisService,
		a.StorageManager,
		a.QueueManager,
		a.EventService,
		a.Logger,
	)
	a.JobHandler = handlers.NewJobHandler(a.StorageManager, a.EventService, a.ReportService, a.Logger)
	a.CacheHandler = handlers.NewCacheHandler(a.StorageManager, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.Config, a.EventService, a.Logger)

	a.Logger.Debug().
		Int("allowed_events", len(a.Config.WebSocket.AllowedEvents)).
		Int("throttle_intervals", len(a.Config.WebSocket.ThrottleIntervals)).
		Msg("Handlers initialized")

	return nil
}

// Close closes all application resources in reverse dependency order.
func (a *App) Close() error {
	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	if a.Processor != nil {
		if err := a.Processor.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop queue processor")
		} else {
			a.Logger.Info().Msg("Queue processor stopped")
		}
	}

	if a.WSHandler != nil {
		a.WSHandler.Close()
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.QueueManager != nil {
		if err := a.QueueManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close queue manager")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/okanya/scriptbox/internal/approval"
	"github.com/okanya/scriptbox/internal/config"
	"github.com/okanya/scriptbox/internal/domain"
	"github.com/okanya/scriptbox/internal/engine"
	"github.com/okanya/scriptbox/internal/notification"
	"github.com/okanya/scriptbox/internal/observability"
	"github.com/okanya/scriptbox/internal/preflight"
	"github.com/okanya/scriptbox/internal/ratelimit"
	"github.com/okanya/scriptbox/internal/registry"
	"github.com/okanya/scriptbox/internal/storage"
	pgstore "github.com/okanya/scriptbox/internal/storage/postgres"
	sqlitestore "github.com/okanya/scriptbox/internal/storage/sqlite"
	"github.com/okanya/scriptbox/internal/workspace"
)

// SharedComponents holds all initialized subsystems that the serve, run, and
// request commands require. Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config    *config.Config
	Logger    *slog.Logger
	Workspace *workspace.Workspace
	Store     storage.Store // Unified store (SQLite or PostgreSQL).

	Obs        *observability.Observability
	Registry   *registry.Registry
	Requests   approval.RequestStore
	Approvals  *approval.Manager
	Engine     *engine.Engine
	Prober     preflight.Prober
	Dispatcher *notification.Dispatcher // nil = notifications disabled.

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// initShared performs all common initialization shared between the serve and
// execution commands. Callers must call sc.Cleanup() when done.
func initShared(cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Workspace.
	ws, err := initWorkspace(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing workspace: %w", err)
	}
	sc.Workspace = ws
	logger.Debug("workspace initialized", slog.String("root", ws.Root))

	// Ensure data directory exists.
	dataDir := cfg.ResolvedDataDir()
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}
	logger.Debug("data directory initialized", slog.String("path", dataDir))

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	})
	if obs != nil {
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
			slog.Bool("anomaly", obs.Anomaly != nil),
		)
	}

	// Storage.
	store, err := initStore(cfg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	sc.Store = store
	sc.addCleanup(func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	})

	// Run migrations.
	if err := store.Migrate(context.Background()); err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	logger.Debug("storage initialized", slog.String("driver", store.Driver()))

	// Instance registry, seeded from config on top of the persistent store.
	reg := registry.New(store.Instances(), logger)
	if err := reg.Seed(seedInstances(cfg)); err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("seeding instance registry: %w", err)
	}
	sc.Registry = reg
	logger.Debug("instance registry initialized", slog.Int("seeded", len(cfg.Instances)))

	// Request store, instrumented when metrics are on.
	requests := store.Requests()
	if obs != nil && obs.Metrics != nil {
		requests = observability.NewInstrumentedRequestStore(requests, obs.Metrics, obs.TracerOrNil())
	}
	sc.Requests = requests

	// Approval manager.
	sc.Approvals = approval.NewManager(requests, cfg.Approvals.TTL(), logger)
	if cfg.Approvals.SubmitsPerMinute > 0 {
		sc.Approvals = sc.Approvals.WithRateLimit(ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.Approvals.SubmitsPerMinute,
			BurstSize:         cfg.Approvals.SubmitBurst,
		}))
	}
	logger.Debug("approval manager initialized", slog.String("ttl", cfg.Approvals.TTL().String()))

	// Execution engine.
	sc.Engine = buildEngine(cfg, ws, reg, obs, logger)

	// Preflight prober.
	var prober preflight.Prober = preflight.NewChecker(cfg.Preflight.ProbeTimeout(), logger)
	if obs != nil && obs.Metrics != nil {
		prober = observability.NewInstrumentedProber(prober, obs.Metrics, obs.TracerOrNil(), obs.Anomaly)
	}
	sc.Prober = prober

	// Notification dispatcher.
	sc.Dispatcher = buildDispatcher(cfg, obs, logger)

	return sc, nil
}

// initWorkspace creates and returns the workspace, resolving the root from config or defaults.
func initWorkspace(cfg *config.Config) (*workspace.Workspace, error) {
	root := cfg.Workspace
	if root == "" {
		return workspace.Default()
	}
	return workspace.New(root)
}

// initStore creates the appropriate storage backend from config.
func initStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	driver := cfg.StorageDriverName()

	switch driver {
	case storage.DriverPostgres:
		return initPostgresStore(cfg, logger)
	case storage.DriverSQLite:
		return initSQLiteStore(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}

func initSQLiteStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	dbPath := cfg.DatabasePath()
	journalMode := "wal"

	if cfg.Storage != nil && cfg.Storage.SQLite != nil {
		if cfg.Storage.SQLite.Path != "" {
			dbPath = cfg.Storage.SQLite.Path
		}
		if cfg.Storage.SQLite.JournalMode != "" {
			journalMode = cfg.Storage.SQLite.JournalMode
		}
	}

	return sqlitestore.Open(sqlitestore.Config{
		Path:        dbPath,
		JournalMode: journalMode,
	}, logger)
}

func initPostgresStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	var dsn string
	if cfg.Storage != nil && cfg.Storage.Postgres != nil {
		dsn = cfg.Storage.Postgres.DSN
	}

	if envDSN := os.Getenv("SCRIPTBOX_DB_DSN"); envDSN != "" {
		dsn = envDSN
	}
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required (set storage.postgres.dsn or SCRIPTBOX_DB_DSN)")
	}

	pgCfg := pgstore.Config{DSN: dsn}
	if cfg.Storage != nil && cfg.Storage.Postgres != nil {
		pgCfg.MaxOpenConns = cfg.Storage.Postgres.MaxOpenConns
		pgCfg.MaxIdleConns = cfg.Storage.Postgres.MaxIdleConns
		pgCfg.ConnMaxLifetime = time.Duration(cfg.Storage.Postgres.ConnMaxLifetimeS) * time.Second
	}

	pgDB, err := pgstore.Open(pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}

	return pgstore.NewStore(pgDB), nil
}

// seedInstances converts configured instances to domain records for seeding.
// Only the credentials env prefix crosses over; no credential material does.
func seedInstances(cfg *config.Config) []domain.Instance {
	insts := make([]domain.Instance, 0, len(cfg.Instances))
	for _, ic := range cfg.Instances {
		insts = append(insts, domain.Instance{
			Name:                 ic.Name,
			Kind:                 domain.DatabaseKind(ic.Kind),
			Host:                 ic.Host,
			Port:                 ic.Port,
			User:                 ic.User,
			URI:                  ic.URI,
			CredentialsEnvPrefix: ic.CredentialsEnvPrefix,
			Enabled:              !ic.Disabled,
		})
	}
	return insts
}

// resolvedWorkerDirs returns the worker source and production bundle roots,
// falling back to workspace defaults when not set in config.
func resolvedWorkerDirs(cfg *config.Config, ws *workspace.Workspace) (workersDir, productionDir string) {
	workersDir = cfg.Workers.Dir
	if workersDir == "" {
		workersDir = ws.WorkersDir()
	}
	productionDir = cfg.Workers.ProductionDir
	if productionDir == "" {
		productionDir = ws.ProductionDir()
	}
	return workersDir, productionDir
}

// buildEngine wires the execution engine with workspace-derived paths and
// optional metrics and tracing.
func buildEngine(cfg *config.Config, ws *workspace.Workspace, reg *registry.Registry, obs *observability.Observability, logger *slog.Logger) *engine.Engine {
	workersDir, productionDir := resolvedWorkerDirs(cfg, ws)

	opts := engine.Options{
		Timeout:        cfg.Engine.Timeout(),
		MemoryLimitMB:  cfg.Engine.MemoryLimit(),
		MaxScriptBytes: cfg.Engine.MaxScript(),
		KillGrace:      cfg.Engine.KillGrace(),
		TempRoot:       ws.ScratchDir(),
		WorkersDir:     workersDir,
		ProductionDir:  productionDir,
		Mode:           engine.RuntimeMode(cfg.Engine.ExecMode()),
		NodeBin:        cfg.Workers.NodeBin,
		PythonBin:      cfg.Workers.PythonBin,
	}

	var engMetrics *engine.Metrics
	if obs != nil && obs.Metrics != nil {
		engMetrics = engine.NewMetrics(obs.Metrics.Registry)
	}

	eng := engine.New(reg, opts, engMetrics, logger)
	if ts := obs.TracerOrNil(); ts != nil {
		eng.WithTracer(ts.Tracer())
	}
	return eng
}

// buildDispatcher assembles the notification dispatcher from config.
// Returns nil when notifications are disabled.
func buildDispatcher(cfg *config.Config, obs *observability.Observability, logger *slog.Logger) *notification.Dispatcher {
	nc := cfg.Notifications
	if nc == nil || !nc.Enabled {
		return nil
	}

	dispatcher := notification.NewDispatcher(logger)
	register := func(s notification.Sender) {
		if obs != nil && obs.Metrics != nil {
			s = observability.NewInstrumentedSender(s, obs.Metrics, obs.TracerOrNil())
		}
		dispatcher.RegisterSender(s)
	}

	if nc.Slack != nil && nc.Slack.BotToken != "" {
		register(notification.NewSlackSender(nc.Slack.BotToken, nc.Slack.Channel, logger))
	}
	if nc.Webhook != nil && nc.Webhook.URL != "" {
		register(notification.NewWebhookSender(nc.Webhook, logger))
	}

	logger.Debug("notification dispatcher initialized")
	return dispatcher
}

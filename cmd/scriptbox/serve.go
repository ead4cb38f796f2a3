package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goutils "github.com/jkaninda/go-utils"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/okanya/scriptbox/internal/alerting"
	"github.com/okanya/scriptbox/internal/config"
	"github.com/okanya/scriptbox/internal/domain"
	"github.com/okanya/scriptbox/internal/engine"
	"github.com/okanya/scriptbox/internal/observability"
	"github.com/okanya/scriptbox/internal/retention"
)

var (
	serveConfigPath string
	serveListenAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the approval daemon (expiry sweeps, retention, metrics and health endpoints)",
	RunE:  runServe,
}

func init() {
	// `scriptbox --config path` and `scriptbox serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&serveListenAddr, "listen", "", "override HTTP listen address (e.g. :9090)")
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(goutils.Env("SCRIPTBOX_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}
	if serveListenAddr != "" {
		if cfg.Server == nil {
			cfg.Server = &config.ServerConfig{}
		}
		cfg.Server.ListenAddr = serveListenAddr
	}

	logger.Info("starting in serve mode", slog.String("config", serveConfigPath))

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Scratch dirs left behind by an interrupted process are dead weight.
	if err := sc.Workspace.CleanScratch(); err != nil {
		logger.Warn("cleaning scratch directory", slog.String("error", err.Error()))
	}

	// Expiry sweep for pending requests.
	stopCleanup := sc.Approvals.StartCleanup(ctx, cfg.Approvals.CleanupInterval())
	defer stopCleanup()

	// Retention sweeper for resolved requests and orphaned scratch dirs.
	if cfg.Retention != nil && cfg.Retention.Enabled {
		sweeper := retention.New(sc.Requests, engine.NewCleaner(logger), sc.Workspace.ScratchDir(), cfg.Retention, logger)
		stopRetention := sweeper.Start(ctx)
		defer stopRetention()
	}

	// Reachability watcher: periodic instance probes with unreachable alerts.
	if cfg.Alerting != nil && cfg.Alerting.Enabled {
		if sc.Dispatcher == nil {
			logger.Warn("alerting enabled but no notification channel is configured, watcher not started")
		} else {
			var alertMetrics *alerting.Metrics
			if sc.Obs.Metrics != nil {
				alertMetrics = alerting.NewMetrics(sc.Obs.Metrics.Registry)
			}
			watcher := alerting.NewWatcher(sc.Registry, sc.Prober, sc.Dispatcher, cfg.Alerting, alertMetrics, logger)
			stopWatcher := watcher.Start(ctx)
			defer stopWatcher()
		}
	}

	registerHealthChecks(cfg, sc)

	srv := buildHTTPServer(ctx, cfg, sc)

	errs := make(chan error, 1)
	go func() {
		logger.Info("http listener starting", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
			return
		}
		errs <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			return fmt.Errorf("http listener: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", slog.String("error", err.Error()))
	}

	logger.Info("serve mode stopped")
	return nil
}

// registerHealthChecks adds dependency checks for the readiness probe.
func registerHealthChecks(cfg *config.Config, sc *SharedComponents) {
	if sc.Obs == nil || sc.Obs.Health == nil {
		return
	}

	includeStorage, includeWorkers := true, true
	if cfg.Observability != nil && cfg.Observability.Health != nil {
		includeStorage = cfg.Observability.Health.IncludeStorage
		includeWorkers = cfg.Observability.Health.IncludeWorkers
	}

	if includeStorage {
		sc.Obs.Health.AddCheck("storage", sc.Store.Ping)
	}
	if includeWorkers {
		workersDir, productionDir := resolvedWorkerDirs(cfg, sc.Workspace)
		resolver := engine.NewWorkerResolver(workersDir, productionDir,
			engine.RuntimeMode(cfg.Engine.ExecMode()), cfg.Workers.NodeBin, cfg.Workers.PythonBin)
		sc.Obs.Health.AddCheck("workers", func(_ context.Context) error {
			for _, lang := range []domain.Language{domain.LanguageJavaScript, domain.LanguagePython} {
				if _, err := resolver.Resolve(lang, 0); err != nil {
					return fmt.Errorf("%s: %w", lang, err)
				}
			}
			return nil
		})
	}
}

// buildHTTPServer assembles the serve-mode listener: metrics exposition plus
// liveness and readiness endpoints.
func buildHTTPServer(ctx context.Context, cfg *config.Config, sc *SharedComponents) *http.Server {
	mux := http.NewServeMux()

	if sc.Obs != nil && sc.Obs.Metrics != nil {
		mux.Handle(cfg.Observability.Metrics.MetricsPath(),
			promhttp.HandlerFor(sc.Obs.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	var health *observability.HealthChecker
	if sc.Obs != nil {
		health = sc.Obs.Health
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if health == nil {
			writeJSON(w, http.StatusOK, observability.HealthStatus{Status: "ok"})
			return
		}
		writeJSON(w, http.StatusOK, health.CheckHealth())
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if health == nil {
			writeJSON(w, http.StatusOK, observability.HealthStatus{Status: "ok"})
			return
		}
		status := health.CheckReady(r.Context())
		code := http.StatusOK
		if status.Status != "ok" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	})

	var handler http.Handler = mux
	if sc.Obs != nil && sc.Obs.Metrics != nil {
		var tracer trace.Tracer
		if ts := sc.Obs.TracerOrNil(); ts != nil {
			tracer = ts.Tracer()
		}
		handler = observability.HTTPMetricsMiddleware(sc.Obs.Metrics, tracer, mux)
	}

	return &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

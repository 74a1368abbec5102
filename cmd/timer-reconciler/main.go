package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/miradorstack/mirador-timers/internal/api"
	"github.com/miradorstack/mirador-timers/internal/cache"
	"github.com/miradorstack/mirador-timers/internal/config"
	"github.com/miradorstack/mirador-timers/internal/engine"
	"github.com/miradorstack/mirador-timers/internal/metrics"
	"github.com/miradorstack/mirador-timers/internal/repo"
	"github.com/miradorstack/mirador-timers/internal/services"
	"github.com/miradorstack/mirador-timers/internal/utils"
)

func main() {
	var (
		configPath string
		once       bool
		dryRun     bool
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&once, "once", false, "Run one pass over the scheduler targets and exit")
	flag.BoolVar(&dryRun, "dry-run", false, "Compute plans without dispatching them")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting mirador-timers", slog.String("address", cfg.Server.Address), slog.Bool("once", once))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cacheProvider cache.Provider = cache.NewMemoryProvider()
	if cfg.Cache.Enabled {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable, using in-process cache", slog.Any("error", err))
		} else {
			cacheProvider = provider
		}
	}
	defer cacheProvider.Close()

	telemetry := repo.NewTelemetryClient(repo.TelemetryClientConfig{
		BaseURL:     cfg.Clients.Telemetry.BaseURL,
		APIKey:      cfg.Clients.Telemetry.APIKey,
		ServicePath: cfg.Clients.Telemetry.ServicePath,
		Timeout:     cfg.Clients.Telemetry.Timeout,
		ViewTTL:     cfg.Cache.ViewTTL,
		RulesTTL:    cfg.Cache.RulesTTL,
	}, cacheProvider, logger)

	gates, err := engine.NewGateEngine(cfg.Rules.Path, logger)
	if err != nil {
		logger.Error("failed to load quality gates", slog.Any("error", err))
		os.Exit(1)
	}

	var (
		recorders []engine.ReportRecorder
		history   services.CycleHistory
	)
	if !strings.EqualFold(cfg.History.Driver, "none") {
		store, err := repo.NewHistoryStore(ctx, cfg.History.Driver, cfg.History.DSN)
		if err != nil {
			logger.Error("failed to open history store", slog.Any("error", err))
			os.Exit(1)
		}
		defer store.Close()
		recorders = append(recorders, store)
		history = store
	}
	if cfg.Archive.Enabled {
		archive, err := repo.NewReportArchive(ctx, repo.ArchiveConfig{
			Bucket:          cfg.Archive.Bucket,
			Region:          cfg.Archive.Region,
			Endpoint:        cfg.Archive.Endpoint,
			PathStyle:       cfg.Archive.PathStyle,
			Prefix:          cfg.Archive.Prefix,
			AccessKeyID:     os.Getenv("MIRADOR_TIMERS_ARCHIVE_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("MIRADOR_TIMERS_ARCHIVE_SECRET_ACCESS_KEY"),
		})
		if err != nil {
			logger.Warn("report archive unavailable", slog.Any("error", err))
		} else {
			recorders = append(recorders, archive)
		}
	}

	classifier := engine.NewThresholdClassifier(cfg.Policy, cfg.Labels)
	reconciler := engine.NewReconciler(classifier, cfg.Policy, logger)
	pipeline := engine.NewPipeline(logger, telemetry, telemetry, reconciler, engine.PipelineOptions{
		TimersView: cfg.TimersView,
		Lease:      cacheProvider,
		LeaseTTL:   cfg.Cache.LeaseTTL,
		Gates:      gates,
		Recorders:  recorders,
	})

	scheduler := services.NewScheduler(logger, pipeline, cfg.Scheduler, dryRun)
	if once {
		if err := scheduler.RunOnce(ctx); err != nil {
			logger.Error("reconciliation pass failed", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("reconciliation pass complete")
		return
	}

	timerService := services.NewTimerService(logger, pipeline, history)
	server, err := api.NewServer(cfg.Server, timerService)
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		os.Exit(1)
	}

	var adminServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		router := mux.NewRouter()
		router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
		router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		}).Methods(http.MethodGet)
		adminServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      router,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("admin server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("admin server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	if cfg.Scheduler.Enabled {
		go func() {
			if err := scheduler.Run(ctx); err != nil {
				logger.Error("scheduler exited", slog.Any("error", err))
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if adminServer != nil {
		adminCtx, cancelAdmin := context.WithTimeout(context.Background(), 5*time.Second)
		if err := adminServer.Shutdown(adminCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("admin server shutdown", slog.Any("error", err))
		}
		cancelAdmin()
	}

	logger.Info("mirador-timers stopped")
}

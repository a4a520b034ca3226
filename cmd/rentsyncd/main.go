package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rentsync/internal/api"
	"rentsync/internal/config"
	"rentsync/internal/conflict"
	"rentsync/internal/database"
	"rentsync/internal/domain"
	"rentsync/internal/events"
	"rentsync/internal/handlers"
	"rentsync/internal/logging"
	"rentsync/internal/metrics"
	"rentsync/internal/queue"
	"rentsync/internal/reachability"
	"rentsync/internal/remote"
	"rentsync/internal/repository"
	"rentsync/internal/status"
	"rentsync/internal/syncengine"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logs, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer (func() { _ = logs.Close() })()
	logger := logs.For("rentsyncd")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv, cleanup, err := initStorage(ctx, cfg, logs)
	if err != nil {
		return err
	}
	defer cleanup()

	store := queue.NewStore(kv, cfg.Sync.DeadLetterLimit, logs.For("queue"))
	store.Load(ctx)

	monitor, manual := initReachability(ctx, cfg, logs)
	bus := events.NewEventBus()
	logEvents(bus, logs.For("events"))

	client := remote.NewClient(cfg.Remote)
	notifier := status.NewNotifier(logs.For("status"))

	engine, err := syncengine.New(syncengine.Deps{
		Store:    store,
		Handlers: handlers.NewDefaultRegistry(client),
		Resolver: conflict.ClientWins{},
		Monitor:  monitor,
		Notifier: notifier,
		Events:   bus,
		Logger:   logs.For("syncengine"),
	}, cfg.Sync)
	if err != nil {
		return fmt.Errorf("create sync engine: %w", err)
	}

	startMetrics(ctx, cfg, logger)

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start sync engine: %w", err)
	}
	defer engine.Close()

	var connectivity api.ConnectivitySetter
	if manual != nil {
		connectivity = manual
	}
	httpServer := api.NewHTTPServer(cfg.API, engine, connectivity, logs.For("api"))

	return serve(ctx, httpServer, cfg, logger)
}

func loadConfigAndLogger() (*config.Config, *logging.Set, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	logs, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logs, nil
}

// initStorage opens the backend selected by storage.driver. With redis, a
// local SQLite file (or memory when no path is set) absorbs writes while
// Redis is unreachable.
func initStorage(ctx context.Context, cfg *config.Config, logs *logging.Set) (domain.KVStore, func(), error) {
	logger := logs.For("storage")
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		logger.Warn().Msg("memory storage selected, queued operations will not survive a restart")
		return repository.NewMemoryKVStore(), func() {}, nil

	case config.StorageRedis:
		client := repository.NewRedisClient(cfg.Redis)
		if err := repository.Ping(ctx, client); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Redis.Address).Msg("redis unreachable at startup, using fallback store")
		} else {
			logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
		}

		fallback, closeFallback, err := redisFallback(ctx, cfg, logs)
		if err != nil {
			_ = repository.Close(client)
			return nil, nil, err
		}
		store := repository.NewFailoverKVStore(
			repository.NewRedisKVStore(client),
			fallback,
			logger,
		)
		return store, func() {
			closeFallback()
			_ = repository.Close(client)
		}, nil

	default:
		db, err := openSQLite(ctx, cfg, logs)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { _ = db.Close() }, nil
	}
}

func redisFallback(ctx context.Context, cfg *config.Config, logs *logging.Set) (domain.KVStore, func(), error) {
	if cfg.Storage.SQLitePath == "" {
		return repository.NewMemoryKVStore(), func() {}, nil
	}
	db, err := openSQLite(ctx, cfg, logs)
	if err != nil {
		return nil, nil, err
	}
	return db, func() { _ = db.Close() }, nil
}

func openSQLite(ctx context.Context, cfg *config.Config, logs *logging.Set) (*database.DB, error) {
	logger := logs.For("database")
	db, err := database.NewDB(cfg.Storage.SQLitePath, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Storage.SQLitePath).Msg("init database")
		return nil, err
	}

	if cfg.Storage.Backup.Enabled {
		backup := database.NewBackupService(db, cfg.Storage.Backup, logs.For("backup"))
		go backup.Start(ctx)
	}
	return db, nil
}

// initReachability returns the monitor and, in manual mode, the same monitor
// as a settable switch for the control API.
func initReachability(ctx context.Context, cfg *config.Config, logs *logging.Set) (domain.ReachabilityMonitor, *reachability.Manual) {
	monitorLogger := logs.For("reachability")
	if cfg.Reachability.Mode == config.ReachabilityProbe {
		prober := reachability.NewProber(cfg.Reachability, monitorLogger)
		prober.Start(ctx)
		return prober, nil
	}
	manual := reachability.NewManual(cfg.Reachability.InitialOnline, monitorLogger)
	return manual, manual
}

func logEvents(bus *events.EventBus, logger *zerolog.Logger) {
	for _, eventType := range []string{
		events.EventOperationDropped,
		events.EventConflictDetected,
	} {
		bus.Subscribe(eventType, func(e *events.Event) error {
			logger.Info().Str("event", e.Type).RawJSON("payload", e.Payload).Msg("domain event")
			return nil
		})
	}
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func serve(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	if cfg.API.Enabled {
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("http server stopped")
			}
		}()
	} else {
		logger.Warn().Msg("control API disabled, operations can only be replayed from the persisted queue")
	}

	logger.Info().
		Str("storage", cfg.Storage.Driver).
		Str("reachability", cfg.Reachability.Mode).
		Str("remote", cfg.Remote.BaseURL).
		Int("http_port", cfg.API.Port).
		Msg("rentsyncd started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}

	logger.Info().Msg("rentsyncd stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}

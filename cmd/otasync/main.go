package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"hotelpms/internal/api"
	"hotelpms/internal/config"
	"hotelpms/internal/database"
	"hotelpms/internal/domain"
	"hotelpms/internal/events"
	"hotelpms/internal/inventory"
	"hotelpms/internal/logging"
	"hotelpms/internal/metrics"
	"hotelpms/internal/notify"
	"hotelpms/internal/ota"
	"hotelpms/internal/repository"
	"hotelpms/internal/service"
	"hotelpms/internal/worker"
)

const (
	memoryQueueCapacity = 4096
	deadLetterMaxLen    = 10000
)

// store is what both the SQLite and the PostgreSQL backends provide.
type store interface {
	api.Store
	domain.ChangeLogReader
	domain.InventoryAggregator
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Register()

	st, backups, closeStore, err := initStore(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer closeStore()

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer (func() { _ = repository.Close(redisClient) })()
	}

	changes := initChangeQueue(redisClient, cfg, &logger)

	var deadLetters domain.DeadLetterSink
	if redisClient != nil {
		deadLetters = repository.NewRedisDeadLetters(redisClient, cfg.Redis.DeadLetterKey, deadLetterMaxLen)
	}

	nc := initNATS(cfg, &logger)
	if nc != nil {
		defer nc.Close()
	}

	templates, err := ota.NewFileTemplateStore(cfg.OTA.TemplatesDir, cfg.OTA.Credentials)
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}

	client := ota.NewClient(cfg.OTA, templates, &logger)
	if redisClient != nil && cfg.OTA.StockCacheTTL > 0 {
		client.UseRedisCache(redisClient, cfg.OTA.StockCacheTTL)
	}

	diff := inventory.NewDiffEngine(st, client, &logger)
	batcher := ota.NewBatcher(templates, cfg.Sync, &logger)
	translator := service.NewSyncTranslator(st, st, diff, batcher, st, cfg.Sync.ServiceName, &logger)

	bus := events.NewEventBus()
	bus.OnError(func(event *events.Event, err error) {
		logger.Error().Err(err).Str("event", event.Type).Msg("event handler failed")
	})
	bus.Subscribe(events.EventChangeLogged, worker.EnqueueOnChangeLogged(changes))

	var notifier worker.FailureNotifier
	if nc != nil {
		notifier = notify.NewNATSNotifier(nc, cfg.NATS.FailedSubject, cfg.App.Name)
	}
	if deadLetters != nil || notifier != nil {
		bus.Subscribe(events.EventQueueEntryFailed, worker.DeadLetterHandler(deadLetters, notifier, &logger))
	}

	consumer := worker.NewChangeConsumer(changes, translator, worker.RetryPolicy{
		MaxRetries: cfg.Sync.TranslatorMaxRetries,
	}, &logger)
	dispatcher := worker.NewDispatcher(st, st, client, bus, worker.DispatcherConfigFrom(cfg.Sync), &logger)

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		consumer.Start(ctx)
	}()

	dispatcher.Start(ctx)

	if backups != nil {
		go backups.Start(ctx)
	}

	startMetrics(ctx, cfg, &logger)

	var server *api.Server
	if cfg.API.Enabled {
		server = api.NewServer(cfg.API, api.Deps{
			Store:       st,
			Changes:     changes,
			DeadLetters: deadLetters,
			Events:      bus,
			Dispatcher:  dispatcher,
			Stock:       client,
		}, &logger)
		go func() {
			if err := server.Start(); err != nil {
				logger.Error().Err(err).Msg("operator api stopped")
			}
		}()
	}

	logger.Info().
		Str("driver", cfg.Database.Driver).
		Bool("redis", redisClient != nil).
		Bool("nats", nc != nil).
		Bool("api", cfg.API.Enabled).
		Msg("OTA sync service started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	// Stop scheduling first; the in-flight batch still resolves its rows.
	dispatcher.Stop()
	<-consumerDone

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}

	logger.Info().Msg("OTA sync service stopped")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := *logging.Component(baseLogger, "otasync-main")

	return cfg, logger, closer, nil
}

func initStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (store, *database.BackupService, func(), error) {
	switch cfg.Database.Driver {
	case "postgres":
		pg, err := database.ConnectPG(ctx, cfg.Database.Postgres.DSN())
		if err != nil {
			logger.Error().Err(err).Str("host", cfg.Database.Postgres.Host).Msg("init postgres")
			return nil, nil, nil, err
		}
		logger.Info().Str("host", cfg.Database.Postgres.Host).Msg("postgres connected")
		return pg, nil, pg.Close, nil
	default:
		db, err := database.NewDB(cfg.Database.Path, logger)
		if err != nil {
			logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
			return nil, nil, nil, err
		}
		backups := database.NewBackupService(db, cfg.Database.Backup, logger)
		return db, backups, func() { _ = db.Close() }, nil
	}
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

func initChangeQueue(client *redis.Client, cfg *config.Config, logger *zerolog.Logger) domain.ChangeQueue {
	memory := repository.NewMemoryChangeQueue(memoryQueueCapacity)
	if client == nil {
		return memory
	}
	primary := repository.NewRedisChangeQueue(client, cfg.Redis.ChangeQueueKey)
	return repository.NewFailoverChangeQueue(primary, memory, logger)
}

func initNATS(cfg *config.Config, logger *zerolog.Logger) *nats.Conn {
	if cfg.NATS.URL == "" {
		return nil
	}

	nc, err := notify.Connect(cfg.NATS.URL, cfg.App.Name)
	if err != nil {
		logger.Warn().Err(err).Msg("nats connection failed, continuing without notifications")
		return nil
	}

	logger.Info().Str("url", cfg.NATS.URL).Msg("nats connected")
	return nc
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
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

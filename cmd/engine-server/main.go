// cmd/engine-server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"assignment-engine/internal/api"
	"assignment-engine/internal/common/config"
	"assignment-engine/internal/common/database"
	"assignment-engine/internal/common/logger"
	"assignment-engine/internal/common/observability"
	"assignment-engine/internal/directory"
	"assignment-engine/internal/engine"
	"assignment-engine/internal/ledger"
	"assignment-engine/internal/matcher"
	"assignment-engine/internal/notify"
	"assignment-engine/internal/room"
	"assignment-engine/internal/statemachine"
)

// retryWithBackoff attempts to execute a function with exponential backoff.
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting assignment engine...",
		zap.String("environment", cfg.App.Environment))

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		// Directory lookups fall back to Postgres without the cache.
		zapLog.Warn("redis unavailable, continuing without directory cache", zap.Error(err))
		rdb = nil
	} else {
		defer rdb.Close()
		zapLog.Info("Redis connected successfully")
	}

	// --- Optional assignment history search indexer ---
	var indexer ledger.Indexer
	if cfg.Search.Enabled {
		esClient, err := database.NewElasticsearch(cfg.Search)
		if err != nil {
			zapLog.Warn("elasticsearch init failed, history indexing disabled", zap.Error(err))
		} else if err := esClient.Ping(); err != nil {
			zapLog.Warn("elasticsearch unreachable, history indexing disabled", zap.Error(err))
		} else {
			indexer = ledger.NewSearchIndexer(esClient.Client, cfg.Search.Index, log)
			zapLog.Info("Elasticsearch connected successfully")
		}
	}

	// --- Notification dispatcher ---
	var notifier *notify.Dispatcher
	recipients := notify.NewDirectoryRecipients(pg.GetDB())
	notifier, err = notify.NewDispatcher(ctx, cfg.Notifications, recipients, log)
	if err != nil {
		zapLog.Warn("notification dispatcher init failed, notifications disabled", zap.Error(err))
		notifier = nil
	}

	// --- Wire the engine ---
	var redisConn *redis.Client
	if rdb != nil {
		redisConn = rdb.GetClient()
	}
	dirReader := directory.NewSQLReader(pg.GetDB(), redisConn,
		time.Duration(cfg.Directory.CacheTTL)*time.Second, log)

	consultantMatcher := matcher.New(dirReader, cfg.Matcher.DefaultCapacity, log)

	var ledgerNotifier ledger.Notifier
	var smNotifier statemachine.Notifier
	if notifier != nil {
		ledgerNotifier = notifier
		smNotifier = notifier
	}

	assignmentLedger := ledger.New(pg.GetDB(), log, ledgerNotifier, indexer)

	roomManager := room.NewManager(pg.GetDB(), room.Defaults{
		AllowedFileExtensions: cfg.Rooms.AllowedFileExtensions,
		MaxFileSizeMB:         cfg.Rooms.MaxFileSizeMB,
		AutoArchiveAfterDays:  cfg.Rooms.AutoArchiveAfterDays,
	}, log)

	stateMachine := statemachine.New(pg.GetDB(), roomManager, smNotifier, log)

	eng := engine.New(pg.GetDB(), dirReader, consultantMatcher, assignmentLedger,
		stateMachine, roomManager, obs, log)

	// --- Auto-archive sweep ---
	archiver := cron.New()
	_, err = archiver.AddFunc(cfg.Rooms.ArchiveSchedule, func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := roomManager.ArchiveStale(sweepCtx); err != nil {
			log.Error("auto-archive sweep failed", map[string]interface{}{"error": err})
		}
	})
	if err != nil {
		zapLog.Fatal("invalid archive schedule", zap.Error(err))
	}
	archiver.Start()
	defer archiver.Stop()

	// --- Metrics server ---
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		zapLog.Info("metrics server listening", zap.String("address", cfg.Server.MetricsAddress))
		if err := http.ListenAndServe(cfg.Server.MetricsAddress, mux); err != nil && err != http.ErrServerClosed {
			zapLog.Error("metrics server failed", zap.Error(err))
		}
	}()

	// --- API server ---
	router := api.NewRouter(eng, func() error { return pg.Ping(context.Background()) }, log)
	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Millisecond,
	}

	go func() {
		zapLog.Info("api server listening", zap.String("address", cfg.Server.Address))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Fatal("api server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	zapLog.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("server shutdown failed", zap.Error(err))
	}
	zapLog.Info("shutdown complete")
}

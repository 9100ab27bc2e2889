package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wekeepgrowing/timesync/internal/config"
	"github.com/wekeepgrowing/timesync/internal/infrastructure/crypto"
	"github.com/wekeepgrowing/timesync/internal/infrastructure/database"
	grpcServer "github.com/wekeepgrowing/timesync/internal/infrastructure/grpc"
	httpServer "github.com/wekeepgrowing/timesync/internal/infrastructure/http"
	"github.com/wekeepgrowing/timesync/internal/infrastructure/service"
	"github.com/wekeepgrowing/timesync/internal/scheduler"
	"github.com/wekeepgrowing/timesync/internal/usecase/job"
	"github.com/wekeepgrowing/timesync/pkg/logger"
	"github.com/wekeepgrowing/timesync/pkg/messaging"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	zapLogger, err := logger.NewZapLogger(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Output:      cfg.Log.Output,
		FilePath:    cfg.Log.FilePath,
		Development: cfg.Service.Environment == "dev" && cfg.Log.Format == "console",
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()
	zapLogger = zapLogger.With(zap.String("service", cfg.Service.Name))

	// Initialize database connection
	db, err := database.NewConnection(&cfg.Database, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := database.Close(db, zapLogger); err != nil {
			zapLogger.Error("Failed to close database connection", zap.Error(err))
		}
	}()

	// Run database migrations
	if err := database.Migrate(db, zapLogger); err != nil {
		zapLogger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	box, err := crypto.NewAESSecretBox(cfg.Crypto.Key)
	if err != nil {
		zapLogger.Fatal("Failed to initialize secret box", zap.Error(err))
	}

	// Initialize repositories
	repos := database.NewRepositories(db, box, zapLogger)

	publisher := newPublisher(cfg, zapLogger)
	defer publisher.Close()

	jobs := job.NewFactory(job.Dependencies{
		Users:       repos.User,
		TimeEntries: repos.TimeEntry,
		JobLogs:     repos.JobLog,
		Services:    service.NewFactory(cfg.HTTPClient, zapLogger),
		Publisher:   publisher,
		Settings: job.Settings{
			DefaultDaysToSync:   cfg.Sync.DefaultDaysToSync,
			HistoryLookbackDays: cfg.Sync.HistoryLookbackDays,
			RemovalWindowDays:   cfg.Sync.RemovalWindowDays,
			ObjectBatchSize:     cfg.Sync.ObjectBatchSize,
			EventChannel:        cfg.Redis.Channel,
		},
		Logger: zapLogger,
	})

	sched := scheduler.New(repos.User, repos.JobLog, scheduler.FromJobFactory(jobs), scheduler.Options{
		PumpInterval:        cfg.Scheduler.PumpInterval,
		JobLogRetentionDays: cfg.Scheduler.JobLogRetentionDays,
		PurgeSchedule:       cfg.Scheduler.PurgeSchedule,
	}, zapLogger)
	jobs.SetFollowUp(sched)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sched.Start(ctx); err != nil {
		zapLogger.Fatal("Failed to start scheduler", zap.Error(err))
	}

	// Initialize servers
	grpcSrv := grpcServer.NewServer(cfg, zapLogger)
	httpSrv := httpServer.NewServer(cfg, zapLogger, repos, sched)
	grpcSrv.SetServing(sched.Running())

	// Start servers
	go func() {
		if err := grpcSrv.Start(); err != nil {
			zapLogger.Fatal("Failed to start gRPC server", zap.Error(err))
		}
	}()

	go func() {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zapLogger.Info("Shutting down servers...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	grpcSrv.SetServing(false)

	// Shutdown servers
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Failed to shutdown HTTP server", zap.Error(err))
	}

	if err := grpcSrv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Failed to shutdown gRPC server", zap.Error(err))
	}

	sched.Stop(shutdownCtx)

	zapLogger.Info("Servers shut down successfully")
}

// newPublisher connects to redis when configured and falls back to a no-op
// publisher otherwise.
func newPublisher(cfg *config.Config, log *zap.Logger) messaging.Publisher {
	if cfg.Redis.Addr == "" {
		log.Info("Redis not configured, job events are not published")
		return messaging.NewNoopPublisher()
	}
	publisher, err := messaging.NewRedisPublisher(messaging.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Warn("Failed to connect to redis, job events are not published",
			zap.String("addr", cfg.Redis.Addr),
			zap.Error(err))
		return messaging.NewNoopPublisher()
	}
	return publisher
}

// Package app assembles the service graph shared by the server and the
// operator CLI.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/VinByte365/Project-Pamada-sub000/internal/analytics"
	"github.com/VinByte365/Project-Pamada-sub000/internal/config"
	"github.com/VinByte365/Project-Pamada-sub000/internal/curator"
	"github.com/VinByte365/Project-Pamada-sub000/internal/db"
	"github.com/VinByte365/Project-Pamada-sub000/internal/events"
	"github.com/VinByte365/Project-Pamada-sub000/internal/inference"
	"github.com/VinByte365/Project-Pamada-sub000/internal/lock"
	"github.com/VinByte365/Project-Pamada-sub000/internal/orchestrator"
	"github.com/VinByte365/Project-Pamada-sub000/internal/reconcile"
	"github.com/VinByte365/Project-Pamada-sub000/internal/repository"
	"github.com/VinByte365/Project-Pamada-sub000/internal/storage"
)

const (
	connectAttempts = 30
	connectWait     = 2 * time.Second
)

// App holds the wired services. Close releases every connection it opened.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Pool   *pgxpool.Pool

	Plants      *repository.PlantRepository
	Scans       *repository.ScanRepository
	Training    *repository.TrainingRepository
	Snapshots   *repository.SnapshotRepository
	Idempotency *repository.IdempotencyRepository

	Images       *storage.S3Store
	Inference    *inference.Client
	Publisher    events.Publisher
	Guard        lock.Guard
	Reconciler   *reconcile.Reconciler
	Curator      *curator.Curator
	Orchestrator *orchestrator.Orchestrator
	Analytics    *analytics.Aggregator

	redis *redis.Client
}

// New connects to Postgres, applies migrations and wires every service.
// Redis and Kafka are used only when configured.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	pool, err := db.ConnectWithRetry(ctx, cfg.Database, connectAttempts, connectWait)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.RunMigrations(cfg.Database); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	a := &App{
		Config:      cfg,
		Logger:      logger,
		Pool:        pool,
		Plants:      repository.NewPlantRepository(pool),
		Scans:       repository.NewScanRepository(pool),
		Training:    repository.NewTrainingRepository(pool),
		Snapshots:   repository.NewSnapshotRepository(pool),
		Idempotency: repository.NewIdempotencyRepository(pool, cfg.Server.IdempotencyTTL),
	}

	s3Client, err := storage.NewS3Client(ctx, cfg.Storage)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	a.Images = storage.NewS3Store(s3Client, cfg.Storage, logger)
	a.Inference = inference.NewClient(cfg.Inference.BaseURL, cfg.Inference.Timeout, inference.WithLogger(logger))

	a.Guard = lock.NewKeyedGuard()
	if cfg.Redis.Addr != "" {
		rdb, err := lock.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.redis = rdb
		a.Guard = lock.NewRedisGuard(rdb, "pamada:lock:", cfg.Redis.LockTTL, logger)
		logger.Info("using redis scan lock", zap.String("addr", cfg.Redis.Addr))
	}

	a.Publisher = events.Noop{}
	if len(cfg.Kafka.Brokers) > 0 {
		a.Publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		logger.Info("publishing events to kafka",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	}

	a.Reconciler = reconcile.New(a.Scans, reconcile.Options{
		ValidationThreshold: cfg.Curator.ConfidenceThreshold,
		ModelVersion:        cfg.Inference.ModelVersion,
		InferenceServer:     cfg.Inference.BaseURL,
		Logger:              logger,
	})
	a.Curator = curator.New(a.Training, a.Scans, curator.Options{
		Threshold:     cfg.Curator.ConfidenceThreshold,
		AutoFlagLimit: cfg.Curator.AutoFlagLimit,
		ExportLimit:   cfg.Curator.ExportLimit,
		PendingLimit:  cfg.Curator.PendingLimit,
		Publisher:     a.Publisher,
		Logger:        logger,
	})

	opts := orchestrator.Options{
		StaleAfter:       cfg.Analysis.StaleAfter,
		InferenceRetries: cfg.Analysis.InferenceRetries,
		RetryBaseWait:    cfg.Analysis.RetryBaseWait,
		Publisher:        a.Publisher,
		Logger:           logger,
	}
	if cfg.Curator.FlagOnAnalysis {
		opts.Flagger = a.Curator
	}
	a.Orchestrator = orchestrator.New(a.Scans, a.Images, a.Inference, a.Reconciler, a.Guard, opts)
	a.Analytics = analytics.New(a.Scans, a.Snapshots, a.Plants, cfg.Analytics.Location(), analytics.WithLogger(logger))

	return a, nil
}

// Close releases the database pool, Redis and the event publisher.
func (a *App) Close() {
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			a.Logger.Warn("failed to close event publisher", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/VinByte365/Project-Pamada-sub000/internal/api"
	"github.com/VinByte365/Project-Pamada-sub000/internal/api/handlers"
	"github.com/VinByte365/Project-Pamada-sub000/internal/app"
	"github.com/VinByte365/Project-Pamada-sub000/internal/config"
	"github.com/VinByte365/Project-Pamada-sub000/internal/logging"
	"github.com/VinByte365/Project-Pamada-sub000/internal/orchestrator"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, flush, err := logging.Install(cfg.Env, cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer flush()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", zap.Error(err))
		flush()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting scan service", zap.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	dispatcher := orchestrator.NewDispatcher(a.Orchestrator, a.Scans, cfg.Analysis.Workers, cfg.Analysis.QueueSize, logger)
	go drainFailures(dispatcher.Failures(), logger)

	bgCtx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()
	go runMaintenance(bgCtx, a, cfg.Analytics.RollupInterval, logger)

	router := api.NewRouter(cfg, api.Handlers{
		Scans: handlers.NewScanHandler(handlers.ScanHandlerDeps{
			Scans:         a.Scans,
			Plants:        a.Plants,
			Images:        a.Images,
			Idempotency:   a.Idempotency,
			Analyzer:      a.Orchestrator,
			Queue:         dispatcher,
			Health:        a.Inference,
			ModelVersion:  cfg.Inference.ModelVersion,
			MaxUploadSize: cfg.Server.MaxUploadSize,
			Logger:        logger,
		}),
		Plants:    handlers.NewPlantHandler(a.Plants, logger),
		Analytics: handlers.NewAnalyticsHandler(a.Analytics),
		Training:  handlers.NewTrainingHandler(a.Curator),
		DB:        a.Pool,
	}, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced shutdown", zap.Error(err))
	}
	cancelBackground()
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.Warn("analysis workers did not drain", zap.Error(err))
	}
	logger.Info("server exited")
	return nil
}

// drainFailures logs background analysis failures until the dispatcher
// closes the channel.
func drainFailures(failures <-chan orchestrator.Failure, logger *zap.Logger) {
	for f := range failures {
		logger.Warn("background analysis failed",
			zap.String("scan_id", f.ScanID.String()),
			zap.String("status", string(f.Status)),
			zap.String("kind", string(f.Kind)),
			zap.Time("at", f.At),
			zap.Error(f.Err),
		)
	}
}

// runMaintenance rolls up the previous day and drops expired idempotency
// keys on every tick.
func runMaintenance(ctx context.Context, a *app.App, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		return
	}
	logger = logger.With(zap.String("job", "maintenance"))

	tick := func() {
		n, err := a.Analytics.RollupPrevious(ctx)
		if err != nil {
			logger.Error("analytics rollup failed", zap.Error(err))
		} else {
			logger.Info("analytics rollup finished", zap.Int("snapshots", n))
		}
		removed, err := a.Idempotency.CleanExpired(ctx)
		if err != nil {
			logger.Error("idempotency cleanup failed", zap.Error(err))
		} else if removed > 0 {
			logger.Info("expired idempotency keys removed", zap.Int64("count", removed))
		}
	}

	tick()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}

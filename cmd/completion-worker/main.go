package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/agendaclin/clinic-scheduling/internal/config"
	"github.com/agendaclin/clinic-scheduling/internal/db"
	"github.com/agendaclin/clinic-scheduling/internal/logging"
	redisclient "github.com/agendaclin/clinic-scheduling/internal/redis"
	"github.com/agendaclin/clinic-scheduling/internal/scheduling"
)

// The completion worker sweeps past-dated pending and confirmed bookings
// into completed on a fixed interval.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("logger build error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("completion-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", zap.Error(err))
		}
	}()
	logger.Info("connected to Redis")

	repo := scheduling.NewPgRepository(pgPool)
	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL)

	svc, err := scheduling.NewService(repo, locker, cfg, logger)
	if err != nil {
		logger.Fatal("service init error", zap.Error(err))
	}

	// Run once at startup
	runOnce(rootCtx, svc, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping completion worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *scheduling.Service, logger *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	completed, err := svc.CompletePastBookings(runCtx)
	if err != nil {
		logger.Error("completion run error", zap.Error(err))
		return
	}
	logger.Info("completion run complete",
		zap.Int("completed", completed),
		zap.Duration("took", time.Since(start)),
	)
}

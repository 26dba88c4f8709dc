package main

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"spamflow/internal/activities"
	"spamflow/internal/config"
	"spamflow/internal/logger"
	"spamflow/internal/providers"
	"spamflow/internal/storage"
	"spamflow/internal/tracking"
	"spamflow/internal/workflows"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = zl.Sync() }()
	tracking.Init()

	c, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress, Logger: logger.NewTemporalLogger(zl)})
	if err != nil {
		zl.Fatal("dial temporal", zap.Error(err))
	}
	defer c.Close()

	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{})
	workflows.Register(w)

	if cfg.MigrateOnStart {
		if err := storage.Migrate(cfg.PostgresURL, zl); err != nil {
			zl.Fatal("migrate", zap.Error(err))
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := storage.NewDB(ctx, cfg.PostgresURL, cfg.PostgresMaxConns)
	if err != nil {
		zl.Fatal("connect postgres", zap.Error(err))
	}
	defer db.Close()

	encoders, err := providers.NewManager(cfg, zl)
	if err != nil {
		zl.Fatal("build encoder", zap.Error(err))
	}
	a, err := activities.New(cfg, activities.Deps{
		Registry: storage.NewRunRepo(db),
		Tracking: storage.NewTrackingRepo(db),
		Encoders: encoders,
		Log:      zl,
	})
	if err != nil {
		zl.Fatal("build activities", zap.Error(err))
	}
	activities.Register(w, a)

	refs := make([]string, 0)
	for _, r := range encoders.Refs() {
		refs = append(refs, r.Raw)
	}
	zl.Info("spamflow worker listening",
		zap.String("temporal", cfg.TemporalAddress),
		zap.String("queue", cfg.TemporalTaskQueue),
		zap.Strings("encoders", refs),
		zap.String("device", cfg.Device))
	if err := w.Run(worker.InterruptCh()); err != nil {
		zl.Fatal("worker stopped", zap.Error(err))
	}
}

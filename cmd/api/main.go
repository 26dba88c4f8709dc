package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	tclient "go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"spamflow/internal/api"
	"spamflow/internal/config"
	"spamflow/internal/logger"
	"spamflow/internal/registry"
	"spamflow/internal/storage"
	"spamflow/internal/tracking"
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

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// The tracking store is only needed when no local bundle exists; the run
	// registry gates evaluation requests.
	var store tracking.Store
	var runs registry.Reader
	db, err := storage.NewDB(ctx, cfg.PostgresURL, cfg.PostgresMaxConns)
	if err != nil {
		zl.Warn("postgres unavailable, serving from local model only", zap.Error(err))
	} else {
		defer db.Close()
		store = storage.NewTrackingRepo(db)
		runs = storage.NewRunRepo(db)
	}

	predictor, err := api.LoadPredictor(ctx, cfg, store, zl)
	switch {
	case errors.Is(err, api.ErrNoModel):
		zl.Warn("no promoted model yet, /predict will answer 503")
	case err != nil:
		zl.Fatal("load model", zap.Error(err))
	}

	tc, err := tclient.Dial(tclient.Options{HostPort: cfg.TemporalAddress, Logger: logger.NewTemporalLogger(zl)})
	if err != nil {
		zl.Warn("temporal unavailable, pipeline routes disabled", zap.Error(err))
		tc = nil
	} else {
		defer tc.Close()
	}

	h := api.NewServer(cfg, predictor, runs, tc, zl)
	zl.Info("spamflow api listening", zap.String("addr", cfg.APIAddr), zap.Bool("model_loaded", predictor != nil))
	if err := http.ListenAndServe(cfg.APIAddr, h.Routes()); err != nil {
		zl.Fatal("api stopped", zap.Error(err))
	}
}

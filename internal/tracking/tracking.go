// Package tracking records params, metrics and artifacts against experiment runs.
package tracking

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"spamflow/internal/logger"
)

const (
	StatusRunning  = "RUNNING"
	StatusFinished = "FINISHED"
	StatusFailed   = "FAILED"
)

type Run struct {
	ID         string    `json:"id"`
	Experiment string    `json:"experiment"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
}

type Metric struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
	Step  int     `json:"step"`
}

// Store persists tracking data. storage.TrackingRepo is the Postgres implementation.
type Store interface {
	CreateRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, runID string) (Run, error)
	EndRun(ctx context.Context, runID, status string) error
	LogParam(ctx context.Context, runID, key, value string) error
	LogMetric(ctx context.Context, runID string, m Metric) error
	LogArtifact(ctx context.Context, runID, path string, data []byte) error
	Params(ctx context.Context, runID string) (map[string]string, error)
	Metrics(ctx context.Context, runID string) ([]Metric, error)
	// LatestArtifact returns the newest artifact at path across the experiment's runs.
	LatestArtifact(ctx context.Context, experiment, path string) ([]byte, string, error)
}

// Recorder is bound to a single run.
type Recorder struct {
	store Store
	run   Run
	log   *zap.Logger
}

func Start(ctx context.Context, store Store, experiment, name string, log *zap.Logger) (*Recorder, error) {
	run := Run{
		ID:         uuid.NewString(),
		Experiment: experiment,
		Name:       name,
		Status:     StatusRunning,
		StartedAt:  time.Now().UTC(),
	}
	if err := store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create tracking run: %w", err)
	}
	logger.OrNop(log).Info("tracking run started", zap.String("run_id", run.ID), zap.String("run_name", name), zap.String("experiment", experiment))
	return &Recorder{store: store, run: run, log: logger.OrNop(log)}, nil
}

// Attach binds to an existing run, as activities do with the run id they were given.
func Attach(ctx context.Context, store Store, runID string, log *zap.Logger) (*Recorder, error) {
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("attach tracking run %s: %w", runID, err)
	}
	return &Recorder{store: store, run: run, log: logger.OrNop(log)}, nil
}

func (r *Recorder) RunID() string { return r.run.ID }
func (r *Recorder) Run() Run      { return r.run }

func (r *Recorder) LogParam(ctx context.Context, key string, value any) error {
	v := formatParam(value)
	if err := r.store.LogParam(ctx, r.run.ID, key, v); err != nil {
		return fmt.Errorf("log param %s: %w", key, err)
	}
	return nil
}

func (r *Recorder) LogMetric(ctx context.Context, key string, value float64, step int) error {
	if err := r.store.LogMetric(ctx, r.run.ID, Metric{Key: key, Value: value, Step: step}); err != nil {
		return fmt.Errorf("log metric %s: %w", key, err)
	}
	RunMetric.WithLabelValues(r.run.Experiment, r.run.Name, key).Set(value)
	r.log.Debug("metric logged", zap.String("run_id", r.run.ID), zap.String("metric", key), zap.Float64("value", value), zap.Int("step", step))
	return nil
}

// LogMetrics logs every entry at step 0.
func (r *Recorder) LogMetrics(ctx context.Context, values map[string]float64) error {
	for k, v := range values {
		if err := r.LogMetric(ctx, k, v, 0); err != nil {
			return err
		}
	}
	return nil
}

func (r *Recorder) LogArtifact(ctx context.Context, path string, data []byte) error {
	if err := r.store.LogArtifact(ctx, r.run.ID, path, data); err != nil {
		return fmt.Errorf("log artifact %s: %w", path, err)
	}
	ArtifactsLogged.WithLabelValues(r.run.Experiment, path).Inc()
	r.log.Info("artifact logged", zap.String("run_id", r.run.ID), zap.String("path", path), zap.Int("bytes", len(data)))
	return nil
}

func (r *Recorder) Params(ctx context.Context) (map[string]string, error) {
	return r.store.Params(ctx, r.run.ID)
}

func (r *Recorder) Metrics(ctx context.Context) ([]Metric, error) {
	return r.store.Metrics(ctx, r.run.ID)
}

func (r *Recorder) End(ctx context.Context, status string) error {
	if err := r.store.EndRun(ctx, r.run.ID, status); err != nil {
		return fmt.Errorf("end tracking run: %w", err)
	}
	r.run.Status = status
	return nil
}

func formatParam(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	default:
		return fmt.Sprint(x)
	}
}

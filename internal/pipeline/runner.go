// Package pipeline executes registry-backed steps with output caching.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"spamflow/internal/logger"
	"spamflow/internal/registry"
	"spamflow/internal/tracking"
)

// StepSpec declares a step. The runner derives the fingerprint; steps never do.
type StepSpec struct {
	Name      string
	Cacheable bool
	Inputs    []registry.ArtifactRef
	Params    map[string]any
	Outputs   []string
}

// StepFunc produces one value per declared output.
type StepFunc func(ctx context.Context) (map[string]any, error)

type Result struct {
	Fingerprint string
	Cached      bool
	Outputs     map[string]registry.ArtifactRef
}

type Runner struct {
	store registry.Store
	cache *ristretto.Cache
	ttl   time.Duration
	log   *zap.Logger
}

func NewRunner(store registry.Store, cacheSize int64, ttl time.Duration, log *zap.Logger) (*Runner, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10 * cacheSize,
		MaxCost:     cacheSize,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create step cache: %w", err)
	}
	return &Runner{store: store, cache: cache, ttl: ttl, log: logger.OrNop(log)}, nil
}

func (r *Runner) Store() registry.Store { return r.store }

func (r *Runner) StartRun(ctx context.Context, pipelineName string) (registry.Run, error) {
	run := registry.Run{ID: uuid.NewString(), Pipeline: pipelineName, Status: registry.StatusRunning, StartedAt: time.Now().UTC()}
	if err := r.store.CreateRun(ctx, run); err != nil {
		return registry.Run{}, fmt.Errorf("start %s run: %w", pipelineName, err)
	}
	r.log.Info("pipeline run started", zap.String("pipeline", pipelineName), zap.String("run_id", run.ID))
	return run, nil
}

func (r *Runner) FinishRun(ctx context.Context, runID, status string) error {
	if err := r.store.FinishRun(ctx, runID, status); err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	r.log.Info("pipeline run finished", zap.String("run_id", runID), zap.String("status", status))
	return nil
}

// Execute runs spec inside runID, or reuses the outputs of an earlier
// execution with the same fingerprint when the step is cacheable.
func (r *Runner) Execute(ctx context.Context, runID string, spec StepSpec, fn StepFunc) (Result, error) {
	fp, err := Fingerprint(spec)
	if err != nil {
		return Result{}, err
	}
	log := r.log.With(zap.String("run_id", runID), zap.String("step", spec.Name))

	if spec.Cacheable {
		if refs, cacheType, ok := r.lookup(ctx, spec, fp); ok {
			if err := r.record(ctx, runID, spec, fp, refs, registry.StatusCached); err != nil {
				return Result{}, err
			}
			tracking.StepCacheHits.WithLabelValues(spec.Name, cacheType).Inc()
			log.Info("step cached", zap.String("fingerprint", fp), zap.String("cache", cacheType))
			return Result{Fingerprint: fp, Cached: true, Outputs: refs}, nil
		}
		tracking.StepCacheMisses.WithLabelValues(spec.Name).Inc()
	}

	if err := r.store.StartStep(ctx, runID, spec.Name, fp, spec.Outputs); err != nil {
		return Result{}, fmt.Errorf("start step %s: %w", spec.Name, err)
	}
	start := time.Now()
	fail := func(err error) (Result, error) {
		tracking.StepDuration.WithLabelValues(spec.Name, registry.StatusFailed).Observe(time.Since(start).Seconds())
		log.Error("step failed", zap.Error(err))
		if ferr := r.store.FinishStep(ctx, runID, spec.Name, registry.StatusFailed); ferr != nil {
			log.Warn("record step failure", zap.Error(ferr))
		}
		return Result{}, err
	}
	values, err := fn(ctx)
	if err != nil {
		return fail(fmt.Errorf("step %s: %w", spec.Name, err))
	}

	refs := make(map[string]registry.ArtifactRef, len(spec.Outputs))
	for _, name := range spec.Outputs {
		v, ok := values[name]
		if !ok {
			return fail(fmt.Errorf("step %s did not produce output %s", spec.Name, name))
		}
		payload, sum, err := registry.Encode(v)
		if err != nil {
			return fail(fmt.Errorf("materialize %s.%s: %w", spec.Name, name, err))
		}
		ref, err := r.store.PutArtifact(ctx, name, sum, payload)
		if err != nil {
			return fail(fmt.Errorf("store %s.%s: %w", spec.Name, name, err))
		}
		if err := r.store.AddStepOutput(ctx, runID, spec.Name, name, ref); err != nil {
			return fail(fmt.Errorf("link %s.%s: %w", spec.Name, name, err))
		}
		refs[name] = ref
	}
	if err := r.store.FinishStep(ctx, runID, spec.Name, registry.StatusCompleted); err != nil {
		return Result{}, fmt.Errorf("finish step %s: %w", spec.Name, err)
	}
	tracking.StepDuration.WithLabelValues(spec.Name, registry.StatusCompleted).Observe(time.Since(start).Seconds())
	if spec.Cacheable {
		r.cache.SetWithTTL(cacheKey(spec.Name, fp), refs, 1, r.ttl)
	}
	log.Info("step completed", zap.String("fingerprint", fp), zap.Duration("took", time.Since(start)))
	return Result{Fingerprint: fp, Outputs: refs}, nil
}

// Link records a step whose outputs are existing artifacts, such as one
// fetched from another pipeline's run.
func (r *Runner) Link(ctx context.Context, runID string, spec StepSpec, refs map[string]registry.ArtifactRef) (Result, error) {
	fp, err := Fingerprint(spec)
	if err != nil {
		return Result{}, err
	}
	if !covers(refs, spec.Outputs) {
		return Result{}, fmt.Errorf("link %s: missing outputs", spec.Name)
	}
	if err := r.record(ctx, runID, spec, fp, refs, registry.StatusCompleted); err != nil {
		return Result{}, err
	}
	r.log.Info("step linked", zap.String("run_id", runID), zap.String("step", spec.Name))
	return Result{Fingerprint: fp, Outputs: refs}, nil
}

func (r *Runner) lookup(ctx context.Context, spec StepSpec, fp string) (map[string]registry.ArtifactRef, string, bool) {
	if v, ok := r.cache.Get(cacheKey(spec.Name, fp)); ok {
		if refs, ok := v.(map[string]registry.ArtifactRef); ok && covers(refs, spec.Outputs) {
			return refs, "memory", true
		}
	}
	refs, ok, err := r.store.CachedOutputs(ctx, spec.Name, fp)
	if err != nil {
		r.log.Warn("cache lookup failed", zap.String("step", spec.Name), zap.Error(err))
		return nil, "", false
	}
	if !ok || !covers(refs, spec.Outputs) {
		return nil, "", false
	}
	r.cache.SetWithTTL(cacheKey(spec.Name, fp), refs, 1, r.ttl)
	return refs, "store", true
}

func (r *Runner) record(ctx context.Context, runID string, spec StepSpec, fp string, refs map[string]registry.ArtifactRef, status string) error {
	if err := r.store.StartStep(ctx, runID, spec.Name, fp, nil); err != nil {
		return fmt.Errorf("start step %s: %w", spec.Name, err)
	}
	for _, name := range spec.Outputs {
		if err := r.store.AddStepOutput(ctx, runID, spec.Name, name, refs[name]); err != nil {
			return fmt.Errorf("link cached %s.%s: %w", spec.Name, name, err)
		}
	}
	if err := r.store.FinishStep(ctx, runID, spec.Name, status); err != nil {
		return fmt.Errorf("finish step %s: %w", spec.Name, err)
	}
	return nil
}

func covers(refs map[string]registry.ArtifactRef, outputs []string) bool {
	for _, o := range outputs {
		if _, ok := refs[o]; !ok {
			return false
		}
	}
	return true
}

func cacheKey(step, fp string) string { return step + "/" + fp }

// StepStatuses reports the recorded status of every step in a run.
func (r *Runner) StepStatuses(ctx context.Context, runID string) (map[string]string, error) {
	recs, err := r.store.StepRecords(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list steps of %s: %w", runID, err)
	}
	out := make(map[string]string, len(recs))
	for _, rec := range recs {
		out[rec.Name] = rec.Status
	}
	return out, nil
}

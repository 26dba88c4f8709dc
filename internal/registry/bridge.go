package registry

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"spamflow/internal/logger"
	"spamflow/internal/util"
)

// Bridge resolves artifacts produced by earlier pipeline runs.
type Bridge struct {
	store Reader
	log   *zap.Logger
}

func NewBridge(store Reader, log *zap.Logger) *Bridge {
	return &Bridge{store: store, log: logger.OrNop(log)}
}

// Load decodes the first version of pipeline/step/output from the latest
// successful run, or from the latest run of any status when none succeeded.
func (b *Bridge) Load(ctx context.Context, pipeline, step, output string, dst any) error {
	run, err := b.store.LatestRun(ctx, pipeline, StatusCompleted)
	if errors.Is(err, util.ErrNotFound) {
		b.log.Warn("no successful run, falling back to last run", zap.String("pipeline", pipeline))
		run, err = b.store.LatestRun(ctx, pipeline, "")
	}
	if err != nil {
		return b.fail(pipeline, step, output, b.runErr(pipeline, err))
	}
	return b.loadFrom(ctx, run, step, output, dst)
}

// LatestSuccessful is Load without the fallback to unsuccessful runs.
func (b *Bridge) LatestSuccessful(ctx context.Context, pipeline, step, output string, dst any) error {
	run, err := b.store.LatestRun(ctx, pipeline, StatusCompleted)
	if err != nil {
		return b.fail(pipeline, step, output, b.runErr(pipeline, err))
	}
	return b.loadFrom(ctx, run, step, output, dst)
}

// Ref resolves the artifact reference without decoding it.
func (b *Bridge) Ref(ctx context.Context, pipeline, step, output string) (ArtifactRef, error) {
	run, err := b.store.LatestRun(ctx, pipeline, StatusCompleted)
	if errors.Is(err, util.ErrNotFound) {
		run, err = b.store.LatestRun(ctx, pipeline, "")
	}
	if err != nil {
		return ArtifactRef{}, b.fail(pipeline, step, output, b.runErr(pipeline, err))
	}
	ref, err := b.resolve(ctx, run, step, output)
	if err != nil {
		return ArtifactRef{}, b.fail(pipeline, step, output, err)
	}
	return ref, nil
}

// RequireSuccessfulRun fails with a PreconditionError when pipeline never completed.
func (b *Bridge) RequireSuccessfulRun(ctx context.Context, pipeline string) (Run, error) {
	run, err := b.store.LatestRun(ctx, pipeline, StatusCompleted)
	if errors.Is(err, util.ErrNotFound) {
		b.log.Error("no successful run", zap.String("pipeline", pipeline))
		return Run{}, &util.PreconditionError{Msg: fmt.Sprintf("no successful %s run found; train a model first", pipeline)}
	}
	if err != nil {
		return Run{}, fmt.Errorf("lookup %s runs: %w", pipeline, err)
	}
	return run, nil
}

func (b *Bridge) loadFrom(ctx context.Context, run Run, step, output string, dst any) error {
	ref, err := b.resolve(ctx, run, step, output)
	if err != nil {
		return b.fail(run.Pipeline, step, output, err)
	}
	if err := b.Fetch(ctx, ref, dst); err != nil {
		return b.fail(run.Pipeline, step, output, err)
	}
	return nil
}

func (b *Bridge) resolve(ctx context.Context, run Run, step, output string) (ArtifactRef, error) {
	outputs, ok, err := b.store.StepOutputs(ctx, run.ID, step)
	if err != nil {
		return ArtifactRef{}, fmt.Errorf("list outputs of %s: %w", step, err)
	}
	if !ok {
		return ArtifactRef{}, &util.NotFoundError{Kind: "step", Detail: fmt.Sprintf("%s in %s run %s", step, run.Pipeline, run.ID)}
	}
	versions, ok := outputs[output]
	if !ok {
		return ArtifactRef{}, &util.NotFoundError{Kind: "output", Detail: fmt.Sprintf("%s of step %s", output, step)}
	}
	if len(versions) == 0 {
		return ArtifactRef{}, &util.NotFoundError{Kind: "artifact version", Detail: fmt.Sprintf("%s of step %s", output, step)}
	}
	return versions[0], nil
}

// Fetch decodes the payload behind ref into dst.
func (b *Bridge) Fetch(ctx context.Context, ref ArtifactRef, dst any) error {
	payload, err := b.store.ArtifactPayload(ctx, ref.ArtifactID)
	if err != nil {
		return fmt.Errorf("fetch artifact %s: %w", ref.ArtifactID, err)
	}
	if err := Decode(payload, dst); err != nil {
		return fmt.Errorf("decode artifact %s: %w", ref.Name, err)
	}
	return nil
}

func (b *Bridge) runErr(pipeline string, err error) error {
	if errors.Is(err, util.ErrNotFound) {
		return &util.NotFoundError{Kind: "pipeline runs", Detail: pipeline}
	}
	return fmt.Errorf("lookup %s runs: %w", pipeline, err)
}

func (b *Bridge) fail(pipeline, step, output string, err error) error {
	b.log.Error("artifact lookup failed",
		zap.String("pipeline", pipeline),
		zap.String("step", step),
		zap.String("output", output),
		zap.Error(err))
	return err
}

// LoadAs is Bridge.Load returning a typed value.
func LoadAs[T any](ctx context.Context, b *Bridge, pipeline, step, output string) (T, error) {
	var v T
	err := b.Load(ctx, pipeline, step, output, &v)
	return v, err
}

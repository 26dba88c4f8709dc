package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"spamflow/internal/registry"
)

func newRunner(t *testing.T) (*Runner, *registry.MemoryStore) {
	t.Helper()
	store := registry.NewMemoryStore()
	r, err := NewRunner(store, 64, time.Minute, nil)
	require.NoError(t, err)
	return r, store
}

func TestFingerprintDependsOnInputsAndParams(t *testing.T) {
	base := StepSpec{Name: "split", Inputs: []registry.ArtifactRef{{Checksum: "a"}}, Params: map[string]any{"seed": 42}}
	fp1, err := Fingerprint(base)
	require.NoError(t, err)

	same := base
	same.Inputs = []registry.ArtifactRef{{ArtifactID: "different-id", Checksum: "a"}}
	fp2, err := Fingerprint(same)
	require.NoError(t, err)
	require.Equal(t, fp1, fp2)

	changed := base
	changed.Params = map[string]any{"seed": 7}
	fp3, err := Fingerprint(changed)
	require.NoError(t, err)
	require.NotEqual(t, fp1, fp3)

	other := base
	other.Inputs = []registry.ArtifactRef{{Checksum: "b"}}
	fp4, err := Fingerprint(other)
	require.NoError(t, err)
	require.NotEqual(t, fp1, fp4)
}

func TestExecuteRecordsOutputs(t *testing.T) {
	ctx := context.Background()
	r, store := newRunner(t)
	run, err := r.StartRun(ctx, "processing")
	require.NoError(t, err)

	res, err := r.Execute(ctx, run.ID, StepSpec{Name: "split", Cacheable: true, Outputs: []string{"training_data", "testing_data"}},
		func(context.Context) (map[string]any, error) {
			return map[string]any{"training_data": []int{1, 2}, "testing_data": []int{3}}, nil
		})
	require.NoError(t, err)
	require.False(t, res.Cached)
	require.Len(t, res.Outputs, 2)
	require.NoError(t, r.FinishRun(ctx, run.ID, registry.StatusCompleted))

	got, err := registry.LoadAs[[]int](ctx, registry.NewBridge(store, nil), "processing", "split", "testing_data")
	require.NoError(t, err)
	require.Equal(t, []int{3}, got)

	statuses, err := r.StepStatuses(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, registry.StatusCompleted, statuses["split"])
}

func TestExecuteReusesCachedOutputsAcrossRuns(t *testing.T) {
	ctx := context.Background()
	r, store := newRunner(t)
	calls := 0
	step := func(context.Context) (map[string]any, error) {
		calls++
		return map[string]any{"output": "clean"}, nil
	}
	spec := StepSpec{Name: "transform", Cacheable: true, Inputs: []registry.ArtifactRef{{Checksum: "x"}}, Outputs: []string{"output"}}

	first, err := r.StartRun(ctx, "processing")
	require.NoError(t, err)
	a, err := r.Execute(ctx, first.ID, spec, step)
	require.NoError(t, err)
	require.NoError(t, r.FinishRun(ctx, first.ID, registry.StatusCompleted))

	second, err := r.StartRun(ctx, "processing")
	require.NoError(t, err)
	b, err := r.Execute(ctx, second.ID, spec, step)
	require.NoError(t, err)
	require.True(t, b.Cached)
	require.Equal(t, 1, calls)
	require.Equal(t, a.Outputs["output"], b.Outputs["output"])

	outs, ok, err := store.StepOutputs(ctx, second.ID, "transform")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, outs["output"], 1)
}

func TestExecuteNonCacheableAlwaysRuns(t *testing.T) {
	ctx := context.Background()
	r, _ := newRunner(t)
	calls := 0
	spec := StepSpec{Name: "clean", Outputs: []string{"output"}}
	for i := 0; i < 2; i++ {
		run, err := r.StartRun(ctx, "processing")
		require.NoError(t, err)
		_, err = r.Execute(ctx, run.ID, spec, func(context.Context) (map[string]any, error) {
			calls++
			return map[string]any{"output": 1}, nil
		})
		require.NoError(t, err)
	}
	require.Equal(t, 2, calls)
}

func TestExecuteFailureMarksStep(t *testing.T) {
	ctx := context.Background()
	r, _ := newRunner(t)
	run, err := r.StartRun(ctx, "processing")
	require.NoError(t, err)
	boom := errors.New("boom")
	_, err = r.Execute(ctx, run.ID, StepSpec{Name: "transform", Outputs: []string{"output"}}, func(context.Context) (map[string]any, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
	statuses, err := r.StepStatuses(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, registry.StatusFailed, statuses["transform"])
}

func TestExecuteMissingOutput(t *testing.T) {
	ctx := context.Background()
	r, _ := newRunner(t)
	run, err := r.StartRun(ctx, "processing")
	require.NoError(t, err)
	_, err = r.Execute(ctx, run.ID, StepSpec{Name: "split", Outputs: []string{"training_data", "testing_data"}}, func(context.Context) (map[string]any, error) {
		return map[string]any{"training_data": 1}, nil
	})
	require.ErrorContains(t, err, "testing_data")
}

// failingStore rejects artifact writes or output links.
type failingStore struct {
	*registry.MemoryStore
	putErr, linkErr error
}

func (s *failingStore) PutArtifact(ctx context.Context, name, checksum string, payload []byte) (registry.ArtifactRef, error) {
	if s.putErr != nil {
		return registry.ArtifactRef{}, s.putErr
	}
	return s.MemoryStore.PutArtifact(ctx, name, checksum, payload)
}

func (s *failingStore) AddStepOutput(ctx context.Context, runID, step, output string, ref registry.ArtifactRef) error {
	if s.linkErr != nil {
		return s.linkErr
	}
	return s.MemoryStore.AddStepOutput(ctx, runID, step, output, ref)
}

func TestExecuteStorageFailureMarksStep(t *testing.T) {
	boom := errors.New("disk full")
	for name, store := range map[string]*failingStore{
		"put":  {MemoryStore: registry.NewMemoryStore(), putErr: boom},
		"link": {MemoryStore: registry.NewMemoryStore(), linkErr: boom},
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r, err := NewRunner(store, 64, time.Minute, nil)
			require.NoError(t, err)
			run, err := r.StartRun(ctx, "processing")
			require.NoError(t, err)

			_, err = r.Execute(ctx, run.ID, StepSpec{Name: "clean", Outputs: []string{"output"}},
				func(context.Context) (map[string]any, error) {
					return map[string]any{"output": []int{1}}, nil
				})
			require.ErrorIs(t, err, boom)

			statuses, err := r.StepStatuses(ctx, run.ID)
			require.NoError(t, err)
			require.Equal(t, registry.StatusFailed, statuses["clean"])
		})
	}
}

func TestLinkRecordsExistingArtifacts(t *testing.T) {
	ctx := context.Background()
	r, store := newRunner(t)
	src, err := r.StartRun(ctx, Processing)
	require.NoError(t, err)
	res, err := r.Execute(ctx, src.ID, StepSpec{Name: StepLoad, Outputs: []string{OutputTestingBatch}}, func(context.Context) (map[string]any, error) {
		return map[string]any{OutputTestingBatch: "batches"}, nil
	})
	require.NoError(t, err)

	dst, err := r.StartRun(ctx, ModelEvaluation)
	require.NoError(t, err)
	_, err = r.Link(ctx, dst.ID, StepSpec{Name: StepLoadTesting, Outputs: []string{OutputDefault}}, map[string]registry.ArtifactRef{OutputDefault: res.Outputs[OutputTestingBatch]})
	require.NoError(t, err)
	require.NoError(t, r.FinishRun(ctx, dst.ID, registry.StatusCompleted))

	got, err := registry.LoadAs[string](ctx, registry.NewBridge(store, nil), ModelEvaluation, StepLoadTesting, OutputDefault)
	require.NoError(t, err)
	require.Equal(t, "batches", got)

	_, err = r.Link(ctx, dst.ID, StepSpec{Name: StepLoadTrained, Outputs: []string{OutputDefault}}, nil)
	require.Error(t, err)
}

func TestCacheableSteps(t *testing.T) {
	for _, s := range []string{StepIngester, StepClean, StepEvaluate, StepLoadTraining, StepLoadTesting, StepLoadTrained} {
		require.False(t, Cacheable(s), s)
	}
	for _, s := range []string{StepTransform, StepValidation, StepSplit, StepTokenize, StepLoad, StepTrain} {
		require.True(t, Cacheable(s), s)
	}
}

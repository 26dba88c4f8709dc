package training

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"spamflow/internal/batch"
	"spamflow/internal/model"
	"spamflow/internal/tokenize"
	"spamflow/internal/tracking"
)

func toyLoader(t *testing.T, n int) *batch.Loader {
	t.Helper()
	set := tokenize.Set{Name: "training", Columns: tokenize.Columns}
	for i := 0; i < n; i++ {
		label := int64(i % 2)
		ids := []int64{101, 1000 + label*10 + int64(i%3), 102}
		set.Examples = append(set.Examples, tokenize.Example{InputIDs: ids, TokenTypeIDs: []int64{0, 0, 0}, AttentionMask: []int64{1, 1, 1}, Label: label})
	}
	l, err := batch.NewLoader(set, 4, true, batch.ShuffleSeed)
	require.NoError(t, err)
	return l
}

func TestTrainerRunPersistsAndTracks(t *testing.T) {
	ctx := context.Background()
	store := tracking.NewMemoryStore()
	rec, err := tracking.Start(ctx, store, "exp", "training_pipeline", nil)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "saved_model")
	tr := New(model.NewFactory(2048, 8, 42), rec, nil)
	require.Equal(t, StateInitialized, tr.State())

	res, err := tr.Run(ctx, toyLoader(t, 24), Options{Epochs: 3, LearningRate: 0.05, NumLabels: 1, ModelDir: dir})
	require.NoError(t, err)
	require.Equal(t, StatePersisted, tr.State())
	require.Len(t, res.EpochLoss, 3)
	require.Less(t, res.EpochLoss[2], res.EpochLoss[0])
	require.GreaterOrEqual(t, res.TrainAccuracy, 0.0)
	require.LessOrEqual(t, res.TrainAccuracy, 1.0)

	raw, err := os.ReadFile(filepath.Join(dir, TrainedModelFile))
	require.NoError(t, err)
	_, err = model.Decode(raw)
	require.NoError(t, err)

	params, err := rec.Params(ctx)
	require.NoError(t, err)
	require.Equal(t, "BCEWithLogitsLoss (unweighted)", params["loss_function"])

	ms, err := rec.Metrics(ctx)
	require.NoError(t, err)
	var keys []string
	for _, m := range ms {
		keys = append(keys, fmt.Sprintf("%s@%d", m.Key, m.Step))
	}
	require.Equal(t, []string{"average_loss@0", "average_loss@1", "average_loss@2", "train_accuracy@2"}, keys)

	_, _, err = store.LatestArtifact(ctx, "exp", TrainedModelFile)
	require.NoError(t, err)
}

func TestTrainerRejectsBadOptions(t *testing.T) {
	tr := New(model.NewFactory(2048, 8, 42), nil, nil)
	_, err := tr.Run(context.Background(), toyLoader(t, 4), Options{Epochs: 0, LearningRate: 0.1, NumLabels: 1})
	require.Error(t, err)
	_, err = tr.Run(context.Background(), toyLoader(t, 4), Options{Epochs: 1, LearningRate: 0.1, NumLabels: 2})
	require.ErrorIs(t, err, model.ErrNumLabels)
}

func TestPredictThreshold(t *testing.T) {
	require.Equal(t, int64(1), Predict(0))
	require.Equal(t, int64(0), Predict(-0.01))
	require.Equal(t, int64(1), Predict(3))
}

package workflows

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"

	"spamflow/internal/activities"
	"spamflow/internal/config"
	"spamflow/internal/dataset"
	"spamflow/internal/metrics"
	"spamflow/internal/pipeline"
	"spamflow/internal/registry"
	"spamflow/internal/tokenize"
	"spamflow/internal/tracking"
)

func registerActivityName[T any](env *testsuite.TestWorkflowEnvironment, name string, fn T) {
	env.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
}

func ref(name string) registry.ArtifactRef {
	return registry.ArtifactRef{ArtifactID: "id-" + name, Name: name, Checksum: "sum-" + name}
}

func outputs(names ...string) activities.StepOutput {
	out := activities.StepOutput{Outputs: map[string]registry.ArtifactRef{}}
	for _, n := range names {
		out.Outputs[n] = ref(n)
	}
	return out
}

func registerStubs(env *testsuite.TestWorkflowEnvironment) {
	registerActivityName(env, "StartRunActivity", func(context.Context, activities.StartRunInput) (activities.StartRunOutput, error) {
		return activities.StartRunOutput{}, nil
	})
	registerActivityName(env, "FinishRunActivity", func(context.Context, activities.FinishRunInput) error { return nil })
	registerActivityName(env, "IngestActivity", func(context.Context, activities.IngestInput) (activities.StepOutput, error) {
		return activities.StepOutput{}, nil
	})
	for _, name := range []string{"CleanActivity", "TransformActivity", "ValidationActivity", "SplitActivity"} {
		registerActivityName(env, name, func(context.Context, activities.DatasetStepInput) (activities.StepOutput, error) {
			return activities.StepOutput{}, nil
		})
	}
	registerActivityName(env, "TokenizeActivity", func(context.Context, activities.TokenizeInput) (activities.StepOutput, error) {
		return activities.StepOutput{}, nil
	})
	registerActivityName(env, "LoadActivity", func(context.Context, activities.LoadInput) (activities.StepOutput, error) {
		return activities.StepOutput{}, nil
	})
	registerActivityName(env, "TrainActivity", func(context.Context, activities.TrainInput) (activities.StepOutput, error) {
		return activities.StepOutput{}, nil
	})
	registerActivityName(env, "EvaluateActivity", func(context.Context, activities.EvaluateInput) (activities.EvaluateOutput, error) {
		return activities.EvaluateOutput{}, nil
	})
	registerActivityName(env, "LoadArtifactActivity", func(context.Context, activities.LoadArtifactInput) (activities.StepOutput, error) {
		return activities.StepOutput{}, nil
	})
}

func mockProcessing(env *testsuite.TestWorkflowEnvironment, noCache bool) {
	env.OnActivity("IngestActivity", mock.Anything, activities.IngestInput{RunID: "run-1", Path: "/data/SMSSpamCollection"}).
		Return(outputs(pipeline.OutputDefault), nil)
	for _, name := range []string{"CleanActivity", "TransformActivity", "ValidationActivity"} {
		env.OnActivity(name, mock.Anything, mock.MatchedBy(func(in activities.DatasetStepInput) bool {
			return in.RunID == "run-1" && in.NoCache == noCache
		})).Return(outputs(pipeline.OutputDefault), nil)
	}
	cached := outputs(pipeline.OutputTrainingData, pipeline.OutputTestingData)
	cached.Cached = !noCache
	env.OnActivity("SplitActivity", mock.Anything, mock.Anything).Return(cached, nil)
	env.OnActivity("TokenizeActivity", mock.Anything, activities.TokenizeInput{
		RunID:    "run-1",
		Training: ref(pipeline.OutputTrainingData),
		Testing:  ref(pipeline.OutputTestingData),
		NoCache:  noCache,
	}).Return(outputs(pipeline.OutputTrainingDataset, pipeline.OutputTestDataset), nil)
	env.OnActivity("LoadActivity", mock.Anything, activities.LoadInput{
		RunID:     "run-1",
		Training:  ref(pipeline.OutputTrainingDataset),
		Testing:   ref(pipeline.OutputTestDataset),
		BatchSize: 16,
		NoCache:   noCache,
	}).Return(outputs(pipeline.OutputTrainingBatch, pipeline.OutputTestingBatch), nil)
}

func TestProcessingWorkflowSuccess(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(ProcessingWorkflow)
	registerStubs(env)

	env.OnActivity("StartRunActivity", mock.Anything, activities.StartRunInput{Pipeline: pipeline.Processing}).Return(activities.StartRunOutput{RunID: "run-1"}, nil)
	mockProcessing(env, false)
	env.OnActivity("FinishRunActivity", mock.Anything, activities.FinishRunInput{RunID: "run-1", Status: registry.StatusCompleted}).Return(nil).Once()

	env.ExecuteWorkflow(ProcessingWorkflow, ProcessingInput{DataPath: "/data/SMSSpamCollection"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out PipelineResult
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, "run-1", out.RunID)
	require.Equal(t, registry.StatusCompleted, out.Status)
	require.Len(t, out.Steps, 7)
	require.Equal(t, registry.StatusCached, out.Steps[pipeline.StepSplit])
	require.Equal(t, registry.StatusCompleted, out.Steps[pipeline.StepLoad])
	require.Nil(t, out.Scores)

	v, err := env.QueryWorkflow(QueryGetPipelineStatus)
	require.NoError(t, err)
	var status PipelineStatus
	require.NoError(t, v.Get(&status))
	require.Equal(t, "done", status.CurrentStep)
	require.Equal(t, pipeline.Processing, status.Pipeline)
	env.AssertExpectations(t)
}

func TestProcessingWorkflowStepFailureMarksRunFailed(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(ProcessingWorkflow)
	registerStubs(env)

	env.OnActivity("StartRunActivity", mock.Anything, mock.Anything).Return(activities.StartRunOutput{RunID: "run-1"}, nil)
	env.OnActivity("IngestActivity", mock.Anything, mock.Anything).Return(activities.StepOutput{}, errors.New("open /nope: no such file or directory"))
	env.OnActivity("FinishRunActivity", mock.Anything, activities.FinishRunInput{RunID: "run-1", Status: registry.StatusFailed}).Return(nil).Once()

	env.ExecuteWorkflow(ProcessingWorkflow, ProcessingInput{DataPath: "/nope"})
	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
	require.Contains(t, env.GetWorkflowError().Error(), "no such file")

	v, err := env.QueryWorkflow(QueryGetPipelineStatus)
	require.NoError(t, err)
	var status PipelineStatus
	require.NoError(t, v.Get(&status))
	require.Equal(t, registry.StatusFailed, status.Status)
	require.Equal(t, pipeline.StepIngester, status.CurrentStep)
	require.Equal(t, registry.StatusFailed, status.Steps[pipeline.StepIngester])
	env.AssertExpectations(t)
}

func TestModelTrainingWorkflowLinksProcessingOutputs(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(ModelTrainingWorkflow)
	registerStubs(env)

	env.OnActivity("StartRunActivity", mock.Anything, activities.StartRunInput{Pipeline: pipeline.ModelTraining}).Return(activities.StartRunOutput{RunID: "run-2"}, nil)
	env.OnActivity("LoadArtifactActivity", mock.Anything, activities.LoadArtifactInput{
		RunID: "run-2", Step: pipeline.StepLoadTraining,
		SourcePipeline: pipeline.Processing, SourceStep: pipeline.StepLoad, SourceOutput: pipeline.OutputTrainingBatch,
	}).Return(activities.StepOutput{Outputs: map[string]registry.ArtifactRef{pipeline.OutputDefault: ref(pipeline.OutputTrainingBatch)}}, nil)
	env.OnActivity("LoadArtifactActivity", mock.Anything, activities.LoadArtifactInput{
		RunID: "run-2", Step: pipeline.StepLoadTesting,
		SourcePipeline: pipeline.Processing, SourceStep: pipeline.StepLoad, SourceOutput: pipeline.OutputTestingBatch,
	}).Return(activities.StepOutput{Outputs: map[string]registry.ArtifactRef{pipeline.OutputDefault: ref(pipeline.OutputTestingBatch)}}, nil)
	env.OnActivity("TrainActivity", mock.Anything, activities.TrainInput{
		RunID: "run-2", TrackingRunID: "track-1", TrainingBatch: ref(pipeline.OutputTrainingBatch),
		Epochs: 2, LearningRate: 0.0002, NumLabels: 1,
	}).Return(outputs(pipeline.OutputDefault), nil)
	env.OnActivity("EvaluateActivity", mock.Anything, activities.EvaluateInput{
		RunID: "run-2", TrackingRunID: "track-1", Model: ref(pipeline.OutputDefault), TestingBatch: ref(pipeline.OutputTestingBatch),
	}).Return(activities.EvaluateOutput{Scores: metrics.Scores{Accuracy: 0.95, Precision: 1, Recall: 0.9, F1: 0.947}, Promoted: true}, nil)
	env.OnActivity("FinishRunActivity", mock.Anything, activities.FinishRunInput{RunID: "run-2", Status: registry.StatusCompleted}).Return(nil).Once()

	env.ExecuteWorkflow(ModelTrainingWorkflow, ModelTrainingInput{TrackingRunID: "track-1"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out PipelineResult
	require.NoError(t, env.GetWorkflowResult(&out))
	require.NotNil(t, out.Scores)
	require.Equal(t, 0.95, out.Scores.Accuracy)
	require.True(t, out.Promoted)
	require.Len(t, out.Steps, 4)
	env.AssertExpectations(t)
}

func TestModelEvaluationWorkflowWithoutTrainedModelFails(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(ModelEvaluationWorkflow)
	registerStubs(env)

	env.OnActivity("StartRunActivity", mock.Anything, mock.Anything).Return(activities.StartRunOutput{RunID: "run-3"}, nil)
	env.OnActivity("LoadArtifactActivity", mock.Anything, mock.MatchedBy(func(in activities.LoadArtifactInput) bool {
		return in.Step == pipeline.StepLoadTesting
	})).Return(activities.StepOutput{Outputs: map[string]registry.ArtifactRef{pipeline.OutputDefault: ref(pipeline.OutputTestingBatch)}}, nil)
	env.OnActivity("LoadArtifactActivity", mock.Anything, mock.MatchedBy(func(in activities.LoadArtifactInput) bool {
		return in.Step == pipeline.StepLoadTrained
	})).Return(activities.StepOutput{}, errors.New("not found: pipeline runs model_training"))
	env.OnActivity("FinishRunActivity", mock.Anything, activities.FinishRunInput{RunID: "run-3", Status: registry.StatusFailed}).Return(nil).Once()

	env.ExecuteWorkflow(ModelEvaluationWorkflow, ModelEvaluationInput{})
	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
	require.Contains(t, env.GetWorkflowError().Error(), "model_training")
	env.AssertExpectations(t)
}

func TestEndToEndWorkflowDisablesCaching(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(EndToEndWorkflow)
	registerStubs(env)

	env.OnActivity("StartRunActivity", mock.Anything, activities.StartRunInput{Pipeline: pipeline.EndToEnd}).Return(activities.StartRunOutput{RunID: "run-1"}, nil)
	mockProcessing(env, true)
	env.OnActivity("TrainActivity", mock.Anything, mock.MatchedBy(func(in activities.TrainInput) bool {
		return in.NoCache && in.Epochs == 1 && in.TrainingBatch == ref(pipeline.OutputTrainingBatch)
	})).Return(outputs(pipeline.OutputDefault), nil)
	env.OnActivity("EvaluateActivity", mock.Anything, mock.MatchedBy(func(in activities.EvaluateInput) bool {
		return in.TestingBatch == ref(pipeline.OutputTestingBatch)
	})).Return(activities.EvaluateOutput{Scores: metrics.Scores{Accuracy: 0.5}}, nil)
	env.OnActivity("FinishRunActivity", mock.Anything, activities.FinishRunInput{RunID: "run-1", Status: registry.StatusCompleted}).Return(nil).Once()

	env.ExecuteWorkflow(EndToEndWorkflow, EndToEndInput{DataPath: "/data/SMSSpamCollection", Epochs: 1})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out PipelineResult
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Len(t, out.Steps, 9)
	require.False(t, out.Promoted)
	env.AssertExpectations(t)
}

func writeMessages(t *testing.T, ham, spam int) string {
	t.Helper()
	var b strings.Builder
	for i := 0; i < ham; i++ {
		fmt.Fprintf(&b, "ham\tok see you at the station at %d\n", i)
	}
	for i := 0; i < spam; i++ {
		fmt.Fprintf(&b, "spam\tURGENT! You won a cash prize, text WIN to %d\n", 80000+i)
	}
	path := filepath.Join(t.TempDir(), "SMSSpamCollection")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func TestEndToEndWorkflowWithRealActivities(t *testing.T) {
	cfg := config.Config{
		ModelDir:         t.TempDir(),
		DataOutRoot:      t.TempDir(),
		Encoder:          "hash",
		VocabSize:        2048,
		EmbedDim:         8,
		MaxSeqLen:        32,
		Device:           "cpu",
		StepCacheSize:    64,
		StepCacheTTLSecs: 60,
		Experiment:       "Spam_Classifier_Experiment",
	}
	reg := registry.NewMemoryStore()
	tracker := tracking.NewMemoryStore()
	acts, err := activities.New(cfg, activities.Deps{Registry: reg, Tracking: tracker})
	require.NoError(t, err)
	rec, err := tracking.Start(context.Background(), tracker, cfg.Experiment, "end_to_end_pipeline", nil)
	require.NoError(t, err)

	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.SetTestTimeout(time.Minute)
	env.RegisterWorkflow(EndToEndWorkflow)
	env.RegisterActivity(acts)

	env.ExecuteWorkflow(EndToEndWorkflow, EndToEndInput{
		DataPath:      writeMessages(t, 120, 10),
		BatchSize:     16,
		TrackingRunID: rec.RunID(),
		Epochs:        1,
		LearningRate:  0.01,
		NumLabels:     1,
	})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out PipelineResult
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, registry.StatusCompleted, out.Status)
	for step, status := range out.Steps {
		require.Equal(t, registry.StatusCompleted, status, step)
	}

	ctx := context.Background()
	bridge := registry.NewBridge(reg, nil)
	balanced, err := registry.LoadAs[dataset.Labeled](ctx, bridge, pipeline.EndToEnd, pipeline.StepValidation, pipeline.OutputDefault)
	require.NoError(t, err)
	require.Equal(t, map[int]int{0: 120, 1: 120}, balanced.Counts())

	test, err := registry.LoadAs[tokenize.Set](ctx, bridge, pipeline.EndToEnd, pipeline.StepTokenize, pipeline.OutputTestDataset)
	require.NoError(t, err)
	require.Equal(t, 48, test.Len())

	for _, name := range []string{pipeline.OutputAccuracy, pipeline.OutputPrecision, pipeline.OutputRecall, pipeline.OutputF1Score} {
		v, err := registry.LoadAs[float64](ctx, bridge, pipeline.EndToEnd, pipeline.StepEvaluate, name)
		require.NoError(t, err, name)
		require.GreaterOrEqual(t, v, 0.0, name)
		require.LessOrEqual(t, v, 1.0, name)
	}
	require.NotNil(t, out.Scores)
}

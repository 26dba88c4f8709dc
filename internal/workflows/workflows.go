package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"spamflow/internal/activities"
	"spamflow/internal/pipeline"
	"spamflow/internal/registry"
)

const QueryGetPipelineStatus = "GetPipelineStatus"

const (
	defaultBatchSize = 16
	defaultEpochs    = 2
	defaultLR        = 0.0002
)

// run carries the status of one pipeline execution and the options every
// step activity runs with. Steps are never retried.
type run struct {
	status PipelineStatus
}

func startRun(ctx workflow.Context, name string) (workflow.Context, *run, error) {
	r := &run{status: PipelineStatus{Pipeline: name, CurrentStep: "init", Status: registry.StatusRunning, Steps: map[string]string{}}}
	if err := workflow.SetQueryHandler(ctx, QueryGetPipelineStatus, func() (PipelineStatus, error) {
		return r.status, nil
	}); err != nil {
		return ctx, nil, err
	}
	ctx = workflow.WithActivityOptions(ctx, stepOptions(10*time.Minute))

	var out activities.StartRunOutput
	if err := workflow.ExecuteActivity(ctx, "StartRunActivity", activities.StartRunInput{Pipeline: name}).Get(ctx, &out); err != nil {
		return ctx, nil, err
	}
	r.status.RunID = out.RunID
	workflow.GetLogger(ctx).Info("pipeline started", "pipeline", name, "run_id", out.RunID)
	return ctx, r, nil
}

func stepOptions(timeout time.Duration) workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
}

// step executes one activity and records its status under name.
func (r *run) step(ctx workflow.Context, name, activity string, input, out any) error {
	r.status.CurrentStep = name
	r.status.Steps[name] = registry.StatusRunning
	if err := workflow.ExecuteActivity(ctx, activity, input).Get(ctx, out); err != nil {
		r.status.Steps[name] = registry.StatusFailed
		return err
	}
	r.status.Steps[name] = registry.StatusCompleted
	switch v := out.(type) {
	case *activities.StepOutput:
		if v.Cached {
			r.status.Steps[name] = registry.StatusCached
		}
	case *activities.EvaluateOutput:
		if v.Cached {
			r.status.Steps[name] = registry.StatusCached
		}
	}
	return nil
}

// fail marks the run failed in the registry and returns the step error.
func (r *run) fail(ctx workflow.Context, err error) (PipelineResult, error) {
	r.status.Status = registry.StatusFailed
	r.status.FailReason = err.Error()
	workflow.GetLogger(ctx).Error("pipeline failed", "pipeline", r.status.Pipeline, "step", r.status.CurrentStep, "error", err)
	_ = workflow.ExecuteActivity(ctx, "FinishRunActivity", activities.FinishRunInput{RunID: r.status.RunID, Status: registry.StatusFailed}).Get(ctx, nil)
	return PipelineResult{}, err
}

func (r *run) finish(ctx workflow.Context) (PipelineResult, error) {
	if err := workflow.ExecuteActivity(ctx, "FinishRunActivity", activities.FinishRunInput{RunID: r.status.RunID, Status: registry.StatusCompleted}).Get(ctx, nil); err != nil {
		return PipelineResult{}, err
	}
	r.status.Status = registry.StatusCompleted
	r.status.CurrentStep = "done"
	workflow.GetLogger(ctx).Info("pipeline completed", "pipeline", r.status.Pipeline, "run_id", r.status.RunID)
	return PipelineResult{Pipeline: r.status.Pipeline, RunID: r.status.RunID, Status: r.status.Status, Steps: r.status.Steps}, nil
}

func ProcessingWorkflow(ctx workflow.Context, input ProcessingInput) (PipelineResult, error) {
	ctx, r, err := startRun(ctx, pipeline.Processing)
	if err != nil {
		return PipelineResult{}, err
	}
	if _, err := r.processing(ctx, input); err != nil {
		return r.fail(ctx, err)
	}
	return r.finish(ctx)
}

// processing runs ingester through load and returns the load outputs.
func (r *run) processing(ctx workflow.Context, input ProcessingInput) (activities.StepOutput, error) {
	runID := r.status.RunID
	var out activities.StepOutput
	if err := r.step(ctx, pipeline.StepIngester, "IngestActivity", activities.IngestInput{RunID: runID, Path: input.DataPath}, &out); err != nil {
		return out, err
	}
	for _, s := range []struct{ name, activity string }{
		{pipeline.StepClean, "CleanActivity"},
		{pipeline.StepTransform, "TransformActivity"},
		{pipeline.StepValidation, "ValidationActivity"},
	} {
		in := activities.DatasetStepInput{RunID: runID, Input: out.Outputs[pipeline.OutputDefault], NoCache: input.NoCache}
		out = activities.StepOutput{}
		if err := r.step(ctx, s.name, s.activity, in, &out); err != nil {
			return out, err
		}
	}

	var split activities.StepOutput
	if err := r.step(ctx, pipeline.StepSplit, "SplitActivity", activities.DatasetStepInput{
		RunID: runID, Input: out.Outputs[pipeline.OutputDefault], NoCache: input.NoCache,
	}, &split); err != nil {
		return split, err
	}

	var tok activities.StepOutput
	if err := r.step(ctx, pipeline.StepTokenize, "TokenizeActivity", activities.TokenizeInput{
		RunID:    runID,
		Training: split.Outputs[pipeline.OutputTrainingData],
		Testing:  split.Outputs[pipeline.OutputTestingData],
		NoCache:  input.NoCache,
	}, &tok); err != nil {
		return tok, err
	}

	batchSize := input.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	var load activities.StepOutput
	err := r.step(ctx, pipeline.StepLoad, "LoadActivity", activities.LoadInput{
		RunID:     runID,
		Training:  tok.Outputs[pipeline.OutputTrainingDataset],
		Testing:   tok.Outputs[pipeline.OutputTestDataset],
		BatchSize: batchSize,
		NoCache:   input.NoCache,
	}, &load)
	return load, err
}

func (r *run) train(ctx workflow.Context, trackingRunID string, trainingBatch registry.ArtifactRef, epochs int, lr float64, numLabels int, noCache bool) (activities.StepOutput, error) {
	if epochs <= 0 {
		epochs = defaultEpochs
	}
	if lr <= 0 {
		lr = defaultLR
	}
	if numLabels <= 0 {
		numLabels = 1
	}
	ctx = workflow.WithActivityOptions(ctx, stepOptions(2*time.Hour))
	var out activities.StepOutput
	err := r.step(ctx, pipeline.StepTrain, "TrainActivity", activities.TrainInput{
		RunID:         r.status.RunID,
		TrackingRunID: trackingRunID,
		TrainingBatch: trainingBatch,
		Epochs:        epochs,
		LearningRate:  lr,
		NumLabels:     numLabels,
		NoCache:       noCache,
	}, &out)
	return out, err
}

func (r *run) evaluate(ctx workflow.Context, trackingRunID string, model, testingBatch registry.ArtifactRef) (activities.EvaluateOutput, error) {
	ctx = workflow.WithActivityOptions(ctx, stepOptions(time.Hour))
	var out activities.EvaluateOutput
	err := r.step(ctx, pipeline.StepEvaluate, "EvaluateActivity", activities.EvaluateInput{
		RunID:         r.status.RunID,
		TrackingRunID: trackingRunID,
		Model:         model,
		TestingBatch:  testingBatch,
	}, &out)
	return out, err
}

// link records an artifact of another pipeline's latest run under step.
func (r *run) link(ctx workflow.Context, step, srcPipeline, srcStep, srcOutput string) (registry.ArtifactRef, error) {
	var out activities.StepOutput
	if err := r.step(ctx, step, "LoadArtifactActivity", activities.LoadArtifactInput{
		RunID:          r.status.RunID,
		Step:           step,
		SourcePipeline: srcPipeline,
		SourceStep:     srcStep,
		SourceOutput:   srcOutput,
	}, &out); err != nil {
		return registry.ArtifactRef{}, err
	}
	return out.Outputs[pipeline.OutputDefault], nil
}

func ModelTrainingWorkflow(ctx workflow.Context, input ModelTrainingInput) (PipelineResult, error) {
	ctx, r, err := startRun(ctx, pipeline.ModelTraining)
	if err != nil {
		return PipelineResult{}, err
	}
	trainingBatch, err := r.link(ctx, pipeline.StepLoadTraining, pipeline.Processing, pipeline.StepLoad, pipeline.OutputTrainingBatch)
	if err != nil {
		return r.fail(ctx, err)
	}
	trained, err := r.train(ctx, input.TrackingRunID, trainingBatch, input.Epochs, input.LearningRate, input.NumLabels, false)
	if err != nil {
		return r.fail(ctx, err)
	}
	testingBatch, err := r.link(ctx, pipeline.StepLoadTesting, pipeline.Processing, pipeline.StepLoad, pipeline.OutputTestingBatch)
	if err != nil {
		return r.fail(ctx, err)
	}
	eval, err := r.evaluate(ctx, input.TrackingRunID, trained.Outputs[pipeline.OutputDefault], testingBatch)
	if err != nil {
		return r.fail(ctx, err)
	}
	return r.scored(ctx, eval)
}

func ModelEvaluationWorkflow(ctx workflow.Context, input ModelEvaluationInput) (PipelineResult, error) {
	ctx, r, err := startRun(ctx, pipeline.ModelEvaluation)
	if err != nil {
		return PipelineResult{}, err
	}
	testingBatch, err := r.link(ctx, pipeline.StepLoadTesting, pipeline.Processing, pipeline.StepLoad, pipeline.OutputTestingBatch)
	if err != nil {
		return r.fail(ctx, err)
	}
	trained, err := r.link(ctx, pipeline.StepLoadTrained, pipeline.ModelTraining, pipeline.StepTrain, pipeline.OutputDefault)
	if err != nil {
		return r.fail(ctx, err)
	}
	eval, err := r.evaluate(ctx, input.TrackingRunID, trained, testingBatch)
	if err != nil {
		return r.fail(ctx, err)
	}
	return r.scored(ctx, eval)
}

func EndToEndWorkflow(ctx workflow.Context, input EndToEndInput) (PipelineResult, error) {
	ctx, r, err := startRun(ctx, pipeline.EndToEnd)
	if err != nil {
		return PipelineResult{}, err
	}
	load, err := r.processing(ctx, ProcessingInput{DataPath: input.DataPath, BatchSize: input.BatchSize, NoCache: true})
	if err != nil {
		return r.fail(ctx, err)
	}
	trained, err := r.train(ctx, input.TrackingRunID, load.Outputs[pipeline.OutputTrainingBatch], input.Epochs, input.LearningRate, input.NumLabels, true)
	if err != nil {
		return r.fail(ctx, err)
	}
	eval, err := r.evaluate(ctx, input.TrackingRunID, trained.Outputs[pipeline.OutputDefault], load.Outputs[pipeline.OutputTestingBatch])
	if err != nil {
		return r.fail(ctx, err)
	}
	return r.scored(ctx, eval)
}

func (r *run) scored(ctx workflow.Context, eval activities.EvaluateOutput) (PipelineResult, error) {
	res, err := r.finish(ctx)
	if err != nil {
		return res, err
	}
	scores := eval.Scores
	res.Scores, res.Promoted = &scores, eval.Promoted
	workflow.GetLogger(ctx).Info("model scored", "accuracy", scores.Accuracy, "f1_score", scores.F1, "promoted", eval.Promoted)
	return res, nil
}

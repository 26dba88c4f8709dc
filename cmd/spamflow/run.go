package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"spamflow/internal/pipeline"
	"spamflow/internal/registry"
	"spamflow/internal/tracking"
	"spamflow/internal/workflows"
)

type runOptions struct {
	LoadData      bool
	TrainModel    bool
	EvaluateModel bool
	EndToEnd      bool
	Path          string
	LearningRate  float64
	NumEpochs     int
	NumLabels     int
	BatchSize     int
}

// runName picks the tracking run name. Training wins over the other flags.
func (o runOptions) runName() string {
	switch {
	case o.TrainModel:
		return "training_pipeline"
	case o.EndToEnd:
		return "end_to_end_pipeline"
	case o.EvaluateModel:
		return "evaluation_pipeline"
	case o.LoadData:
		return "data_pipeline"
	}
	return "manual_run"
}

// workflowRunner starts a pipeline by name and waits for its result.
type workflowRunner interface {
	Run(ctx context.Context, pipeline string, input any) (workflows.PipelineResult, error)
}

type temporalRunner struct {
	c     client.Client
	queue string
}

func (r temporalRunner) Run(ctx context.Context, name string, input any) (workflows.PipelineResult, error) {
	we, err := r.c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        name + "-" + uuid.NewString(),
		TaskQueue: r.queue,
	}, name, input)
	if err != nil {
		return workflows.PipelineResult{}, fmt.Errorf("start %s: %w", name, err)
	}
	var res workflows.PipelineResult
	if err := we.Get(ctx, &res); err != nil {
		return workflows.PipelineResult{}, fmt.Errorf("%s failed: %w", name, err)
	}
	return res, nil
}

type env struct {
	runner     workflowRunner
	bridge     *registry.Bridge
	tracking   tracking.Store
	experiment string
	log        *zap.Logger
}

// execute runs the selected pipelines in a fixed order inside one tracking run.
func execute(ctx context.Context, o runOptions, e env) (err error) {
	if (o.LoadData || o.EndToEnd) && o.Path == "" {
		return errors.New("--path is required with --load-data and --end-to-end")
	}
	e.log.Info("flags",
		zap.Bool("load_data", o.LoadData),
		zap.Bool("train_model", o.TrainModel),
		zap.Bool("evaluate_model", o.EvaluateModel),
		zap.Bool("end_to_end", o.EndToEnd))

	rec, err := tracking.Start(ctx, e.tracking, e.experiment, o.runName(), e.log)
	if err != nil {
		return err
	}
	defer func() {
		status := tracking.StatusFinished
		if err != nil {
			status = tracking.StatusFailed
		}
		if endErr := rec.End(context.WithoutCancel(ctx), status); endErr != nil && err == nil {
			err = endErr
		}
	}()

	if o.TrainModel || o.EndToEnd {
		for k, v := range map[string]any{"num_epochs": o.NumEpochs, "batch_size": o.BatchSize, "learning_rate": o.LearningRate} {
			if err := rec.LogParam(ctx, k, v); err != nil {
				return err
			}
		}
	}

	if o.LoadData {
		if err := e.run(ctx, pipeline.Processing, workflows.ProcessingInput{DataPath: o.Path, BatchSize: o.BatchSize}); err != nil {
			return err
		}
	}
	if o.TrainModel {
		if err := e.run(ctx, pipeline.ModelTraining, workflows.ModelTrainingInput{
			TrackingRunID: rec.RunID(), Epochs: o.NumEpochs, LearningRate: o.LearningRate, NumLabels: o.NumLabels,
		}); err != nil {
			return err
		}
	}
	if o.EvaluateModel {
		if _, err := e.bridge.RequireSuccessfulRun(ctx, pipeline.ModelTraining); err != nil {
			return err
		}
		if err := e.run(ctx, pipeline.ModelEvaluation, workflows.ModelEvaluationInput{TrackingRunID: rec.RunID()}); err != nil {
			return err
		}
	}
	if o.EndToEnd {
		if err := e.run(ctx, pipeline.EndToEnd, workflows.EndToEndInput{
			DataPath: o.Path, BatchSize: o.BatchSize, TrackingRunID: rec.RunID(),
			Epochs: o.NumEpochs, LearningRate: o.LearningRate, NumLabels: o.NumLabels,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (e env) run(ctx context.Context, name string, input any) error {
	res, err := e.runner.Run(ctx, name, input)
	if err != nil {
		return err
	}
	fields := []zap.Field{zap.String("pipeline", name), zap.String("run_id", res.RunID), zap.Any("steps", res.Steps)}
	if res.Scores != nil {
		fields = append(fields,
			zap.Float64("accuracy", res.Scores.Accuracy),
			zap.Float64("f1_score", res.Scores.F1),
			zap.Bool("promoted", res.Promoted))
	}
	e.log.Info("pipeline finished", fields...)
	return nil
}

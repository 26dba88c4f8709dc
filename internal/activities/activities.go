package activities

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"spamflow/internal/batch"
	"spamflow/internal/config"
	"spamflow/internal/dataset"
	"spamflow/internal/evaluation"
	"spamflow/internal/logger"
	"spamflow/internal/model"
	"spamflow/internal/pipeline"
	"spamflow/internal/providers"
	"spamflow/internal/registry"
	"spamflow/internal/tokenize"
	"spamflow/internal/tracking"
	"spamflow/internal/training"
)

type Activities struct {
	cfg      config.Config
	runner   *pipeline.Runner
	bridge   *registry.Bridge
	tracking tracking.Store
	encoder  providers.TextEncoder
	factory  model.Factory
	log      *zap.Logger
}

type Deps struct {
	Registry registry.Store
	Tracking tracking.Store
	Encoders *providers.Manager
	Log      *zap.Logger
}

func New(cfg config.Config, deps Deps) (*Activities, error) {
	log := logger.OrNop(deps.Log)
	runner, err := pipeline.NewRunner(deps.Registry, int64(cfg.StepCacheSize), time.Duration(cfg.StepCacheTTLSecs)*time.Second, log)
	if err != nil {
		return nil, err
	}
	enc := deps.Encoders
	if enc == nil {
		if enc, err = providers.NewManager(cfg, log); err != nil {
			return nil, err
		}
	}
	vocab := cfg.VocabSize
	if v := enc.Encoder().Info().VocabSize; v > 0 {
		vocab = v
	}
	return &Activities{
		cfg:      cfg,
		runner:   runner,
		bridge:   registry.NewBridge(deps.Registry, log),
		tracking: deps.Tracking,
		encoder:  enc.Encoder(),
		factory:  model.NewFactory(vocab, cfg.EmbedDim, 42),
		log:      log,
	}, nil
}

func (a *Activities) StartRunActivity(ctx context.Context, in StartRunInput) (StartRunOutput, error) {
	run, err := a.runner.StartRun(ctx, in.Pipeline)
	if err != nil {
		return StartRunOutput{}, err
	}
	return StartRunOutput{RunID: run.ID}, nil
}

func (a *Activities) FinishRunActivity(ctx context.Context, in FinishRunInput) error {
	return a.runner.FinishRun(ctx, in.RunID, in.Status)
}

func (a *Activities) IngestActivity(ctx context.Context, in IngestInput) (StepOutput, error) {
	spec := pipeline.StepSpec{
		Name:    pipeline.StepIngester,
		Params:  map[string]any{"path": in.Path},
		Outputs: []string{pipeline.OutputDefault},
	}
	return a.execute(ctx, in.RunID, spec, func(ctx context.Context) (map[string]any, error) {
		raw, err := dataset.Ingest(in.Path)
		if err != nil {
			a.log.Error("ingestion failed", zap.String("path", in.Path), zap.Error(err))
			return nil, err
		}
		a.log.Info("dataset ingested", zap.String("path", in.Path), zap.Int("rows", len(raw.Rows)))
		return map[string]any{pipeline.OutputDefault: raw}, nil
	})
}

func (a *Activities) CleanActivity(ctx context.Context, in DatasetStepInput) (StepOutput, error) {
	spec := a.spec(pipeline.StepClean, in.NoCache, []registry.ArtifactRef{in.Input}, nil, pipeline.OutputDefault)
	return a.execute(ctx, in.RunID, spec, func(ctx context.Context) (map[string]any, error) {
		var raw dataset.Raw
		if err := a.bridge.Fetch(ctx, in.Input, &raw); err != nil {
			return nil, err
		}
		return map[string]any{pipeline.OutputDefault: dataset.Clean(raw, a.log)}, nil
	})
}

func (a *Activities) TransformActivity(ctx context.Context, in DatasetStepInput) (StepOutput, error) {
	spec := a.spec(pipeline.StepTransform, in.NoCache, []registry.ArtifactRef{in.Input}, nil, pipeline.OutputDefault)
	return a.execute(ctx, in.RunID, spec, func(ctx context.Context) (map[string]any, error) {
		var raw dataset.Raw
		if err := a.bridge.Fetch(ctx, in.Input, &raw); err != nil {
			return nil, err
		}
		a.log.Info("Encoding the labels")
		labeled, err := dataset.EncodeLabels(raw)
		if err != nil {
			return nil, err
		}
		return map[string]any{pipeline.OutputDefault: labeled}, nil
	})
}

func (a *Activities) ValidationActivity(ctx context.Context, in DatasetStepInput) (StepOutput, error) {
	spec := a.spec(pipeline.StepValidation, in.NoCache, []registry.ArtifactRef{in.Input},
		map[string]any{"threshold": dataset.ImbalanceThreshold, "seed": dataset.BalanceSeed}, pipeline.OutputDefault)
	return a.execute(ctx, in.RunID, spec, func(ctx context.Context) (map[string]any, error) {
		var labeled dataset.Labeled
		if err := a.bridge.Fetch(ctx, in.Input, &labeled); err != nil {
			return nil, err
		}
		a.log.Info("Checking class imbalance")
		balanced, err := dataset.Balance(labeled, a.log)
		if err != nil {
			return nil, err
		}
		return map[string]any{pipeline.OutputDefault: balanced}, nil
	})
}

func (a *Activities) SplitActivity(ctx context.Context, in DatasetStepInput) (StepOutput, error) {
	spec := a.spec(pipeline.StepSplit, in.NoCache, []registry.ArtifactRef{in.Input},
		map[string]any{"test_size": dataset.TestFraction, "seed": dataset.SplitSeed},
		pipeline.OutputTrainingData, pipeline.OutputTestingData)
	return a.execute(ctx, in.RunID, spec, func(ctx context.Context) (map[string]any, error) {
		var labeled dataset.Labeled
		if err := a.bridge.Fetch(ctx, in.Input, &labeled); err != nil {
			return nil, err
		}
		a.log.Info("Preparing the dataset with train and test")
		train, test := dataset.Split(labeled)
		return map[string]any{pipeline.OutputTrainingData: train, pipeline.OutputTestingData: test}, nil
	})
}

func (a *Activities) TokenizeActivity(ctx context.Context, in TokenizeInput) (StepOutput, error) {
	info := a.encoder.Info()
	spec := a.spec(pipeline.StepTokenize, in.NoCache, []registry.ArtifactRef{in.Training, in.Testing},
		map[string]any{"encoder": info.Ref, "vocab_size": info.VocabSize, "max_length": a.cfg.MaxSeqLen},
		pipeline.OutputTrainingDataset, pipeline.OutputTestDataset)
	return a.execute(ctx, in.RunID, spec, func(ctx context.Context) (map[string]any, error) {
		var train, test dataset.Labeled
		if err := a.bridge.Fetch(ctx, in.Training, &train); err != nil {
			return nil, err
		}
		if err := a.bridge.Fetch(ctx, in.Testing, &test); err != nil {
			return nil, err
		}
		adapter := tokenize.NewAdapter(a.encoder, a.cfg.MaxSeqLen, a.log)
		trainSet, testSet, err := adapter.EncodePair(ctx, train, test)
		if err != nil {
			return nil, err
		}
		return map[string]any{pipeline.OutputTrainingDataset: trainSet, pipeline.OutputTestDataset: testSet}, nil
	})
}

func (a *Activities) LoadActivity(ctx context.Context, in LoadInput) (StepOutput, error) {
	spec := a.spec(pipeline.StepLoad, in.NoCache, []registry.ArtifactRef{in.Training, in.Testing},
		map[string]any{"batch_size": in.BatchSize}, pipeline.OutputTrainingBatch, pipeline.OutputTestingBatch)
	return a.execute(ctx, in.RunID, spec, func(ctx context.Context) (map[string]any, error) {
		var train, test tokenize.Set
		if err := a.bridge.Fetch(ctx, in.Training, &train); err != nil {
			return nil, err
		}
		if err := a.bridge.Fetch(ctx, in.Testing, &test); err != nil {
			return nil, err
		}
		a.log.Info("Applying padding to get same size for inputs", zap.Int("batch_size", in.BatchSize))
		trainLoader, testLoader, err := batch.Pair(train, test, in.BatchSize)
		if err != nil {
			return nil, err
		}
		return map[string]any{pipeline.OutputTrainingBatch: trainLoader, pipeline.OutputTestingBatch: testLoader}, nil
	})
}

func (a *Activities) TrainActivity(ctx context.Context, in TrainInput) (StepOutput, error) {
	spec := a.spec(pipeline.StepTrain, in.NoCache, []registry.ArtifactRef{in.TrainingBatch},
		map[string]any{
			"epochs":        in.Epochs,
			"learning_rate": in.LearningRate,
			"num_labels":    in.NumLabels,
			"embed_dim":     a.cfg.EmbedDim,
			"vocab_size":    a.encoder.Info().VocabSize,
			"device":        a.cfg.Device,
		}, pipeline.OutputDefault)
	return a.execute(ctx, in.RunID, spec, func(ctx context.Context) (map[string]any, error) {
		loader := &batch.Loader{}
		if err := a.bridge.Fetch(ctx, in.TrainingBatch, loader); err != nil {
			return nil, err
		}
		rec, err := a.recorder(ctx, in.TrackingRunID)
		if err != nil {
			return nil, err
		}
		tr := training.New(a.factory, rec, a.log)
		res, err := tr.Run(ctx, loader, training.Options{
			Epochs:       in.Epochs,
			LearningRate: in.LearningRate,
			NumLabels:    in.NumLabels,
			Device:       a.cfg.Device,
			ModelDir:     a.cfg.ModelDir,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{pipeline.OutputDefault: res.Model}, nil
	})
}

func (a *Activities) EvaluateActivity(ctx context.Context, in EvaluateInput) (EvaluateOutput, error) {
	var out EvaluateOutput
	spec := a.spec(pipeline.StepEvaluate, false, []registry.ArtifactRef{in.Model, in.TestingBatch}, nil,
		pipeline.OutputAccuracy, pipeline.OutputPrecision, pipeline.OutputRecall, pipeline.OutputF1Score)
	step, err := a.execute(ctx, in.RunID, spec, func(ctx context.Context) (map[string]any, error) {
		clf := &model.BagOfEmbeddings{}
		if err := a.bridge.Fetch(ctx, in.Model, clf); err != nil {
			return nil, err
		}
		loader := &batch.Loader{}
		if err := a.bridge.Fetch(ctx, in.TestingBatch, loader); err != nil {
			return nil, err
		}
		rec, err := a.recorder(ctx, in.TrackingRunID)
		if err != nil {
			return nil, err
		}
		rep, err := a.evaluator(rec).Run(ctx, clf, loader)
		if err != nil {
			return nil, err
		}
		out.Scores, out.Promoted = rep.Scores, rep.Promoted
		return map[string]any{
			pipeline.OutputAccuracy:  rep.Accuracy,
			pipeline.OutputPrecision: rep.Precision,
			pipeline.OutputRecall:    rep.Recall,
			pipeline.OutputF1Score:   rep.F1,
		}, nil
	})
	if err != nil {
		return EvaluateOutput{}, err
	}
	out.StepOutput = step
	return out, nil
}

func (a *Activities) LoadArtifactActivity(ctx context.Context, in LoadArtifactInput) (StepOutput, error) {
	ref, err := a.bridge.Ref(ctx, in.SourcePipeline, in.SourceStep, in.SourceOutput)
	if err != nil {
		return StepOutput{}, err
	}
	spec := pipeline.StepSpec{
		Name:    in.Step,
		Params:  map[string]any{"pipeline": in.SourcePipeline, "step": in.SourceStep, "output": in.SourceOutput},
		Outputs: []string{pipeline.OutputDefault},
	}
	res, err := a.runner.Link(ctx, in.RunID, spec, map[string]registry.ArtifactRef{pipeline.OutputDefault: ref})
	if err != nil {
		return StepOutput{}, err
	}
	return StepOutput{Outputs: res.Outputs}, nil
}

func (a *Activities) spec(name string, noCache bool, inputs []registry.ArtifactRef, params map[string]any, outputs ...string) pipeline.StepSpec {
	return pipeline.StepSpec{
		Name:      name,
		Cacheable: pipeline.Cacheable(name) && !noCache,
		Inputs:    inputs,
		Params:    params,
		Outputs:   outputs,
	}
}

func (a *Activities) execute(ctx context.Context, runID string, spec pipeline.StepSpec, fn pipeline.StepFunc) (StepOutput, error) {
	a.log.Debug("step starting", zap.String("step", spec.Name), zap.String("run_id", runID))
	res, err := a.runner.Execute(ctx, runID, spec, fn)
	if err != nil {
		return StepOutput{}, err
	}
	return StepOutput{Outputs: res.Outputs, Cached: res.Cached}, nil
}

func (a *Activities) recorder(ctx context.Context, runID string) (*tracking.Recorder, error) {
	if runID == "" || a.tracking == nil {
		return nil, nil
	}
	rec, err := tracking.Attach(ctx, a.tracking, runID, a.log)
	if err != nil {
		return nil, fmt.Errorf("attach tracking run: %w", err)
	}
	return rec, nil
}

func (a *Activities) evaluator(rec *tracking.Recorder) *evaluation.Evaluator {
	return evaluation.New(rec, a.encoder.Info(), evaluation.Options{
		ModelDir: a.cfg.ModelDir,
		OutDir:   a.cfg.DataOutRoot,
		Device:   a.cfg.Device,
	}, a.log)
}

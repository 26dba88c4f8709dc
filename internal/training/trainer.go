// Package training fine-tunes a sequence classifier on a batch loader.
package training

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"spamflow/internal/batch"
	"spamflow/internal/logger"
	"spamflow/internal/metrics"
	"spamflow/internal/model"
	"spamflow/internal/tracking"
	"spamflow/internal/util"
)

const (
	TrainedModelFile = "trained_model.json"
	logEvery         = 100
)

type State int

const (
	StateInitialized State = iota
	StateTraining
	StateEvaluatedOnTrain
	StatePersisted
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateTraining:
		return "training"
	case StateEvaluatedOnTrain:
		return "evaluated_on_train"
	case StatePersisted:
		return "persisted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Options struct {
	Epochs       int
	LearningRate float64
	NumLabels    int
	Device       string
	ModelDir     string
}

type Result struct {
	Model         model.SequenceClassifier
	EpochLoss     []float64
	TrainAccuracy float64
	ModelPath     string
}

type Trainer struct {
	factory model.Factory
	rec     *tracking.Recorder
	log     *zap.Logger

	state State
	epoch int
	step  int
}

// New builds a trainer. rec may be nil when no tracking run is attached.
func New(factory model.Factory, rec *tracking.Recorder, log *zap.Logger) *Trainer {
	return &Trainer{factory: factory, rec: rec, log: logger.OrNop(log)}
}

func (t *Trainer) State() State { return t.state }

// Progress returns the current epoch (1-based) and step within it.
func (t *Trainer) Progress() (epoch, step int) { return t.epoch, t.step }

func (t *Trainer) Run(ctx context.Context, loader *batch.Loader, opts Options) (Result, error) {
	if opts.Epochs <= 0 {
		return Result{}, fmt.Errorf("epochs must be positive, got %d", opts.Epochs)
	}
	if opts.LearningRate <= 0 {
		return Result{}, fmt.Errorf("learning rate must be positive, got %g", opts.LearningRate)
	}
	device := opts.Device
	if device == "" {
		device = batch.DefaultDevice
	}
	clf, err := t.factory(opts.NumLabels)
	if err != nil {
		return Result{}, fmt.Errorf("build classifier: %w", err)
	}
	clf.To(device)
	opt := model.NewAdam(opts.LearningRate)
	t.state = StateInitialized

	if err := t.logParam(ctx, "loss_function", model.LossFunction+" (unweighted)"); err != nil {
		return Result{}, err
	}
	t.logLabelDistribution(loader)

	t.log.Info("Model is training", zap.Int("epochs", opts.Epochs), zap.Int("steps_per_epoch", loader.Len()), zap.String("device", device))
	clf.Train()
	t.state = StateTraining
	res := Result{Model: clf}
	for e := 0; e < opts.Epochs; e++ {
		t.epoch = e + 1
		total, steps := 0.0, 0
		for b := range loader.Batches() {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
			t.step = steps
			loss, err := clf.TrainStep(b.To(device), opt)
			if err != nil {
				return Result{}, fmt.Errorf("epoch %d step %d: %w", t.epoch, steps, err)
			}
			if steps%logEvery == 0 {
				t.log.Info("training progress", zap.Int("epoch", t.epoch), zap.Int("of", opts.Epochs), zap.Int("step", steps), zap.Float64("loss", loss))
			}
			total += loss
			steps++
		}
		avg := 0.0
		if steps > 0 {
			avg = total / float64(steps)
		}
		res.EpochLoss = append(res.EpochLoss, avg)
		if err := t.logMetric(ctx, "average_loss", avg, e); err != nil {
			return Result{}, err
		}
		t.log.Info("epoch finished", zap.Int("epoch", t.epoch), zap.Float64("average_loss", avg))
	}

	clf.Eval()
	var truth, preds []int64
	for b := range loader.Batches() {
		logits, err := clf.Forward(b.To(device))
		if err != nil {
			return Result{}, fmt.Errorf("training accuracy pass: %w", err)
		}
		for i, row := range logits {
			preds = append(preds, Predict(row[0]))
			truth = append(truth, b.Labels[i])
		}
	}
	res.TrainAccuracy = metrics.Compute(metrics.Tally(truth, preds)).Accuracy
	t.state = StateEvaluatedOnTrain
	if err := t.logMetric(ctx, "train_accuracy", res.TrainAccuracy, opts.Epochs-1); err != nil {
		return Result{}, err
	}
	t.log.Info("Training is finished", zap.Float64("train_accuracy", res.TrainAccuracy))

	path, err := t.persist(ctx, clf, opts.ModelDir)
	if err != nil {
		return Result{}, err
	}
	res.ModelPath = path
	t.state = StatePersisted
	return res, nil
}

// Predict maps a logit to a class with the 0.5 probability cut.
func Predict(logit float64) int64 {
	if model.Sigmoid(logit) >= 0.5 {
		return 1
	}
	return 0
}

func (t *Trainer) persist(ctx context.Context, clf model.SequenceClassifier, dir string) (string, error) {
	if dir == "" {
		dir = "saved_model"
	}
	if err := util.EnsureDir(dir); err != nil {
		return "", fmt.Errorf("create model dir: %w", err)
	}
	path := filepath.Join(dir, TrainedModelFile)
	if err := util.WriteJSONAtomic(path, clf); err != nil {
		return "", fmt.Errorf("save model: %w", err)
	}
	if t.rec != nil {
		data, err := json.Marshal(clf)
		if err != nil {
			return "", fmt.Errorf("encode model artifact: %w", err)
		}
		if err := t.rec.LogArtifact(ctx, TrainedModelFile, data); err != nil {
			return "", err
		}
	}
	abs, _ := filepath.Abs(path)
	t.log.Info("Model saved", zap.String("path", abs))
	return path, nil
}

func (t *Trainer) logLabelDistribution(loader *batch.Loader) {
	counts := map[int64]int{}
	for _, ex := range loader.Examples {
		counts[ex.Label]++
	}
	t.log.Info("Label distribution before training", zap.Any("labels", counts))
}

func (t *Trainer) logParam(ctx context.Context, key string, v any) error {
	if t.rec == nil {
		return nil
	}
	return t.rec.LogParam(ctx, key, v)
}

func (t *Trainer) logMetric(ctx context.Context, key string, v float64, step int) error {
	if t.rec == nil {
		return nil
	}
	return t.rec.LogMetric(ctx, key, v, step)
}

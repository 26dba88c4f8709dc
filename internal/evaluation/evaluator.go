// Package evaluation scores a classifier on held-out batches and promotes it
// for serving when it clears the accuracy gate.
package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"spamflow/internal/batch"
	"spamflow/internal/logger"
	"spamflow/internal/metrics"
	"spamflow/internal/model"
	"spamflow/internal/providers"
	"spamflow/internal/tracking"
	"spamflow/internal/training"
	"spamflow/internal/util"
)

const (
	PromotionThreshold = 0.90
	PromotedModelFile  = "model.json"
	MisclassifiedFile  = "misclassified_samples_test.csv"
)

type Misclassified struct {
	TrueLabel      int64 `json:"true_label"`
	PredictedLabel int64 `json:"predicted_label"`
}

// Bundle is the promoted, self-describing serving artifact.
type Bundle struct {
	Model     json.RawMessage       `json:"model"`
	Metrics   BundleMetrics         `json:"metrics"`
	Params    map[string]string     `json:"params"`
	RunID     string                `json:"run_id"`
	Tokenizer providers.EncoderInfo `json:"tokenizer"`
}

type BundleMetrics struct {
	Accuracy float64 `json:"accuracy"`
	F1Score  float64 `json:"f1_score"`
}

type Report struct {
	metrics.Scores
	Confusion     metrics.Confusion `json:"confusion"`
	Misclassified []Misclassified   `json:"misclassified"`
	Promoted      bool              `json:"promoted"`
	BundlePath    string            `json:"bundle_path,omitempty"`
}

type Options struct {
	ModelDir string
	// OutDir receives the misclassified samples file.
	OutDir string
	Device string
}

type Evaluator struct {
	rec       *tracking.Recorder
	tokenizer providers.EncoderInfo
	opts      Options
	log       *zap.Logger
}

func New(rec *tracking.Recorder, tokenizer providers.EncoderInfo, opts Options, log *zap.Logger) *Evaluator {
	if opts.ModelDir == "" {
		opts.ModelDir = "saved_model"
	}
	if opts.OutDir == "" {
		opts.OutDir = "."
	}
	if opts.Device == "" {
		opts.Device = batch.DefaultDevice
	}
	return &Evaluator{rec: rec, tokenizer: tokenizer, opts: opts, log: logger.OrNop(log)}
}

func (e *Evaluator) Run(ctx context.Context, clf model.SequenceClassifier, loader *batch.Loader) (Report, error) {
	e.log.Info("Evaluation phase started", zap.Int("batches", loader.Len()))
	clf.Eval()
	clf.To(e.opts.Device)

	var rep Report
	var truth, preds []int64
	for b := range loader.Batches() {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		logits, err := clf.Forward(b.To(clf.Device()))
		if err != nil {
			return Report{}, fmt.Errorf("evaluate batch: %w", err)
		}
		for i, row := range logits {
			p := training.Predict(row[0])
			preds = append(preds, p)
			truth = append(truth, b.Labels[i])
			if p != b.Labels[i] {
				rep.Misclassified = append(rep.Misclassified, Misclassified{TrueLabel: b.Labels[i], PredictedLabel: p})
			}
		}
	}
	if err := e.writeMisclassified(rep.Misclassified); err != nil {
		return Report{}, err
	}
	e.log.Info("Testing is finished", zap.Int("examples", len(truth)))

	rep.Confusion = metrics.Tally(truth, preds)
	rep.Scores = metrics.Compute(rep.Confusion)
	if err := e.logMetrics(ctx, rep); err != nil {
		return Report{}, err
	}

	if ShouldPromote(rep.Accuracy) {
		path, err := e.promote(ctx, clf, rep.Scores)
		if err != nil {
			return Report{}, err
		}
		rep.Promoted, rep.BundlePath = true, path
		e.log.Info("Model is saved for deployment", zap.String("path", path), zap.Float64("accuracy", rep.Accuracy))
	} else {
		e.log.Info("Not good enough to save the model", zap.Float64("accuracy", rep.Accuracy), zap.Float64("threshold", PromotionThreshold))
	}
	return rep, nil
}

// ShouldPromote is the accuracy gate.
func ShouldPromote(accuracy float64) bool {
	return accuracy >= PromotionThreshold
}

func (e *Evaluator) writeMisclassified(rows []Misclassified) error {
	if len(rows) == 0 {
		e.log.Info("No misclassified samples found")
		return nil
	}
	out := make([][]string, 0, len(rows))
	for _, m := range rows {
		out = append(out, []string{strconv.FormatInt(m.TrueLabel, 10), strconv.FormatInt(m.PredictedLabel, 10)})
	}
	path := filepath.Join(e.opts.OutDir, MisclassifiedFile)
	if err := util.WriteCSVAtomic(path, []string{"true_label", "predicted_label"}, out); err != nil {
		return fmt.Errorf("write misclassified samples: %w", err)
	}
	e.log.Info("Saved misclassified samples", zap.Int("rows", len(rows)), zap.String("path", path))
	return nil
}

func (e *Evaluator) logMetrics(ctx context.Context, rep Report) error {
	if e.rec == nil {
		return nil
	}
	c := rep.Confusion
	if err := e.rec.LogMetrics(ctx, map[string]float64{
		"true_positives": float64(c.TP),
		"true_negatives": float64(c.TN),
		"false_positive": float64(c.FP),
		"false_negative": float64(c.FN),
	}); err != nil {
		return err
	}
	return e.rec.LogMetrics(ctx, map[string]float64{
		"accuracy":  rep.Accuracy,
		"precision": rep.Precision,
		"recall":    rep.Recall,
		"f1_score":  rep.F1,
	})
}

func (e *Evaluator) promote(ctx context.Context, clf model.SequenceClassifier, s metrics.Scores) (string, error) {
	weights, err := json.Marshal(clf)
	if err != nil {
		return "", fmt.Errorf("encode model: %w", err)
	}
	bundle := Bundle{
		Model:     weights,
		Metrics:   BundleMetrics{Accuracy: s.Accuracy, F1Score: s.F1},
		Params:    map[string]string{},
		Tokenizer: e.tokenizer,
	}
	if e.rec != nil {
		bundle.RunID = e.rec.RunID()
		params, err := e.rec.Params(ctx)
		if err != nil {
			return "", fmt.Errorf("read run params: %w", err)
		}
		if params != nil {
			bundle.Params = params
		}
	}
	path := filepath.Join(e.opts.ModelDir, PromotedModelFile)
	if err := util.WriteJSONAtomic(path, bundle); err != nil {
		return "", fmt.Errorf("save promoted model: %w", err)
	}
	if e.rec != nil {
		data, err := json.Marshal(bundle)
		if err != nil {
			return "", fmt.Errorf("encode bundle: %w", err)
		}
		if err := e.rec.LogArtifact(ctx, PromotedModelFile, data); err != nil {
			return "", err
		}
	}
	return path, nil
}

// LoadBundle reads a promoted bundle and restores its classifier.
func LoadBundle(data []byte) (Bundle, *model.BagOfEmbeddings, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return Bundle{}, nil, fmt.Errorf("decode bundle: %w", err)
	}
	clf, err := model.Decode(b.Model)
	if err != nil {
		return Bundle{}, nil, err
	}
	return b, clf, nil
}

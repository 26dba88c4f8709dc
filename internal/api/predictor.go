package api

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"spamflow/internal/batch"
	"spamflow/internal/config"
	"spamflow/internal/evaluation"
	"spamflow/internal/logger"
	"spamflow/internal/model"
	"spamflow/internal/providers"
	"spamflow/internal/tokenize"
	"spamflow/internal/tracking"
	"spamflow/internal/training"
	"spamflow/internal/util"
)

const (
	LabelSpam  = "Spam message"
	LabelValid = "Valid message"
)

var ErrNoModel = errors.New("no promoted model available")

// Predictor serves a promoted bundle. Forward passes are serialized because
// the classifier keeps its device and mode as mutable state.
type Predictor struct {
	mu        sync.Mutex
	bundle    evaluation.Bundle
	clf       *model.BagOfEmbeddings
	enc       providers.TextEncoder
	maxLength int
}

func NewPredictor(data []byte, maxLength int, log *zap.Logger) (*Predictor, error) {
	bundle, clf, err := evaluation.LoadBundle(data)
	if err != nil {
		return nil, err
	}
	enc, err := providers.FromInfo(bundle.Tokenizer, log)
	if err != nil {
		return nil, fmt.Errorf("rebuild tokenizer: %w", err)
	}
	if maxLength <= 0 {
		maxLength = tokenize.DefaultMaxLength
	}
	clf.To(batch.DefaultDevice)
	clf.Eval()
	return &Predictor{bundle: bundle, clf: clf, enc: enc, maxLength: maxLength}, nil
}

// LoadPredictor reads <model_dir>/model.json. When the file is absent it
// pulls the latest promoted bundle from the tracking store and caches it there.
func LoadPredictor(ctx context.Context, cfg config.Config, store tracking.Store, log *zap.Logger) (*Predictor, error) {
	log = logger.OrNop(log)
	path := filepath.Join(cfg.ModelDir, evaluation.PromotedModelFile)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		log.Info("loaded promoted model", zap.String("path", path))
	case errors.Is(err, os.ErrNotExist) && store != nil:
		var runID string
		data, runID, err = store.LatestArtifact(ctx, cfg.Experiment, evaluation.PromotedModelFile)
		if errors.Is(err, util.ErrNotFound) {
			return nil, ErrNoModel
		}
		if err != nil {
			return nil, fmt.Errorf("fetch promoted model: %w", err)
		}
		if err := util.WriteFileAtomic(path, data); err != nil {
			return nil, fmt.Errorf("cache promoted model: %w", err)
		}
		log.Info("downloaded promoted model", zap.String("run_id", runID), zap.String("path", path))
	case errors.Is(err, os.ErrNotExist):
		return nil, ErrNoModel
	default:
		return nil, fmt.Errorf("read promoted model: %w", err)
	}
	return NewPredictor(data, cfg.MaxSeqLen, log)
}

func (p *Predictor) Bundle() evaluation.Bundle { return p.bundle }

// Predict returns the class and the spam probability of message.
func (p *Predictor) Predict(ctx context.Context, message string) (int64, float64, error) {
	enc, err := p.enc.Encode(ctx, []string{message}, p.maxLength)
	if err != nil {
		return 0, 0, fmt.Errorf("tokenize: %w", err)
	}
	if enc.Len() != 1 {
		return 0, 0, fmt.Errorf("tokenize: expected 1 row, got %d", enc.Len())
	}
	b := batch.Collate([]tokenize.Example{{
		InputIDs:      enc.InputIDs[0],
		TokenTypeIDs:  enc.TokenTypeIDs[0],
		AttentionMask: enc.AttentionMask[0],
	}})

	p.mu.Lock()
	logits, err := p.clf.Forward(b.To(p.clf.Device()))
	p.mu.Unlock()
	if err != nil {
		return 0, 0, err
	}
	z := logits[0][0]
	return training.Predict(z), model.Sigmoid(z), nil
}

func Label(class int64) string {
	if class == 1 {
		return LabelSpam
	}
	return LabelValid
}

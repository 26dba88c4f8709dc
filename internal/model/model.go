// Package model contains the sequence classifier trained by the pipeline.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"spamflow/internal/batch"
	"spamflow/internal/providers"
)

const LossFunction = "BCEWithLogitsLoss"

var (
	ErrDeviceMismatch = errors.New("model and batch are on different devices")
	ErrNotTraining    = errors.New("model is in eval mode")
	ErrNumLabels      = errors.New("binary head needs exactly one label output")
)

type SequenceClassifier interface {
	// Forward returns one row of logits per example.
	Forward(b batch.Batch) ([][]float64, error)
	TrainStep(b batch.Batch, opt *Adam) (float64, error)
	To(device string)
	Device() string
	Train()
	Eval()
	NumLabels() int
}

// Factory builds an untrained classifier for a label cardinality.
type Factory func(numLabels int) (SequenceClassifier, error)

type Config struct {
	VocabSize int    `json:"vocab_size"`
	EmbedDim  int    `json:"embed_dim"`
	NumLabels int    `json:"num_labels"`
	Seed      uint64 `json:"seed"`
}

func NewFactory(vocabSize, embedDim int, seed uint64) Factory {
	return func(numLabels int) (SequenceClassifier, error) {
		return NewBagOfEmbeddings(Config{VocabSize: vocabSize, EmbedDim: embedDim, NumLabels: numLabels, Seed: seed})
	}
}

// BagOfEmbeddings mean-pools token embeddings under the attention mask and
// applies a linear head.
type BagOfEmbeddings struct {
	cfg      Config
	emb      [][]float64
	w        [][]float64
	b        []float64
	device   string
	training bool
}

func NewBagOfEmbeddings(cfg Config) (*BagOfEmbeddings, error) {
	if cfg.NumLabels != 1 {
		return nil, fmt.Errorf("%w: got %d", ErrNumLabels, cfg.NumLabels)
	}
	if cfg.VocabSize <= int(providers.SepID) || cfg.EmbedDim <= 0 {
		return nil, fmt.Errorf("invalid model size vocab=%d dim=%d", cfg.VocabSize, cfg.EmbedDim)
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x5eed))
	m := &BagOfEmbeddings{cfg: cfg, device: batch.DefaultDevice, training: true}
	m.emb = randomMatrix(rng, cfg.VocabSize, cfg.EmbedDim)
	for k := range m.emb[providers.PadID] {
		m.emb[providers.PadID][k] = 0
	}
	m.w = randomMatrix(rng, cfg.NumLabels, cfg.EmbedDim)
	m.b = make([]float64, cfg.NumLabels)
	return m, nil
}

func randomMatrix(rng *rand.Rand, rows, cols int) [][]float64 {
	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, cols)
		for j := range out[i] {
			out[i][j] = rng.NormFloat64() * 0.02
		}
	}
	return out
}

func (m *BagOfEmbeddings) To(device string) { m.device = device }
func (m *BagOfEmbeddings) Device() string   { return m.device }
func (m *BagOfEmbeddings) Train()           { m.training = true }
func (m *BagOfEmbeddings) Eval()            { m.training = false }
func (m *BagOfEmbeddings) Training() bool   { return m.training }
func (m *BagOfEmbeddings) NumLabels() int   { return m.cfg.NumLabels }
func (m *BagOfEmbeddings) Config() Config   { return m.cfg }

func (m *BagOfEmbeddings) row(id int64) int64 {
	v := int64(m.cfg.VocabSize)
	if id < 0 {
		return providers.UnkID
	}
	return id % v
}

// pool returns the mean embedding of attended tokens and the token rows used.
func (m *BagOfEmbeddings) pool(ids, mask []int64) ([]float64, []int64) {
	h := make([]float64, m.cfg.EmbedDim)
	used := make([]int64, 0, len(ids))
	for i, id := range ids {
		if i < len(mask) && mask[i] == 0 {
			continue
		}
		r := m.row(id)
		used = append(used, r)
		for k, x := range m.emb[r] {
			h[k] += x
		}
	}
	if len(used) > 0 {
		inv := 1 / float64(len(used))
		for k := range h {
			h[k] *= inv
		}
	}
	return h, used
}

func (m *BagOfEmbeddings) logits(h []float64) []float64 {
	out := make([]float64, m.cfg.NumLabels)
	for j := range out {
		z := m.b[j]
		for k, x := range h {
			z += m.w[j][k] * x
		}
		out[j] = z
	}
	return out
}

func (m *BagOfEmbeddings) Forward(b batch.Batch) ([][]float64, error) {
	if b.Device != m.device {
		return nil, fmt.Errorf("%w: model=%s batch=%s", ErrDeviceMismatch, m.device, b.Device)
	}
	out := make([][]float64, len(b.InputIDs))
	for i, ids := range b.InputIDs {
		h, _ := m.pool(ids, b.AttentionMask[i])
		out[i] = m.logits(h)
	}
	return out, nil
}

// TrainStep runs one forward/backward pass with BCE-with-logits and applies
// an Adam update. It returns the mean loss of the batch.
func (m *BagOfEmbeddings) TrainStep(b batch.Batch, opt *Adam) (float64, error) {
	if !m.training {
		return 0, ErrNotTraining
	}
	if b.Device != m.device {
		return 0, fmt.Errorf("%w: model=%s batch=%s", ErrDeviceMismatch, m.device, b.Device)
	}
	n := b.Len()
	if n == 0 {
		return 0, nil
	}
	dim := m.cfg.EmbedDim
	gradW := make([][]float64, m.cfg.NumLabels)
	for j := range gradW {
		gradW[j] = make([]float64, dim)
	}
	gradB := make([]float64, m.cfg.NumLabels)
	gradE := make(map[int64][]float64)

	var loss float64
	for i, ids := range b.InputIDs {
		h, used := m.pool(ids, b.AttentionMask[i])
		z := m.logits(h)
		y := float64(b.Labels[i])
		dh := make([]float64, dim)
		for j, zj := range z {
			loss += BCEWithLogits(zj, y)
			dz := (Sigmoid(zj) - y) / float64(n*m.cfg.NumLabels)
			gradB[j] += dz
			for k := range h {
				gradW[j][k] += dz * h[k]
				dh[k] += dz * m.w[j][k]
			}
		}
		if len(used) == 0 {
			continue
		}
		inv := 1 / float64(len(used))
		for _, r := range used {
			g, ok := gradE[r]
			if !ok {
				g = make([]float64, dim)
				gradE[r] = g
			}
			for k := range g {
				g[k] += dh[k] * inv
			}
		}
	}

	opt.Begin()
	for j := range m.w {
		opt.Update(fmt.Sprintf("head.w.%d", j), m.w[j], gradW[j])
	}
	opt.Update("head.b", m.b, gradB)
	for r, g := range gradE {
		opt.Update(fmt.Sprintf("emb.%d", r), m.emb[r], g)
	}
	return loss / float64(n*m.cfg.NumLabels), nil
}

func Sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// BCEWithLogits is the numerically stable binary cross entropy on a logit.
func BCEWithLogits(z, y float64) float64 {
	return math.Max(z, 0) - z*y + math.Log1p(math.Exp(-math.Abs(z)))
}

type state struct {
	Config    Config      `json:"config"`
	Embedding [][]float64 `json:"embedding"`
	HeadW     [][]float64 `json:"head_w"`
	HeadB     []float64   `json:"head_b"`
}

func (m *BagOfEmbeddings) MarshalJSON() ([]byte, error) {
	return json.Marshal(state{Config: m.cfg, Embedding: m.emb, HeadW: m.w, HeadB: m.b})
}

// UnmarshalJSON restores weights; the result is on the default device in eval mode.
func (m *BagOfEmbeddings) UnmarshalJSON(data []byte) error {
	var s state
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if len(s.Embedding) != s.Config.VocabSize || len(s.HeadW) != s.Config.NumLabels || len(s.HeadB) != s.Config.NumLabels {
		return fmt.Errorf("model weights do not match config %+v", s.Config)
	}
	*m = BagOfEmbeddings{cfg: s.Config, emb: s.Embedding, w: s.HeadW, b: s.HeadB, device: batch.DefaultDevice}
	return nil
}

func Decode(data []byte) (*BagOfEmbeddings, error) {
	m := &BagOfEmbeddings{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	return m, nil
}

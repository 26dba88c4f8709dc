// Package tokenize turns labeled text datasets into fixed-schema token sets.
package tokenize

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"spamflow/internal/dataset"
	"spamflow/internal/logger"
	"spamflow/internal/providers"
	"spamflow/internal/util"
)

const (
	DefaultMaxLength = 512
	DefaultChunkSize = 1000
)

// Columns is the exact schema of a tokenized set.
var Columns = []string{"input_ids", "token_type_ids", "attention_mask", "labels"}

type Example struct {
	InputIDs      []int64 `json:"input_ids"`
	TokenTypeIDs  []int64 `json:"token_type_ids"`
	AttentionMask []int64 `json:"attention_mask"`
	Label         int64   `json:"labels"`
}

type Set struct {
	Name     string    `json:"name"`
	Columns  []string  `json:"columns"`
	Examples []Example `json:"examples"`
}

func (s Set) Len() int { return len(s.Examples) }

// Labels returns the label column in row order.
func (s Set) Labels() []int64 {
	out := make([]int64, len(s.Examples))
	for i, ex := range s.Examples {
		out[i] = ex.Label
	}
	return out
}

type Adapter struct {
	Encoder   providers.TextEncoder
	MaxLength int
	ChunkSize int
	log       *zap.Logger
}

func NewAdapter(enc providers.TextEncoder, maxLength int, log *zap.Logger) *Adapter {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &Adapter{Encoder: enc, MaxLength: maxLength, ChunkSize: DefaultChunkSize, log: logger.OrNop(log)}
}

func validate(ds dataset.Labeled) error {
	for _, col := range []string{dataset.ColumnMessages, dataset.ColumnLabels} {
		if !ds.HasColumn(col) {
			return &util.SchemaError{Column: col, Dataset: ds.Name}
		}
	}
	return nil
}

// EncodePair validates both datasets before encoding either.
func (a *Adapter) EncodePair(ctx context.Context, train, test dataset.Labeled) (Set, Set, error) {
	for _, ds := range []dataset.Labeled{train, test} {
		if err := validate(ds); err != nil {
			a.log.Error("tokenizer input rejected", zap.String("dataset", ds.Name), zap.Error(err))
			return Set{}, Set{}, err
		}
	}
	trainSet, err := a.Encode(ctx, train)
	if err != nil {
		return Set{}, Set{}, err
	}
	testSet, err := a.Encode(ctx, test)
	if err != nil {
		return Set{}, Set{}, err
	}
	return trainSet, testSet, nil
}

// Encode tokenizes ds in chunks; each chunk is padded to its longest row.
func (a *Adapter) Encode(ctx context.Context, ds dataset.Labeled) (Set, error) {
	if err := validate(ds); err != nil {
		return Set{}, err
	}
	chunk := a.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	out := Set{Name: ds.Name, Columns: append([]string(nil), Columns...), Examples: make([]Example, 0, ds.Len())}
	for start := 0; start < ds.Len(); start += chunk {
		end := min(start+chunk, ds.Len())
		rows := ds.Rows[start:end]
		texts := make([]string, len(rows))
		for i, r := range rows {
			texts[i] = r.Message
		}
		enc, err := a.Encoder.Encode(ctx, texts, a.MaxLength)
		if err != nil {
			return Set{}, fmt.Errorf("tokenize %s rows %d-%d: %w", ds.Name, start, end, err)
		}
		if enc.Len() != len(rows) {
			return Set{}, fmt.Errorf("tokenize %s: encoder returned %d rows for %d", ds.Name, enc.Len(), len(rows))
		}
		width := 0
		for _, ids := range enc.InputIDs {
			width = max(width, len(ids))
		}
		for i, r := range rows {
			out.Examples = append(out.Examples, Example{
				InputIDs:      pad(enc.InputIDs[i], width, providers.PadID),
				TokenTypeIDs:  pad(enc.TokenTypeIDs[i], width, 0),
				AttentionMask: pad(enc.AttentionMask[i], width, 0),
				Label:         int64(r.Label),
			})
		}
	}
	a.log.Info("tokenized dataset", zap.String("dataset", ds.Name), zap.Int("rows", out.Len()), zap.String("encoder", a.Encoder.Info().Model))
	return out, nil
}

func pad(v []int64, n int, fill int64) []int64 {
	out := make([]int64, n)
	copy(out, v)
	for i := len(v); i < n; i++ {
		out[i] = fill
	}
	return out
}

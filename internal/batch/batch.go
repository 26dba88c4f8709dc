// Package batch groups tokenized examples into padded mini-batches.
package batch

import (
	"errors"
	"iter"
	"math/rand/v2"
	"sync/atomic"

	"spamflow/internal/providers"
	"spamflow/internal/tokenize"
)

const (
	DefaultDevice = "cpu"
	ShuffleSeed   = 42
)

var ErrBatchSize = errors.New("batch size must be positive")

// Batch is rectangular: every row is padded to the longest row of the batch.
type Batch struct {
	InputIDs      [][]int64
	TokenTypeIDs  [][]int64
	AttentionMask [][]int64
	Labels        []int64
	Device        string
}

func (b Batch) Len() int { return len(b.Labels) }

// To returns the batch placed on device. Data is shared.
func (b Batch) To(device string) Batch {
	b.Device = device
	return b
}

// Collate pads every field of examples to the batch maximum.
func Collate(examples []tokenize.Example) Batch {
	width := 0
	for _, ex := range examples {
		width = max(width, len(ex.InputIDs))
	}
	b := Batch{
		InputIDs:      make([][]int64, len(examples)),
		TokenTypeIDs:  make([][]int64, len(examples)),
		AttentionMask: make([][]int64, len(examples)),
		Labels:        make([]int64, len(examples)),
		Device:        DefaultDevice,
	}
	for i, ex := range examples {
		b.InputIDs[i] = padTo(ex.InputIDs, width, providers.PadID)
		b.TokenTypeIDs[i] = padTo(ex.TokenTypeIDs, width, 0)
		b.AttentionMask[i] = padTo(ex.AttentionMask, width, 0)
		b.Labels[i] = ex.Label
	}
	return b
}

func padTo(v []int64, n int, fill int64) []int64 {
	out := make([]int64, n)
	copy(out, v)
	for i := len(v); i < n; i++ {
		out[i] = fill
	}
	return out
}

// Loader is a restartable batch source. Its exported fields are its whole
// serialized form.
type Loader struct {
	Name     string             `json:"name"`
	Examples []tokenize.Example `json:"examples"`
	Size     int                `json:"batch_size"`
	Shuffle  bool               `json:"shuffle"`
	Seed     uint64             `json:"seed"`

	epoch atomic.Uint64
}

func NewLoader(set tokenize.Set, size int, shuffle bool, seed uint64) (*Loader, error) {
	if size <= 0 {
		return nil, ErrBatchSize
	}
	return &Loader{Name: set.Name, Examples: set.Examples, Size: size, Shuffle: shuffle, Seed: seed}, nil
}

// Pair builds the training loader (shuffled) and the testing loader (ordered).
func Pair(train, test tokenize.Set, size int) (*Loader, *Loader, error) {
	tl, err := NewLoader(train, size, true, ShuffleSeed)
	if err != nil {
		return nil, nil, err
	}
	el, err := NewLoader(test, size, false, ShuffleSeed)
	if err != nil {
		return nil, nil, err
	}
	return tl, el, nil
}

// Len is the number of batches per pass.
func (l *Loader) Len() int {
	if l.Size <= 0 {
		return 0
	}
	return (len(l.Examples) + l.Size - 1) / l.Size
}

func (l *Loader) NumExamples() int { return len(l.Examples) }

// Batches yields one pass over the data. A shuffling loader draws a new order
// each time the sequence is started.
func (l *Loader) Batches() iter.Seq[Batch] {
	return func(yield func(Batch) bool) {
		if l.Size <= 0 {
			return
		}
		order := l.order()
		for start := 0; start < len(order); start += l.Size {
			end := min(start+l.Size, len(order))
			chunk := make([]tokenize.Example, 0, end-start)
			for _, idx := range order[start:end] {
				chunk = append(chunk, l.Examples[idx])
			}
			if !yield(Collate(chunk)) {
				return
			}
		}
	}
}

func (l *Loader) order() []int {
	n := len(l.Examples)
	if !l.Shuffle {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	epoch := l.epoch.Add(1)
	return rand.New(rand.NewPCG(l.Seed, epoch)).Perm(n)
}

package batch

import (
	"encoding/json"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"spamflow/internal/tokenize"
)

func set(n int) tokenize.Set {
	s := tokenize.Set{Name: "training", Columns: tokenize.Columns}
	for i := 0; i < n; i++ {
		ids := make([]int64, 2+i%4)
		mask := make([]int64, len(ids))
		for j := range ids {
			ids[j] = int64(1000 + i)
			mask[j] = 1
		}
		s.Examples = append(s.Examples, tokenize.Example{InputIDs: ids, TokenTypeIDs: make([]int64, len(ids)), AttentionMask: mask, Label: int64(i % 2)})
	}
	return s
}

func firstIDs(l *Loader) []int64 {
	var out []int64
	for b := range l.Batches() {
		for _, row := range b.InputIDs {
			out = append(out, row[0])
		}
	}
	return out
}

func TestCollatePadsToBatchMax(t *testing.T) {
	b := Collate(set(3).Examples)
	require.Equal(t, 3, b.Len())
	for i := range b.InputIDs {
		require.Len(t, b.InputIDs[i], 4)
		require.Len(t, b.TokenTypeIDs[i], 4)
		require.Len(t, b.AttentionMask[i], 4)
	}
	require.Equal(t, []int64{1, 1, 0, 0}, b.AttentionMask[0])
	require.Equal(t, []int64{0, 1, 0}, b.Labels)
	require.Equal(t, DefaultDevice, b.Device)
}

func TestLoaderLenAndOrder(t *testing.T) {
	l, err := NewLoader(set(35), 16, false, ShuffleSeed)
	require.NoError(t, err)
	require.Equal(t, 3, l.Len())
	var sizes []int
	for b := range l.Batches() {
		sizes = append(sizes, b.Len())
	}
	require.Equal(t, []int{16, 16, 3}, sizes)
	ids := firstIDs(l)
	require.True(t, slices.IsSorted(ids))
	require.Equal(t, ids, firstIDs(l))
}

func TestTrainingLoaderReshufflesEachPass(t *testing.T) {
	train, test, err := Pair(set(40), set(10), 8)
	require.NoError(t, err)
	require.True(t, train.Shuffle)
	require.False(t, test.Shuffle)

	a, b := firstIDs(train), firstIDs(train)
	require.NotEqual(t, a, b)
	slices.Sort(a)
	slices.Sort(b)
	require.Equal(t, a, b)
	require.Len(t, a, 40)
}

func TestLoaderRejectsBadSize(t *testing.T) {
	_, err := NewLoader(set(3), 0, false, 1)
	require.ErrorIs(t, err, ErrBatchSize)
}

func TestLoaderEarlyStop(t *testing.T) {
	l, err := NewLoader(set(10), 2, false, 1)
	require.NoError(t, err)
	n := 0
	for range l.Batches() {
		n++
		if n == 2 {
			break
		}
	}
	require.Equal(t, 2, n)
}

func TestLoaderSerializes(t *testing.T) {
	l, err := NewLoader(set(5), 2, true, 7)
	require.NoError(t, err)
	raw, err := json.Marshal(l)
	require.NoError(t, err)
	var back Loader
	require.NoError(t, json.Unmarshal(raw, &back))
	require.Equal(t, l.Examples, back.Examples)
	require.Equal(t, 2, back.Size)
	require.True(t, back.Shuffle)
	require.Equal(t, uint64(7), back.Seed)
}

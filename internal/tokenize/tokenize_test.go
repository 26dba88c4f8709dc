package tokenize

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"spamflow/internal/dataset"
	"spamflow/internal/providers"
	"spamflow/internal/util"
)

func labeled(name string, msgs ...string) dataset.Labeled {
	ds := dataset.Labeled{Name: name, Columns: []string{dataset.ColumnLabels, dataset.ColumnMessages}, Classes: []string{"ham", "spam"}}
	for i, m := range msgs {
		ds.Rows = append(ds.Rows, dataset.LabeledRecord{Label: i % 2, Message: m})
	}
	return ds
}

func TestEncodeSchemaAndPadding(t *testing.T) {
	a := NewAdapter(providers.NewHashEncoder(4096), 0, nil)
	set, err := a.Encode(context.Background(), labeled("training", "hi", "free entry in a weekly comp", "ok"))
	require.NoError(t, err)
	require.Equal(t, Columns, set.Columns)
	require.Equal(t, 3, set.Len())
	require.Equal(t, []int64{0, 1, 0}, set.Labels())
	for _, ex := range set.Examples {
		require.Len(t, ex.InputIDs, 8)
		require.Len(t, ex.TokenTypeIDs, 8)
		require.Len(t, ex.AttentionMask, 8)
	}
	require.Equal(t, []int64{1, 1, 1, 0, 0, 0, 0, 0}, set.Examples[0].AttentionMask)
	require.Equal(t, providers.PadID, set.Examples[0].InputIDs[7])
}

func TestEncodePadsPerChunk(t *testing.T) {
	a := NewAdapter(providers.NewHashEncoder(4096), 0, nil)
	a.ChunkSize = 2
	set, err := a.Encode(context.Background(), labeled("training", "a", "b c d", "e"))
	require.NoError(t, err)
	require.Len(t, set.Examples[0].InputIDs, 5)
	require.Len(t, set.Examples[2].InputIDs, 3)
}

func TestEncodeTruncatesToMaxLength(t *testing.T) {
	long := ""
	for i := 0; i < 600; i++ {
		long += fmt.Sprintf("w%d ", i)
	}
	set, err := NewAdapter(providers.NewHashEncoder(4096), DefaultMaxLength, nil).Encode(context.Background(), labeled("training", long))
	require.NoError(t, err)
	require.Len(t, set.Examples[0].InputIDs, DefaultMaxLength)
}

func TestEncodePairValidatesBothFirst(t *testing.T) {
	enc := &countingEncoder{TextEncoder: providers.NewHashEncoder(4096)}
	a := NewAdapter(enc, 0, nil)
	test := labeled("testing", "x")
	test.Columns = []string{dataset.ColumnLabels}

	_, _, err := a.EncodePair(context.Background(), labeled("training", "a"), test)
	require.ErrorIs(t, err, util.ErrSchema)
	require.Equal(t, "Messages column missing in testing dataset", err.Error())
	require.Zero(t, enc.calls)
}

func TestEncodeMissingLabels(t *testing.T) {
	ds := labeled("training", "a")
	ds.Columns = []string{dataset.ColumnMessages}
	_, err := NewAdapter(providers.NewHashEncoder(4096), 0, nil).Encode(context.Background(), ds)
	var se *util.SchemaError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "labels", se.Column)
}

type countingEncoder struct {
	providers.TextEncoder
	calls int
}

func (c *countingEncoder) Encode(ctx context.Context, texts []string, maxLength int) (providers.Encoding, error) {
	c.calls++
	return c.TextEncoder.Encode(ctx, texts, maxLength)
}

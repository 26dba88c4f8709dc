package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeKnownConfusion(t *testing.T) {
	s := Compute(Confusion{TP: 10, TN: 5, FP: 2, FN: 3})
	require.InDelta(t, 0.75, s.Accuracy, 1e-9)
	require.InDelta(t, 10.0/12.0, s.Precision, 1e-9)
	require.InDelta(t, 10.0/13.0, s.Recall, 1e-9)
	require.InDelta(t, 0.8, s.F1, 1e-9)
}

func TestComputeAllZero(t *testing.T) {
	require.Equal(t, Scores{}, Compute(Confusion{}))
	s := Compute(Confusion{TN: 4})
	require.Equal(t, 1.0, s.Accuracy)
	require.Zero(t, s.Precision)
	require.Zero(t, s.Recall)
	require.Zero(t, s.F1)
}

func TestTally(t *testing.T) {
	c := Tally([]int64{1, 1, 0, 0, 1}, []int64{1, 0, 0, 1, 1})
	require.Equal(t, Confusion{TP: 2, TN: 1, FP: 1, FN: 1}, c)
	require.Equal(t, 5, c.Total())
}

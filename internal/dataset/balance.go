package dataset

import (
	"fmt"
	"math/rand/v2"

	"go.uber.org/zap"

	"spamflow/internal/logger"
	"spamflow/internal/util"
)

const (
	// ImbalanceThreshold is the absolute class-count gap that triggers oversampling.
	ImbalanceThreshold = 100
	BalanceSeed        = 42
)

// Balance oversamples the minority class with replacement up to the majority
// count when the gap between label 0 and label 1 reaches ImbalanceThreshold.
// Below the threshold the input is returned unchanged. Labels other than 0
// and 1 are a schema error, and so is an empty minority class once
// oversampling is required.
func Balance(in Labeled, log *zap.Logger) (Labeled, error) {
	log = logger.OrNop(log)
	for _, r := range in.Rows {
		if r.Label != 0 && r.Label != 1 {
			return Labeled{}, &util.SchemaError{
				Column:  ColumnLabels,
				Dataset: in.Name,
				Reason:  fmt.Sprintf("expected binary labels, got code %d (%d classes)", r.Label, len(in.Classes)),
			}
		}
	}
	counts := in.Counts()
	zeros, ones := counts[0], counts[1]
	diff := zeros - ones
	if diff < 0 {
		diff = -diff
	}
	if diff < ImbalanceThreshold {
		log.Info("Data is balanced", zap.Int("label_0", zeros), zap.Int("label_1", ones))
		return in, nil
	}

	log.Warn("Data is imbalanced", zap.Int("label_0", zeros), zap.Int("label_1", ones), zap.Int("difference", zeros-ones))
	majority, minority := 0, 1
	if ones > zeros {
		majority, minority = 1, 0
	}
	var major, minor []LabeledRecord
	for _, r := range in.Rows {
		if r.Label == majority {
			major = append(major, r)
		} else {
			minor = append(minor, r)
		}
	}
	if len(minor) == 0 {
		return Labeled{}, &util.SchemaError{
			Column:  ColumnLabels,
			Dataset: in.Name,
			Reason:  fmt.Sprintf("cannot oversample empty class %d (label_0=%d label_1=%d)", minority, zeros, ones),
		}
	}

	out := Labeled{
		Name:    in.Name,
		Columns: append([]string(nil), in.Columns...),
		Classes: append([]string(nil), in.Classes...),
		Rows:    make([]LabeledRecord, 0, 2*len(major)),
	}
	out.Rows = append(out.Rows, major...)
	out.Rows = append(out.Rows, resample(minor, len(major))...)

	after := out.Counts()
	log.Info("Label counts after resampling", zap.Int("label_0", after[0]), zap.Int("label_1", after[1]), zap.Int("rows", out.Len()))
	return out, nil
}

func resample(rows []LabeledRecord, n int) []LabeledRecord {
	rng := rand.New(rand.NewPCG(BalanceSeed, BalanceSeed))
	out := make([]LabeledRecord, n)
	for i := range out {
		out[i] = rows[rng.IntN(len(rows))]
	}
	return out
}

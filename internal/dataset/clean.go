package dataset

import (
	"go.uber.org/zap"

	"spamflow/internal/logger"
)

// Clean drops rows with a missing field, then exact duplicates (first occurrence
// wins). An empty result is valid.
func Clean(in Raw, log *zap.Logger) Raw {
	log = logger.OrNop(log)
	out := Raw{Name: in.Name, Columns: append([]string(nil), in.Columns...)}
	out.Rows = make([]RawRecord, 0, len(in.Rows))

	type key struct{ label, message string }
	seen := make(map[key]struct{}, len(in.Rows))
	missing, dupes := 0, 0
	for _, r := range in.Rows {
		if r.Label == nil || r.Message == nil {
			missing++
			continue
		}
		k := key{*r.Label, *r.Message}
		if _, ok := seen[k]; ok {
			dupes++
			continue
		}
		seen[k] = struct{}{}
		out.Rows = append(out.Rows, r)
	}

	if missing > 0 {
		log.Info("Dropping missing values", zap.Int("rows", missing))
	} else {
		log.Info("No missing values found")
	}
	if dupes > 0 {
		log.Info("Duplicates found and dropped", zap.Int("rows", dupes))
	} else {
		log.Info("No duplicates found")
	}
	log.Info("Cleaned dataset", zap.Int("before", len(in.Rows)), zap.Int("after", len(out.Rows)))
	return out
}

package dataset

import (
	"slices"

	"spamflow/internal/util"
)

// EncodeLabels maps each distinct raw label to its rank in sorted order.
// The mapping depends only on the set of distinct values.
func EncodeLabels(in Raw) (Labeled, error) {
	if !in.HasColumn(ColumnLabels) {
		return Labeled{}, &util.SchemaError{Column: ColumnLabels, Dataset: in.Name}
	}
	distinct := make(map[string]struct{})
	for _, r := range in.Rows {
		if r.Label == nil || r.Message == nil {
			return Labeled{}, &util.SchemaError{Column: ColumnLabels, Dataset: in.Name}
		}
		distinct[*r.Label] = struct{}{}
	}
	classes := make([]string, 0, len(distinct))
	for v := range distinct {
		classes = append(classes, v)
	}
	slices.Sort(classes)
	codes := make(map[string]int, len(classes))
	for i, c := range classes {
		codes[c] = i
	}

	out := Labeled{
		Name:    in.Name,
		Columns: append([]string(nil), in.Columns...),
		Classes: classes,
		Rows:    make([]LabeledRecord, 0, len(in.Rows)),
	}
	for _, r := range in.Rows {
		out.Rows = append(out.Rows, LabeledRecord{Label: codes[*r.Label], Message: *r.Message})
	}
	return out, nil
}

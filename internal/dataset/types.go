// Package dataset holds the tabular stages of the data pipeline: ingestion,
// cleaning, label encoding, class balancing and the train/test split.
package dataset

import "slices"

const (
	ColumnLabels   = "labels"
	ColumnMessages = "Messages"
)

// RawRecord is one ingested row. A nil field was missing in the source file.
type RawRecord struct {
	Label   *string `json:"labels"`
	Message *string `json:"Messages"`
}

type Raw struct {
	Name    string      `json:"name"`
	Columns []string    `json:"columns"`
	Rows    []RawRecord `json:"rows"`
}

type LabeledRecord struct {
	Label   int    `json:"labels"`
	Message string `json:"Messages"`
}

// Labeled is a dataset whose labels are integer codes; Classes[code] is the raw value.
type Labeled struct {
	Name    string          `json:"name"`
	Columns []string        `json:"columns"`
	Classes []string        `json:"classes"`
	Rows    []LabeledRecord `json:"rows"`
}

func (r Raw) HasColumn(name string) bool { return slices.Contains(r.Columns, name) }

func (l Labeled) HasColumn(name string) bool { return slices.Contains(l.Columns, name) }

func (l Labeled) Len() int { return len(l.Rows) }

// Counts returns the number of rows per label code.
func (l Labeled) Counts() map[int]int {
	out := make(map[int]int)
	for _, r := range l.Rows {
		out[r.Label]++
	}
	return out
}

func strPtr(s string) *string { return &s }

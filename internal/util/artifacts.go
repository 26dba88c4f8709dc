package util

import (
	"encoding/csv"
	"encoding/json"
	"os"
)

// WriteJSONAtomic writes v as indented JSON. Used for trained and promoted model files.
func WriteJSONAtomic(path string, v any) error {
	return writeAtomic(path, "json", func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

// WriteCSVAtomic writes header followed by rows; the file only appears once complete.
func WriteCSVAtomic(path string, header []string, rows [][]string) error {
	return writeAtomic(path, "csv", func(f *os.File) error {
		w := csv.NewWriter(f)
		if err := w.Write(header); err != nil {
			return err
		}
		return w.WriteAll(rows)
	})
}

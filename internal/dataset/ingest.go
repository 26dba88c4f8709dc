package dataset

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"spamflow/internal/util"
)

// Ingest reads a tab separated label/message file with no header row.
func Ingest(path string) (Raw, error) {
	f, err := os.Open(path)
	if err != nil {
		return Raw{}, fmt.Errorf("open dataset %s: %w", path, err)
	}
	defer f.Close()
	raw, err := ReadTSV(f, "raw")
	if err != nil {
		return Raw{}, fmt.Errorf("ingest %s: %w", path, err)
	}
	return raw, nil
}

// ReadTSV parses label<TAB>message lines. Everything after the first tab is the
// message, kept byte for byte apart from UTF-8 repair; an empty or absent field
// is recorded as missing.
func ReadTSV(r io.Reader, name string) (Raw, error) {
	out := Raw{Name: name, Columns: []string{ColumnLabels, ColumnMessages}}
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for s.Scan() {
		line := strings.TrimRight(s.Text(), "\r")
		if line == "" {
			continue
		}
		var rec RawRecord
		label, msg, found := strings.Cut(line, "\t")
		if label = strings.TrimSpace(label); label != "" {
			rec.Label = strPtr(label)
		}
		if found {
			if msg = util.ValidText(msg); msg != "" {
				rec.Message = strPtr(msg)
			}
		}
		out.Rows = append(out.Rows, rec)
	}
	if err := s.Err(); err != nil {
		return Raw{}, fmt.Errorf("scan tsv: %w", err)
	}
	return out, nil
}

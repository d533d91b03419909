// Package dataset reads and writes the on-disk interchange forms of the
// record set. JSONL is the canonical format: one record per line, every
// field round-tripped.
package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/drzee1205/Nelson-books/internal/domain"
)

// WriteJSONL writes one JSON record per line.
func WriteJSONL(w io.Writer, records []domain.Record) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			return fmt.Errorf("failed to encode record %s: %w", records[i].ID, err)
		}
	}
	return bw.Flush()
}

// ReadJSONL reads records from record-per-line JSON. Blank lines are
// ignored; a malformed line is an error naming its line number.
func ReadJSONL(r io.Reader) ([]domain.Record, error) {
	var records []domain.Record
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		data := sc.Bytes()
		if len(data) == 0 {
			continue
		}
		var rec domain.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if rec.ID == "" {
			return nil, fmt.Errorf("line %d: record without id", line)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

package dataset

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/drzee1205/Nelson-books/internal/domain"
)

var csvHeader = []string{
	"id", "type", "source", "content", "chapter", "section", "page_number",
	"medical_category", "age_group", "keywords", "resource_type",
	"age_range", "weight_range", "embedding", "metadata",
	"created_at", "updated_at",
}

// WriteCSV writes records as delimited text. Keywords, embedding and
// metadata are embedded JSON so the format stays lossless.
func WriteCSV(w io.Writer, records []domain.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for i := range records {
		r := &records[i]
		keywords := ""
		if len(r.Keywords) > 0 {
			data, err := json.Marshal(r.Keywords)
			if err != nil {
				return fmt.Errorf("record %s: %w", r.ID, err)
			}
			keywords = string(data)
		}
		embedding := ""
		if r.HasEmbedding() {
			data, err := json.Marshal(r.Embedding)
			if err != nil {
				return fmt.Errorf("record %s: %w", r.ID, err)
			}
			embedding = string(data)
		}
		metadata := ""
		if len(r.Metadata) > 0 {
			data, err := json.Marshal(r.Metadata)
			if err != nil {
				return fmt.Errorf("record %s: %w", r.ID, err)
			}
			metadata = string(data)
		}
		row := []string{
			r.ID, r.Kind, r.Source, r.Content, r.Chapter, r.Section,
			strconv.Itoa(r.PageNumber), r.Category, r.AgeGroup,
			keywords, r.ResourceType,
			r.AgeRange, r.WeightRange, embedding, metadata,
			r.CreatedAt.UTC().Format(time.RFC3339Nano),
			r.UpdatedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV reads records written by WriteCSV.
func ReadCSV(r io.Reader) ([]domain.Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(csvHeader)
	header, err := cr.Read()
	if err != nil {
		return nil, err
	}
	if !equalHeader(header) {
		return nil, fmt.Errorf("unexpected csv header %v", header)
	}
	var records []domain.Record
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rec, err := recordFromRow(row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func recordFromRow(row []string) (domain.Record, error) {
	var r domain.Record
	r.ID = row[0]
	if r.ID == "" {
		return r, fmt.Errorf("record without id")
	}
	r.Kind = row[1]
	r.Source = row[2]
	r.Content = row[3]
	r.Chapter = row[4]
	r.Section = row[5]
	if row[6] != "" {
		n, err := strconv.Atoi(row[6])
		if err != nil {
			return r, fmt.Errorf("page_number: %w", err)
		}
		r.PageNumber = n
	}
	r.Category = row[7]
	r.AgeGroup = row[8]
	if row[9] != "" {
		if err := json.Unmarshal([]byte(row[9]), &r.Keywords); err != nil {
			return r, fmt.Errorf("keywords: %w", err)
		}
	}
	r.ResourceType = row[10]
	r.AgeRange = row[11]
	r.WeightRange = row[12]
	if row[13] != "" {
		if err := json.Unmarshal([]byte(row[13]), &r.Embedding); err != nil {
			return r, fmt.Errorf("embedding: %w", err)
		}
	}
	if row[14] != "" {
		if err := json.Unmarshal([]byte(row[14]), &r.Metadata); err != nil {
			return r, fmt.Errorf("metadata: %w", err)
		}
	}
	var err error
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, row[15]); err != nil {
		return r, fmt.Errorf("created_at: %w", err)
	}
	if r.UpdatedAt, err = time.Parse(time.RFC3339Nano, row[16]); err != nil {
		return r, fmt.Errorf("updated_at: %w", err)
	}
	return r, nil
}

func equalHeader(header []string) bool {
	if len(header) != len(csvHeader) {
		return false
	}
	for i := range header {
		if header[i] != csvHeader[i] {
			return false
		}
	}
	return true
}

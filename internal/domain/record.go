package domain

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"
)

// Record kinds stored in a collection.
const (
	KindTextbook = "medical_textbook"
	KindResource = "clinical_resource"
)

// Record is one retrievable unit of content: a bounded chunk of source text
// plus structured metadata and, once generated, a fixed-dimension embedding.
type Record struct {
	ID      string `json:"id"`
	Kind    string `json:"type"`
	Source  string `json:"source"`
	Content string `json:"content"`

	// Textbook provenance.
	Chapter    string `json:"chapter,omitempty"`
	Section    string `json:"section,omitempty"`
	PageNumber int    `json:"page_number,omitempty"`

	// Classification and domain filters.
	Category     string   `json:"medical_category,omitempty"`
	AgeGroup     string   `json:"age_group,omitempty"`
	Keywords     []string `json:"keywords,omitempty"`
	ResourceType string   `json:"resource_type,omitempty"`
	AgeRange     string   `json:"age_range,omitempty"`
	WeightRange  string   `json:"weight_range,omitempty"`

	// Embedding is nil until the generator fills it. A nil embedding keeps
	// the record out of nearest-neighbor results but not out of lexical or
	// category lookups.
	Embedding []float32 `json:"embedding,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasEmbedding reports whether the record carries a generated vector.
func (r *Record) HasEmbedding() bool { return len(r.Embedding) > 0 }

// Touch updates the mutation timestamp, setting CreatedAt on first use.
func (r *Record) Touch(now time.Time) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
}

// RecordID derives a stable identifier from provenance, so re-ingesting the
// same chunk upserts instead of duplicating.
func RecordID(source, chapter string, index int) string {
	h := sha1.Sum([]byte(fmt.Sprintf("%s|%s|%d", source, chapter, index)))
	return hex.EncodeToString(h[:10])
}

// Match is one ranked retrieval result.
type Match struct {
	Record     Record
	Similarity float64
}

// Filters is a conjunction of exact-match predicates over indexed fields.
// Zero values mean "no constraint".
type Filters struct {
	Category     string
	Chapter      string
	AgeGroup     string
	ResourceType string
}

// Empty reports whether no predicate is set.
func (f Filters) Empty() bool {
	return f.Category == "" && f.Chapter == "" && f.AgeGroup == "" && f.ResourceType == ""
}

// Accept reports whether the record satisfies every set predicate.
func (f Filters) Accept(r *Record) bool {
	if f.Category != "" && r.Category != f.Category {
		return false
	}
	if f.Chapter != "" && r.Chapter != f.Chapter {
		return false
	}
	if f.AgeGroup != "" && r.AgeGroup != f.AgeGroup {
		return false
	}
	if f.ResourceType != "" && r.ResourceType != f.ResourceType {
		return false
	}
	return true
}

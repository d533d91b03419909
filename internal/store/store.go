// Package store defines durable persistence and nearest-neighbor retrieval
// for records.
package store

import (
	"context"

	"github.com/drzee1205/Nelson-books/internal/domain"
)

// Store persists records and serves similarity and lexical lookups.
// Upserts are idempotent by record ID and row-scoped: concurrent upserts of
// distinct IDs never interfere.
type Store interface {
	// Upsert inserts or replaces records keyed by ID.
	Upsert(ctx context.Context, records []domain.Record) error

	// Get returns the record with the given ID, or (nil, nil) when absent.
	Get(ctx context.Context, id string) (*domain.Record, error)

	// Search returns up to k records whose cosine similarity to vector
	// exceeds threshold, filter-matching records only, ordered by similarity
	// descending with insertion order breaking ties. Records without an
	// embedding never match. An empty result is not an error.
	Search(ctx context.Context, vector []float32, k int, threshold float64, filters domain.Filters) ([]domain.Match, error)

	// List is the vector-free fallback path: filter-matching records in
	// insertion order, up to limit.
	List(ctx context.Context, filters domain.Filters, limit int) ([]domain.Record, error)

	// Count reports the number of stored records.
	Count(ctx context.Context) (int, error)
}

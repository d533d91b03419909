// Package search is the caller-facing query service.
package search

import (
	"context"
	"fmt"

	"github.com/drzee1205/Nelson-books/internal/domain"
	"github.com/drzee1205/Nelson-books/internal/embedding"
	"github.com/drzee1205/Nelson-books/internal/store"
)

const defaultMatchCount = 5

// Request is one retrieval request. Either Text or Vector must be set; a
// zero MatchCount means the default (5) and a nil SimilarityThreshold means
// the collection default.
type Request struct {
	Text                string
	Vector              []float32
	Filters             domain.Filters
	MatchCount          int
	SimilarityThreshold *float64
}

// Service validates requests, embeds query text and ranks store matches.
// It is stateless between calls.
type Service struct {
	embedder         embedding.Embedder
	store            store.Store
	defaultThreshold float64
}

func NewService(embedder embedding.Embedder, st store.Store, defaultThreshold float64) *Service {
	return &Service{embedder: embedder, store: st, defaultThreshold: defaultThreshold}
}

// Search returns up to MatchCount records ranked by similarity descending.
// Out-of-contract parameters are rejected with InvalidQueryError, never
// silently clamped.
func (s *Service) Search(ctx context.Context, req Request) ([]domain.Match, error) {
	count := req.MatchCount
	if count == 0 {
		count = defaultMatchCount
	}
	if count < 0 {
		return nil, &domain.InvalidQueryError{
			Param:  "match_count",
			Detail: fmt.Sprintf("must be greater than zero, got %d", req.MatchCount),
		}
	}
	threshold := s.defaultThreshold
	if req.SimilarityThreshold != nil {
		threshold = *req.SimilarityThreshold
		if threshold < 0 || threshold > 1 {
			return nil, &domain.InvalidQueryError{
				Param:  "similarity_threshold",
				Detail: fmt.Sprintf("must be within [0, 1], got %g", threshold),
			}
		}
	}

	vector := req.Vector
	if len(vector) == 0 {
		if req.Text == "" {
			return nil, &domain.InvalidQueryError{
				Param:  "query",
				Detail: "either text or a vector is required",
			}
		}
		var err error
		vector, err = s.embedder.Embed(ctx, req.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed query: %w", err)
		}
	}
	if len(vector) != s.embedder.Dimension() {
		return nil, &domain.InvalidQueryError{
			Param:  "vector",
			Detail: fmt.Sprintf("dimension %d, want %d", len(vector), s.embedder.Dimension()),
		}
	}

	return s.store.Search(ctx, vector, count, threshold, req.Filters)
}

// Browse is the vector-free fallback: filter-matching records in insertion
// order.
func (s *Service) Browse(ctx context.Context, filters domain.Filters, limit int) ([]domain.Record, error) {
	if limit < 0 {
		return nil, &domain.InvalidQueryError{
			Param:  "limit",
			Detail: fmt.Sprintf("must not be negative, got %d", limit),
		}
	}
	return s.store.List(ctx, filters, limit)
}

// Count reports the number of stored records, for status displays.
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}

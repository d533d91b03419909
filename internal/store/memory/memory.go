// Package memory is an in-memory Store using brute-force cosine similarity.
// It backs tests and small local corpora; production collections live in the
// postgres store.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/drzee1205/Nelson-books/internal/domain"
)

// Storage keeps records in insertion order; upserting an existing ID
// replaces the record in place so ordering stays stable.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	order     []string
	records   map[string]domain.Record
}

func NewStorage(dimension int) *Storage {
	return &Storage{
		dimension: dimension,
		records:   make(map[string]domain.Record),
	}
}

// Upsert inserts or replaces records keyed by ID. An invalid record never
// blocks the rest of its batch; all offending IDs are collected.
func (s *Storage) Upsert(ctx context.Context, records []domain.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var failed []string
	var lastErr error
	for _, r := range records {
		if r.ID == "" {
			failed = append(failed, r.ID)
			lastErr = fmt.Errorf("record without id")
			continue
		}
		if r.HasEmbedding() && len(r.Embedding) != s.dimension {
			failed = append(failed, r.ID)
			lastErr = fmt.Errorf("vector dimension %d, want %d", len(r.Embedding), s.dimension)
			continue
		}
		if _, ok := s.records[r.ID]; !ok {
			s.order = append(s.order, r.ID)
		}
		s.records[r.ID] = r
	}
	if len(failed) > 0 {
		return &domain.StoreWriteError{RecordIDs: failed, Reason: lastErr}
	}
	return nil
}

func (s *Storage) Get(ctx context.Context, id string) (*domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *Storage) Search(ctx context.Context, vector []float32, k int, threshold float64, filters domain.Filters) ([]domain.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(vector) != s.dimension {
		return nil, &domain.InvalidQueryError{
			Param:  "vector",
			Detail: fmt.Sprintf("dimension %d, want %d", len(vector), s.dimension),
		}
	}
	if k <= 0 {
		k = 5
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		pos   int
		match domain.Match
	}
	var hits []scored
	for pos, id := range s.order {
		r := s.records[id]
		if !r.HasEmbedding() || !filters.Accept(&r) {
			continue
		}
		sim := cosineSimilarity(r.Embedding, vector)
		if sim <= threshold {
			continue
		}
		hits = append(hits, scored{pos: pos, match: domain.Match{Record: r, Similarity: sim}})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].match.Similarity != hits[j].match.Similarity {
			return hits[i].match.Similarity > hits[j].match.Similarity
		}
		return hits[i].pos < hits[j].pos
	})
	if k > len(hits) {
		k = len(hits)
	}
	out := make([]domain.Match, 0, k)
	for i := 0; i < k; i++ {
		out = append(out, hits[i].match)
	}
	return out, nil
}

func (s *Storage) List(ctx context.Context, filters domain.Filters, limit int) ([]domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Record
	for _, id := range s.order {
		r := s.records[id]
		if !filters.Accept(&r) {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drzee1205/Nelson-books/internal/domain"
)

func record(id, category string, embedding []float32) domain.Record {
	r := domain.Record{
		ID:        id,
		Kind:      domain.KindTextbook,
		Content:   "content of " + id,
		Category:  category,
		Embedding: embedding,
	}
	r.Touch(time.Now())
	return r
}

func seed(t *testing.T) *Storage {
	t.Helper()
	s := NewStorage(3)
	err := s.Upsert(context.Background(), []domain.Record{
		record("a", "Cardiology", []float32{1, 0, 0}),
		record("b", "Cardiology", []float32{0.9, 0.1, 0}),
		record("c", "Neurology", []float32{0, 1, 0}),
		record("d", "Cardiology", nil), // not embedded yet
	})
	require.NoError(t, err)
	return s
}

func TestUpsertIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewStorage(3)

	first := record("a", "Cardiology", []float32{1, 0, 0})
	require.NoError(t, s.Upsert(ctx, []domain.Record{first}))

	updated := first
	updated.Content = "revised content"
	require.NoError(t, s.Upsert(ctx, []domain.Record{updated}))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "revised content", got.Content)
}

func TestUpsertRejectsWrongDimension(t *testing.T) {
	s := NewStorage(3)
	err := s.Upsert(context.Background(), []domain.Record{
		record("a", "Cardiology", []float32{1, 0}),
	})
	var werr *domain.StoreWriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, []string{"a"}, werr.RecordIDs)
}

func TestUpsertWritesPastInvalidRecord(t *testing.T) {
	ctx := context.Background()
	s := NewStorage(3)

	err := s.Upsert(ctx, []domain.Record{
		record("ok1", "Cardiology", []float32{1, 0, 0}),
		record("bad", "Cardiology", []float32{1, 0}), // wrong dimension
		record("ok2", "Cardiology", []float32{0, 1, 0}),
	})
	var werr *domain.StoreWriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, []string{"bad"}, werr.RecordIDs)

	// Valid records on either side of the bad one are still written.
	for _, id := range []string{"ok1", "ok2"} {
		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.NotNil(t, got, id)
	}
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSearchRankingAndLimit(t *testing.T) {
	s := seed(t)
	matches, err := s.Search(context.Background(), []float32{1, 0, 0}, 2, 0.0, domain.Filters{})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].Record.ID)
	assert.Equal(t, "b", matches[1].Record.ID)
	assert.GreaterOrEqual(t, matches[0].Similarity, matches[1].Similarity)
}

func TestSearchThresholdMonotonicity(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	query := []float32{1, 0, 0}

	prev := -1
	for _, threshold := range []float64{0.0, 0.5, 0.9, 0.99} {
		matches, err := s.Search(ctx, query, 10, threshold, domain.Filters{})
		require.NoError(t, err)
		if prev >= 0 {
			assert.LessOrEqual(t, len(matches), prev,
				"raising the threshold must never grow the result set")
		}
		prev = len(matches)
	}
}

func TestSearchHighThresholdEmptyNotError(t *testing.T) {
	s := seed(t)
	matches, err := s.Search(context.Background(), []float32{0.5, 0.5, 0.70710678}, 5, 0.99, domain.Filters{})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSearchFilterCorrectness(t *testing.T) {
	s := seed(t)
	matches, err := s.Search(context.Background(), []float32{1, 0, 0}, 10, 0.0,
		domain.Filters{Category: "Cardiology"})
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	for _, m := range matches {
		assert.Equal(t, "Cardiology", m.Record.Category)
	}
}

func TestSearchExcludesUnembedded(t *testing.T) {
	s := seed(t)
	matches, err := s.Search(context.Background(), []float32{1, 0, 0}, 10, 0.0, domain.Filters{})
	require.NoError(t, err)
	for _, m := range matches {
		assert.NotEqual(t, "d", m.Record.ID, "records without embeddings never match")
	}

	// Still reachable through the lexical path and direct lookup.
	got, err := s.Get(context.Background(), "d")
	require.NoError(t, err)
	require.NotNil(t, got)

	listed, err := s.List(context.Background(), domain.Filters{Category: "Cardiology"}, 0)
	require.NoError(t, err)
	ids := make([]string, 0, len(listed))
	for _, r := range listed {
		ids = append(ids, r.ID)
	}
	assert.Contains(t, ids, "d")
}

func TestSearchKCountsOnlyQualifyingRecords(t *testing.T) {
	ctx := context.Background()
	s := NewStorage(2)
	var records []domain.Record
	for i := 0; i < 10; i++ {
		id := string(rune('a' + i))
		records = append(records, record(id, "Cardiology", []float32{1, float32(i) * 0.01}))
	}
	require.NoError(t, s.Upsert(ctx, records))

	matches, err := s.Search(ctx, []float32{1, 0}, 3, 0.0, domain.Filters{})
	require.NoError(t, err)
	require.Len(t, matches, 3)
	// The three highest-similarity records are the ones closest to [1,0].
	assert.Equal(t, "a", matches[0].Record.ID)
	assert.Equal(t, "b", matches[1].Record.ID)
	assert.Equal(t, "c", matches[2].Record.ID)
}

func TestSearchTieBreakInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := NewStorage(2)
	require.NoError(t, s.Upsert(ctx, []domain.Record{
		record("second", "Cardiology", []float32{2, 0}),
		record("first", "Cardiology", []float32{1, 0}),
	}))
	// Identical direction, identical cosine similarity: insertion order wins.
	matches, err := s.Search(ctx, []float32{1, 0}, 2, 0.0, domain.Filters{})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "second", matches[0].Record.ID)
	assert.Equal(t, "first", matches[1].Record.ID)
}

func TestSearchDimensionMismatch(t *testing.T) {
	s := seed(t)
	_, err := s.Search(context.Background(), []float32{1, 0}, 5, 0.0, domain.Filters{})
	var qerr *domain.InvalidQueryError
	assert.ErrorAs(t, err, &qerr)
}

func TestGetMissingReturnsNil(t *testing.T) {
	s := NewStorage(3)
	got, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}
